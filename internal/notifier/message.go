package notifier

import (
	"strings"
	"time"
)

// Telegram caps messages at 4096 chars; leave room for the code fence.
const maxMessageLen = 3800

// MessageSection 表示告警中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 是统一格式的告警：标题行 + 代码块内的明细 + 页脚 + 时间。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown renders the message for parse_mode=Markdown and trims it to
// maxMessageLen.
func (m StructuredMessage) RenderMarkdown() string {
	parts := make([]string, 0, 4)
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		parts = append(parts, header)
	}
	if block := renderBlock(m.Sections); block != "" {
		parts = append(parts, block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		parts = append(parts, escapeFence(footer))
	}
	if !m.Timestamp.IsZero() {
		parts = append(parts, "时间："+m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.Join(parts, "\n\n")
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

// renderBlock puts every non-empty section inside one ``` block so ids and
// reasons are shown verbatim.
func renderBlock(secs []MessageSection) string {
	var chunks []string
	for _, sec := range secs {
		lines := nonEmpty(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		var b strings.Builder
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString(escapeFence(title) + "\n")
		}
		for i, line := range lines {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- " + escapeFence(line))
		}
		chunks = append(chunks, b.String())
	}
	if len(chunks) == 0 {
		return ""
	}
	return "```\n" + strings.Join(chunks, "\n\n") + "\n```"
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
