package notifier

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tradebridge/internal/logger"
	"tradebridge/internal/pkg/text"
)

const maxReasonLen = 300

// Alerter renders operator alerts and sends them without blocking the caller.
type Alerter struct {
	n   TextNotifier
	now func() time.Time
	wg  sync.WaitGroup
}

func NewAlerter(n TextNotifier) *Alerter {
	if n == nil {
		n = Nop{}
	}
	return &Alerter{n: n, now: time.Now}
}

// ReconciliationFailed: 下单后无法确定新仓位 ID，需要人工核对。
func (a *Alerter) ReconciliationFailed(ticket string, candidates []string, reason string) {
	lines := []string{"Ticket " + ticket}
	if len(candidates) > 0 {
		lines = append(lines, "候选仓位 "+strings.Join(candidates, ", "))
	}
	if reason != "" {
		lines = append(lines, "原因 "+text.Truncate(reason, maxReasonLen))
	}
	a.send(StructuredMessage{
		Icon:     "⚠️",
		Title:    "对账失败：" + ticket,
		Sections: []MessageSection{{Title: "详情", Lines: lines}},
		Footer:   "The venue order may exist; check open positions or run delete_all.",
	})
}

func (a *Alerter) SessionDegraded(reason string) {
	a.send(StructuredMessage{
		Icon:     "🔴",
		Title:    "会话降级",
		Sections: []MessageSection{{Title: "详情", Lines: []string{text.Truncate(reason, maxReasonLen)}}},
	})
}

func (a *Alerter) SessionRecovered() {
	a.send(StructuredMessage{Icon: "🟢", Title: "会话已恢复"})
}

// CloseAllIncomplete reports a delete_all that did not close everything.
func (a *Alerter) CloseAllIncomplete(status string, closed []string, failed map[string]string) {
	lines := []string{fmt.Sprintf("状态 %s", status), fmt.Sprintf("已平仓 %d", len(closed))}
	ids := make([]string, 0, len(failed))
	for id := range failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("失败 %s: %s", id, text.Truncate(failed[id], maxReasonLen)))
	}
	a.send(StructuredMessage{
		Icon:     "🧹",
		Title:    "批量平仓未完成",
		Sections: []MessageSection{{Title: "执行明细", Lines: lines}},
	})
}

// Flush waits for in-flight sends.
func (a *Alerter) Flush() {
	if a == nil {
		return
	}
	a.wg.Wait()
}

func (a *Alerter) send(msg StructuredMessage) {
	if a == nil {
		return
	}
	msg.Timestamp = a.now().UTC()
	body := msg.RenderMarkdown()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.n.SendText(body); err != nil {
			logger.Warnf("[notifier] telegram 推送失败: %v", err)
		}
	}()
}
