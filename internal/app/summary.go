package app

import (
	"fmt"
	"strings"

	"tradebridge/internal/config"
	"tradebridge/internal/logger"
)

type StartupSummary struct {
	Env       string
	HTTPAddr  string
	Venue     VenueSummary
	Session   SessionSummary
	Reconcile ReconcileSummary
	AuditPath string
	Telegram  bool
}

type VenueSummary struct {
	Driver    string
	URL       string
	Headless  bool
	Selectors string
	OpTimeout string
}

type SessionSummary struct {
	RefreshInterval string
	HealthInterval  string
	GateTimeout     string
	Breaker         string
}

type ReconcileSummary struct {
	SettleDelay  string
	PollInterval string
	Ambiguous    string
}

func newStartupSummary(cfg *config.Config) *StartupSummary {
	selectors := cfg.Venue.SelectorsPath
	if selectors == "" {
		selectors = "(embedded)"
	}
	auditPath := "(disabled)"
	if cfg.Audit.Enabled {
		auditPath = cfg.Audit.Path
	}
	return &StartupSummary{
		Env:      cfg.App.Env,
		HTTPAddr: cfg.App.HTTPAddr,
		Venue: VenueSummary{
			Driver:    cfg.Venue.Driver,
			URL:       cfg.Venue.URL,
			Headless:  cfg.Venue.Headless,
			Selectors: selectors,
			OpTimeout: cfg.Venue.OpTimeout,
		},
		Session: SessionSummary{
			RefreshInterval: cfg.Session.RefreshInterval,
			HealthInterval:  cfg.Session.HealthInterval,
			GateTimeout:     cfg.Gate.AcquireTimeout,
			Breaker:         fmt.Sprintf("%d failures / %s", cfg.Session.BreakerThreshold, cfg.Session.BreakerCooldown),
		},
		Reconcile: ReconcileSummary{
			SettleDelay:  cfg.Reconcile.SettleDelay,
			PollInterval: cfg.Reconcile.PollInterval,
			Ambiguous:    cfg.Reconcile.Ambiguous,
		},
		AuditPath: auditPath,
		Telegram:  cfg.Notify.Telegram.Enabled,
	}
}

func (s *StartupSummary) Render() string {
	var b strings.Builder
	line := strings.Repeat("=", 60)
	b.WriteString(line + "\n")
	b.WriteString("启动配置摘要 (STARTUP SUMMARY)\n")
	b.WriteString(line + "\n")
	fmt.Fprintf(&b, "环境: %s  监听: %s\n", orDash(s.Env), orDash(s.HTTPAddr))
	b.WriteString("[交易终端 (VENUE)]\n")
	fmt.Fprintf(&b, "  驱动: %s\n", s.Venue.Driver)
	fmt.Fprintf(&b, "  地址: %s\n", orDash(s.Venue.URL))
	fmt.Fprintf(&b, "  无头模式: %v\n", s.Venue.Headless)
	fmt.Fprintf(&b, "  选择器: %s\n", s.Venue.Selectors)
	fmt.Fprintf(&b, "  单步超时: %s\n", s.Venue.OpTimeout)
	b.WriteString("[会话 (SESSION)]\n")
	fmt.Fprintf(&b, "  刷新周期: %s\n", s.Session.RefreshInterval)
	fmt.Fprintf(&b, "  健康探测: %s\n", healthLabel(s.Session.HealthInterval))
	fmt.Fprintf(&b, "  Gate 等待上限: %s\n", gateLabel(s.Session.GateTimeout))
	fmt.Fprintf(&b, "  熔断: %s\n", s.Session.Breaker)
	b.WriteString("[对账 (RECONCILE)]\n")
	fmt.Fprintf(&b, "  稳定等待: %s  轮询: %s  歧义策略: %s\n", s.Reconcile.SettleDelay, s.Reconcile.PollInterval, s.Reconcile.Ambiguous)
	fmt.Fprintf(&b, "审计库: %s\n", s.AuditPath)
	fmt.Fprintf(&b, "Telegram: %v\n", s.Telegram)
	b.WriteString(line)
	return b.String()
}

func (s *StartupSummary) Print() {
	logger.InfoBlock(s.Render())
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

func healthLabel(v string) string {
	if v == "0" || v == "0s" {
		return "关闭"
	}
	return v
}

func gateLabel(v string) string {
	if v == "0" || v == "0s" {
		return "无上限"
	}
	return v
}
