package config

import (
	"fmt"
	"strings"

	"tradebridge/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Venue.validate(); err != nil {
		return err
	}
	if err := c.Session.validate(); err != nil {
		return err
	}
	if err := c.Gate.validate(); err != nil {
		return err
	}
	if err := c.Reconcile.validate(); err != nil {
		return err
	}
	if err := c.Audit.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogFormat)) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %s", a.LogFormat)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (v *VenueConfig) validate() error {
	switch v.Driver {
	case VenueDriverWebTerminal:
		if strings.TrimSpace(v.URL) == "" {
			return fmt.Errorf("venue.url cannot be empty for driver %s", v.Driver)
		}
	case VenueDriverPaper:
	default:
		return fmt.Errorf("venue.driver only supports '%s' or '%s', got %s", VenueDriverWebTerminal, VenueDriverPaper, v.Driver)
	}
	if err := positiveDuration("venue.op_timeout", v.OpTimeout); err != nil {
		return err
	}
	if err := positiveDuration("venue.health_timeout", v.HealthTimeout); err != nil {
		return err
	}
	if err := anyDuration("venue.reload_settle", v.ReloadSettle); err != nil {
		return err
	}
	return nil
}

func (s *SessionConfig) validate() error {
	if err := positiveDuration("session.refresh_interval", s.RefreshInterval); err != nil {
		return err
	}
	if err := anyDuration("session.health_interval", s.HealthInterval); err != nil {
		return err
	}
	if err := anyDuration("session.breaker_cooldown", s.BreakerCooldown); err != nil {
		return err
	}
	if s.BreakerThreshold <= 0 {
		return fmt.Errorf("session.breaker_threshold must be > 0")
	}
	return nil
}

func (g *GateConfig) validate() error {
	return anyDuration("gate.acquire_timeout", g.AcquireTimeout)
}

func (r *ReconcileConfig) validate() error {
	if err := anyDuration("reconcile.settle_delay", r.SettleDelay); err != nil {
		return err
	}
	if err := positiveDuration("reconcile.poll_interval", r.PollInterval); err != nil {
		return err
	}
	switch r.Ambiguous {
	case AmbiguousReject, AmbiguousLowest:
	default:
		return fmt.Errorf("reconcile.ambiguous must be %s or %s, got %s", AmbiguousReject, AmbiguousLowest, r.Ambiguous)
	}
	return nil
}

func (a *AuditConfig) validate() error {
	if a.Enabled && strings.TrimSpace(a.Path) == "" {
		return fmt.Errorf("audit.path cannot be empty when audit is enabled")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func anyDuration(key, raw string) error {
	if _, err := scheduler.ParseDuration(raw); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func positiveDuration(key, raw string) error {
	d, err := scheduler.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be > 0", key)
	}
	return nil
}
