package config

import (
	"strings"
	"time"

	"tradebridge/internal/scheduler"
)

// Config 是 tradebridge 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Venue     VenueConfig     `toml:"venue"`
	Session   SessionConfig   `toml:"session"`
	Gate      GateConfig      `toml:"gate"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Audit     AuditConfig     `toml:"audit"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

const (
	VenueDriverWebTerminal = "webterminal"
	VenueDriverPaper       = "paper"
)

// VenueConfig 描述浏览器会话及交易终端的访问方式。
type VenueConfig struct {
	Driver        string `toml:"driver"`
	URL           string `toml:"url"`
	ChromePath    string `toml:"chrome_path"`
	UserDataDir   string `toml:"user_data_dir"`
	ProfileDir    string `toml:"profile_dir"`
	Headless      bool   `toml:"headless"`
	Username      string `toml:"username"`
	Password      string `toml:"password"`
	SelectorsPath string `toml:"selectors_path"`
	OpTimeout     string `toml:"op_timeout"`
	HealthTimeout string `toml:"health_timeout"`
	ReloadSettle  string `toml:"reload_settle"`
}

func (v VenueConfig) OpTimeoutDuration() time.Duration { return mustDuration(v.OpTimeout) }
func (v VenueConfig) HealthTimeoutDuration() time.Duration { return mustDuration(v.HealthTimeout) }
func (v VenueConfig) ReloadSettleDuration() time.Duration { return mustDuration(v.ReloadSettle) }

// SessionConfig 控制会话刷新周期与健康探测。
type SessionConfig struct {
	RefreshInterval  string `toml:"refresh_interval"`
	HealthInterval   string `toml:"health_interval"`
	BreakerThreshold int    `toml:"breaker_threshold"`
	BreakerCooldown  string `toml:"breaker_cooldown"`
}

func (s SessionConfig) RefreshEvery() time.Duration { return mustDuration(s.RefreshInterval) }
func (s SessionConfig) HealthEvery() time.Duration { return mustDuration(s.HealthInterval) }
func (s SessionConfig) BreakerCooldownDuration() time.Duration { return mustDuration(s.BreakerCooldown) }

type GateConfig struct {
	AcquireTimeout string `toml:"acquire_timeout"`
}

// AcquireTimeoutDuration returns 0 when waiting is unbounded.
func (g GateConfig) AcquireTimeoutDuration() time.Duration { return mustDuration(g.AcquireTimeout) }

const (
	AmbiguousReject = "reject"
	AmbiguousLowest = "lowest"
)

// ReconcileConfig 控制新仓位识别（快照差集）的等待窗口与歧义策略。
type ReconcileConfig struct {
	SettleDelay  string `toml:"settle_delay"`
	PollInterval string `toml:"poll_interval"`
	Ambiguous    string `toml:"ambiguous"`
}

func (r ReconcileConfig) SettleDelayDuration() time.Duration { return mustDuration(r.SettleDelay) }
func (r ReconcileConfig) PollIntervalDuration() time.Duration { return mustDuration(r.PollInterval) }

type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// mustDuration is only called on values that passed validate().
func mustDuration(raw string) time.Duration {
	d, err := scheduler.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
