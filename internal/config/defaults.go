package config

import "strings"

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppLogFormat     = "text"
	defaultAppHTTPAddr      = ":5000"
	defaultVenueDriver      = VenueDriverWebTerminal
	defaultVenueProfileDir  = "Default"
	defaultVenueOpTimeout   = "10s"
	defaultVenueHealthWait  = "5s"
	defaultVenueReloadWait  = "5s"
	defaultRefreshInterval  = "20m"
	defaultHealthInterval   = "1m"
	defaultBreakerThreshold = 3
	defaultBreakerCooldown  = "2m"
	defaultGateTimeout      = "2m"
	defaultSettleDelay      = "2s"
	defaultPollInterval     = "250ms"
	defaultAmbiguousPolicy  = AmbiguousReject
	defaultAuditPath        = "data/tradebridge.db"
)

// applyDefaults 为所有子配置应用默认值（仅限配置文件未显式设置的键）。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Venue.applyDefaults(keys)
	c.Session.applyDefaults(keys)
	c.Gate.applyDefaults(keys)
	c.Reconcile.applyDefaults(keys)
	c.Audit.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (v *VenueConfig) applyDefaults(keys keySet) {
	if v == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("venue.driver", &v.Driver, defaultVenueDriver),
		stringFieldDefault("venue.profile_dir", &v.ProfileDir, defaultVenueProfileDir),
		stringFieldDefault("venue.op_timeout", &v.OpTimeout, defaultVenueOpTimeout),
		stringFieldDefault("venue.health_timeout", &v.HealthTimeout, defaultVenueHealthWait),
		stringFieldDefault("venue.reload_settle", &v.ReloadSettle, defaultVenueReloadWait),
	)
	v.Driver = strings.ToLower(strings.TrimSpace(v.Driver))
}

func (s *SessionConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("session.refresh_interval", &s.RefreshInterval, defaultRefreshInterval),
		stringFieldDefault("session.health_interval", &s.HealthInterval, defaultHealthInterval),
		stringFieldDefault("session.breaker_cooldown", &s.BreakerCooldown, defaultBreakerCooldown),
		fieldDefault{
			key:   "session.breaker_threshold",
			need:  func() bool { return s.BreakerThreshold <= 0 },
			apply: func() { s.BreakerThreshold = defaultBreakerThreshold },
		},
	)
}

func (g *GateConfig) applyDefaults(keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("gate.acquire_timeout", &g.AcquireTimeout, defaultGateTimeout),
	)
}

func (r *ReconcileConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("reconcile.settle_delay", &r.SettleDelay, defaultSettleDelay),
		stringFieldDefault("reconcile.poll_interval", &r.PollInterval, defaultPollInterval),
		stringFieldDefault("reconcile.ambiguous", &r.Ambiguous, defaultAmbiguousPolicy),
	)
	r.Ambiguous = strings.ToLower(strings.TrimSpace(r.Ambiguous))
}

func (a *AuditConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("audit.enabled", &a.Enabled, true),
		stringFieldDefault("audit.path", &a.Path, defaultAuditPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
