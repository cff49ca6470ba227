package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
venue:
  url: "https://terminal.example"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.App.HTTPAddr)
	assert.Equal(t, "text", cfg.App.LogFormat)
	assert.Equal(t, VenueDriverWebTerminal, cfg.Venue.Driver)
	assert.Equal(t, "Default", cfg.Venue.ProfileDir)
	assert.Equal(t, 10*time.Second, cfg.Venue.OpTimeoutDuration())
	assert.Equal(t, 20*time.Minute, cfg.Session.RefreshEvery())
	assert.Equal(t, time.Minute, cfg.Session.HealthEvery())
	assert.Equal(t, 3, cfg.Session.BreakerThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Gate.AcquireTimeoutDuration())
	assert.Equal(t, 2*time.Second, cfg.Reconcile.SettleDelayDuration())
	assert.Equal(t, 250*time.Millisecond, cfg.Reconcile.PollIntervalDuration())
	assert.Equal(t, AmbiguousReject, cfg.Reconcile.Ambiguous)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "data/tradebridge.db", cfg.Audit.Path)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
app:
  http_addr: "127.0.0.1:9000"
venue:
  driver: PAPER
session:
  health_interval: "0"
  refresh_interval: 1h
gate:
  acquire_timeout: "0"
reconcile:
  ambiguous: lowest
audit:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.App.HTTPAddr)
	assert.Equal(t, VenueDriverPaper, cfg.Venue.Driver)
	assert.Equal(t, time.Duration(0), cfg.Session.HealthEvery())
	assert.Equal(t, time.Hour, cfg.Session.RefreshEvery())
	assert.Equal(t, time.Duration(0), cfg.Gate.AcquireTimeoutDuration())
	assert.Equal(t, AmbiguousLowest, cfg.Reconcile.Ambiguous)
	assert.False(t, cfg.Audit.Enabled)
}

func TestLoadEnvOverridesCredentials(t *testing.T) {
	t.Setenv(EnvVenueUsername, "trader@example.com")
	t.Setenv(EnvVenuePassword, "s3cret")
	t.Setenv(EnvTelegramToken, "bot-token")
	path := writeConfig(t, `
venue:
  driver: paper
notify:
  telegram:
    enabled: true
    chat_id: "42"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "trader@example.com", cfg.Venue.Username)
	assert.Equal(t, "s3cret", cfg.Venue.Password)
	assert.Equal(t, "bot-token", cfg.Notify.Telegram.BotToken)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"webterminal needs url", "venue:\n  driver: webterminal\n", "venue.url"},
		{"unknown driver", "venue:\n  driver: fix\n", "venue.driver"},
		{"bad ambiguous", "venue:\n  driver: paper\nreconcile:\n  ambiguous: newest\n", "reconcile.ambiguous"},
		{"bad duration", "venue:\n  driver: paper\nsession:\n  refresh_interval: soon\n", "session.refresh_interval"},
		{"zero refresh", "venue:\n  driver: paper\nsession:\n  refresh_interval: \"0\"\n", "session.refresh_interval"},
		{"telegram without chat", "venue:\n  driver: paper\nnotify:\n  telegram:\n    enabled: true\n    bot_token: x\n", "telegram"},
		{"bad log format", "app:\n  log_format: xml\nvenue:\n  driver: paper\n", "app.log_format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	_, err = Load("  ")
	require.Error(t, err)
}
