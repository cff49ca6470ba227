package app

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tradebridge/internal/config"
	"tradebridge/internal/notifier"
	"tradebridge/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paperConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		App:   config.AppConfig{Env: "test", LogLevel: "info", LogFormat: "text", HTTPAddr: freeAddr(t)},
		Venue: config.VenueConfig{Driver: config.VenueDriverPaper, OpTimeout: "10s", HealthTimeout: "5s", ReloadSettle: "0s"},
		Session: config.SessionConfig{
			RefreshInterval:  "1h",
			HealthInterval:   "0",
			BreakerThreshold: 3,
			BreakerCooldown:  "2m",
		},
		Gate:      config.GateConfig{AcquireTimeout: "5s"},
		Reconcile: config.ReconcileConfig{SettleDelay: "100ms", PollInterval: "10ms", Ambiguous: config.AmbiguousReject},
		Audit:     config.AuditConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "audit.db")},
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestAppServesTradesWithPaperDriver(t *testing.T) {
	cfg := paperConfig(t)
	a, err := NewApp(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	base := "http://" + cfg.App.HTTPAddr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/api/trades", "application/json", strings.NewReader(
		`{"action":"trade","ticket":"1001","volume":0.1,"direction":"BUY","take_profit":0,"stop_loss":0}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, a.Service().Mappings(), 1)
	ops, err := a.Service().Operations(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestBuildRejectsUnknownDriver(t *testing.T) {
	cfg := paperConfig(t)
	cfg.Venue.Driver = "fix"
	_, err := NewApp(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown venue driver")
}

func TestSummaryRender(t *testing.T) {
	cfg := paperConfig(t)
	out := newStartupSummary(cfg).Render()
	assert.Contains(t, out, "驱动: paper")
	assert.Contains(t, out, "选择器: (embedded)")
	assert.Contains(t, out, "健康探测: 关闭")
	assert.Contains(t, out, "歧义策略: reject")
}

type countNotifier struct {
	texts []string
}

func (c *countNotifier) SendText(text string) error {
	c.texts = append(c.texts, text)
	return nil
}

func TestSessionAlertsOnlyOncePerOutage(t *testing.T) {
	n := &countNotifier{}
	alerter := notifier.NewAlerter(n)
	cfg := paperConfig(t)
	cfg.Audit.Enabled = false
	a, err := NewApp(cfg)
	require.NoError(t, err)

	h := &sessionAlerts{alerter: alerter, guardian: a.guardian}
	h.onStateChange(session.Operational, session.Degraded)
	alerter.Flush()
	h.onStateChange(session.Degraded, session.Refreshing)
	h.onStateChange(session.Refreshing, session.Degraded)
	alerter.Flush()
	assert.Len(t, n.texts, 1)

	h.onStateChange(session.Degraded, session.Operational)
	alerter.Flush()
	assert.Len(t, n.texts, 2)
}
