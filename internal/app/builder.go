package app

import (
	"fmt"
	"sync"
	"time"

	"tradebridge/internal/bridge"
	"tradebridge/internal/config"
	"tradebridge/internal/gate"
	"tradebridge/internal/logger"
	"tradebridge/internal/mapper"
	"tradebridge/internal/metrics"
	"tradebridge/internal/notifier"
	"tradebridge/internal/session"
	"tradebridge/internal/store/audit"
	apihttp "tradebridge/internal/transport/http/api"
	"tradebridge/internal/venue"
	"tradebridge/internal/venue/paper"
	"tradebridge/internal/venue/webterminal"
)

func build(cfg *config.Config) (*App, error) {
	driver, err := buildDriver(cfg.Venue)
	if err != nil {
		return nil, err
	}

	g := gate.New(gate.Options{
		ActionTimeout: cfg.Gate.AcquireTimeoutDuration(),
		OnWait: func(role gate.Role, waited time.Duration) {
			metrics.ObserveGateWait(string(role), waited)
		},
		OnPending: metrics.SetGatePending,
	})

	guardian := session.NewGuardian(driver, g, session.Options{
		RefreshInterval:  cfg.Session.RefreshEvery(),
		HealthInterval:   cfg.Session.HealthEvery(),
		BreakerThreshold: cfg.Session.BreakerThreshold,
		BreakerCooldown:  cfg.Session.BreakerCooldownDuration(),
	})
	alerter := notifier.NewAlerter(buildNotifier(cfg.Notify))
	hook := &sessionAlerts{alerter: alerter, guardian: guardian}
	guardian.OnStateChange(hook.onStateChange)
	guardian.OnRefresh(func(ok bool, _ time.Duration) { metrics.ObserveRefresh(ok) })

	mp := mapper.New(driver, guardian, mapper.Options{
		SettleDelay:  cfg.Reconcile.SettleDelayDuration(),
		PollInterval: cfg.Reconcile.PollIntervalDuration(),
		Ambiguous:    mapper.Policy(cfg.Reconcile.Ambiguous),
	})
	mp.Book().OnChange(metrics.SetMappedPositions)

	opts := bridge.Options{Alerts: alerter}
	var journal *audit.Store
	if cfg.Audit.Enabled {
		journal, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			_ = driver.Close()
			return nil, fmt.Errorf("open audit journal: %w", err)
		}
		opts.Journal = journal
	}
	svc := bridge.NewService(g, guardian, mp, opts)

	server, err := apihttp.NewServer(apihttp.ServerConfig{Addr: cfg.App.HTTPAddr, Bridge: svc})
	if err != nil {
		_ = driver.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		driver:   driver,
		guardian: guardian,
		service:  svc,
		server:   server,
		journal:  journal,
		alerter:  alerter,
		Summary:  newStartupSummary(cfg),
	}, nil
}

func buildDriver(cfg config.VenueConfig) (venue.Driver, error) {
	switch cfg.Driver {
	case config.VenueDriverPaper:
		logger.Warnf("venue.driver=paper：使用内存模拟终端，不会产生真实订单")
		return paper.New(paper.Options{}), nil
	case config.VenueDriverWebTerminal:
		reg, err := webterminal.NewRegistry(cfg.SelectorsPath)
		if err != nil {
			return nil, fmt.Errorf("load selectors: %w", err)
		}
		return webterminal.New(webterminal.Config{
			URL:           cfg.URL,
			ChromePath:    cfg.ChromePath,
			UserDataDir:   cfg.UserDataDir,
			ProfileDir:    cfg.ProfileDir,
			Headless:      cfg.Headless,
			Username:      cfg.Username,
			Password:      cfg.Password,
			OpTimeout:     cfg.OpTimeoutDuration(),
			HealthTimeout: cfg.HealthTimeoutDuration(),
			ReloadSettle:  cfg.ReloadSettleDuration(),
		}, reg), nil
	default:
		return nil, fmt.Errorf("unknown venue driver %q", cfg.Driver)
	}
}

func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return notifier.Nop{}
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

// sessionAlerts 只在首次进入 Degraded 时告警，恢复后重置。
type sessionAlerts struct {
	alerter  *notifier.Alerter
	guardian *session.Guardian

	mu      sync.Mutex
	alerted bool
}

func (h *sessionAlerts) onStateChange(from, to session.State) {
	metrics.SetSessionState(int(to))
	h.mu.Lock()
	defer h.mu.Unlock()
	switch to {
	case session.Degraded:
		if h.alerted {
			return
		}
		h.alerted = true
		reason := h.guardian.Status().LastError
		if reason == "" {
			reason = "health check failed"
		}
		h.alerter.SessionDegraded(reason)
	case session.Operational:
		if h.alerted {
			h.alerted = false
			h.alerter.SessionRecovered()
		}
	}
}
