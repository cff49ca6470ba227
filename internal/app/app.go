package app

import (
	"context"
	"fmt"

	"tradebridge/internal/bridge"
	"tradebridge/internal/config"
	"tradebridge/internal/logger"
	"tradebridge/internal/notifier"
	"tradebridge/internal/session"
	"tradebridge/internal/store/audit"
	apihttp "tradebridge/internal/transport/http/api"
	"tradebridge/internal/venue"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 入口与会话守护。
type App struct {
	cfg      *config.Config
	driver   venue.Driver
	guardian *session.Guardian
	service  *bridge.Service
	server   *apihttp.Server
	journal  *audit.Store
	alerter  *notifier.Alerter
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	return build(cfg)
}

// Run opens the venue session, then serves requests and keeps the session
// fresh until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}
	if err := a.driver.Open(ctx); err != nil {
		return fmt.Errorf("open venue session: %w", err)
	}
	logger.Infof("✓ 交易终端会话已就绪（driver=%s）", a.cfg.Venue.Driver)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("api http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.guardian.StartPeriodic(ctx)
	})
	return group.Wait()
}

// Service exposes the dispatcher (for testing/replay harnesses).
func (a *App) Service() *bridge.Service {
	if a == nil {
		return nil
	}
	return a.service
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.alerter.Flush()
	if a.driver != nil {
		if err := a.driver.Close(); err != nil {
			logger.Warnf("close venue driver: %v", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("close audit journal: %v", err)
		}
	}
}
