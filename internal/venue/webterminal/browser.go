// Package webterminal 通过 chromedp 驱动浏览器中的网页交易终端。
package webterminal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tradebridge/internal/logger"
	"tradebridge/internal/venue"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	launchTimeout   = 60 * time.Second
	pollInterval    = 100 * time.Millisecond
	clearKeystrokes = 16
)

type Config struct {
	URL         string
	ChromePath  string
	UserDataDir string
	ProfileDir  string
	Headless    bool
	Username    string
	Password    string

	OpTimeout     time.Duration
	HealthTimeout time.Duration
	ReloadSettle  time.Duration
}

// Driver 持有一个长期存活的浏览器标签页。调用方（Action Gate）保证同一时刻只有一个操作，
// mu 仅用于保护标签页上下文的替换。
type Driver struct {
	cfg       Config
	selectors *Registry

	// allocate 为空时使用本地 Chrome 的 ExecAllocator。
	allocate func(parent context.Context) (context.Context, context.CancelFunc)

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

var _ venue.Driver = (*Driver)(nil)

func New(cfg Config, selectors *Registry) *Driver {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	return &Driver{cfg: cfg, selectors: selectors}
}

func (d *Driver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launchLocked(ctx)
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shutdownLocked()
	return nil
}

func (d *Driver) CheckHealth(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := d.selectors.Current()
	if err := d.run(ctx, d.cfg.HealthTimeout, chromedp.WaitVisible(sel.UserMenu, chromedp.ByQuery)); err != nil {
		logger.Debugf("[webterminal] health probe failed: %v", err)
		return false
	}
	return true
}

// RefreshSession reloads the terminal and logs in again when the login form
// shows up. A dead browser is relaunched.
func (d *Driver) RefreshSession(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tabCtx == nil || d.tabCtx.Err() != nil {
		logger.Warnf("[webterminal] browser not running, relaunching")
		return d.launchLocked(ctx)
	}
	if err := d.run(ctx, d.cfg.OpTimeout, chromedp.Reload()); err != nil {
		if errors.Is(err, venue.ErrSessionClosed) {
			logger.Warnf("[webterminal] browser died during reload, relaunching")
			return d.launchLocked(ctx)
		}
		return fmt.Errorf("reload: %w", err)
	}
	if err := sleepCtx(ctx, d.cfg.ReloadSettle); err != nil {
		return err
	}
	if err := d.loginIfNeededLocked(ctx); err != nil {
		return err
	}
	sel := d.selectors.Current()
	if err := d.run(ctx, d.cfg.OpTimeout, chromedp.WaitVisible(sel.UserMenu, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("user menu after reload: %w", err)
	}
	return nil
}

func (d *Driver) launchLocked(ctx context.Context) error {
	d.shutdownLocked()
	logger.Infof("[webterminal] launching browser url=%s headless=%v profile=%s", d.cfg.URL, d.cfg.Headless, d.cfg.ProfileDir)
	if err := d.startBrowserLocked(); err != nil {
		d.shutdownLocked()
		return fmt.Errorf("launch browser: %w", err)
	}

	sel := d.selectors.Current()
	var ready bool
	if err := d.run(ctx, launchTimeout,
		chromedp.Navigate(d.cfg.URL),
		chromedp.Poll(sessionReadyJS(sel), &ready, chromedp.WithPollingInterval(pollInterval)),
	); err != nil {
		d.shutdownLocked()
		return fmt.Errorf("open terminal: %w", err)
	}
	if err := d.loginIfNeededLocked(ctx); err != nil {
		return err
	}
	if err := d.ensureTradeConfirmationsOffLocked(ctx); err != nil {
		logger.Warnf("[webterminal] could not verify trade confirmations setting: %v", err)
	}
	return nil
}

// startBrowserLocked 创建标签页上下文并分配浏览器进程。
// 首次 Run 会把 Chrome 进程绑定到传入的上下文，因此这里不能带超时，
// 进程随 shutdownLocked 结束。
func (d *Driver) startBrowserLocked() error {
	allocCtx, allocCancel := d.newAllocator()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Debugf))
	d.allocCancel = allocCancel
	d.tabCtx = tabCtx
	d.tabCancel = tabCancel
	return chromedp.Run(tabCtx)
}

func (d *Driver) newAllocator() (context.Context, context.CancelFunc) {
	// 浏览器生命周期独立于发起调用的请求上下文。
	if d.allocate != nil {
		return d.allocate(context.Background())
	}
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.WindowSize(1440, 900),
	)
	if dir := strings.TrimSpace(d.cfg.UserDataDir); dir != "" {
		opts = append(opts, chromedp.UserDataDir(dir))
	}
	if profile := strings.TrimSpace(d.cfg.ProfileDir); profile != "" {
		opts = append(opts, chromedp.Flag("profile-directory", profile))
	}
	if path := strings.TrimSpace(d.cfg.ChromePath); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	return chromedp.NewExecAllocator(context.Background(), opts...)
}

func (d *Driver) shutdownLocked() {
	if d.tabCtx != nil {
		// 只有已分配浏览器时才走优雅关闭，否则 Cancel 会占用分配令牌，tabCancel 随后永远阻塞。
		if c := chromedp.FromContext(d.tabCtx); c != nil && c.Browser != nil {
			if err := chromedp.Cancel(d.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Debugf("[webterminal] close tab: %v", err)
			}
		}
		d.tabCancel()
		d.tabCtx, d.tabCancel = nil, nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
}

func (d *Driver) loginIfNeededLocked(ctx context.Context) error {
	sel := d.selectors.Current()
	var nodes []*cdp.Node
	if err := d.run(ctx, d.cfg.OpTimeout,
		chromedp.Nodes(sel.Login.Email, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	); err != nil {
		return fmt.Errorf("probe login form: %w", err)
	}
	if len(nodes) == 0 {
		return nil
	}
	if d.cfg.Username == "" || d.cfg.Password == "" {
		logger.Warnf("[webterminal] login form present but no credentials configured, relying on saved profile")
		return nil
	}
	logger.Infof("[webterminal] logging in as %s", d.cfg.Username)
	if err := d.run(ctx, d.cfg.OpTimeout,
		typeInto(sel.Login.Email, d.cfg.Username),
		typeInto(sel.Login.Password, d.cfg.Password),
		chromedp.Click(sel.Login.Submit, chromedp.ByQuery),
		chromedp.WaitVisible(sel.UserMenu, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

func (d *Driver) ensureTradeConfirmationsOffLocked(ctx context.Context) error {
	sel := d.selectors.Current()
	var result string
	if err := d.run(ctx, d.cfg.OpTimeout,
		chromedp.Click(sel.UserMenu, chromedp.ByQuery),
		chromedp.Click(sel.Settings.Open, chromedp.ByQuery),
		chromedp.Poll(confirmationsOffJS(sel.Settings.ConfirmationsLabel), &result, chromedp.WithPollingInterval(pollInterval)),
		chromedp.Click(sel.Settings.DialogClose, chromedp.ByQuery),
	); err != nil {
		return err
	}
	switch result {
	case confirmToggled:
		logger.Infof("[webterminal] trade confirmations disabled")
	case confirmAlreadyOff:
		logger.Debugf("[webterminal] trade confirmations already disabled")
	}
	return nil
}

// run executes actions on the tab bounded by timeout and by the caller's ctx.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tab := d.tabCtx
	if tab == nil || tab.Err() != nil {
		return venue.ErrSessionClosed
	}
	runCtx, cancel := context.WithTimeout(tab, timeout)
	defer cancel()
	if ctx != nil {
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
	}
	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	switch {
	case tab.Err() != nil:
		return fmt.Errorf("%w: %v", venue.ErrSessionClosed, err)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", venue.ErrTimeout, err)
	case ctx != nil && ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

func typeInto(sel, value string) chromedp.Tasks {
	return chromedp.Tasks{
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, kb.End+strings.Repeat(kb.Backspace, clearKeystrokes)+value, chromedp.ByQuery),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
