// Package session 维护共享交易会话的生命周期：定时刷新、健康探测，以及动作前的强制恢复。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradebridge/internal/gate"
	"tradebridge/internal/logger"
	"tradebridge/internal/pkg/circuit"
	"tradebridge/internal/scheduler"
	"tradebridge/internal/venue"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type State int32

const (
	Operational State = iota
	Refreshing
	Degraded
)

func (s State) String() string {
	switch s {
	case Operational:
		return "operational"
	case Refreshing:
		return "refreshing"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

var ErrSessionDegraded = errors.New("session degraded")

type Options struct {
	RefreshInterval  time.Duration
	HealthInterval   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Status 是会话状态的只读快照。
type Status struct {
	State       State
	LastRefresh time.Time
	LastError   string
	Refreshes   int64
	Failures    int64
	Breaker     circuit.State
}

type Guardian struct {
	driver  venue.Driver
	gate    *gate.Gate
	breaker *circuit.Breaker
	opts    Options
	flight  singleflight.Group

	mu          sync.RWMutex
	state       State
	lastRefresh time.Time
	lastErr     string
	refreshes   int64
	failures    int64
	onChange    []func(from, to State)
	onRefresh   []func(ok bool, took time.Duration)
}

func NewGuardian(driver venue.Driver, g *gate.Gate, opts Options) *Guardian {
	return &Guardian{
		driver:  driver,
		gate:    g,
		breaker: circuit.New("session-refresh", opts.BreakerThreshold, opts.BreakerCooldown),
		opts:    opts,
		state:   Operational,
	}
}

// OnStateChange registers fn for every state transition. Register before
// StartPeriodic; hooks run synchronously.
func (g *Guardian) OnStateChange(fn func(from, to State)) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.onChange = append(g.onChange, fn)
	g.mu.Unlock()
}

// OnRefresh registers fn for every completed refresh attempt.
func (g *Guardian) OnRefresh(fn func(ok bool, took time.Duration)) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.onRefresh = append(g.onRefresh, fn)
	g.mu.Unlock()
}

func (g *Guardian) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Guardian) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Status{
		State:       g.state,
		LastRefresh: g.lastRefresh,
		LastError:   g.lastErr,
		Refreshes:   g.refreshes,
		Failures:    g.failures,
		Breaker:     g.breaker.State(),
	}
}

// CheckHealth probes the venue. A failed probe marks the session Degraded; a
// passing probe clears Degraded.
func (g *Guardian) CheckHealth(ctx context.Context) bool {
	ok := g.driver.CheckHealth(ctx)
	switch cur := g.State(); {
	case !ok && cur == Operational:
		logger.Warnf("[guardian] health probe failed")
		g.setState(Degraded)
	case ok && cur == Degraded:
		g.setState(Operational)
	}
	return ok
}

// RefreshNow waits for the gate and refreshes the session. Concurrent callers
// share one refresh.
func (g *Guardian) RefreshNow(ctx context.Context) error {
	_, err, shared := g.flight.Do("refresh", func() (any, error) {
		release, err := g.gate.Acquire(ctx, gate.RoleRefresh)
		if err != nil {
			return nil, err
		}
		defer release()
		return nil, g.RefreshLocked(ctx)
	})
	if shared {
		logger.Debugf("[guardian] refresh coalesced with an in-flight refresh")
	}
	return err
}

// RefreshLocked refreshes the session. The caller must hold the gate.
func (g *Guardian) RefreshLocked(ctx context.Context) error {
	g.setState(Refreshing)
	start := time.Now()
	err := g.driver.RefreshSession(ctx)
	if err == nil && !g.driver.CheckHealth(ctx) {
		err = errors.New("health check failed after refresh")
	}
	took := time.Since(start)

	g.mu.Lock()
	g.refreshes++
	g.lastRefresh = time.Now()
	if err != nil {
		g.failures++
		g.lastErr = err.Error()
	} else {
		g.lastErr = ""
	}
	g.mu.Unlock()

	if err != nil {
		g.breaker.RecordFailure()
		g.setState(Degraded)
		g.emitRefresh(false, took)
		logger.Errorf("[guardian] refresh failed after %s: %v", took.Round(time.Millisecond), err)
		return fmt.Errorf("%w: %v", ErrSessionDegraded, err)
	}
	g.breaker.RecordSuccess()
	g.setState(Operational)
	g.emitRefresh(true, took)
	logger.Infof("[guardian] session refreshed in %s", took.Round(time.Millisecond))
	return nil
}

// ForceRefreshLocked is RefreshLocked behind the refresh breaker: while the
// breaker is open it returns ErrSessionDegraded without touching the venue.
// The caller must hold the gate.
func (g *Guardian) ForceRefreshLocked(ctx context.Context) error {
	if !g.breaker.Allow() {
		return fmt.Errorf("%w: refresh suppressed, breaker %s", ErrSessionDegraded, g.breaker.State())
	}
	return g.RefreshLocked(ctx)
}

// EnsureHealthyLocked is called by a gate holder before touching the venue.
// An unhealthy session is refreshed in place; ErrSessionDegraded is returned
// when it stays unhealthy or the refresh breaker is open.
func (g *Guardian) EnsureHealthyLocked(ctx context.Context) error {
	if g.CheckHealth(ctx) {
		return nil
	}
	logger.Warnf("[guardian] session unhealthy before action, forcing refresh")
	return g.ForceRefreshLocked(ctx)
}

// StartPeriodic runs the refresh timer and, when HealthInterval > 0, the
// health probe loop. It blocks until ctx is done.
func (g *Guardian) StartPeriodic(ctx context.Context) error {
	if g.opts.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be > 0")
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s := scheduler.NewIntervalScheduler(ctx, "session-refresh", g.opts.RefreshInterval)
		s.Start(func(ctx context.Context) {
			if err := g.RefreshNow(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("[guardian] periodic refresh: %v", err)
			}
		})
		return nil
	})
	if g.opts.HealthInterval > 0 {
		eg.Go(func() error {
			s := scheduler.NewIntervalScheduler(ctx, "session-health", g.opts.HealthInterval)
			s.Start(g.probe)
			return nil
		})
	}
	return eg.Wait()
}

// probe only runs when the gate is free; an in-flight action checks health on
// its own.
func (g *Guardian) probe(ctx context.Context) {
	release, ok := g.gate.TryAcquire(gate.RoleRefresh)
	if !ok {
		return
	}
	defer release()
	if g.CheckHealth(ctx) {
		return
	}
	if err := g.ForceRefreshLocked(ctx); err != nil {
		logger.Warnf("[guardian] recovery refresh: %v", err)
	}
}

func (g *Guardian) setState(to State) {
	g.mu.Lock()
	from := g.state
	if from == to {
		g.mu.Unlock()
		return
	}
	g.state = to
	hooks := append([]func(from, to State){}, g.onChange...)
	g.mu.Unlock()
	logger.Infof("[guardian] state %s -> %s", from, to)
	for _, fn := range hooks {
		fn(from, to)
	}
}

func (g *Guardian) emitRefresh(ok bool, took time.Duration) {
	g.mu.RLock()
	hooks := append([]func(bool, time.Duration){}, g.onRefresh...)
	g.mu.RUnlock()
	for _, fn := range hooks {
		fn(ok, took)
	}
}
