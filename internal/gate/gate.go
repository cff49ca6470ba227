// Package gate 提供交易终端的互斥访问：同一时刻只允许一个动作或一次会话刷新触碰浏览器。
package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tradebridge/internal/logger"

	"golang.org/x/sync/semaphore"
)

// Role identifies who holds the gate.
type Role string

const (
	RoleAction  Role = "action"
	RoleRefresh Role = "refresh"
)

var ErrResourceBusy = errors.New("resource busy: terminal is held by another operation")

type Options struct {
	// ActionTimeout bounds how long an action waits; 0 waits until ctx ends.
	ActionTimeout time.Duration
	// OnWait receives the time each successful acquisition spent waiting.
	OnWait func(role Role, waited time.Duration)
	// OnPending receives the number of waiters whenever it changes.
	OnPending func(n int64)
}

type Gate struct {
	sem  *semaphore.Weighted
	opts Options

	pending atomic.Int64

	mu     sync.Mutex
	holder Role
	since  time.Time
}

func New(opts Options) *Gate {
	return &Gate{sem: semaphore.NewWeighted(1), opts: opts}
}

// Acquire blocks until the gate is free. Actions give up with ErrResourceBusy
// after ActionTimeout; refreshes wait until ctx is done. The returned release
// func is safe to call more than once.
func (g *Gate) Acquire(ctx context.Context, role Role) (func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	waitCtx := ctx
	if role == RoleAction && g.opts.ActionTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.opts.ActionTimeout)
		defer cancel()
	}
	start := time.Now()
	g.addPending(1)
	err := g.sem.Acquire(waitCtx, 1)
	g.addPending(-1)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		holder, _ := g.Holder()
		logger.Warnf("[gate] %s gave up after %s, holder=%s", role, time.Since(start).Round(time.Millisecond), holder)
		return nil, ErrResourceBusy
	}
	waited := time.Since(start)
	if g.opts.OnWait != nil {
		g.opts.OnWait(role, waited)
	}
	if waited > time.Second {
		logger.Debugf("[gate] %s acquired after %s", role, waited.Round(time.Millisecond))
	}
	return g.grant(role), nil
}

// TryAcquire takes the gate only if it is free right now.
func (g *Gate) TryAcquire(role Role) (func(), bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	if g.opts.OnWait != nil {
		g.opts.OnWait(role, 0)
	}
	return g.grant(role), true
}

// Holder reports the current holder, if any.
func (g *Gate) Holder() (Role, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder, g.holder != ""
}

// HeldFor 返回当前持有者已持有的时长；空闲时为 0。
func (g *Gate) HeldFor() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder == "" {
		return 0
	}
	return time.Since(g.since)
}

func (g *Gate) Pending() int64 {
	return g.pending.Load()
}

func (g *Gate) grant(role Role) func() {
	g.mu.Lock()
	g.holder = role
	g.since = time.Now()
	g.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.holder = ""
			g.since = time.Time{}
			g.mu.Unlock()
			g.sem.Release(1)
		})
	}
}

func (g *Gate) addPending(delta int64) {
	n := g.pending.Add(delta)
	if g.opts.OnPending != nil {
		g.opts.OnPending(n)
	}
}
