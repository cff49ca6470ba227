package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireIsMutuallyExclusive(t *testing.T) {
	g := New(Options{})
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		role := RoleAction
		if i%3 == 0 {
			role = RoleRefresh
		}
		wg.Add(1)
		go func(role Role) {
			defer wg.Done()
			release, err := g.Acquire(context.Background(), role)
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
		}(role)
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
	_, held := g.Holder()
	assert.False(t, held)
}

func TestActionTimesOutWithResourceBusy(t *testing.T) {
	g := New(Options{ActionTimeout: 30 * time.Millisecond})
	release, err := g.Acquire(context.Background(), RoleRefresh)
	require.NoError(t, err)
	defer release()

	holder, held := g.Holder()
	require.True(t, held)
	assert.Equal(t, RoleRefresh, holder)

	_, err = g.Acquire(context.Background(), RoleAction)
	assert.ErrorIs(t, err, ErrResourceBusy)
}

func TestRefreshWaitsUntilContextEnds(t *testing.T) {
	g := New(Options{ActionTimeout: 10 * time.Millisecond})
	release, err := g.Acquire(context.Background(), RoleAction)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = g.Acquire(ctx, RoleRefresh)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := New(Options{})
	release, err := g.Acquire(context.Background(), RoleAction)
	require.NoError(t, err)
	release()
	release()

	r1, ok := g.TryAcquire(RoleAction)
	require.True(t, ok)
	_, ok = g.TryAcquire(RoleRefresh)
	assert.False(t, ok, "double release must not free a second slot")
	r1()
}

func TestPendingCountsWaiters(t *testing.T) {
	var seen atomic.Int64
	g := New(Options{OnPending: func(n int64) {
		if n > seen.Load() {
			seen.Store(n)
		}
	}})
	release, err := g.Acquire(context.Background(), RoleAction)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		r, err := g.Acquire(context.Background(), RoleAction)
		if err == nil {
			r()
		}
		close(done)
	}()
	require.Eventually(t, func() bool { return g.Pending() == 1 }, time.Second, 5*time.Millisecond)
	assert.Greater(t, g.HeldFor(), time.Duration(0))
	release()
	<-done
	assert.Equal(t, int64(0), g.Pending())
	assert.Equal(t, int64(1), seen.Load())
}
