package webterminal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tradebridge/internal/venue"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoChrome = errors.New("no chrome in tests")

// recordingAllocator 记录 chromedp 分配浏览器时使用的上下文。
type recordingAllocator struct {
	mu          sync.Mutex
	ctx         context.Context
	hadDeadline bool
	calls       int
}

func (a *recordingAllocator) Allocate(ctx context.Context, _ ...chromedp.BrowserOption) (*chromedp.Browser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ctx = ctx
	_, a.hadDeadline = ctx.Deadline()
	a.calls++
	return nil, errNoChrome
}

func (a *recordingAllocator) Wait() {}

func (a *recordingAllocator) snapshot() (context.Context, bool, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx, a.hadDeadline, a.calls
}

func newRecordingDriver(t *testing.T) (*Driver, *recordingAllocator) {
	t.Helper()
	reg, err := NewRegistry("")
	require.NoError(t, err)
	rec := &recordingAllocator{}
	d := New(Config{URL: "https://terminal.example"}, reg)
	d.allocate = func(parent context.Context) (context.Context, context.CancelFunc) {
		ctx, cancel := chromedp.NewExecAllocator(parent)
		chromedp.FromContext(ctx).Allocator = rec
		return ctx, cancel
	}
	return d, rec
}

func TestBrowserOutlivesLaunchCall(t *testing.T) {
	d, rec := newRecordingDriver(t)

	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.startBrowserLocked()
	require.ErrorIs(t, err, errNoChrome)

	allocCtx, hadDeadline, calls := rec.snapshot()
	require.Equal(t, 1, calls)
	require.NotNil(t, allocCtx)
	assert.False(t, hadDeadline, "browser process must not be bound to a per-call timeout")
	assert.NoError(t, allocCtx.Err(), "browser context must stay alive after the launch step returns")

	d.shutdownLocked()
	assert.ErrorIs(t, allocCtx.Err(), context.Canceled)
}

func TestOpenFailureReleasesBrowser(t *testing.T) {
	d, rec := newRecordingDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := d.Open(ctx)
	require.ErrorIs(t, err, errNoChrome)
	allocCtx, hadDeadline, _ := rec.snapshot()
	assert.False(t, hadDeadline)
	assert.Error(t, allocCtx.Err())
	assert.Nil(t, d.tabCtx)

	// 浏览器不在时刷新会重新拉起。
	err = d.RefreshSession(ctx)
	require.ErrorIs(t, err, errNoChrome)
	_, _, calls := rec.snapshot()
	assert.Equal(t, 2, calls)
	require.NoError(t, d.Close())
}

func TestDriverWithoutBrowser(t *testing.T) {
	reg, err := NewRegistry("")
	require.NoError(t, err)
	d := New(Config{URL: "https://terminal.example"}, reg)
	ctx := context.Background()

	assert.False(t, d.CheckHealth(ctx))

	_, err = d.OpenPositionIDs(ctx)
	assert.ErrorIs(t, err, venue.ErrSessionClosed)
	assert.True(t, venue.IsTransient(err))

	err = d.ClosePosition(ctx, "1")
	assert.ErrorIs(t, err, venue.ErrSessionClosed)

	require.NoError(t, d.Close())
}

func TestNewAppliesTimeoutFallbacks(t *testing.T) {
	reg, err := NewRegistry("")
	require.NoError(t, err)
	d := New(Config{}, reg)
	assert.Equal(t, 10*time.Second, d.cfg.OpTimeout)
	assert.Equal(t, 5*time.Second, d.cfg.HealthTimeout)
}

func TestSleepCtxHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Minute), context.Canceled)
	assert.NoError(t, sleepCtx(context.Background(), 0))
}
