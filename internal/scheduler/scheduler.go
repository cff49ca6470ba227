package scheduler

import (
	"context"
	"time"

	"tradebridge/internal/logger"
)

// IntervalScheduler runs a task every Interval until ctx is cancelled.
// Runs never overlap: the next wait starts after the task returns.
type IntervalScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewIntervalScheduler(ctx context.Context, name string, interval time.Duration) *IntervalScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &IntervalScheduler{
		Name:     name,
		Interval: interval,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks until the context is done.
func (s *IntervalScheduler) Start(task func(context.Context)) {
	if s == nil {
		return
	}
	prefix := "IntervalScheduler"
	if s.Name != "" {
		prefix = prefix + "[" + s.Name + "]"
	}
	if task == nil {
		logger.Warnf("%s: task is nil, exit", prefix)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("%s: invalid interval=%s, exit", prefix, s.Interval)
		return
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("%s: started interval=%s run_immediately=%v at=%s",
		prefix, s.Interval, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task(s.ctx)
	}

	for {
		nextAt := s.nowFn().UTC().Add(s.Interval)
		logger.Debugf("%s: next run=%s | uptime=%s",
			prefix, nextAt.Format(time.RFC3339), s.nowFn().UTC().Sub(startAt).Truncate(time.Second))

		timer := time.NewTimer(s.Interval)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("%s: ctx done, exit", prefix)
			return
		case <-timer.C:
		}
		task(s.ctx)
	}
}
