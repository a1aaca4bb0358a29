// Package scheduler runs the periodic monitoring and delivery loops.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one scheduled unit of work. Errors are logged, never fatal: the
// next tick always comes.
type Job func(ctx context.Context) error

// Config holds the loop intervals.
type Config struct {
	MonitorInterval  time.Duration
	DeliveryInterval time.Duration
}

// Scheduler drives two independent loops: the monitor+analyze pass and the
// delivery check. Each loop runs its job immediately on start, then on every
// interval tick. A loop never overlaps its own job, but the loops share
// nothing beyond the context, so a monitor run sleeping on the request
// budget never delays a delivery check. A delivery check that lands
// mid-analyze at worst sees no recommendation and skips silently.
type Scheduler struct {
	cfg      Config
	monitor  Job
	delivery Job
	log      *zap.Logger
}

// New builds a Scheduler.
func New(cfg Config, monitor, delivery Job, log *zap.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, monitor: monitor, delivery: delivery, log: log}
}

// Run starts both loops and blocks until ctx is canceled and both loops have
// drained. A job in flight finishes; only the waits are interruptible.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.loop(ctx, "monitor", s.cfg.MonitorInterval, s.monitor)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, "delivery", s.cfg.DeliveryInterval, s.delivery)
	}()

	wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, job Job) {
	log := s.log.With(zap.String("loop", name), zap.Duration("interval", interval))
	log.Info("loop started")

	for {
		runJob(ctx, log, job)
		if !sleepCtx(ctx, interval) {
			log.Info("loop stopped")
			return
		}
	}
}

func runJob(ctx context.Context, log *zap.Logger, job Job) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := job(ctx); err != nil {
		log.Error("job failed", zap.Error(err))
		return
	}
	log.Debug("job finished", zap.Duration("took", time.Since(start)))
}

// sleepCtx waits for d or until ctx is canceled, reporting whether the full
// interval elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
