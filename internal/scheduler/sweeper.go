package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/monitor"
)

// EligibleLister is the part of the endpoint store a sweep reads.
type EligibleLister interface {
	ListEligibleEndpoints(ctx context.Context) ([]*domain.Endpoint, error)
}

// Sweeper queues one check per eligible endpoint on every pass.
type Sweeper struct {
	Logger    *zap.Logger
	Endpoints EligibleLister
	Queue     monitor.Enqueuer
	Interval  time.Duration
}

func NewSweeper(logger *zap.Logger, endpoints EligibleLister, q monitor.Enqueuer, interval time.Duration) *Sweeper {
	if interval < 0 {
		interval = 0
	}
	return &Sweeper{Logger: logger, Endpoints: endpoints, Queue: q, Interval: interval}
}

// RunOnce enqueues a check for every active endpoint of an active client and
// returns how many were queued. The first enqueue error stops the pass.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	eps, err := s.Endpoints.ListEligibleEndpoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("list eligible endpoints: %w", err)
	}
	queued := 0
	for _, ep := range eps {
		if err := monitor.EnqueueCheck(ctx, s.Queue, ep); err != nil {
			s.Logger.Warn("sweep_enqueue_error",
				zap.Int64("endpoint_id", int64(ep.ID)),
				zap.String("url", ep.URL),
				zap.Int("queued", queued),
				zap.Error(err),
			)
			return queued, fmt.Errorf("enqueue check for endpoint %d: %w", ep.ID, err)
		}
		queued++
	}
	s.Logger.Info("sweep_enqueued", zap.Int("total", queued))
	return queued, nil
}

// Run does an immediate pass, then one per tick, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval == 0 {
		s.Logger.Info("sweeper_disabled")
		return
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("sweeper_stopped")
			return
		case <-t.C:
			s.pass(ctx)
		}
	}
}

func (s *Sweeper) pass(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.Logger.Warn("sweep_error", zap.Error(err))
	}
}
