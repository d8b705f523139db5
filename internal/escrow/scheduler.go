package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/workpact/workpact/internal/metrics"
)

// Scheduler periodically releases escrows whose timer has elapsed.
//
// It is stateless and safe to run from multiple instances at once: each
// candidate goes through the version-guarded release, so a record
// another instance already handled (or a concurrently opened dispute)
// yields ErrConflict, which the sweep swallows. At-least-once
// invocation, exactly-once effect.
type Scheduler struct {
	service  *Service
	store    Store
	interval time.Duration
	batch    int
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewScheduler creates a new auto-release scheduler.
func NewScheduler(service *Service, store Store, interval time.Duration, batch int, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Scheduler{
		service:  service,
		store:    store,
		interval: interval,
		batch:    batch,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the scheduler loop is actively running.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start begins the auto-release loop. Call in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the scheduler to stop.
func (s *Scheduler) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Scheduler) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in auto-release sweep", "panic", fmt.Sprint(r))
		}
	}()
	s.Sweep(ctx)
}

// Sweep runs one auto-release pass. Exported so operators can trigger it
// out of band and tests can drive it directly.
func (s *Scheduler) Sweep(ctx context.Context) {
	metrics.SchedulerRunsTotal.Inc()
	now := time.Now()

	due, err := s.store.ListDueForRelease(ctx, now, s.batch)
	if err != nil {
		s.logger.Warn("failed to list due escrows", "error", err)
		return
	}

	var released, conflicts int
	for _, rec := range due {
		err := s.service.AutoRelease(ctx, rec)
		switch {
		case err == nil:
			released++
			if rec.AutoReleaseAt != nil {
				metrics.SchedulerReleaseDelay.Observe(now.Sub(*rec.AutoReleaseAt).Seconds())
			}
		case errors.Is(err, ErrConflict):
			// Disputed or already handled by another instance; the record
			// is no longer eligible and drops out of the next listing.
			conflicts++
		default:
			s.logger.Warn("failed to auto-release escrow", "escrowId", rec.ID, "error", err)
		}
	}

	if released > 0 || conflicts > 0 {
		s.logger.Info("auto-release sweep finished",
			"due", len(due), "released", released, "conflicts", conflicts)
	}
}
