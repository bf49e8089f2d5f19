// Package jobs runs recurring background work on cron schedules.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/services"
)

const (
	// DefaultSweepSchedule abandons expired carts hourly.
	DefaultSweepSchedule = "@every 1h"
	defaultSweepTimeout  = 5 * time.Minute
)

// Scheduler wraps a cron runner. Runs of the same job never overlap.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	started bool
}

// NewScheduler constructs an idle scheduler in UTC.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger: logger,
	}
}

// Register adds fn under schedule. Standard five-field specs and descriptors such as
// "@every 30m" are accepted.
func (s *Scheduler) Register(name, schedule string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("jobs: job function is required")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return fmt.Errorf("jobs: schedule for %s is empty", name)
	}
	_, err := s.cron.AddFunc(schedule, func() {
		ctx := context.Background()
		var cancel context.CancelFunc
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		started := time.Now()
		if err := fn(ctx); err != nil {
			s.logger.Error("job failed", zap.String("job", name), zap.Error(err), zap.Duration("duration", time.Since(started)))
			return
		}
		s.logger.Debug("job completed", zap.String("job", name), zap.Duration("duration", time.Since(started)))
	})
	if err != nil {
		return fmt.Errorf("jobs: invalid schedule %q for %s: %w", schedule, name, err)
	}
	return nil
}

// RegisterCartSweep schedules the expired cart sweep.
func (s *Scheduler) RegisterCartSweep(sweeper services.CartSweeper, schedule string, batch int) error {
	if sweeper == nil {
		return errors.New("jobs: cart sweeper is required")
	}
	if strings.TrimSpace(schedule) == "" {
		schedule = DefaultSweepSchedule
	}
	return s.Register("cart-sweep", schedule, defaultSweepTimeout, func(ctx context.Context) error {
		swept, err := sweeper.SweepExpired(ctx, batch)
		if err != nil {
			return err
		}
		if swept > 0 {
			s.logger.Info("expired carts abandoned", zap.Int("count", swept))
		}
		return nil
	})
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
