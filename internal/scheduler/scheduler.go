// Package scheduler triggers import runs, either once or on a cron cadence.
package scheduler

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jentle/kafka-connect-mongo/pkg/errors"
)

// Runner performs one complete import run
type Runner func(ctx context.Context) error

// Scheduler invokes a Runner one-shot (empty spec) or on a cron schedule.
// A trigger firing while the previous run is still active is skipped, so
// runs never overlap.
type Scheduler struct {
	spec    string
	run     Runner
	logger  *zap.Logger
	running atomic.Bool
}

// New creates a scheduler for the given cron spec; an empty spec selects
// one-shot mode
func New(spec string, run Runner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		spec:   spec,
		run:    run,
		logger: logger.With(zap.String("component", "scheduler")),
	}
}

// Start blocks until the one-shot run completes, or in cron mode until
// the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.spec == "" {
		return s.run(ctx)
	}

	c := cron.New()
	_, err := c.AddFunc(s.spec, func() {
		if !s.running.CompareAndSwap(false, true) {
			s.logger.Warn("previous run still active, skipping trigger")
			return
		}
		defer s.running.Store(false)

		if err := s.run(ctx); err != nil {
			s.logger.Error("scheduled run failed", zap.Error(err))
		}
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid cron schedule").
			WithDetail("schedule", s.spec)
	}

	s.logger.Info("recurring mode", zap.String("schedule", s.spec))
	c.Start()

	<-ctx.Done()

	// Let any in-flight run finish before returning
	<-c.Stop().Done()

	return nil
}
