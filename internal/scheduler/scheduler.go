// Package scheduler drives the daily pipeline run in serve mode.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobFunc is invoked on every scheduled firing.
type JobFunc func(ctx context.Context) error

// Scheduler runs the pipeline on a cron cadence.
type Scheduler struct {
	spec   string
	logger zerolog.Logger
}

// New constructs a Scheduler for a cron spec (standard 5-field syntax).
func New(spec string, logger zerolog.Logger) *Scheduler {
	return &Scheduler{spec: spec, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking job on each firing until ctx is cancelled. A failed
// job is logged and the schedule continues; retries happen naturally on the
// next firing.
func (s *Scheduler) Run(ctx context.Context, job JobFunc) error {
	c := cron.New()

	_, err := c.AddFunc(s.spec, func() {
		s.logger.Info().Str("spec", s.spec).Msg("scheduled run firing")
		if err := job(ctx); err != nil {
			s.logger.Error().Err(err).Msg("scheduled run failed")
		}
	})
	if err != nil {
		return err
	}

	c.Start()
	s.logger.Info().Str("spec", s.spec).Msg("scheduler started")

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}
