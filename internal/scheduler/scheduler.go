// Package scheduler fires the periodic rebalance job on a configurable
// interval. Adapted from the sibling repo's internal/scheduler/scheduler.go
// Job/Scheduler split, narrowed to the one stable job id this domain needs
// and driven by hours rather than a cron expression.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a unit of scheduled work, matching the sibling repo's contract.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler wraps robfig/cron, tracking the single stable-id entry so a
// settings change can atomically replace it.
type Scheduler struct {
	cron    *cron.Cron
	log     zerolog.Logger
	entries map[string]cron.EntryID
}

// New creates a stopped Scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		log:     log.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins dispatching registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop halts dispatch of future fires. Any cycle already in flight
// continues to completion under its own lock; Stop does not cancel it.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// RegisterPeriodic installs job under id, running every interval. A
// second call with the same id atomically replaces the prior entry so
// re-registration after a settings change never runs two copies.
func (s *Scheduler) RegisterPeriodic(id string, interval time.Duration, job Job) error {
	if existing, ok := s.entries[id]; ok {
		s.cron.Remove(existing)
		delete(s.entries, id)
	}

	spec := fmt.Sprintf("@every %s", interval.String())
	entryID, err := s.cron.AddFunc(spec, func() {
		s.log.Debug().Str("job", job.Name()).Msg("running job")
		if err := job.Run(context.Background()); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("job completed")
	})
	if err != nil {
		return fmt.Errorf("scheduler: registering job %s: %w", id, err)
	}
	s.entries[id] = entryID
	s.log.Info().Str("job", job.Name()).Str("interval", interval.String()).Msg("job registered")
	return nil
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("running job immediately")
	return job.Run(ctx)
}
