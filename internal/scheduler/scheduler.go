// Package scheduler runs the batch jobs on cron schedules inside the
// server process. Jobs are also runnable as standalone binaries; nothing
// here is load-bearing for correctness, the ledger is.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a schedulable batch job. Run receives the wall-clock time of the
// trigger as its logical date.
type Job interface {
	Run(ctx context.Context, today time.Time) error
	Name() string
}

// Scheduler manages cron-triggered job execution.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location
	log  zerolog.Logger
}

// New creates a scheduler evaluating schedules in the given location
// (the exchange's local time).
func New(loc *time.Location, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		loc:  loc,
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a standard 5-field cron schedule, e.g.
// "0 19 * * MON-FRI" for 19:00 on weekdays. The trigger time is the job's
// logical date.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	return s.AddJobWithDate(schedule, job, func(now time.Time) time.Time { return now })
}

// AddJobWithDate registers a job whose logical date is derived from the
// trigger time, for jobs whose slots straddle the date they work on.
func (s *Scheduler) AddJobWithDate(schedule string, job Job, logicalDate func(time.Time) time.Time) error {
	_, err := s.cron.AddFunc(schedule, func() {
		today := logicalDate(time.Now().In(s.loc))
		s.log.Info().Str("job", job.Name()).Str("date", today.Format("2006-01-02")).Msg("Running job")

		if err := job.Run(context.Background(), today); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
			return
		}
		s.log.Info().Str("job", job.Name()).Msg("Job completed")
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("Job registered")
	return nil
}
