// Package schedule implements the cron-driven schedule dispatcher: a
// background poller that fires due IngestionSchedules by creating a job and
// handing it to the Job Runner, then advances next_run_at using
// robfig/cron's standard expression parser.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/store"
	"github.com/r3e-network/ingestion-engine/internal/support"
	"github.com/r3e-network/ingestion-engine/pkg/logger"
)

// Dispatcher is the subset of runner.Runner the Scheduler drives jobs
// through.
type Dispatcher interface {
	Run(ctx context.Context, jobID string) error
}

// Scheduler polls the ScheduleStore on a fixed tick and fires every
// schedule whose next_run_at has elapsed, mirroring automation.Scheduler's
// ticker lifecycle (Start/Stop backed by a cancelable context and a
// WaitGroup).
type Scheduler struct {
	schedules  *store.ScheduleStore
	jobs       *store.JobStore
	dispatcher Dispatcher
	parser     cron.Parser
	interval   time.Duration
	log        *logger.Logger
	hooks      support.DispatchHooks

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New constructs a Scheduler. interval <= 0 defaults to 30 seconds.
func New(schedules *store.ScheduleStore, jobs *store.JobStore, dispatcher Dispatcher, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("schedule")
	}
	return &Scheduler{
		schedules:  schedules,
		jobs:       jobs,
		dispatcher: dispatcher,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval:   interval,
		log:        log,
	}
}

// WithHooks attaches dispatch hooks (e.g. pkg/metrics.ScheduleDispatchHooks())
// fired around every fire call. Returns s for chaining at construction time.
func (s *Scheduler) WithHooks(hooks support.DispatchHooks) *Scheduler {
	s.hooks = hooks
	return s
}

// Start begins the background polling loop. Calling Start while already
// running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	s.log.Info("schedule dispatcher started")
}

// Stop halts the polling loop and waits for any in-flight tick to finish
// enqueuing dispatches (not for dispatched jobs themselves to complete).
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("schedule dispatcher stopped")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	active, err := s.schedules.Active(ctx)
	if err != nil {
		s.log.WithField("error", err.Error()).Warn("list active schedules failed")
		return
	}

	now := time.Now().UTC()
	for _, sched := range active {
		if sched.NextRunAt.After(now) {
			continue
		}
		sched := sched
		go s.fire(ctx, sched)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched model.IngestionSchedule) {
	done := support.StartDispatch(ctx, s.hooks, map[string]string{"schedule_id": sched.ID, "source": sched.Source})
	var fireErr error
	defer func() { done(fireErr) }()

	job, err := s.jobs.Create(ctx, sched.Source, sched.Config, 3)
	if err != nil {
		fireErr = err
		s.log.WithField("schedule_id", sched.ID).WithField("error", err.Error()).Error("create scheduled job failed")
		return
	}

	next, err := s.nextRun(sched)
	if err != nil {
		s.log.WithField("schedule_id", sched.ID).WithField("error", err.Error()).Warn("compute next run failed")
		next = time.Now().UTC().Add(24 * time.Hour)
	}
	if err := s.schedules.RecordRun(ctx, sched.ID, job.ID, next); err != nil {
		s.log.WithField("schedule_id", sched.ID).WithField("error", err.Error()).Error("record schedule run failed")
	}

	if err := s.dispatcher.Run(ctx, job.ID); err != nil {
		fireErr = err
		s.log.WithField("schedule_id", sched.ID).WithField("job_id", job.ID).WithField("error", err.Error()).Warn("scheduled job run failed")
	}
}

// nextRun computes a schedule's next firing time from its cron expression,
// falling back to a fixed-frequency offset from now for schedules defined
// only by Frequency/Hour/Day (the simpler, non-CUSTOM schedule forms).
func (s *Scheduler) nextRun(sched model.IngestionSchedule) (time.Time, error) {
	now := time.Now().UTC()
	if sched.CronExpr != "" {
		expr, err := s.parser.Parse(sched.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sched.CronExpr, err)
		}
		return expr.Next(now), nil
	}

	switch sched.Frequency {
	case model.FrequencyHourly:
		return now.Add(time.Hour), nil
	case model.FrequencyDaily:
		return nextDailyRun(now, sched.Hour), nil
	case model.FrequencyWeekly:
		return nextDailyRun(now, sched.Hour).AddDate(0, 0, 7), nil
	case model.FrequencyMonthly:
		return nextMonthlyRun(now, sched.Day, sched.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("schedule %s has no cron_expression and an unrecognized frequency %q", sched.ID, sched.Frequency)
	}
}

func nextDailyRun(now time.Time, hour *int) time.Time {
	h := 0
	if hour != nil {
		h = *hour
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func nextMonthlyRun(now time.Time, day, hour *int) time.Time {
	d := 1
	if day != nil {
		d = *day
	}
	h := 0
	if hour != nil {
		h = *hour
	}
	next := time.Date(now.Year(), now.Month(), d, h, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}
