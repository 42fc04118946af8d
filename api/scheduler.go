/*
scheduler.go - Daily recurring billing scheduler

PURPOSE:
  Triggers a billing run once a day on a cron schedule, in the billing
  timezone. Each run bills "today" as seen in that timezone and is recorded
  in billing_runs for audit and the /api/billing/runs endpoint.

DESIGN:
  - robfig/cron drives the schedule (default "0 6 * * *")
  - SkipIfStillRunning: a slow run is never overlapped by the next tick
  - Manual runs (POST /api/billing/run) go through the same Runner and may
    overlap a scheduled one; the UNIQUE reference keeps that safe

USAGE:
  scheduler, err := NewBillingScheduler(runner, "0 6 * * *", loc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerBillingRun endpoint (manual run)
  - billing/runner.go: Run record bookkeeping
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/MiniBodegas/Quarto-sub001/billing"
)

// BillingScheduler runs the billing generator on a cron schedule.
type BillingScheduler struct {
	Runner   *billing.Runner
	Spec     string
	Location *time.Location

	cron    *cron.Cron
	entryID cron.EntryID
	logger  *zap.Logger
	mu      sync.Mutex
	started bool
}

// NewBillingScheduler validates spec and prepares the scheduler.
func NewBillingScheduler(runner *billing.Runner, spec string, loc *time.Location, logger *zap.Logger) (*BillingScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.Named("scheduler")

	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	s := &BillingScheduler{
		Runner:   runner,
		Spec:     spec,
		Location: loc,
		cron:     c,
		logger:   logger,
	}

	id, err := c.AddFunc(spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("invalid billing schedule %q: %w", spec, err)
	}
	s.entryID = id
	return s, nil
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (s *BillingScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.cron.Start()
	s.started = true

	s.logger.Info("billing scheduler started",
		zap.String("schedule", s.Spec),
		zap.String("timezone", s.Location.String()),
		zap.Time("next_run", s.NextRun()))
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *BillingScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.logger.Info("billing scheduler stopped")
}

func (s *BillingScheduler) tick() {
	today := billing.Today(s.Location)
	if _, _, err := s.RunNow(context.Background(), today, billing.TriggerScheduler); err != nil {
		s.logger.Error("scheduled billing run failed", zap.Stringer("date", today), zap.Error(err))
	}
}

// RunNow triggers an immediate run for date (manual runs, tests).
func (s *BillingScheduler) RunNow(ctx context.Context, date billing.Date, trigger string) (billing.RunRecord, billing.RunResult, error) {
	return s.Runner.Run(ctx, date, trigger)
}

// NextRun returns when the next scheduled run will occur.
func (s *BillingScheduler) NextRun() time.Time {
	e := s.cron.Entry(s.entryID)
	// cron fills Next in its own goroutine after Start.
	if e.Next.IsZero() && e.Schedule != nil {
		return e.Schedule.Next(time.Now().In(s.Location))
	}
	return e.Next
}
