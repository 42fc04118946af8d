package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner executes a Generator run and keeps its RunRecord current:
// saved as running before the pass, then completed or failed.
// Runs is optional; without it nothing is persisted.
type Runner struct {
	Generator *Generator
	Runs      RunStore
	Logger    *zap.Logger

	now func() time.Time
}

func NewRunner(gen *Generator, runs RunStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Generator: gen, Runs: runs, Logger: logger.Named("runner"), now: time.Now}
}

// Run bills date and records the outcome under trigger (scheduler, manual, job).
// The error is the generator's; run-history write failures are only logged.
func (r *Runner) Run(ctx context.Context, date Date, trigger string) (RunRecord, RunResult, error) {
	record := RunRecord{
		ID:        uuid.NewString(),
		RunDate:   date,
		Trigger:   trigger,
		Status:    RunRunning,
		StartedAt: r.now().UTC(),
	}
	r.save(ctx, record)

	result, err := r.Generator.Run(ctx, date)

	completed := r.now().UTC()
	record.CompletedAt = &completed
	record.Created = len(result.Created)
	record.Skipped = result.Skipped
	record.Failed = result.Failed
	if err != nil {
		record.Status = RunFailed
		record.Error = err.Error()
	} else {
		record.Status = RunCompleted
	}
	// The run context may already be cancelled; the record still needs writing.
	r.save(context.WithoutCancel(ctx), record)

	return record, result, err
}

func (r *Runner) save(ctx context.Context, record RunRecord) {
	if r.Runs == nil {
		return
	}
	if err := r.Runs.SaveRun(ctx, record); err != nil {
		r.Logger.Warn("failed to save billing run record",
			zap.String("run_id", record.ID),
			zap.String("status", string(record.Status)),
			zap.Error(err))
	}
}
