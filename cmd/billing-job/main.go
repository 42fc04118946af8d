/*
main.go - One-shot recurring billing run

PURPOSE:
  Runs the billing generator once and exits. Meant for an external
  scheduler (cron, Kubernetes CronJob) when the API server's built-in
  scheduler is not used.

FLAGS:
  -date   Bill as of YYYY-MM-DD instead of today in billing.timezone

EXIT CODES:
  0  Run finished. Individual booking failures are logged, not fatal.
  1  Unexpected fault (store unreachable, panic)
  2  Required configuration missing or invalid
  3  Booking listing failed; nothing was processed

SEE ALSO:
  - cmd/server: Long-running server with the cron scheduler
  - billing/generator.go: The run itself
*/
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/MiniBodegas/Quarto-sub001/billing"
	"github.com/MiniBodegas/Quarto-sub001/config"
	"github.com/MiniBodegas/Quarto-sub001/logging"
	"github.com/MiniBodegas/Quarto-sub001/pricing"
	"github.com/MiniBodegas/Quarto-sub001/store"
)

const (
	exitOK          = 0
	exitUnexpected  = 1
	exitConfig      = 2
	exitListFailure = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) (code int) {
	fs := flag.NewFlagSet("billing-job", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dateFlag := fs.String("date", "", "bill as of this date (YYYY-MM-DD), default today")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg, err := config.Load()
	if err != nil {
		logging.New(logging.Config{Output: "stderr"}).Error("configuration error", zap.Error(err))
		return exitCodeFor(err)
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stderr"})
	defer logger.Sync()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("billing job panicked", zap.Any("panic", r), zap.Stack("stack"))
			code = exitUnexpected
		}
	}()

	date := billing.Today(cfg.Billing.Location)
	if *dateFlag != "" {
		date, err = billing.ParseDate(*dateFlag)
		if err != nil {
			logger.Error("invalid -date", zap.String("date", *dateFlag), zap.Error(err))
			return exitConfig
		}
	}

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to open store", zap.String("driver", cfg.Database.Driver), zap.Error(err))
		return exitUnexpected
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	calc := pricing.NewCalculator(cfg.Pricing.Tiers)
	stores := billing.Stores{Bookings: st, Inventory: st, Payments: st}
	err = execute(ctx, stores, st, cfg.GeneratorOptions(calc), date, logger)
	return exitCodeFor(err)
}

// execute runs the generator once for date and records the run.
func execute(ctx context.Context, stores billing.Stores, runs billing.RunStore, opts billing.Options, date billing.Date, logger *zap.Logger) error {
	gen := billing.NewGenerator(stores, opts, logger)
	runner := billing.NewRunner(gen, runs, logger)

	record, result, err := runner.Run(ctx, date, billing.TriggerJob)
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("run_id", record.ID),
		zap.Stringer("date", date),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	}
	if result.PartialSuccess() {
		logger.Warn("billing job finished with booking failures", fields...)
	} else {
		logger.Info("billing job finished", fields...)
	}
	return nil
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrMissingConfig), errors.Is(err, config.ErrInvalidConfig):
		return exitConfig
	case errors.Is(err, billing.ErrListBookings):
		return exitListFailure
	default:
		return exitUnexpected
	}
}
