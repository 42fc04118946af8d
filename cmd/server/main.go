/*
main.go - Application entry point

PURPOSE:
  Starts the billing API server and the daily billing scheduler.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (viper: defaults, $CONFIG_PATH, QUARTO_* env)
  2. Build the zap logger
  3. Open the store (sqlite, postgres or memory)
  4. Build pricing calculator, billing generator and runner
  5. Start the cron scheduler
  6. Serve HTTP with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running billing pass)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  QUARTO_BILLING_DEFAULT_PRICE_PER_CUBIC_METER=75000 ./server
  QUARTO_DATABASE_DRIVER=postgres QUARTO_DATABASE_DSN=postgres://... ./server

SEE ALSO:
  - api/server.go: Router configuration
  - cmd/billing-job: One-shot batch run
*/
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/MiniBodegas/Quarto-sub001/api"
	"github.com/MiniBodegas/Quarto-sub001/billing"
	"github.com/MiniBodegas/Quarto-sub001/config"
	"github.com/MiniBodegas/Quarto-sub001/logging"
	"github.com/MiniBodegas/Quarto-sub001/metrics"
	"github.com/MiniBodegas/Quarto-sub001/pricing"
	"github.com/MiniBodegas/Quarto-sub001/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(logging.Config{}).Fatal("failed to load configuration", zap.Error(err))
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	defer logger.Sync()

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	calc := pricing.NewCalculator(cfg.Pricing.Tiers)
	gen := billing.NewGenerator(billing.Stores{
		Bookings:  st,
		Inventory: st,
		Payments:  st,
	}, cfg.GeneratorOptions(calc), logger).WithRecorder(m)
	runner := billing.NewRunner(gen, st, logger)

	scheduler, err := api.NewBillingScheduler(runner, cfg.Billing.Schedule, cfg.Billing.Location, logger)
	if err != nil {
		logger.Fatal("failed to create billing scheduler", zap.Error(err))
	}
	scheduler.Start()

	handler := api.NewHandler(st, calc, runner, cfg.Billing.Location, cfg.Billing.Currency, logger)
	router := api.NewRouter(handler, api.RouterOptions{Metrics: m, Gatherer: registry})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("driver", cfg.Database.Driver),
			zap.String("timezone", cfg.Billing.Location.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
