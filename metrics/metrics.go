// Package metrics exposes Prometheus metrics for billing runs and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MiniBodegas/Quarto-sub001/billing"
)

// Metrics holds all Prometheus metrics. It implements billing.Recorder.
type Metrics struct {
	// Billing metrics
	PaymentsCreatedTotal *prometheus.CounterVec
	PaymentAmountCents   *prometheus.CounterVec
	BookingsSkippedTotal *prometheus.CounterVec
	BookingsFailedTotal  *prometheus.CounterVec
	RunsTotal            *prometheus.CounterVec
	RunDuration          prometheus.Histogram
	LastRunTimestamp     prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var _ billing.Recorder = (*Metrics)(nil)

// NewMetrics creates and registers all metrics on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		PaymentsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quarto_billing_payments_created_total",
				Help: "Recurring payments created, by amount source",
			},
			[]string{"source"},
		),
		PaymentAmountCents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quarto_billing_payment_amount_cents_total",
				Help: "Sum of created payment amounts in cents",
			},
			[]string{"currency"},
		),
		BookingsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quarto_billing_bookings_skipped_total",
				Help: "Bookings skipped during billing runs, by reason",
			},
			[]string{"reason"},
		),
		BookingsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quarto_billing_bookings_failed_total",
				Help: "Per-booking billing failures, by stage",
			},
			[]string{"stage"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quarto_billing_runs_total",
				Help: "Completed billing runs, by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quarto_billing_run_duration_seconds",
				Help:    "Billing run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		LastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quarto_billing_last_run_timestamp_seconds",
				Help: "Unix time of the last finished billing run",
			},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quarto_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quarto_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.PaymentsCreatedTotal,
		m.PaymentAmountCents,
		m.BookingsSkippedTotal,
		m.BookingsFailedTotal,
		m.RunsTotal,
		m.RunDuration,
		m.LastRunTimestamp,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// ===== billing.Recorder =====

func (m *Metrics) PaymentCreated(p billing.Payment, source billing.AmountSource) {
	m.PaymentsCreatedTotal.WithLabelValues(string(source)).Inc()
	m.PaymentAmountCents.WithLabelValues(p.Currency).Add(float64(p.AmountInCents))
}

func (m *Metrics) BookingSkipped(reason billing.SkipReason) {
	m.BookingsSkippedTotal.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) BookingFailed(stage billing.Stage) {
	m.BookingsFailedTotal.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) RunFinished(result billing.RunResult, elapsed time.Duration) {
	outcome := "success"
	if result.PartialSuccess() {
		outcome = "partial"
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
	m.LastRunTimestamp.SetToCurrentTime()
}

// RunAborted counts a run that failed before processing any booking.
func (m *Metrics) RunAborted() {
	m.RunsTotal.WithLabelValues("failed").Inc()
}

// ===== HTTP =====

// Middleware instruments requests. The route label is the chi route
// pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
