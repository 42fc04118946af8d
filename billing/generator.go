/*
generator.go - Recurring billing run

PURPOSE:
  Creates at most one PENDING Payment per booking per billing period. A run
  is a single pass over the bookings listed by the BookingStore; it is meant
  to be triggered once a day (cron, batch job or manual API call).

PER-BOOKING ALGORITHM:
  1. Due gate        - DayResolver.DueDates (not due => skip)
  2. Reference       - Reference(bookingID, YYYY-MM)
  3. Advisory check  - Ledger.Billed (exists => skip)
  4. Amount          - AmountResolver fallback chain
  5. Insert PENDING  - Ledger.Record, amount in integer cents
  6. Duplicate insert on the UNIQUE reference => skip, not failure
  7. Anything else   => per-booking failure, the run continues

FAILURE MODEL:
  Only the initial booking listing can fail a run. Per-booking errors and
  panics are caught at the booking boundary, logged and counted.

CONCURRENCY:
  Options.Workers > 1 processes bookings on an errgroup-limited pool. Each
  booking writes its own result slot; nothing else is shared. Overlapping
  runs are safe because the storage constraint is the only guard needed.

SEE ALSO:
  - schedule.go, amount.go, ledger.go
  - api/scheduler.go: Daily trigger
  - cmd/billing-job: One-shot batch invocation
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// OPTIONS
// =============================================================================

// ZeroAmountPolicy decides what happens when every pricing source yields 0.
type ZeroAmountPolicy string

const (
	// ZeroAmountCreate records a zero-amount PENDING payment (free tier).
	ZeroAmountCreate ZeroAmountPolicy = "create"
	// ZeroAmountSkip treats the booking as missing pricing data and skips it.
	ZeroAmountSkip ZeroAmountPolicy = "skip"
)

type Options struct {
	Pricer        VolumePricer
	Currency      string
	PaymentMethod string
	Workers       int
	CatchUpDays   int
	ZeroAmount    ZeroAmountPolicy
	// Location is the billing timezone "today" is computed in. Creation
	// days are resolved in it too. nil means UTC.
	Location *time.Location
}

// =============================================================================
// OUTCOMES
// =============================================================================

type SkipReason string

const (
	SkipNotDue        SkipReason = "not_due"
	SkipNotRecurring  SkipReason = "not_recurring"
	SkipAlreadyBilled SkipReason = "already_billed"
	SkipDuplicate     SkipReason = "duplicate_reference"
	SkipZeroAmount    SkipReason = "zero_amount"
)

// Recorder observes run outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	PaymentCreated(p Payment, source AmountSource)
	BookingSkipped(reason SkipReason)
	BookingFailed(stage Stage)
	RunFinished(result RunResult, elapsed time.Duration)
	RunAborted()
}

type nopRecorder struct{}

func (nopRecorder) PaymentCreated(Payment, AmountSource) {}
func (nopRecorder) BookingSkipped(SkipReason)            {}
func (nopRecorder) BookingFailed(Stage)                  {}
func (nopRecorder) RunFinished(RunResult, time.Duration) {}
func (nopRecorder) RunAborted()                          {}

// RunResult summarizes one run.
type RunResult struct {
	Date        Date
	Created     []Payment
	Skipped     int
	Failed      int
	SkipReasons map[SkipReason]int
	Failures    []*BookingError
}

// PartialSuccess reports whether some bookings failed.
func (r RunResult) PartialSuccess() bool { return r.Failed > 0 }

type outcome struct {
	created  []Payment
	skips    []SkipReason
	failures []*BookingError
}

// =============================================================================
// GENERATOR
// =============================================================================

type Generator struct {
	bookings BookingStore
	ledger   *Ledger
	amounts  *AmountResolver
	days     DayResolver
	opts     Options
	logger   *zap.Logger
	recorder Recorder

	newID func() PaymentID
	now   func() time.Time
}

func NewGenerator(stores Stores, opts Options, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ZeroAmount == "" {
		opts.ZeroAmount = ZeroAmountCreate
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Generator{
		bookings: stores.Bookings,
		ledger:   NewLedger(stores.Payments),
		amounts:  &AmountResolver{Inventory: stores.Inventory, Pricer: opts.Pricer},
		days:     DayResolver{CatchUpDays: opts.CatchUpDays, Location: opts.Location},
		opts:     opts,
		logger:   logger.Named("billing"),
		recorder: nopRecorder{},
		newID:    func() PaymentID { return PaymentID(uuid.NewString()) },
		now:      time.Now,
	}
}

// WithRecorder attaches a metrics recorder.
func (g *Generator) WithRecorder(r Recorder) *Generator {
	if r != nil {
		g.recorder = r
	}
	return g
}

// Run bills every booking due on today. The returned error is non-nil only
// when the booking listing fails (wraps ErrListBookings) or ctx is done.
func (g *Generator) Run(ctx context.Context, today Date) (RunResult, error) {
	start := g.now()
	result := RunResult{Date: today, SkipReasons: make(map[SkipReason]int)}

	bookings, err := g.bookings.ListBookingsWithRecurringCharge(ctx)
	if err != nil {
		g.logger.Error("listing bookings failed", zap.Stringer("date", today), zap.Error(err))
		g.recorder.RunAborted()
		return result, fmt.Errorf("%w: %w", ErrListBookings, err)
	}

	g.logger.Info("billing run started",
		zap.Stringer("date", today),
		zap.Int("bookings", len(bookings)),
		zap.Int("workers", max(g.opts.Workers, 1)))

	outcomes := make([]outcome, len(bookings))
	if g.opts.Workers <= 1 {
		for i, b := range bookings {
			if ctx.Err() != nil {
				break
			}
			outcomes[i] = g.processBooking(ctx, b, today)
		}
	} else {
		var eg errgroup.Group
		eg.SetLimit(g.opts.Workers)
		for i, b := range bookings {
			if ctx.Err() != nil {
				break
			}
			eg.Go(func() error {
				outcomes[i] = g.processBooking(ctx, b, today)
				return nil
			})
		}
		_ = eg.Wait()
	}

	for _, o := range outcomes {
		result.Created = append(result.Created, o.created...)
		for _, reason := range o.skips {
			result.SkipReasons[reason]++
			result.Skipped++
		}
		result.Failures = append(result.Failures, o.failures...)
		result.Failed += len(o.failures)
	}

	elapsed := g.now().Sub(start)
	g.recorder.RunFinished(result, elapsed)
	g.logger.Info("billing run finished",
		zap.Stringer("date", today),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", elapsed))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (g *Generator) processBooking(ctx context.Context, b Booking, today Date) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			g.fail(&out, &BookingError{BookingID: b.ID, Stage: StagePanic, Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	if !b.BillsRecurring() {
		g.skip(&out, b.ID, "", SkipNotRecurring)
		return out
	}

	dates := g.days.DueDates(b, today)
	if len(dates) == 0 {
		g.skip(&out, b.ID, "", SkipNotDue)
		return out
	}

	var amount *ResolvedAmount
	for _, due := range dates {
		period := PeriodOf(due)
		ref := Reference(b.ID, period)

		billed, err := g.ledger.Billed(ctx, ref)
		if err != nil {
			g.fail(&out, &BookingError{BookingID: b.ID, Reference: ref, Stage: StageLookup, Err: err})
			continue
		}
		if billed {
			g.skip(&out, b.ID, ref, SkipAlreadyBilled)
			continue
		}

		if amount == nil {
			resolved, err := g.amounts.Resolve(ctx, b)
			if err != nil {
				g.fail(&out, &BookingError{BookingID: b.ID, Reference: ref, Stage: StageInventory, Err: err})
				return out
			}
			amount = &resolved
		}

		if amount.Source == SourceNone {
			if g.opts.ZeroAmount == ZeroAmountSkip {
				g.skip(&out, b.ID, ref, SkipZeroAmount)
				continue
			}
			g.logger.Warn("no pricing source for booking, billing zero amount",
				zap.String("booking_id", string(b.ID)), zap.String("reference", ref))
		}

		payment := Payment{
			ID:            g.newID(),
			BookingID:     b.ID,
			Reference:     ref,
			Period:        period,
			Status:        PaymentPending,
			AmountInCents: ToCents(amount.Amount),
			Currency:      g.opts.Currency,
			PaymentMethod: g.opts.PaymentMethod,
			CreatedAt:     g.now().UTC(),
		}

		saved, created, err := g.ledger.Record(ctx, payment)
		if err != nil {
			g.fail(&out, &BookingError{BookingID: b.ID, Reference: ref, Stage: StageInsert, Err: err})
			continue
		}
		if !created {
			g.skip(&out, b.ID, ref, SkipDuplicate)
			continue
		}

		out.created = append(out.created, saved)
		g.recorder.PaymentCreated(saved, amount.Source)
		g.logger.Info("payment created",
			zap.String("booking_id", string(b.ID)),
			zap.String("reference", ref),
			zap.Int64("amount_in_cents", saved.AmountInCents),
			zap.String("source", string(amount.Source)))
	}
	return out
}

func (g *Generator) skip(out *outcome, id BookingID, ref string, reason SkipReason) {
	out.skips = append(out.skips, reason)
	g.recorder.BookingSkipped(reason)
	if reason == SkipNotDue || reason == SkipNotRecurring {
		return
	}
	g.logger.Debug("booking skipped",
		zap.String("booking_id", string(id)),
		zap.String("reference", ref),
		zap.String("reason", string(reason)))
}

func (g *Generator) fail(out *outcome, err *BookingError) {
	out.failures = append(out.failures, err)
	g.recorder.BookingFailed(err.Stage)
	g.logger.Error("booking billing failed",
		zap.String("booking_id", string(err.BookingID)),
		zap.String("reference", err.Reference),
		zap.String("stage", string(err.Stage)),
		zap.Error(err.Err))
}
