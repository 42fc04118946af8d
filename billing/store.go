/*
store.go - Persistence interfaces for the billing run

PURPOSE:
  The generator talks to three collaborators it does not own: bookings and
  inventory (read-only) and payments (exists / insert). Implementations live
  outside this package and are injected at startup.

IDEMPOTENCY:
  PaymentStore implementations MUST enforce uniqueness of Payment.Reference
  at the storage layer and report violations as ErrDuplicateReference.
  ExistsByReference is advisory only; two runs may race between the check
  and the insert, and the constraint is what keeps them safe.

CREATE-ONLY CONTRACT:
  The billing core never updates or deletes payments. Status transitions are
  owned by the payment-gateway webhook.

IMPLEMENTATIONS:
  - store/memory/memory.go: In-memory for tests and the memory driver
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL

SEE ALSO:
  - ledger.go: Advisory check + authoritative insert
*/
package billing

import (
	"context"
	"time"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

type BookingStore interface {
	// ListBookingsWithRecurringCharge returns active bookings eligible for
	// recurring billing.
	ListBookingsWithRecurringCharge(ctx context.Context) ([]Booking, error)
}

type InventoryStore interface {
	ListInventoryForBooking(ctx context.Context, bookingID BookingID) ([]InventoryItem, error)
}

type PaymentStore interface {
	ExistsByReference(ctx context.Context, reference string) (bool, error)

	// InsertPayment persists p. Returns ErrDuplicateReference if a payment
	// with the same reference exists.
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
}

// Stores bundles the collaborators a Generator needs.
type Stores struct {
	Bookings  BookingStore
	Inventory InventoryStore
	Payments  PaymentStore
}

// =============================================================================
// RUN HISTORY - Audit of scheduled and manual runs
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run triggers recorded in RunRecord.Trigger.
const (
	TriggerScheduler = "scheduler"
	TriggerManual    = "manual"
	TriggerJob       = "job"
)

// RunRecord is the persisted summary of one generator run.
type RunRecord struct {
	ID          string
	RunDate     Date
	Trigger     string // Trigger* constant
	Status      RunStatus
	Created     int
	Skipped     int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

type RunStore interface {
	SaveRun(ctx context.Context, r RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}
