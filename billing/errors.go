/*
errors.go - Centralized error types for the billing engine

ERROR CATEGORIES:
  1. Fatal run errors - Booking listing failed, nothing processed
  2. Per-booking errors - Recorded, logged, the run moves on
  3. Skips - Not errors: not due, already billed, duplicate insert

USAGE:
  Stores translate driver uniqueness violations into ErrDuplicateReference:

    if errors.Is(err, billing.ErrDuplicateReference) {
        // already billed by a concurrent run
    }

SEE ALSO:
  - generator.go: Classifies errors into outcomes
  - store/sqlite/sqlite.go: Produces ErrDuplicateReference
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateReference is returned by PaymentStore.InsertPayment when a
	// payment with the same reference already exists.
	ErrDuplicateReference = errors.New("duplicate payment reference")

	// ErrListBookings wraps a failure to list bookings. Fatal for a run.
	ErrListBookings = errors.New("list bookings with recurring charge")

	ErrBookingNotFound = errors.New("booking not found")

	ErrInvalidPeriod = errors.New("invalid billing period")

	ErrInvalidReference = errors.New("invalid payment reference")

	// ErrInvalidTransition is returned when a payment status change violates
	// PENDING -> {APPROVED, DECLINED, VOIDED}.
	ErrInvalidTransition = errors.New("invalid payment status transition")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// Stage names the step of a booking's processing that failed.
type Stage string

const (
	StageLookup    Stage = "lookup"
	StageInventory Stage = "inventory"
	StageInsert    Stage = "insert"
	StagePanic     Stage = "panic"
)

// BookingError is a per-booking failure. It never aborts a run.
type BookingError struct {
	BookingID BookingID
	Reference string
	Stage     Stage
	Err       error
}

func (e *BookingError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("booking %s (%s) failed at %s: %v", e.BookingID, e.Reference, e.Stage, e.Err)
	}
	return fmt.Sprintf("booking %s failed at %s: %v", e.BookingID, e.Stage, e.Err)
}

func (e *BookingError) Unwrap() error {
	return e.Err
}

// TransitionError details a rejected status change.
type TransitionError struct {
	From PaymentStatus
	To   PaymentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move payment from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ValidateTransition returns a *TransitionError when from cannot move to to.
func ValidateTransition(from, to PaymentStatus) error {
	if !from.CanTransitionTo(to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsDuplicate reports whether err is the storage uniqueness guard firing.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateReference)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookingNotFound)
}
