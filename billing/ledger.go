/*
ledger.go - Create-only payment log

PURPOSE:
  Wraps a PaymentStore with the two-step idempotency protocol used by the
  generator:

    1. Billed(ref)  - advisory existence check, saves work on re-runs
    2. Record(p)    - insert; the storage UNIQUE(reference) constraint is the
                      authoritative guard

  A uniqueness violation on Record is a normal outcome (another run won the
  race) and is reported as created=false with a nil error.

INVARIANTS:
  - Create-only: no Update, no Delete
  - At most one Payment per reference
*/
package billing

import (
	"context"
	"fmt"
)

type Ledger struct {
	Store PaymentStore
}

func NewLedger(store PaymentStore) *Ledger {
	return &Ledger{Store: store}
}

// Billed reports whether a payment with reference already exists.
func (l *Ledger) Billed(ctx context.Context, reference string) (bool, error) {
	exists, err := l.Store.ExistsByReference(ctx, reference)
	if err != nil {
		return false, fmt.Errorf("check reference %s: %w", reference, err)
	}
	return exists, nil
}

// Record inserts p. created is false when the reference was already taken.
func (l *Ledger) Record(ctx context.Context, p Payment) (saved Payment, created bool, err error) {
	saved, err = l.Store.InsertPayment(ctx, p)
	if err != nil {
		if IsDuplicate(err) {
			return Payment{}, false, nil
		}
		return Payment{}, false, err
	}
	return saved, true, nil
}
