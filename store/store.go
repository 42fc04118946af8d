// Package store selects and opens a billing storage backend.
package store

import (
	"context"
	"fmt"

	"github.com/MiniBodegas/Quarto-sub001/billing"
	"github.com/MiniBodegas/Quarto-sub001/store/memory"
	"github.com/MiniBodegas/Quarto-sub001/store/postgres"
	"github.com/MiniBodegas/Quarto-sub001/store/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Store is the full storage surface used by the server and batch job.
type Store interface {
	billing.BookingStore
	billing.InventoryStore
	billing.PaymentStore
	billing.RunStore

	SaveBooking(ctx context.Context, b billing.Booking) error
	GetBooking(ctx context.Context, id billing.BookingID) (*billing.Booking, error)
	SaveInventoryItem(ctx context.Context, item billing.InventoryItem) error
	ListPaymentsByBooking(ctx context.Context, id billing.BookingID) ([]billing.Payment, error)
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*postgres.Store)(nil)
	_ Store = (*memory.Store)(nil)
)

// Open returns the backend for driver. dsn is a file path for sqlite and a
// connection string for postgres; memory ignores it.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		s, err := sqlite.New(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := postgres.Open(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
