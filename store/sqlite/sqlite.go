/*
Package sqlite provides a SQLite-backed implementation of the billing stores.

INTERFACES IMPLEMENTED:
  billing.BookingStore:   Recurring bookings (read)
  billing.InventoryStore: Inventory items per booking (read)
  billing.PaymentStore:   Exists / insert with UNIQUE(reference)
  billing.RunStore:       Billing run history

IDEMPOTENCY ENFORCEMENT:
  payments.reference carries a UNIQUE constraint. InsertPayment maps the
  SQLite constraint violation to billing.ErrDuplicateReference, which the
  generator treats as "already billed" rather than a failure.

KEY TABLES:
  bookings:        Storage reservations
  inventory_items: Items stored per booking, priced per unit
  payments:        Create-only payment records (CHECK amount_in_cents >= 0)
  billing_runs:    One row per generator run

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/quarto.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  gen := billing.NewGenerator(billing.Stores{
      Bookings: store, Inventory: store, Payments: store,
  }, opts, logger)

SEE ALSO:
  - billing/store.go: Interface definitions
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/MiniBodegas/Quarto-sub001/billing"
)

// Store implements all billing storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	if !strings.HasPrefix(dbPath, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		recurring BOOLEAN NOT NULL DEFAULT TRUE,
		billing_day INTEGER,
		amount_monthly TEXT NOT NULL DEFAULT '0',
		total_volume TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_recurring
		ON bookings(status, recurring);

	CREATE TABLE IF NOT EXISTS inventory_items (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		name TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 0,
		monthly_price TEXT,
		price TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_booking
		ON inventory_items(booking_id);

	-- Payments are create-only; reference is the idempotency key
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		reference TEXT NOT NULL,
		period TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		amount_in_cents INTEGER NOT NULL CHECK (amount_in_cents >= 0),
		currency TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_reference
		ON payments(reference);
	CREATE INDEX IF NOT EXISTS idx_payments_booking
		ON payments(booking_id, period);

	CREATE TABLE IF NOT EXISTS billing_runs (
		id TEXT PRIMARY KEY,
		run_date TEXT NOT NULL,
		trigger TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'running',
		created_count INTEGER NOT NULL DEFAULT 0,
		skipped_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_billing_runs_started
		ON billing_runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BOOKINGS
// =============================================================================

// SaveBooking inserts or replaces a booking.
func (s *Store) SaveBooking(ctx context.Context, b billing.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO bookings (id, customer_id, status, recurring, billing_day,
			amount_monthly, total_volume, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_id = excluded.customer_id,
			status = excluded.status,
			recurring = excluded.recurring,
			billing_day = excluded.billing_day,
			amount_monthly = excluded.amount_monthly,
			total_volume = excluded.total_volume
	`

	status := b.Status
	if status == "" {
		status = billing.BookingActive
	}
	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.CustomerID, status, b.Recurring, nullInt(b.BillingDay),
		b.AmountMonthly.String(), b.TotalVolume.String(),
		b.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}
	return nil
}

// GetBooking returns billing.ErrBookingNotFound for unknown ids.
func (s *Store) GetBooking(ctx context.Context, id billing.BookingID) (*billing.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, customer_id, status, recurring, billing_day, amount_monthly, total_volume, created_at
		FROM bookings WHERE id = ?
	`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query booking: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, billing.ErrBookingNotFound
	}
	b, err := scanBooking(rows)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBookingsWithRecurringCharge returns active recurring bookings.
func (s *Store) ListBookingsWithRecurringCharge(ctx context.Context) ([]billing.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, customer_id, status, recurring, billing_day, amount_monthly, total_volume, created_at
		FROM bookings
		WHERE status = 'active' AND recurring = TRUE
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []billing.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanBooking(rows *sql.Rows) (billing.Booking, error) {
	var (
		b             billing.Booking
		billingDay    sql.NullInt64
		amountMonthly string
		totalVolume   string
		createdAt     string
	)
	err := rows.Scan(&b.ID, &b.CustomerID, &b.Status, &b.Recurring, &billingDay,
		&amountMonthly, &totalVolume, &createdAt)
	if err != nil {
		return b, fmt.Errorf("failed to scan booking: %w", err)
	}

	if billingDay.Valid {
		day := int(billingDay.Int64)
		b.BillingDay = &day
	}
	if b.AmountMonthly, err = parseDecimal(amountMonthly); err != nil {
		return b, fmt.Errorf("failed to parse amount_monthly of booking %s: %w", b.ID, err)
	}
	if b.TotalVolume, err = parseDecimal(totalVolume); err != nil {
		return b, fmt.Errorf("failed to parse total_volume of booking %s: %w", b.ID, err)
	}
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return b, fmt.Errorf("failed to parse created_at of booking %s: %w", b.ID, err)
	}
	return b, nil
}

// =============================================================================
// INVENTORY
// =============================================================================

func (s *Store) SaveInventoryItem(ctx context.Context, item billing.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO inventory_items (id, booking_id, name, quantity, monthly_price, price)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			quantity = excluded.quantity,
			monthly_price = excluded.monthly_price,
			price = excluded.price
	`
	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.BookingID, item.Name, item.Quantity,
		nullDecimal(item.MonthlyPrice), nullDecimal(item.Price),
	)
	if err != nil {
		return fmt.Errorf("failed to save inventory item: %w", err)
	}
	return nil
}

func (s *Store) ListInventoryForBooking(ctx context.Context, bookingID billing.BookingID) ([]billing.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, booking_id, name, quantity, monthly_price, price
		FROM inventory_items
		WHERE booking_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	var items []billing.InventoryItem
	for rows.Next() {
		var (
			item         billing.InventoryItem
			monthlyPrice sql.NullString
			price        sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.BookingID, &item.Name, &item.Quantity, &monthlyPrice, &price); err != nil {
			return nil, fmt.Errorf("failed to scan inventory item: %w", err)
		}
		if item.MonthlyPrice, err = parseDecimal(monthlyPrice.String); err != nil {
			return nil, fmt.Errorf("failed to parse monthly_price of item %s: %w", item.ID, err)
		}
		if item.Price, err = parseDecimal(price.String); err != nil {
			return nil, fmt.Errorf("failed to parse price of item %s: %w", item.ID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// PAYMENTS (billing.PaymentStore)
// =============================================================================

// ExistsByReference checks whether a payment with reference exists.
func (s *Store) ExistsByReference(ctx context.Context, reference string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM payments WHERE reference = ?",
		reference,
	).Scan(&count)

	return count > 0, err
}

// InsertPayment persists p. A UNIQUE violation on reference returns
// billing.ErrDuplicateReference.
func (s *Store) InsertPayment(ctx context.Context, p billing.Payment) (billing.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO payments
		(id, booking_id, reference, period, status, amount_in_cents, currency, payment_method, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.BookingID, p.Reference, p.Period.String(), p.Status,
		p.AmountInCents, p.Currency, p.PaymentMethod,
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.Payment{}, billing.ErrDuplicateReference
		}
		return billing.Payment{}, fmt.Errorf("failed to insert payment: %w", err)
	}
	return p, nil
}

// ListPaymentsByBooking returns a booking's payments, newest period first.
func (s *Store) ListPaymentsByBooking(ctx context.Context, bookingID billing.BookingID) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, booking_id, reference, period, status, amount_in_cents, currency, payment_method, created_at
		FROM payments
		WHERE booking_id = ?
		ORDER BY period DESC, created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		var (
			p         billing.Payment
			period    string
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.BookingID, &p.Reference, &period, &p.Status,
			&p.AmountInCents, &p.Currency, &p.PaymentMethod, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if p.Period, err = billing.ParsePeriod(period); err != nil {
			return nil, fmt.Errorf("failed to parse period of payment %s: %w", p.ID, err)
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at of payment %s: %w", p.ID, err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// RUN HISTORY (billing.RunStore)
// =============================================================================

// SaveRun inserts or updates a run record by ID.
func (s *Store) SaveRun(ctx context.Context, r billing.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO billing_runs (id, run_date, trigger, status, created_count, skipped_count,
			failed_count, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			created_count = excluded.created_count,
			skipped_count = excluded.skipped_count,
			failed_count = excluded.failed_count,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if r.CompletedAt != nil {
		c := r.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &c
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.RunDate.String(), r.Trigger, r.Status,
		r.Created, r.Skipped, r.Failed, r.Error,
		r.StartedAt.UTC().Format(time.RFC3339), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save billing run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]billing.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, run_date, trigger, status, created_count, skipped_count, failed_count,
			error, started_at, completed_at
		FROM billing_runs
		ORDER BY started_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query billing runs: %w", err)
	}
	defer rows.Close()

	var runs []billing.RunRecord
	for rows.Next() {
		var (
			r           billing.RunRecord
			runDate     string
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &runDate, &r.Trigger, &r.Status, &r.Created, &r.Skipped,
			&r.Failed, &r.Error, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan billing run: %w", err)
		}
		if r.RunDate, err = billing.ParseDate(runDate); err != nil {
			return nil, fmt.Errorf("failed to parse run_date of run %s: %w", r.ID, err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at of run %s: %w", r.ID, err)
		}
		if completedAt.Valid {
			t, err := time.Parse(time.RFC3339, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse completed_at of run %s: %w", r.ID, err)
			}
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset deletes all data. Development and demo scenarios only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"payments", "inventory_items", "bookings", "billing_runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullDecimal(d decimal.Decimal) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// parseDecimal reads a TEXT amount column. Empty (or NULL) is zero.
func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
