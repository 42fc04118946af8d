/*
Package postgres provides a PostgreSQL-backed implementation of the billing
stores, for deployments that share the booking database.

IDEMPOTENCY ENFORCEMENT:
  payments.reference is UNIQUE. A unique_violation (SQLSTATE 23505) on insert
  maps to billing.ErrDuplicateReference.

CONCURRENCY:
  No process-level locking. Overlapping runs (two cron hosts, a manual run
  racing the scheduler) are serialized by the UNIQUE index.

SEE ALSO:
  - store/sqlite/sqlite.go: Embedded implementation, same semantics
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/MiniBodegas/Quarto-sub001/billing"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS bookings (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	recurring BOOLEAN NOT NULL DEFAULT TRUE,
	billing_day INTEGER,
	amount_monthly NUMERIC(14,2) NOT NULL DEFAULT 0,
	total_volume NUMERIC(10,3) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS inventory_items (
	id TEXT PRIMARY KEY,
	booking_id TEXT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
	name TEXT NOT NULL DEFAULT '',
	quantity INTEGER NOT NULL DEFAULT 0,
	monthly_price NUMERIC(14,2),
	price NUMERIC(14,2)
);

CREATE INDEX IF NOT EXISTS idx_inventory_booking ON inventory_items(booking_id);

CREATE TABLE IF NOT EXISTS payments (
	id TEXT PRIMARY KEY,
	booking_id TEXT NOT NULL,
	reference TEXT NOT NULL UNIQUE,
	period CHAR(7) NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	amount_in_cents BIGINT NOT NULL CHECK (amount_in_cents >= 0),
	currency TEXT NOT NULL,
	payment_method TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_payments_booking ON payments(booking_id, period);

CREATE TABLE IF NOT EXISTS billing_runs (
	id TEXT PRIMARY KEY,
	run_date DATE NOT NULL,
	trigger TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'running',
	created_count INTEGER NOT NULL DEFAULT 0,
	skipped_count INTEGER NOT NULL DEFAULT 0,
	failed_count INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
`

// Store implements the billing storage interfaces on PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store, err := NewWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing connection pool.
func NewWithDB(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ===== BOOKINGS =====

func (s *Store) SaveBooking(ctx context.Context, b billing.Booking) error {
	status := b.Status
	if status == "" {
		status = billing.BookingActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, customer_id, status, recurring, billing_day,
			amount_monthly, total_volume, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			status = EXCLUDED.status,
			recurring = EXCLUDED.recurring,
			billing_day = EXCLUDED.billing_day,
			amount_monthly = EXCLUDED.amount_monthly,
			total_volume = EXCLUDED.total_volume`,
		b.ID, b.CustomerID, status, b.Recurring, nullInt(b.BillingDay),
		b.AmountMonthly.String(), b.TotalVolume.String(), b.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id billing.BookingID) (*billing.Booking, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, status, recurring, billing_day, amount_monthly, total_volume, created_at
		FROM bookings WHERE id = $1`, id)

	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBookingsWithRecurringCharge(ctx context.Context) ([]billing.Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, status, recurring, billing_day, amount_monthly, total_volume, created_at
		FROM bookings
		WHERE status = 'active' AND recurring
		ORDER BY created_at, id`)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(row scanner) (billing.Booking, error) {
	var (
		b             billing.Booking
		billingDay    sql.NullInt64
		amountMonthly string
		totalVolume   string
	)
	err := row.Scan(&b.ID, &b.CustomerID, &b.Status, &b.Recurring, &billingDay,
		&amountMonthly, &totalVolume, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, err
		}
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
	return b, nil
}

// ===== INVENTORY =====

func (s *Store) SaveInventoryItem(ctx context.Context, item billing.InventoryItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (id, booking_id, name, quantity, monthly_price, price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			quantity = EXCLUDED.quantity,
			monthly_price = EXCLUDED.monthly_price,
			price = EXCLUDED.price`,
		item.ID, item.BookingID, item.Name, item.Quantity,
		nullDecimal(item.MonthlyPrice), nullDecimal(item.Price),
	)
	if err != nil {
		return fmt.Errorf("failed to save inventory item: %w", err)
	}
	return nil
}

func (s *Store) ListInventoryForBooking(ctx context.Context, bookingID billing.BookingID) ([]billing.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, booking_id, name, quantity, monthly_price, price
		FROM inventory_items
		WHERE booking_id = $1
		ORDER BY id`, bookingID)
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

// ===== PAYMENTS =====

func (s *Store) ExistsByReference(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM payments WHERE reference = $1)`, reference,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check payment reference: %w", err)
	}
	return exists, nil
}

func (s *Store) InsertPayment(ctx context.Context, p billing.Payment) (billing.Payment, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments
		(id, booking_id, reference, period, status, amount_in_cents, currency, payment_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.BookingID, p.Reference, p.Period.String(), p.Status,
		p.AmountInCents, p.Currency, p.PaymentMethod, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return billing.Payment{}, billing.ErrDuplicateReference
		}
		return billing.Payment{}, fmt.Errorf("failed to insert payment: %w", err)
	}
	return p, nil
}

func (s *Store) ListPaymentsByBooking(ctx context.Context, bookingID billing.BookingID) ([]billing.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, booking_id, reference, period, status, amount_in_cents, currency, payment_method, created_at
		FROM payments
		WHERE booking_id = $1
		ORDER BY period DESC, created_at DESC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		var (
			p      billing.Payment
			period string
		)
		if err := rows.Scan(&p.ID, &p.BookingID, &p.Reference, &period, &p.Status,
			&p.AmountInCents, &p.Currency, &p.PaymentMethod, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if p.Period, err = billing.ParsePeriod(period); err != nil {
			return nil, fmt.Errorf("failed to parse period of payment %s: %w", p.ID, err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ===== RUN HISTORY =====

func (s *Store) SaveRun(ctx context.Context, r billing.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_runs (id, run_date, trigger, status, created_count, skipped_count,
			failed_count, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			created_count = EXCLUDED.created_count,
			skipped_count = EXCLUDED.skipped_count,
			failed_count = EXCLUDED.failed_count,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at`,
		r.ID, r.RunDate.String(), r.Trigger, r.Status, r.Created, r.Skipped, r.Failed,
		r.Error, r.StartedAt.UTC(), r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save billing run: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]billing.RunRecord, error) {
	query := `
		SELECT id, to_char(run_date, 'YYYY-MM-DD'), trigger, status, created_count, skipped_count,
			failed_count, error, started_at, completed_at
		FROM billing_runs
		ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
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
			completedAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &runDate, &r.Trigger, &r.Status, &r.Created, &r.Skipped,
			&r.Failed, &r.Error, &r.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan billing run: %w", err)
		}
		if r.RunDate, err = billing.ParseDate(runDate); err != nil {
			return nil, fmt.Errorf("failed to parse run_date of run %s: %w", r.ID, err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset truncates every billing table. Development only.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`TRUNCATE payments, inventory_items, bookings, billing_runs`)
	if err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	return nil
}

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

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
