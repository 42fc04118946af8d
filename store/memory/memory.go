// Package memory provides an in-memory implementation of the billing stores.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/MiniBodegas/Quarto-sub001/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store implements BookingStore, InventoryStore, PaymentStore and RunStore.
// The reference index plays the role of the UNIQUE constraint.
type Store struct {
	mu          sync.RWMutex
	bookings    map[billing.BookingID]billing.Booking
	order       []billing.BookingID
	inventory   map[billing.BookingID][]billing.InventoryItem
	payments    []billing.Payment
	byReference map[string]int
	runs        []billing.RunRecord
}

func New() *Store {
	return &Store{
		bookings:    make(map[billing.BookingID]billing.Booking),
		inventory:   make(map[billing.BookingID][]billing.InventoryItem),
		byReference: make(map[string]int),
	}
}

// SaveBooking inserts or replaces a booking.
func (m *Store) SaveBooking(_ context.Context, b billing.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bookings[b.ID]; !ok {
		m.order = append(m.order, b.ID)
	}
	m.bookings[b.ID] = b
	return nil
}

func (m *Store) GetBooking(_ context.Context, id billing.BookingID) (*billing.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, billing.ErrBookingNotFound
	}
	return &b, nil
}

func (m *Store) SaveInventoryItem(_ context.Context, item billing.InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.inventory[item.BookingID]
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			return nil
		}
	}
	m.inventory[item.BookingID] = append(items, item)
	return nil
}

func (m *Store) ListBookingsWithRecurringCharge(_ context.Context) ([]billing.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Booking
	for _, id := range m.order {
		if b := m.bookings[id]; b.BillsRecurring() {
			result = append(result, b)
		}
	}
	return result, nil
}

func (m *Store) ListInventoryForBooking(_ context.Context, bookingID billing.BookingID) ([]billing.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := m.inventory[bookingID]
	result := make([]billing.InventoryItem, len(items))
	copy(result, items)
	return result, nil
}

func (m *Store) ExistsByReference(_ context.Context, reference string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.byReference[reference]
	return ok, nil
}

// InsertPayment appends p. Returns ErrDuplicateReference if the reference exists.
func (m *Store) InsertPayment(_ context.Context, p billing.Payment) (billing.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byReference[p.Reference]; ok {
		return billing.Payment{}, billing.ErrDuplicateReference
	}
	m.byReference[p.Reference] = len(m.payments)
	m.payments = append(m.payments, p)
	return p, nil
}

// ListPaymentsByBooking returns the booking's payments, newest period first.
func (m *Store) ListPaymentsByBooking(_ context.Context, bookingID billing.BookingID) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Payment
	for _, p := range m.payments {
		if p.BookingID == bookingID {
			result = append(result, p)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Reference > result[j].Reference
	})
	return result, nil
}

// Payments returns a copy of every stored payment in insertion order.
func (m *Store) Payments() []billing.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]billing.Payment, len(m.payments))
	copy(result, m.payments)
	return result
}

// =============================================================================
// RUN HISTORY
// =============================================================================

// SaveRun inserts or replaces a run by ID.
func (m *Store) SaveRun(_ context.Context, r billing.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].ID == r.ID {
			m.runs[i] = r
			return nil
		}
	}
	m.runs = append(m.runs, r)
	return nil
}

// ListRuns returns runs newest first.
func (m *Store) ListRuns(_ context.Context, limit int) ([]billing.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]billing.RunRecord, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		result = append(result, m.runs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Reset drops all data.
func (m *Store) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bookings = make(map[billing.BookingID]billing.Booking)
	m.order = nil
	m.inventory = make(map[billing.BookingID][]billing.InventoryItem)
	m.payments = nil
	m.byReference = make(map[string]int)
	m.runs = nil
	return nil
}

func (m *Store) Ping(_ context.Context) error { return nil }

func (m *Store) Close() error { return nil }
