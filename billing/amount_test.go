package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiniBodegas/Quarto-sub001/billing"
	"github.com/MiniBodegas/Quarto-sub001/store/memory"
)

// countingInventory records how often inventory is loaded.
type countingInventory struct {
	items []billing.InventoryItem
	err   error
	calls int
}

func (c *countingInventory) ListInventoryForBooking(_ context.Context, _ billing.BookingID) ([]billing.InventoryItem, error) {
	c.calls++
	return c.items, c.err
}

func flatRate(perCubicMeter int64) billing.FlatRate {
	return billing.FlatRate{PerCubicMeter: decimal.NewFromInt(perCubicMeter)}
}

func TestAmountResolver_MonthlyAmountWins_InventoryNotLoaded(t *testing.T) {
	// GIVEN: a booking with an agreed monthly amount
	inv := &countingInventory{items: []billing.InventoryItem{{Quantity: 1, Price: decimal.NewFromInt(5)}}}
	r := &billing.AmountResolver{Inventory: inv, Pricer: flatRate(1000)}
	b := billing.Booking{ID: "bk-1", AmountMonthly: decimal.NewFromInt(147000), TotalVolume: decimal.NewFromInt(3)}

	// WHEN
	got, err := r.Resolve(context.Background(), b)

	// THEN: the monthly amount is used and inventory is never read
	require.NoError(t, err)
	assert.Equal(t, billing.SourceMonthly, got.Source)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(147000)))
	assert.Zero(t, inv.calls)
}

func TestAmountResolver_InventoryTotal(t *testing.T) {
	// GIVEN: no monthly amount, two items
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveInventoryItem(ctx, billing.InventoryItem{
		ID: "i1", BookingID: "bk-1", Quantity: 2, MonthlyPrice: decimal.NewFromInt(3000),
	}))
	require.NoError(t, store.SaveInventoryItem(ctx, billing.InventoryItem{
		ID: "i2", BookingID: "bk-1", Quantity: 3, Price: decimal.NewFromInt(1000),
	}))
	r := &billing.AmountResolver{Inventory: store, Pricer: flatRate(1000)}

	got, err := r.Resolve(ctx, billing.Booking{ID: "bk-1", TotalVolume: decimal.NewFromInt(2)})

	// THEN: 2*3000 + 3*1000
	require.NoError(t, err)
	assert.Equal(t, billing.SourceInventory, got.Source)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(9000)))
}

func TestAmountResolver_VolumeFallback(t *testing.T) {
	r := &billing.AmountResolver{Inventory: &countingInventory{}, Pricer: flatRate(75000)}

	got, err := r.Resolve(context.Background(), billing.Booking{ID: "bk-1", TotalVolume: decimal.RequireFromString("2.5")})

	require.NoError(t, err)
	assert.Equal(t, billing.SourceVolume, got.Source)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(187500)))
}

func TestAmountResolver_NothingPositive_Zero(t *testing.T) {
	// GIVEN: zero-priced inventory and no volume
	inv := &countingInventory{items: []billing.InventoryItem{{Quantity: 4}}}
	r := &billing.AmountResolver{Inventory: inv, Pricer: flatRate(75000)}

	got, err := r.Resolve(context.Background(), billing.Booking{ID: "bk-1"})

	require.NoError(t, err)
	assert.Equal(t, billing.SourceNone, got.Source)
	assert.True(t, got.Amount.IsZero())
}

func TestAmountResolver_InventoryError(t *testing.T) {
	boom := errors.New("inventory offline")
	r := &billing.AmountResolver{Inventory: &countingInventory{err: boom}, Pricer: flatRate(75000)}

	_, err := r.Resolve(context.Background(), billing.Booking{ID: "bk-1", TotalVolume: decimal.NewFromInt(1)})

	assert.ErrorIs(t, err, boom)
}
