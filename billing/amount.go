package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VOLUME PRICING - Last step of the fallback chain
// =============================================================================

// VolumePricer prices a storage volume in currency units per month.
type VolumePricer interface {
	PriceVolume(volume decimal.Decimal) decimal.Decimal
}

// FlatRate prices volume at a fixed rate per cubic meter.
type FlatRate struct {
	PerCubicMeter decimal.Decimal
}

func (f FlatRate) PriceVolume(volume decimal.Decimal) decimal.Decimal {
	return volume.Mul(f.PerCubicMeter)
}

// =============================================================================
// FALLBACK CHAIN
// =============================================================================

type AmountSource string

const (
	SourceMonthly   AmountSource = "amount_monthly"
	SourceInventory AmountSource = "inventory"
	SourceVolume    AmountSource = "volume"
	SourceNone      AmountSource = "none"
)

type ResolvedAmount struct {
	Amount decimal.Decimal
	Source AmountSource
}

// AmountResolver computes what a booking owes for one period.
//
// Order, stopping at the first positive result:
//  1. Booking.AmountMonthly
//  2. Sum of inventory UnitPrice * Quantity
//  3. Pricer.PriceVolume(Booking.TotalVolume)
//
// If every source yields zero the result is zero with SourceNone.
// Inventory is only loaded when step 1 does not apply.
type AmountResolver struct {
	Inventory InventoryStore
	Pricer    VolumePricer
}

func (r *AmountResolver) Resolve(ctx context.Context, b Booking) (ResolvedAmount, error) {
	if b.AmountMonthly.IsPositive() {
		return ResolvedAmount{Amount: b.AmountMonthly, Source: SourceMonthly}, nil
	}

	if r.Inventory != nil {
		items, err := r.Inventory.ListInventoryForBooking(ctx, b.ID)
		if err != nil {
			return ResolvedAmount{}, err
		}
		if sum := InventoryTotal(items); sum.IsPositive() {
			return ResolvedAmount{Amount: sum, Source: SourceInventory}, nil
		}
	}

	if r.Pricer != nil {
		if v := r.Pricer.PriceVolume(b.TotalVolume); v.IsPositive() {
			return ResolvedAmount{Amount: v, Source: SourceVolume}, nil
		}
	}

	return ResolvedAmount{Amount: decimal.Zero, Source: SourceNone}, nil
}

// InventoryTotal sums UnitPrice * Quantity over items.
func InventoryTotal(items []InventoryItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}
