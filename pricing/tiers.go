/*
Package pricing maps a storage volume to a monthly price.

PURPOSE:
  A tier table lists (volume, price) pairs. Inside the table's range the
  price is a non-decreasing step function: the smallest tier whose volume
  covers the request wins. Above the largest tier the price is extrapolated
  linearly using the slope of the last two tiers.

  The same Calculator instance serves live quotes (api) and, when tiered
  volume pricing is enabled, the billing fallback chain. Sharing it keeps
  quotes and invoices from diverging.

EXAMPLE:
  calc := pricing.NewCalculator([]pricing.Tier{
      {Volume: decimal.NewFromInt(1), Price: 80900},
      {Volume: decimal.NewFromInt(2), Price: 147000},
  })
  calc.Price(decimal.RequireFromString("1.5")) // 147000
  calc.Price(decimal.NewFromInt(3))             // 213100 (extrapolated)

EDGE CASES:
  - volume <= 0         => 0 (no storage, no charge)
  - empty table         => 0
  - single tier         => that tier's price above its volume (no slope)
  - duplicate volumes   => collapsed to the cheapest entry
  - decreasing prices   => a negative slope; extrapolation floors at 0.
                           Tier files with decreasing prices are rejected
                           by the loaders (factory.go)

SEE ALSO:
  - factory.go: Tier table loading from JSON/YAML
  - billing/amount.go: VolumePricer fallback
*/
package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Tier is one step of the table: volumes up to Volume cost Price.
type Tier struct {
	Volume decimal.Decimal // cubic meters
	Price  int64           // whole currency units per month
}

// Calculator is immutable after construction and safe for concurrent use.
type Calculator struct {
	tiers []Tier
}

// NewCalculator sorts a copy of tiers ascending by volume.
func NewCalculator(tiers []Tier) *Calculator {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].Volume.Cmp(sorted[j].Volume); c != 0 {
			return c < 0
		}
		return sorted[i].Price < sorted[j].Price
	})

	deduped := sorted[:0]
	for _, t := range sorted {
		if n := len(deduped); n > 0 && deduped[n-1].Volume.Equal(t.Volume) {
			continue
		}
		deduped = append(deduped, t)
	}
	return &Calculator{tiers: deduped}
}

// Tiers returns the sorted table.
func (c *Calculator) Tiers() []Tier {
	out := make([]Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// MaxVolume returns the largest tier volume, zero for an empty table.
func (c *Calculator) MaxVolume() decimal.Decimal {
	if len(c.tiers) == 0 {
		return decimal.Zero
	}
	return c.tiers[len(c.tiers)-1].Volume
}

// Price returns the monthly price for volume.
func (c *Calculator) Price(volume decimal.Decimal) int64 {
	if !volume.IsPositive() || len(c.tiers) == 0 {
		return 0
	}

	last := c.tiers[len(c.tiers)-1]
	if volume.LessThanOrEqual(last.Volume) {
		i := sort.Search(len(c.tiers), func(i int) bool {
			return c.tiers[i].Volume.GreaterThanOrEqual(volume)
		})
		return c.tiers[i].Price
	}

	return c.extrapolate(volume)
}

// PriceFloat is Price for callers holding a float64 volume.
func (c *Calculator) PriceFloat(volume float64) int64 {
	return c.Price(decimal.NewFromFloat(volume))
}

// PriceVolume adapts the calculator to billing.VolumePricer.
func (c *Calculator) PriceVolume(volume decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(c.Price(volume))
}

// extrapolate continues the slope of the last two tiers past the table.
// At volume == max.Volume it yields max.Price, matching the step function.
//
//	price = (last.Price*dV + (volume-last.Volume)*dP) / dV
//
// The division is done once, last, so half units round away from zero exactly.
func (c *Calculator) extrapolate(volume decimal.Decimal) int64 {
	last := c.tiers[len(c.tiers)-1]
	if len(c.tiers) < 2 {
		return last.Price
	}
	prev := c.tiers[len(c.tiers)-2]

	dV := last.Volume.Sub(prev.Volume)
	dP := decimal.NewFromInt(last.Price - prev.Price)
	price := decimal.NewFromInt(last.Price).Mul(dV).
		Add(volume.Sub(last.Volume).Mul(dP)).
		DivRound(dV, 0)
	if price.IsNegative() {
		return 0
	}
	return price.IntPart()
}
