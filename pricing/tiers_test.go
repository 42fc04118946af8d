package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vol(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func twoTiers() *Calculator {
	return NewCalculator([]Tier{
		{Volume: vol("1"), Price: 80900},
		{Volume: vol("2"), Price: 147000},
	})
}

// =============================================================================
// STEP FUNCTION
// =============================================================================

func TestPrice_InsideTable_PicksSmallestCoveringTier(t *testing.T) {
	// GIVEN: tiers 1 m3 => 80900, 2 m3 => 147000
	calc := twoTiers()

	// WHEN/THEN: each volume is charged the first tier that covers it
	assert.Equal(t, int64(80900), calc.Price(vol("0.3")))
	assert.Equal(t, int64(80900), calc.Price(vol("1")))
	assert.Equal(t, int64(147000), calc.Price(vol("1.5")))
	assert.Equal(t, int64(147000), calc.Price(vol("2")))
}

func TestPrice_NonPositiveVolume_IsFree(t *testing.T) {
	calc := twoTiers()

	assert.Equal(t, int64(0), calc.Price(decimal.Zero))
	assert.Equal(t, int64(0), calc.Price(vol("-3")))
}

func TestPrice_EmptyTable_IsFree(t *testing.T) {
	calc := NewCalculator(nil)

	assert.Equal(t, int64(0), calc.Price(vol("4")))
	assert.True(t, calc.MaxVolume().IsZero())
}

// =============================================================================
// EXTRAPOLATION
// =============================================================================

func TestPrice_AboveTable_ExtrapolatesLastSlope(t *testing.T) {
	// GIVEN: slope of the last two tiers is 66100 per m3
	calc := twoTiers()

	// WHEN: quoting one cubic meter past the table
	price := calc.Price(vol("3"))

	// THEN: 147000 + 1 * 66100
	assert.Equal(t, int64(213100), price)
}

func TestPrice_Extrapolation_RoundsToWholeUnits(t *testing.T) {
	calc := NewCalculator([]Tier{
		{Volume: vol("1"), Price: 100},
		{Volume: vol("3"), Price: 101},
	})

	// slope 0.5 per m3
	assert.Equal(t, int64(101), calc.Price(vol("3.5"))) // 101.25
	assert.Equal(t, int64(102), calc.Price(vol("4")))   // 101.5 rounds half away from zero
}

func TestPrice_Extrapolation_HalfUnitWithRepeatingSlope(t *testing.T) {
	// GIVEN: slope 1/3 per m3, which has no finite decimal form
	calc := NewCalculator([]Tier{
		{Volume: vol("3"), Price: 0},
		{Volume: vol("6"), Price: 1},
	})

	// THEN: 1 + 1.5/3 = 1.5 exactly, rounded half away from zero
	assert.Equal(t, int64(2), calc.Price(vol("7.5")))
	assert.Equal(t, int64(1), calc.Price(vol("7.4")))
	assert.Equal(t, int64(3), calc.Price(vol("10.5")))
}

func TestPrice_DecreasingTable_NeverNegative(t *testing.T) {
	// GIVEN: a table built in code whose price falls with volume
	calc := NewCalculator([]Tier{
		{Volume: vol("1"), Price: 1000},
		{Volume: vol("2"), Price: 500},
	})

	assert.Equal(t, int64(0), calc.Price(vol("2.5")))
	assert.Equal(t, int64(0), calc.Price(vol("100")))
}

func TestPrice_SingleTier_FlatAboveTable(t *testing.T) {
	calc := NewCalculator([]Tier{{Volume: vol("2"), Price: 100000}})

	assert.Equal(t, int64(100000), calc.Price(vol("1")))
	assert.Equal(t, int64(100000), calc.Price(vol("50")))
}

func TestExtrapolate_MatchesStepAtTableEdge(t *testing.T) {
	// The two regimes meet at the largest tier: no jump at the seam.
	calc := NewCalculator(DefaultTiers())
	edge := calc.MaxVolume()

	assert.Equal(t, calc.Price(edge), calc.extrapolate(edge))
}

func TestPrice_DefaultTiers_NonDecreasing(t *testing.T) {
	calc := NewCalculator(DefaultTiers())

	prev := int64(0)
	for v := vol("0.25"); v.LessThanOrEqual(vol("20")); v = v.Add(vol("0.25")) {
		price := calc.Price(v)
		require.GreaterOrEqual(t, price, prev, "price dropped at volume %s", v)
		prev = price
	}
}

func TestPrice_DefaultTiers_Extrapolated(t *testing.T) {
	calc := NewCalculator(DefaultTiers())

	// slope (570000 - 450000) / 2.5 = 48000 per m3
	assert.Equal(t, int64(666000), calc.Price(vol("12")))
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNewCalculator_SortsUnorderedInput(t *testing.T) {
	calc := NewCalculator([]Tier{
		{Volume: vol("2"), Price: 147000},
		{Volume: vol("1"), Price: 80900},
	})

	tiers := calc.Tiers()
	require.Len(t, tiers, 2)
	assert.True(t, tiers[0].Volume.Equal(vol("1")))
	assert.Equal(t, int64(147000), calc.Price(vol("1.5")))
	assert.Equal(t, int64(213100), calc.Price(vol("3")))
}

func TestNewCalculator_DuplicateVolumes_KeepsCheapest(t *testing.T) {
	calc := NewCalculator([]Tier{
		{Volume: vol("1"), Price: 90000},
		{Volume: vol("2"), Price: 147000},
		{Volume: vol("1"), Price: 80900},
	})

	assert.Len(t, calc.Tiers(), 2)
	assert.Equal(t, int64(80900), calc.Price(vol("1")))
}

func TestNewCalculator_DoesNotAliasInput(t *testing.T) {
	input := []Tier{
		{Volume: vol("2"), Price: 147000},
		{Volume: vol("1"), Price: 80900},
	}
	NewCalculator(input)

	assert.True(t, input[0].Volume.Equal(vol("2")), "input order must be preserved")
}

func TestPriceVolume_AdaptsToDecimal(t *testing.T) {
	calc := twoTiers()

	assert.True(t, calc.PriceVolume(vol("1.5")).Equal(decimal.NewFromInt(147000)))
	assert.Equal(t, int64(147000), calc.PriceFloat(1.5))
}
