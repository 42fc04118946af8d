/*
factory.go - Tier table loading

PURPOSE:
  Converts tier tables kept in configuration into []Tier. Operators change
  prices without a deploy by editing the JSON/YAML table.

FORMATS:
  JSON (config key pricing.tiers or a .json file):
    [{"volume": 1, "price": 80900}, {"volume": 2, "price": 147000}]

  YAML (pricing.tiers_file ending in .yaml/.yml):
    tiers:
      - volume: 1
        price: 80900
      - volume: 2
        price: 147000

VALIDATION:
  volume must be > 0, price must be >= 0. Order does not matter; the
  Calculator sorts once.
*/
package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrInvalidTier = errors.New("invalid pricing tier")

// TierJSON is the serialized form of a Tier.
type TierJSON struct {
	Volume float64 `json:"volume" yaml:"volume"`
	Price  int64   `json:"price" yaml:"price"`
}

type tierFile struct {
	Tiers []TierJSON `yaml:"tiers"`
}

// DefaultTiers is the storage price list used when no table is configured.
// Prices are monthly, in whole currency units.
func DefaultTiers() []Tier {
	return []Tier{
		{Volume: decimal.NewFromInt(1), Price: 80900},
		{Volume: decimal.NewFromInt(2), Price: 147000},
		{Volume: decimal.NewFromInt(3), Price: 205000},
		{Volume: decimal.NewFromInt(5), Price: 320000},
		{Volume: decimal.RequireFromString("7.5"), Price: 450000},
		{Volume: decimal.NewFromInt(10), Price: 570000},
	}
}

// ParseTiersJSON parses a JSON array of tiers.
func ParseTiersJSON(data string) ([]Tier, error) {
	var raw []TierJSON
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("invalid tier JSON: %w", err)
	}
	return fromJSON(raw)
}

// LoadTiersFile reads a YAML (.yaml/.yml) or JSON tier table from path.
func LoadTiersFile(path string) ([]Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc tierFile
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid tier YAML: %w", err)
		}
		return fromJSON(doc.Tiers)
	default:
		return ParseTiersJSON(string(data))
	}
}

// ToJSON converts tiers back to their serialized form.
func ToJSON(tiers []Tier) []TierJSON {
	out := make([]TierJSON, len(tiers))
	for i, t := range tiers {
		v, _ := t.Volume.Float64()
		out[i] = TierJSON{Volume: v, Price: t.Price}
	}
	return out
}

func fromJSON(raw []TierJSON) ([]Tier, error) {
	tiers := make([]Tier, 0, len(raw))
	for i, r := range raw {
		if r.Volume <= 0 {
			return nil, fmt.Errorf("%w: tier %d volume must be positive, got %v", ErrInvalidTier, i, r.Volume)
		}
		if r.Price < 0 {
			return nil, fmt.Errorf("%w: tier %d price must not be negative, got %d", ErrInvalidTier, i, r.Price)
		}
		tiers = append(tiers, Tier{Volume: decimal.NewFromFloat(r.Volume), Price: r.Price})
	}

	sorted := NewCalculator(tiers).Tiers()
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Price < sorted[i-1].Price {
			return nil, fmt.Errorf("%w: price decreases from %d to %d at volume %s",
				ErrInvalidTier, sorted[i-1].Price, sorted[i].Price, sorted[i].Volume)
		}
	}
	return tiers, nil
}
