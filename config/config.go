/*
Package config loads runtime configuration for the server and batch job.

SOURCES (later wins):
  1. Defaults below
  2. YAML file at $CONFIG_PATH (optional)
  3. Environment, prefix QUARTO, "." replaced by "_"
     e.g. billing.default_price_per_cubic_meter => QUARTO_BILLING_DEFAULT_PRICE_PER_CUBIC_METER

REQUIRED:
  billing.default_price_per_cubic_meter has no default. Load returns
  ErrMissingConfig without it, and also when database.driver is postgres
  with no database.dsn.
*/
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/MiniBodegas/Quarto-sub001/billing"
	"github.com/MiniBodegas/Quarto-sub001/pricing"
)

const (
	EnvPrefix         = "QUARTO"
	DefaultSQLitePath = "./data/quarto.db"
)

var (
	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Billing  BillingConfig
	Pricing  PricingConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int `validate:"min=1,max=65535"`
}

type DatabaseConfig struct {
	Driver string `validate:"oneof=sqlite postgres memory"`
	DSN    string
}

type BillingConfig struct {
	DefaultPricePerCubicMeter decimal.Decimal
	Currency                  string `validate:"required,len=3,uppercase"`
	PaymentMethod             string
	Timezone                  string `validate:"required"`
	Workers                   int    `validate:"min=1,max=64"`
	CatchUpDays               int    `validate:"min=0,max=31"`
	ZeroAmountPolicy          string `validate:"oneof=create skip"`
	VolumePricing             string `validate:"oneof=flat tiered"`
	Schedule                  string `validate:"required"`

	Location *time.Location
}

type PricingConfig struct {
	Tiers []pricing.Tier `validate:"min=1"`
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("billing.currency", "COP")
	v.SetDefault("billing.payment_method", "PSE")
	v.SetDefault("billing.timezone", "America/Bogota")
	v.SetDefault("billing.workers", 1)
	v.SetDefault("billing.catch_up_days", 0)
	v.SetDefault("billing.zero_amount_policy", string(billing.ZeroAmountCreate))
	v.SetDefault("billing.volume_pricing", "flat")
	v.SetDefault("billing.schedule", "0 6 * * *")
	v.SetDefault("pricing.tiers", "")
	v.SetDefault("pricing.tiers_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from defaults, $CONFIG_PATH and the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// No default, so it must be bound explicitly for IsSet to see the env.
	_ = v.BindEnv("billing.default_price_per_cubic_meter")

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{Port: v.GetInt("server.port")},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("database.driver")),
			DSN:    v.GetString("database.dsn"),
		},
		Billing: BillingConfig{
			Currency:         strings.ToUpper(v.GetString("billing.currency")),
			PaymentMethod:    v.GetString("billing.payment_method"),
			Timezone:         v.GetString("billing.timezone"),
			Workers:          v.GetInt("billing.workers"),
			CatchUpDays:      v.GetInt("billing.catch_up_days"),
			ZeroAmountPolicy: strings.ToLower(v.GetString("billing.zero_amount_policy")),
			VolumePricing:    strings.ToLower(v.GetString("billing.volume_pricing")),
			Schedule:         v.GetString("billing.schedule"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}

	raw := strings.TrimSpace(v.GetString("billing.default_price_per_cubic_meter"))
	if raw == "" {
		return nil, fmt.Errorf("%w: billing.default_price_per_cubic_meter (env %s_BILLING_DEFAULT_PRICE_PER_CUBIC_METER)",
			ErrMissingConfig, EnvPrefix)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: billing.default_price_per_cubic_meter %q: %w", ErrInvalidConfig, raw, err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: billing.default_price_per_cubic_meter must be positive, got %s", ErrInvalidConfig, raw)
	}
	cfg.Billing.DefaultPricePerCubicMeter = price

	if cfg.Database.DSN == "" {
		switch cfg.Database.Driver {
		case "postgres":
			return nil, fmt.Errorf("%w: database.dsn is required for postgres", ErrMissingConfig)
		case "sqlite":
			cfg.Database.DSN = DefaultSQLitePath
		}
	}

	tiers, err := loadTiers(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.Pricing.Tiers = tiers

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	loc, err := time.LoadLocation(cfg.Billing.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: billing.timezone: %w", ErrInvalidConfig, err)
	}
	cfg.Billing.Location = loc

	return cfg, nil
}

// loadTiers prefers pricing.tiers_file, then pricing.tiers, then the
// built-in table. pricing.tiers may be a JSON string (env) or a YAML list.
func loadTiers(v *viper.Viper) ([]pricing.Tier, error) {
	if path := v.GetString("pricing.tiers_file"); path != "" {
		return pricing.LoadTiersFile(path)
	}

	switch raw := v.Get("pricing.tiers").(type) {
	case string:
		if strings.TrimSpace(raw) == "" {
			return pricing.DefaultTiers(), nil
		}
		return pricing.ParseTiersJSON(raw)
	case nil:
		return pricing.DefaultTiers(), nil
	default:
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("pricing.tiers: %w", err)
		}
		return pricing.ParseTiersJSON(string(data))
	}
}

// =============================================================================
// WIRING HELPERS
// =============================================================================

// VolumePricer returns the pricer for the last step of the amount fallback:
// the flat default rate, or calc when volume_pricing is "tiered".
func (c *Config) VolumePricer(calc *pricing.Calculator) billing.VolumePricer {
	if c.Billing.VolumePricing == "tiered" && calc != nil {
		return calc
	}
	return billing.FlatRate{PerCubicMeter: c.Billing.DefaultPricePerCubicMeter}
}

// GeneratorOptions maps billing settings onto billing.Options.
func (c *Config) GeneratorOptions(calc *pricing.Calculator) billing.Options {
	return billing.Options{
		Pricer:        c.VolumePricer(calc),
		Currency:      c.Billing.Currency,
		PaymentMethod: c.Billing.PaymentMethod,
		Workers:       c.Billing.Workers,
		CatchUpDays:   c.Billing.CatchUpDays,
		ZeroAmount:    billing.ZeroAmountPolicy(c.Billing.ZeroAmountPolicy),
		Location:      c.Billing.Location,
	}
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
