package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FeeConfig is the platform fee schedule. Percentages are decimal strings in
// [0, 100] with at most two decimal places.
type FeeConfig struct {
	DefaultPercent string            `mapstructure:"defaultPercent"`
	Currencies     map[string]string `mapstructure:"currencies"`
}

// PercentFor returns the fee percent applied to payments in the given currency.
func (c FeeConfig) PercentFor(currency string) decimal.Decimal {
	if raw, ok := c.Currencies[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		if pct, err := parsePercent(raw); err == nil {
			return pct
		}
	}
	pct, err := parsePercent(c.DefaultPercent)
	if err != nil {
		return decimal.Zero
	}
	return pct
}

func DefaultFeeConfig(cfg Config) FeeConfig {
	return FeeConfig{
		DefaultPercent: strings.TrimSpace(cfg.PlatformFeePercent),
		Currencies:     map[string]string{},
	}
}

type FeeConfigHolder struct {
	current atomic.Value // holds FeeConfig
}

// NewStaticFeeConfigHolder returns a holder that never reloads.
func NewStaticFeeConfigHolder(cfg FeeConfig) *FeeConfigHolder {
	holder := &FeeConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewFeeConfigHolder(cfg Config, log *zap.Logger) (*FeeConfigHolder, error) {
	log = log.Named("config.fees")
	v := viper.New()

	v.SetConfigName("fees")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/escrow")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ESCROW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultFeeConfig(cfg)
	v.SetDefault("fees.defaultPercent", defaults.DefaultPercent)
	v.SetDefault("fees.currencies", defaults.Currencies)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var fees FeeConfig
	if err := v.UnmarshalKey("fees", &fees); err != nil {
		return nil, err
	}
	if err := validateFeeConfig(fees); err != nil {
		return nil, err
	}

	holder := NewStaticFeeConfigHolder(fees)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated FeeConfig
		if err := v.UnmarshalKey("fees", &updated); err != nil {
			log.Warn("fee config reload failed", zap.Error(err))
			return
		}
		if err := validateFeeConfig(updated); err != nil {
			log.Warn("invalid fee config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("fee config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *FeeConfigHolder) Get() FeeConfig {
	return h.current.Load().(FeeConfig)
}

// PercentFor reads the current schedule.
func (h *FeeConfigHolder) PercentFor(currency string) decimal.Decimal {
	return h.Get().PercentFor(currency)
}

func validateFeeConfig(cfg FeeConfig) error {
	if _, err := parsePercent(cfg.DefaultPercent); err != nil {
		return fmt.Errorf("fees.defaultPercent: %w", err)
	}
	for currency, raw := range cfg.Currencies {
		if _, err := parsePercent(raw); err != nil {
			return fmt.Errorf("fees.currencies.%s: %w", currency, err)
		}
	}
	return nil
}

var (
	errPercentOutOfRange = errors.New("percent must be between 0 and 100")
	errPercentScale      = errors.New("percent must have at most 2 decimal places")
)

func parsePercent(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	pct, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, errPercentOutOfRange
	}
	// payments.platform_fee_percent is NUMERIC(5,2).
	if !pct.Equal(pct.Round(2)) {
		return decimal.Zero, errPercentScale
	}
	return pct, nil
}
