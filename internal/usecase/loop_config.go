package usecase

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
)

// Protection selects how a long exit is guarded against adverse moves.
type Protection string

const (
	ProtectionStopLimit Protection = "stopLimit"
	ProtectionOCO       Protection = "oco"
	ProtectionNone      Protection = "none"
)

const (
	defaultMaxOrderAge     = time.Hour
	defaultMinSleep        = 15 * time.Second
	defaultPlacementDelay  = 250 * time.Millisecond
	defaultBackoffBase     = 30 * time.Second
	defaultBackoffAttempts = 5
)

// LoopConfig holds the settings every control loop variant shares.
// Field names follow the strategy config blobs accepted at start time.
type LoopConfig struct {
	ProfitMargin     float64  `yaml:"profitMargin" json:"profitMargin"`
	StopLossMargin   *float64 `yaml:"stopLossMargin" json:"stopLossMargin,omitempty"`
	BuySafetyMargin  *float64 `yaml:"buySafetyMargin" json:"buySafetyMargin,omitempty"`
	MaxOrderAgeMs    int64    `yaml:"maxOrderAgeMs" json:"maxOrderAgeMs,omitempty"`
	MinSleepMs       *int64   `yaml:"minSleepMs" json:"minSleepMs,omitempty"`
	MaxSleepMs       *int64   `yaml:"maxSleepMs" json:"maxSleepMs,omitempty"`
	PlacementDelayMs *int64   `yaml:"placementDelayMs" json:"placementDelayMs,omitempty"`
	BackoffBaseMs    *int64   `yaml:"backoffBaseMs" json:"backoffBaseMs,omitempty"`
	BackoffAttempts  *int     `yaml:"backoffAttempts" json:"backoffAttempts,omitempty"`
	Protection       string   `yaml:"protection" json:"protection,omitempty"`
	CancelOnStop     bool     `yaml:"cancelOnStop" json:"cancelOnStop,omitempty"`
}

// loopSettings is LoopConfig resolved against per-variant defaults.
type loopSettings struct {
	profitMargin    decimal.Decimal
	stopLossMargin  decimal.Decimal
	safetyMargin    decimal.Decimal
	maxOrderAge     time.Duration
	minSleep        time.Duration
	maxSleep        time.Duration
	placementDelay  time.Duration
	backoffBase     time.Duration
	backoffAttempts int
	protection      Protection
	cancelOnStop    bool
}

// variantDefaults are the values a variant uses when the config leaves a field unset.
type variantDefaults struct {
	stopLossMargin float64
	safetyMargin   float64
	protection     Protection
}

func (c LoopConfig) resolve(d variantDefaults) (loopSettings, error) {
	s := loopSettings{
		profitMargin:    decimal.NewFromFloat(c.ProfitMargin),
		stopLossMargin:  decimal.NewFromFloat(d.stopLossMargin),
		safetyMargin:    decimal.NewFromFloat(d.safetyMargin),
		maxOrderAge:     defaultMaxOrderAge,
		minSleep:        defaultMinSleep,
		placementDelay:  defaultPlacementDelay,
		backoffBase:     defaultBackoffBase,
		backoffAttempts: defaultBackoffAttempts,
		protection:      d.protection,
		cancelOnStop:    c.CancelOnStop,
	}

	if c.ProfitMargin < 0 {
		return s, fmt.Errorf("profitMargin %v must not be negative: %w", c.ProfitMargin, domain.ErrInvalidArgument)
	}
	if c.StopLossMargin != nil {
		if *c.StopLossMargin < 0 || *c.StopLossMargin >= 1 {
			return s, fmt.Errorf("stopLossMargin %v out of range [0,1): %w", *c.StopLossMargin, domain.ErrInvalidArgument)
		}
		s.stopLossMargin = decimal.NewFromFloat(*c.StopLossMargin)
	}
	if c.BuySafetyMargin != nil {
		if *c.BuySafetyMargin < 0 || *c.BuySafetyMargin >= 1 {
			return s, fmt.Errorf("buySafetyMargin %v out of range [0,1): %w", *c.BuySafetyMargin, domain.ErrInvalidArgument)
		}
		s.safetyMargin = decimal.NewFromFloat(*c.BuySafetyMargin)
	}
	if c.MaxOrderAgeMs > 0 {
		s.maxOrderAge = time.Duration(c.MaxOrderAgeMs) * time.Millisecond
	}
	if c.MinSleepMs != nil && *c.MinSleepMs >= 0 {
		s.minSleep = time.Duration(*c.MinSleepMs) * time.Millisecond
	}
	s.maxSleep = s.minSleep
	if c.MaxSleepMs != nil && *c.MaxSleepMs > 0 {
		s.maxSleep = time.Duration(*c.MaxSleepMs) * time.Millisecond
	}
	if c.PlacementDelayMs != nil && *c.PlacementDelayMs >= 0 {
		s.placementDelay = time.Duration(*c.PlacementDelayMs) * time.Millisecond
	}
	if c.BackoffBaseMs != nil && *c.BackoffBaseMs >= 0 {
		s.backoffBase = time.Duration(*c.BackoffBaseMs) * time.Millisecond
	}
	if c.BackoffAttempts != nil && *c.BackoffAttempts >= 0 {
		s.backoffAttempts = *c.BackoffAttempts
	}

	switch Protection(c.Protection) {
	case "":
	case ProtectionStopLimit, ProtectionOCO, ProtectionNone:
		s.protection = Protection(c.Protection)
	default:
		return s, fmt.Errorf("protection %q: %w", c.Protection, domain.ErrInvalidArgument)
	}
	if s.stopLossMargin.IsZero() {
		s.protection = ProtectionNone
	}
	return s, nil
}
