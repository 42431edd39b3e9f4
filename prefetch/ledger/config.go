package ledger

import (
	"fmt"
	"math"
)

// Config holds budget caps and the split between the two resource pools.
type Config struct {
	Daily   float64 `yaml:"daily"`   // aggregate daily cap (USD)
	Monthly float64 `yaml:"monthly"` // aggregate monthly cap (USD)

	// PhotoRatio and DetailsRatio split the caps between pools.
	// They are normalized to sum to 1.0.
	PhotoRatio   float64 `yaml:"photo_ratio"`
	DetailsRatio float64 `yaml:"details_ratio"`

	MinimumReserve     float64 `yaml:"minimum_reserve"`      // USD never spent speculatively
	EmergencyThreshold float64 `yaml:"emergency_threshold"`  // remaining fraction below which emergency mode starts
	LowBudgetThreshold float64 `yaml:"low_budget_threshold"` // remaining fraction below which budget is "low"

	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultConfig returns the documented budget defaults.
func DefaultConfig() Config {
	return Config{
		Daily:              5.0,
		Monthly:            100.0,
		PhotoRatio:         0.6,
		DetailsRatio:       0.4,
		MinimumReserve:     0.05,
		EmergencyThreshold: 0.05,
		LowBudgetThreshold: 0.25,
		KeyPrefix:          "prefetch_budget_",
	}
}

// Validate checks caps, ratios and thresholds.
func (c Config) Validate() error {
	if !finitePositive(c.Daily) {
		return fmt.Errorf("budget.daily must be a finite positive number, got %v", c.Daily)
	}
	if !finitePositive(c.Monthly) {
		return fmt.Errorf("budget.monthly must be a finite positive number, got %v", c.Monthly)
	}
	if c.Monthly < c.Daily {
		return fmt.Errorf("budget.monthly (%v) must be >= budget.daily (%v)", c.Monthly, c.Daily)
	}
	if !finiteNonNegative(c.PhotoRatio) || !finiteNonNegative(c.DetailsRatio) {
		return fmt.Errorf("budget ratios must be non-negative, got photo=%v details=%v", c.PhotoRatio, c.DetailsRatio)
	}
	if c.PhotoRatio+c.DetailsRatio <= 0 {
		return fmt.Errorf("budget ratios must not both be zero")
	}
	if !finiteNonNegative(c.MinimumReserve) || c.MinimumReserve >= c.Daily {
		return fmt.Errorf("budget.minimum_reserve must be in [0, daily), got %v", c.MinimumReserve)
	}
	if !inUnit(c.EmergencyThreshold) {
		return fmt.Errorf("budget.emergency_threshold must be in [0,1], got %v", c.EmergencyThreshold)
	}
	if !inUnit(c.LowBudgetThreshold) {
		return fmt.Errorf("budget.low_budget_threshold must be in [0,1], got %v", c.LowBudgetThreshold)
	}
	return nil
}

// Ratios returns the photo and details shares normalized to sum to 1.0.
// An all-zero split falls back to an even split.
func (c Config) Ratios() (photos, details float64) {
	p, d := nonNegative(c.PhotoRatio), nonNegative(c.DetailsRatio)
	total := p + d
	if total <= 0 || math.IsInf(total, 0) {
		return 0.5, 0.5
	}
	return p / total, d / total
}

// Ratio returns the normalized share for a single resource.
func (c Config) Ratio(r Resource) float64 {
	p, d := c.Ratios()
	if r == ResourcePhotos {
		return p
	}
	return d
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
