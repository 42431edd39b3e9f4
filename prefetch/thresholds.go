package prefetch

import (
	"fmt"
	"math"

	"github.com/tastedeck/prefetch-engine/prefetch/ledger"
)

// ResourceThresholds are the minimum confidence and score a candidate needs
// before a resource is fetched speculatively.
type ResourceThresholds struct {
	MinConfidence float64 `yaml:"min_confidence"`
	MinScore      float64 `yaml:"min_score"`
}

// Thresholds gate which candidates reach selection.
type Thresholds struct {
	Details ResourceThresholds `yaml:"details"`
	Photos  ResourceThresholds `yaml:"photos"`

	PositionWindow       int `yaml:"position_window"`        // details must be closer than this
	PhotoWindow          int `yaml:"photo_window"`           // photos must be closer than this
	AlwaysEligibleWindow int `yaml:"always_eligible_window"` // details closer than this skip the thresholds
	ScanWindow           int `yaml:"scan_window"`            // cards past the cursor considered per cycle

	SessionEndConfidence float64 `yaml:"session_end_confidence"`
}

// DefaultThresholds returns the default gates. Photos cost ~4x details and
// only pay off when the user is very likely to view the card.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Details:              ResourceThresholds{MinConfidence: 0.6, MinScore: 60},
		Photos:               ResourceThresholds{MinConfidence: 0.85, MinScore: 80},
		PositionWindow:       10,
		PhotoWindow:          5,
		AlwaysEligibleWindow: 3,
		ScanWindow:           15,
		SessionEndConfidence: 0.7,
	}
}

// For returns the thresholds of one resource.
func (t Thresholds) For(r ResourceType) ResourceThresholds {
	if r == ResourcePhotos {
		return t.Photos
	}
	return t.Details
}

func (rt ResourceThresholds) validate(name string) error {
	if !inUnitInterval(rt.MinConfidence) {
		return fmt.Errorf("thresholds.%s.min_confidence must be in [0,1], got %v", name, rt.MinConfidence)
	}
	if math.IsNaN(rt.MinScore) || rt.MinScore < 0 || rt.MinScore > 100 {
		return fmt.Errorf("thresholds.%s.min_score must be in [0,100], got %v", name, rt.MinScore)
	}
	return nil
}

// Validate checks every gate is in range.
func (t Thresholds) Validate() error {
	if err := t.Details.validate("details"); err != nil {
		return err
	}
	if err := t.Photos.validate("photos"); err != nil {
		return err
	}
	if t.PositionWindow < 1 {
		return fmt.Errorf("thresholds.position_window must be >= 1, got %d", t.PositionWindow)
	}
	if t.PhotoWindow < 1 {
		return fmt.Errorf("thresholds.photo_window must be >= 1, got %d", t.PhotoWindow)
	}
	if t.AlwaysEligibleWindow < 0 {
		return fmt.Errorf("thresholds.always_eligible_window must be >= 0, got %d", t.AlwaysEligibleWindow)
	}
	if t.ScanWindow < 1 {
		return fmt.Errorf("thresholds.scan_window must be >= 1, got %d", t.ScanWindow)
	}
	if !inUnitInterval(t.SessionEndConfidence) {
		return fmt.Errorf("thresholds.session_end_confidence must be in [0,1], got %v", t.SessionEndConfidence)
	}
	return nil
}

// budgetBand tightens thresholds once a sub-ledger's remaining ratio drops
// below Below. Bands are checked tightest first.
type budgetBand struct {
	Below      float64
	Confidence float64
	Score      float64
}

var budgetBands = []budgetBand{
	{Below: 0.10, Confidence: 0.20, Score: 20},
	{Below: 0.25, Confidence: 0.10, Score: 10},
	{Below: 0.50, Confidence: 0.05, Score: 5},
}

// AdjustThresholdsForBudget raises each resource's thresholds according to
// how much of its own sub-ledger remains. The result is monotone in the
// remaining ratio: less budget never yields lower thresholds.
func AdjustThresholdsForBudget(base Thresholds, status ledger.BudgetStatus) Thresholds {
	out := base
	out.Details = tighten(base.Details, status.Details.RemainingRatio())
	out.Photos = tighten(base.Photos, status.Photos.RemainingRatio())
	return out
}

func tighten(rt ResourceThresholds, ratio float64) ResourceThresholds {
	for _, b := range budgetBands {
		if ratio < b.Below {
			rt.MinConfidence += b.Confidence
			rt.MinScore += b.Score
			break
		}
	}
	rt.MinConfidence = math.Min(1, rt.MinConfidence)
	rt.MinScore = math.Min(100, rt.MinScore)
	return rt
}

func inUnitInterval(v float64) bool {
	return v >= 0 && v <= 1
}
