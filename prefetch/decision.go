package prefetch

import "time"

// Priority ranks a prefetch decision for display and logging.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func priorityFor(score CardScore) Priority {
	switch {
	case score.FinalScore >= 80 && score.Confidence >= 0.8:
		return PriorityHigh
	case score.FinalScore >= 60 && score.Confidence >= 0.5:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Decision reasons.
const (
	ReasonPositionOverride   = "position-override"
	ReasonThresholdsMet      = "thresholds-met"
	ReasonBelowConfidence    = "below-confidence"
	ReasonBelowScore         = "below-score"
	ReasonOutsideWindow      = "outside-window"
	ReasonEmergencyMode      = "emergency-mode"
	ReasonInFlight           = "in-flight"
	ReasonImmediate          = "immediate"
	ReasonInsufficientBudget = "insufficient-budget"
)

// PrefetchDecision records whether a (card, resource) pair was fetched and why.
// Written once per cycle and never modified.
type PrefetchDecision struct {
	CardID         string
	Resource       ResourceType
	ShouldPrefetch bool
	Priority       Priority
	Reason         string
	Cost           float64
	ExpectedValue  float64
	Confidence     float64
	Score          float64
	Position       int
	DecidedAt      time.Time
}

func newDecision(c PrefetchCandidate, admit bool, reason string, at time.Time) PrefetchDecision {
	return PrefetchDecision{
		CardID:         c.Card.ID,
		Resource:       c.Resource,
		ShouldPrefetch: admit,
		Priority:       priorityFor(c.Score),
		Reason:         reason,
		Cost:           c.EstimatedCost,
		ExpectedValue:  c.ExpectedValue,
		Confidence:     c.Score.Confidence,
		Score:          c.Score.FinalScore,
		Position:       c.Score.Position,
		DecidedAt:      at,
	}
}
