// Package trace provides decision-trace recording for prefetch cycle analysis.
// This package has no dependencies on prefetch/ — it stores pure data types.
package trace

import "time"

// CycleOutcome classifies how a trigger cycle ended.
type CycleOutcome string

const (
	// OutcomeExecuted means the cycle reached selection and dispatched its picks (possibly none).
	OutcomeExecuted CycleOutcome = "executed"
	// OutcomeShortCircuited means the session-ending guard stopped the cycle before scoring.
	OutcomeShortCircuited CycleOutcome = "short-circuited"
	// OutcomeSkipped means the engine was paused, closed or the session had ended.
	OutcomeSkipped CycleOutcome = "skipped"
)

// CycleRecord captures one trigger cycle.
type CycleRecord struct {
	CycleID    string
	At         time.Time
	Cursor     int
	Candidates int // candidates scored
	Eligible   int // candidates that passed filtering
	Outcome    CycleOutcome
	Reason     string
}

// AdmissionRecord captures a single selection decision for one (card, resource) pair.
type AdmissionRecord struct {
	CycleID       string
	CardID        string
	Resource      string
	Position      int
	Score         float64
	Confidence    float64
	Cost          float64
	ExpectedValue float64
	Admitted      bool
	Reason        string
}

// ExecutionRecord captures one completed fetch.
type ExecutionRecord struct {
	CardID    string
	Resource  string
	Cost      float64 // 0 on failure
	Success   bool
	Err       string
	Immediate bool
	Duration  time.Duration
}
