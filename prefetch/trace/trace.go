package trace

import "sync"

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelCycles captures cycle outcomes and executions only.
	TraceLevelCycles TraceLevel = "cycles"
	// TraceLevelDecisions additionally captures every per-candidate admission decision.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelCycles:    true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// Trace collects records from concurrent cycles and executions.
// A nil *Trace is valid and records nothing.
type Trace struct {
	mu         sync.Mutex
	level      TraceLevel
	cycles     []CycleRecord
	admissions []AdmissionRecord
	executions []ExecutionRecord
}

// New creates a Trace ready for recording at the given level.
func New(level TraceLevel) *Trace {
	return &Trace{level: level}
}

// Level returns the trace level. A nil trace reports TraceLevelNone.
func (t *Trace) Level() TraceLevel {
	if t == nil || t.level == "" {
		return TraceLevelNone
	}
	return t.level
}

// RecordCycle appends a cycle record.
func (t *Trace) RecordCycle(r CycleRecord) {
	if t.Level() == TraceLevelNone {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cycles = append(t.cycles, r)
}

// RecordAdmission appends an admission decision. Only kept at TraceLevelDecisions.
func (t *Trace) RecordAdmission(r AdmissionRecord) {
	if t.Level() != TraceLevelDecisions {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.admissions = append(t.admissions, r)
}

// RecordExecution appends an execution record.
func (t *Trace) RecordExecution(r ExecutionRecord) {
	if t.Level() == TraceLevelNone {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executions = append(t.executions, r)
}

// Cycles returns a copy of the cycle records.
func (t *Trace) Cycles() []CycleRecord {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]CycleRecord(nil), t.cycles...)
}

// Admissions returns a copy of the admission records.
func (t *Trace) Admissions() []AdmissionRecord {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]AdmissionRecord(nil), t.admissions...)
}

// Executions returns a copy of the execution records.
func (t *Trace) Executions() []ExecutionRecord {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ExecutionRecord(nil), t.executions...)
}
