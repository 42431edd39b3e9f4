package trace

// ResourceSummary aggregates admission and execution counts for one resource pool.
type ResourceSummary struct {
	Admitted  int
	Rejected  int
	Succeeded int
	Failed    int
	Spend     float64
}

// TraceSummary aggregates statistics from a Trace.
type TraceSummary struct {
	TotalCycles    int
	ShortCircuited int
	Skipped        int
	MeanEligible   float64
	Resources      map[string]*ResourceSummary // resource name → counts
	TotalSpend     float64
	ImmediateCount int
	SuccessRate    float64 // succeeded / executions; 0 when nothing executed
}

// Summarize computes aggregate statistics from a Trace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(t *Trace) *TraceSummary {
	summary := &TraceSummary{
		Resources: make(map[string]*ResourceSummary),
	}
	if t == nil {
		return summary
	}

	cycles := t.Cycles()
	summary.TotalCycles = len(cycles)
	eligible, executedCycles := 0, 0
	for _, c := range cycles {
		switch c.Outcome {
		case OutcomeShortCircuited:
			summary.ShortCircuited++
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeExecuted:
			executedCycles++
			eligible += c.Eligible
		}
	}
	if executedCycles > 0 {
		summary.MeanEligible = float64(eligible) / float64(executedCycles)
	}

	for _, a := range t.Admissions() {
		rs := summary.resource(a.Resource)
		if a.Admitted {
			rs.Admitted++
		} else {
			rs.Rejected++
		}
	}

	executions := t.Executions()
	succeeded := 0
	for _, e := range executions {
		rs := summary.resource(e.Resource)
		if e.Success {
			rs.Succeeded++
			succeeded++
		} else {
			rs.Failed++
		}
		rs.Spend += e.Cost
		summary.TotalSpend += e.Cost
		if e.Immediate {
			summary.ImmediateCount++
		}
	}
	if len(executions) > 0 {
		summary.SuccessRate = float64(succeeded) / float64(len(executions))
	}
	return summary
}

func (s *TraceSummary) resource(name string) *ResourceSummary {
	rs, ok := s.Resources[name]
	if !ok {
		rs = &ResourceSummary{}
		s.Resources[name] = rs
	}
	return rs
}
