package trace

import (
	"sync"
	"testing"
	"time"
)

func TestTrace_RecordAdmission_AppendsRecord(t *testing.T) {
	// GIVEN a trace configured for decisions
	tr := New(TraceLevelDecisions)

	// WHEN an admission record is recorded
	tr.RecordAdmission(AdmissionRecord{
		CycleID:  "c1",
		CardID:   "card_1",
		Resource: "details",
		Admitted: true,
		Reason:   "position-override",
	})

	// THEN the trace contains one admission record with correct data
	got := tr.Admissions()
	if len(got) != 1 {
		t.Fatalf("expected 1 admission, got %d", len(got))
	}
	if got[0].CardID != "card_1" {
		t.Errorf("expected card ID card_1, got %s", got[0].CardID)
	}
	if !got[0].Admitted {
		t.Error("expected admitted=true")
	}
}

func TestTrace_CyclesLevel_DropsAdmissions(t *testing.T) {
	tr := New(TraceLevelCycles)
	tr.RecordAdmission(AdmissionRecord{CardID: "card_1"})
	tr.RecordCycle(CycleRecord{CycleID: "c1", Outcome: OutcomeExecuted})

	if n := len(tr.Admissions()); n != 0 {
		t.Errorf("expected admissions to be dropped at cycles level, got %d", n)
	}
	if n := len(tr.Cycles()); n != 1 {
		t.Errorf("expected 1 cycle, got %d", n)
	}
}

func TestTrace_NilAndNone_RecordNothing(t *testing.T) {
	var nilTrace *Trace
	nilTrace.RecordCycle(CycleRecord{CycleID: "c1"})
	nilTrace.RecordExecution(ExecutionRecord{CardID: "x"})
	if nilTrace.Level() != TraceLevelNone {
		t.Errorf("nil trace level = %q, want none", nilTrace.Level())
	}

	none := New(TraceLevelNone)
	none.RecordCycle(CycleRecord{CycleID: "c1"})
	none.RecordExecution(ExecutionRecord{CardID: "x"})
	if len(none.Cycles())+len(none.Executions()) != 0 {
		t.Error("expected no records at level none")
	}
}

func TestTrace_ConcurrentRecording(t *testing.T) {
	tr := New(TraceLevelDecisions)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordExecution(ExecutionRecord{Resource: "photos", Success: true, Cost: 0.007})
		}()
	}
	wg.Wait()
	if n := len(tr.Executions()); n != 50 {
		t.Errorf("recorded %d executions, want 50", n)
	}
}

func TestIsValidTraceLevel(t *testing.T) {
	for _, lvl := range []string{"", "none", "cycles", "decisions"} {
		if !IsValidTraceLevel(lvl) {
			t.Errorf("expected %q to be valid", lvl)
		}
	}
	if IsValidTraceLevel("verbose") {
		t.Error("expected verbose to be invalid")
	}
}

func TestSummarize_NilTrace(t *testing.T) {
	s := Summarize(nil)
	if s.TotalCycles != 0 || s.TotalSpend != 0 || len(s.Resources) != 0 {
		t.Errorf("expected zero summary, got %+v", s)
	}
}

func TestSummarize_AggregatesPerResource(t *testing.T) {
	// GIVEN a trace with mixed outcomes
	tr := New(TraceLevelDecisions)
	now := time.Now()
	tr.RecordCycle(CycleRecord{CycleID: "c1", At: now, Eligible: 4, Outcome: OutcomeExecuted})
	tr.RecordCycle(CycleRecord{CycleID: "c2", At: now, Eligible: 2, Outcome: OutcomeExecuted})
	tr.RecordCycle(CycleRecord{CycleID: "c3", At: now, Outcome: OutcomeShortCircuited})
	tr.RecordCycle(CycleRecord{CycleID: "c4", At: now, Outcome: OutcomeSkipped})

	tr.RecordAdmission(AdmissionRecord{Resource: "details", Admitted: true})
	tr.RecordAdmission(AdmissionRecord{Resource: "details", Admitted: false})
	tr.RecordAdmission(AdmissionRecord{Resource: "photos", Admitted: true})

	tr.RecordExecution(ExecutionRecord{Resource: "details", Success: true, Cost: 0.0017})
	tr.RecordExecution(ExecutionRecord{Resource: "photos", Success: false})
	tr.RecordExecution(ExecutionRecord{Resource: "photos", Success: true, Cost: 0.007, Immediate: true})

	// WHEN summarized
	s := Summarize(tr)

	// THEN counts and spend add up
	if s.TotalCycles != 4 || s.ShortCircuited != 1 || s.Skipped != 1 {
		t.Errorf("cycle counts wrong: %+v", s)
	}
	if s.MeanEligible != 3 {
		t.Errorf("MeanEligible = %v, want 3", s.MeanEligible)
	}
	d := s.Resources["details"]
	if d.Admitted != 1 || d.Rejected != 1 || d.Succeeded != 1 {
		t.Errorf("details summary wrong: %+v", d)
	}
	p := s.Resources["photos"]
	if p.Failed != 1 || p.Succeeded != 1 {
		t.Errorf("photos summary wrong: %+v", p)
	}
	if diff := s.TotalSpend - 0.0087; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("TotalSpend = %v, want 0.0087", s.TotalSpend)
	}
	if s.ImmediateCount != 1 {
		t.Errorf("ImmediateCount = %d, want 1", s.ImmediateCount)
	}
	if s.SuccessRate < 0.666 || s.SuccessRate > 0.667 {
		t.Errorf("SuccessRate = %v, want 2/3", s.SuccessRate)
	}
}
