package prefetch

import (
	"fmt"
	"io"
	"sync"
)

// MetricsSnapshot is a point-in-time copy of the engine counters.
type MetricsSnapshot struct {
	CyclesTriggered      int
	CyclesShortCircuited int
	CyclesSkipped        int

	Started          int
	Succeeded        int
	Failed           int
	ImmediateFetches int

	Used   int
	Wasted int

	SpendByResource map[ResourceType]float64
	WastedCost      float64
}

// TotalSpend is the spend recorded across both resources.
func (m MetricsSnapshot) TotalSpend() float64 {
	total := 0.0
	for _, v := range m.SpendByResource {
		total += v
	}
	return total
}

// WasteRate is wasted / (used + wasted). Returns 0 before any attribution.
func (m MetricsSnapshot) WasteRate() float64 {
	if m.Used+m.Wasted == 0 {
		return 0
	}
	return float64(m.Wasted) / float64(m.Used+m.Wasted)
}

// Print writes a human-readable summary.
func (m MetricsSnapshot) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Prefetch Metrics ===")
	fmt.Fprintf(w, "Cycles Triggered     : %d\n", m.CyclesTriggered)
	fmt.Fprintf(w, "Short-Circuited      : %d\n", m.CyclesShortCircuited)
	fmt.Fprintf(w, "Skipped              : %d\n", m.CyclesSkipped)
	fmt.Fprintf(w, "Fetches Started      : %d\n", m.Started)
	fmt.Fprintf(w, "Fetches Succeeded    : %d\n", m.Succeeded)
	fmt.Fprintf(w, "Fetches Failed       : %d\n", m.Failed)
	fmt.Fprintf(w, "Immediate Fetches    : %d\n", m.ImmediateFetches)
	fmt.Fprintf(w, "Spend (photos)       : $%.4f\n", m.SpendByResource[ResourcePhotos])
	fmt.Fprintf(w, "Spend (details)      : $%.4f\n", m.SpendByResource[ResourceDetails])
	if m.Used+m.Wasted > 0 {
		fmt.Fprintf(w, "Used / Wasted        : %d / %d\n", m.Used, m.Wasted)
		fmt.Fprintf(w, "Waste Rate           : %.2f%%\n", 100*m.WasteRate())
		fmt.Fprintf(w, "Wasted Cost          : $%.4f\n", m.WastedCost)
	}
}

// metrics is the mutex-guarded counter set behind Engine.Metrics.
type metrics struct {
	mu sync.Mutex
	s  MetricsSnapshot
}

func newMetrics() *metrics {
	return &metrics{s: MetricsSnapshot{SpendByResource: make(map[ResourceType]float64)}}
}

func (m *metrics) update(fn func(*MetricsSnapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.s)
}

func (m *metrics) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.s
	out.SpendByResource = make(map[ResourceType]float64, len(m.s.SpendByResource))
	for k, v := range m.s.SpendByResource {
		out.SpendByResource[k] = v
	}
	return out
}
