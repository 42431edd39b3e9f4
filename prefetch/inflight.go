package prefetch

import "sync"

// inflightKey identifies a fetch that may only run once at a time.
type inflightKey struct {
	CardID   string
	Resource ResourceType
}

type inflightEntry struct {
	token uint64
	cost  float64
}

// inflightSet tracks fetches that have been selected and not yet finished.
// Each mark gets a unique token so a stale completion can never clear a
// marker placed after a ClearQueue.
type inflightSet struct {
	mu      sync.Mutex
	next    uint64
	entries map[inflightKey]inflightEntry
}

func newInflightSet() *inflightSet {
	return &inflightSet{entries: make(map[inflightKey]inflightEntry)}
}

// tryMark marks k in flight with its reserved cost. It returns false if k is
// already marked.
func (s *inflightSet) tryMark(k inflightKey, cost float64) (token uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[k]; exists {
		return 0, false
	}
	s.next++
	s.entries[k] = inflightEntry{token: s.next, cost: cost}
	return s.next, true
}

// unmark removes k if it is still held by token.
func (s *inflightSet) unmark(k inflightKey, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[k]; ok && e.token == token {
		delete(s.entries, k)
		return true
	}
	return false
}

func (s *inflightSet) contains(k inflightKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[k]
	return ok
}

// committed sums the reserved cost per resource.
func (s *inflightSet) committed() map[ResourceType]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ResourceType]float64, 2)
	for k, e := range s.entries {
		out[k.Resource] += e.cost
	}
	return out
}

// clear drops every marker and returns how many there were.
func (s *inflightSet) clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[inflightKey]inflightEntry)
	return n
}

func (s *inflightSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
