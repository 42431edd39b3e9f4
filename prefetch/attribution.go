package prefetch

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

type usageEntry struct {
	cost float64
	used bool
}

// wastedItem is a fetched resource the user never looked at.
type wastedItem struct {
	key  inflightKey
	cost float64
}

// usageTracker remembers what was fetched this session so tracker events
// can mark it used, and whatever is left at session end can be counted as waste.
type usageTracker struct {
	mu      sync.Mutex
	entries map[inflightKey]*usageEntry
}

func newUsageTracker() *usageTracker {
	return &usageTracker{entries: make(map[inflightKey]*usageEntry)}
}

func (u *usageTracker) recordFetched(k inflightKey, cost float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if e, ok := u.entries[k]; ok {
		e.cost += cost
		return
	}
	u.entries[k] = &usageEntry{cost: cost}
}

// markUsed marks k used and returns its cost. ok is false if k was never
// fetched or was already used.
func (u *usageTracker) markUsed(k inflightKey) (cost float64, ok bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, found := u.entries[k]
	if !found || e.used {
		return 0, false
	}
	e.used = true
	return e.cost, true
}

// drainUnused forgets every entry and returns the ones never used,
// sorted by card and resource.
func (u *usageTracker) drainUnused() []wastedItem {
	u.mu.Lock()
	entries := u.entries
	u.entries = make(map[inflightKey]*usageEntry)
	u.mu.Unlock()

	var out []wastedItem
	for k, e := range entries {
		if !e.used {
			out = append(out, wastedItem{key: k, cost: e.cost})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].key.CardID != out[j].key.CardID {
			return out[i].key.CardID < out[j].key.CardID
		}
		return out[i].key.Resource < out[j].key.Resource
	})
	return out
}

// onBehaviorEvent attributes prefetched data to what the user actually did.
// A card view uses its photos; opening details uses details and photos.
// Session end stops prefetching and turns everything unused into waste.
func (e *Engine) onBehaviorEvent(ev BehaviorEvent) {
	switch ev.Type {
	case BehaviorCardViewed:
		e.markUsed(ev.CardID, ResourcePhotos)
	case BehaviorDetailViewed:
		e.markUsed(ev.CardID, ResourceDetails)
		e.markUsed(ev.CardID, ResourcePhotos)
	case BehaviorSessionEnded:
		e.mu.Lock()
		e.sessionEnded = true
		e.mu.Unlock()
		e.flushWaste("session-ended")
	case BehaviorSessionStarted:
		e.flushWaste("session-started")
		e.ledger.ResetSession()
		e.mu.Lock()
		e.sessionEnded = false
		e.mu.Unlock()
	}
}

func (e *Engine) markUsed(cardID string, r ResourceType) {
	cost, ok := e.usage.markUsed(inflightKey{CardID: cardID, Resource: r})
	if !ok {
		return
	}
	e.metrics.update(func(m *MetricsSnapshot) { m.Used++ })
	ev := newEvent(EventPrefetchUsed, cardID, r, e.now())
	ev.Cost, ev.Success = cost, true
	e.bus.emit(ev)
}

func (e *Engine) flushWaste(reason string) {
	wasted := e.usage.drainUnused()
	if len(wasted) == 0 {
		return
	}
	total := 0.0
	for _, w := range wasted {
		total += w.cost
	}
	e.metrics.update(func(m *MetricsSnapshot) {
		m.Wasted += len(wasted)
		m.WastedCost += total
	})
	logrus.WithFields(logrus.Fields{
		"wasted": len(wasted),
		"cost":   total,
	}).Infof("prefetch waste attributed on %s", reason)
	for _, w := range wasted {
		ev := newEvent(EventPrefetchWasted, w.key.CardID, w.key.Resource, e.now())
		ev.Cost = w.cost
		ev.Metadata = map[string]string{MetaReason: reason}
		e.bus.emit(ev)
	}
}
