package prefetch

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventType names a prefetch lifecycle event.
type EventType string

const (
	EventPrefetchStarted   EventType = "prefetch_started"
	EventPrefetchCompleted EventType = "prefetch_completed"
	EventPrefetchUsed      EventType = "prefetch_used"
	EventPrefetchWasted    EventType = "prefetch_wasted"
)

// PrefetchEvent is emitted to listeners. Events flow outward only; the
// engine never reads them back.
type PrefetchEvent struct {
	ID        string
	Type      EventType
	CardID    string
	Resource  ResourceType
	Score     *CardScore
	Decision  *PrefetchDecision
	Cost      float64
	Success   bool
	Err       string
	Timestamp time.Time

	// Payload of a successful completion: Details for a details fetch,
	// PhotoURL for a photo fetch.
	Details  *Details
	PhotoURL string

	Metadata map[string]string
}

// Metadata keys.
const (
	MetaImmediate = "immediate"
	MetaCycle     = "cycle"
	MetaReason    = "reason"
)

func newEvent(t EventType, cardID string, r ResourceType, at time.Time) PrefetchEvent {
	return PrefetchEvent{
		ID:        uuid.NewString(),
		Type:      t,
		CardID:    cardID,
		Resource:  r,
		Timestamp: at,
	}
}

// Listener receives prefetch events. Calls are synchronous on the goroutine
// that produced the event, in registration order.
type Listener interface {
	OnPrefetchEvent(PrefetchEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(PrefetchEvent)

// OnPrefetchEvent calls f(ev).
func (f ListenerFunc) OnPrefetchEvent(ev PrefetchEvent) { f(ev) }

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

type listenerEntry struct {
	id       ListenerID
	listener Listener
}

// eventBus fans events out to listeners. A panicking listener is logged
// and does not affect the others.
type eventBus struct {
	mu      sync.RWMutex
	nextID  ListenerID
	entries []listenerEntry
}

func (b *eventBus) add(l Listener) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.entries = append(b.entries, listenerEntry{id: b.nextID, listener: l})
	return b.nextID
}

func (b *eventBus) remove(id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.entries {
		if e.id == id {
			b.entries = append(b.entries[:i:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (b *eventBus) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *eventBus) emit(ev PrefetchEvent) {
	b.mu.RLock()
	entries := b.entries
	b.mu.RUnlock()
	for _, e := range entries {
		deliver(e, ev)
	}
}

func deliver(e listenerEntry, ev PrefetchEvent) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"listener": e.id,
				"event":    ev.Type,
			}).Errorf("prefetch listener panicked: %v", r)
		}
	}()
	e.listener.OnPrefetchEvent(ev)
}
