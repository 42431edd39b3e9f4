package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tastedeck/prefetch-engine/prefetch/ledger"
	"github.com/tastedeck/prefetch-engine/prefetch/store"
)

// fakeTracker is a BehaviorTracker whose answers are set by the test.
type fakeTracker struct {
	mu      sync.Mutex
	metrics UserBehaviorMetrics
	session CurrentSessionMetrics
	signals PredictiveSignals
	subs    map[int]func(BehaviorEvent)
	nextSub int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{subs: make(map[int]func(BehaviorEvent))}
}

func (f *fakeTracker) Metrics() UserBehaviorMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}

func (f *fakeTracker) CurrentSession() CurrentSessionMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeTracker) PredictiveSignals() PredictiveSignals {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signals
}

func (f *fakeTracker) Subscribe(fn func(BehaviorEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeTracker) setSignals(s PredictiveSignals) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = s
}

func (f *fakeTracker) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeTracker) emit(t BehaviorEventType, cardID string) {
	f.mu.Lock()
	fns := make([]func(BehaviorEvent), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(BehaviorEvent{Type: t, CardID: cardID})
	}
}

// fakePlaces records calls and can block or fail them.
type fakePlaces struct {
	mu       sync.Mutex
	calls    []string // "resource:cardID" in call order
	fail     map[string]bool
	gate     chan struct{} // nil means never block
	started  chan string
	inflight int
	peak     int
}

func newFakePlaces() *fakePlaces {
	return &fakePlaces{fail: make(map[string]bool), started: make(chan string, 256)}
}

// blocking makes every call wait until release is called.
func (f *fakePlaces) blocking() *fakePlaces {
	f.gate = make(chan struct{})
	return f
}

func (f *fakePlaces) release() { close(f.gate) }

func (f *fakePlaces) failOn(r ResourceType, cardID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[string(r)+":"+cardID] = true
}

func (f *fakePlaces) call(ctx context.Context, r ResourceType, cardID string) error {
	key := string(r) + ":" + cardID
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.inflight++
	f.peak = max(f.peak, f.inflight)
	shouldFail := f.fail[key]
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	f.started <- key
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if shouldFail {
		return errors.New("places unavailable")
	}
	return nil
}

func (f *fakePlaces) FetchDetails(ctx context.Context, cardID string) (Details, error) {
	if err := f.call(ctx, ResourceDetails, cardID); err != nil {
		return Details{}, err
	}
	return Details{CardID: cardID, Address: "1 Main St"}, nil
}

func (f *fakePlaces) FetchPhoto(ctx context.Context, cardID, photoRef string, maxW, maxH int) (string, error) {
	if err := f.call(ctx, ResourcePhotos, cardID); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://photos.example/%s?w=%d&h=%d", photoRef, maxW, maxH), nil
}

func (f *fakePlaces) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePlaces) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// fixedScorer gives every card the same score and confidence.
type fixedScorer struct {
	score      float64
	confidence float64
}

func (s fixedScorer) Score(card Card, position int, _ UserBehaviorMetrics, _ SessionContext, _ UserPreferences) CardScore {
	return CardScore{
		CardID:     card.ID,
		Position:   position,
		BaseScore:  s.score,
		FinalScore: s.score,
		Confidence: s.confidence,
	}
}

// failingStore fails every read and write.
type failingStore struct{}

func (failingStore) GetItem(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk full")
}

func (failingStore) SetItem(context.Context, string, string) error {
	return errors.New("disk full")
}

// eventRecorder is a Listener that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []PrefetchEvent
}

func (r *eventRecorder) OnPrefetchEvent(ev PrefetchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) ofType(t EventType) []PrefetchEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PrefetchEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// makeCards returns n cards with ids c0..c(n-1), each with one photo ref.
func makeCards(n int) []Card {
	cards := make([]Card, n)
	for i := range cards {
		rating := 4.0
		cards[i] = Card{
			ID:               fmt.Sprintf("c%d", i),
			Name:             fmt.Sprintf("Restaurant %d", i),
			Rating:           &rating,
			UserRatingsTotal: 120,
			Cuisines:         []string{"thai"},
			PhotoRefs:        []string{fmt.Sprintf("ref%d", i)},
		}
	}
	return cards
}

func newTestEngine(t *testing.T, cfg Config, kv ledger.Store, places PlacesClient, tracker BehaviorTracker, opts ...Option) *Engine {
	t.Helper()
	if kv == nil {
		kv = store.NewMemory()
	}
	e, err := New(cfg, kv, places, tracker, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func admittedByResource(report CycleReport) map[ResourceType][]string {
	out := make(map[ResourceType][]string)
	for _, d := range report.Admitted() {
		out[d.Resource] = append(out[d.Resource], d.CardID)
	}
	return out
}
