package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tastedeck/prefetch-engine/prefetch"
)

func newClockedTracker() (*Tracker, *Clock) {
	clock := NewClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	return NewTracker(WithTrackerClock(clock.Now)), clock
}

func card(id string, cuisines ...string) prefetch.Card {
	return prefetch.Card{ID: id, Cuisines: cuisines}
}

// viewN starts a session over queued cards and views the first n, d apart.
func viewN(tr *Tracker, clock *Clock, queued, n int, d time.Duration) {
	tr.StartSession(queued)
	for i := 0; i < n; i++ {
		clock.Advance(d)
		tr.RecordView(card(fmt.Sprintf("v%d", i), "thai"))
	}
}

func TestTracker_SessionMetrics(t *testing.T) {
	tr, clock := newClockedTracker()
	viewN(tr, clock, 10, 3, 2*time.Second)

	s := tr.CurrentSession()
	assert.NotEmpty(t, s.SessionID)
	assert.Equal(t, 3, s.CardsViewed)
	assert.Equal(t, 2*time.Second, s.AvgSwipeInterval)

	tr.EndSession()
	assert.Equal(t, prefetch.CurrentSessionMetrics{}, tr.CurrentSession())
	assert.False(t, tr.InSession())
}

func TestTracker_EndSessionFoldsHistory(t *testing.T) {
	// GIVEN a session over 8 queued cards where the user views 4,
	// opens one detail and likes two cards
	tr, _ := newClockedTracker()
	price := 2
	cards := []prefetch.Card{
		{ID: "c0", Cuisines: []string{"Thai"}, PriceLevel: &price},
		card("c1", "thai"),
		card("c2", "sushi"),
		card("c3", "sushi"),
	}
	tr.StartSession(8)
	for _, c := range cards {
		tr.RecordView(c)
	}
	tr.RecordDetailView(cards[0])
	tr.RecordLike(cards[0])
	tr.RecordLike(cards[1])

	// WHEN the session ends
	tr.EndSession()

	// THEN history reflects it
	m := tr.Metrics()
	assert.Equal(t, 1, m.TotalSessions)
	assert.Equal(t, 4, m.TotalCardsViewed)
	assert.Equal(t, 4.0, m.AvgSessionLength)
	assert.Equal(t, 0.5, m.ViewThroughRate)
	assert.Equal(t, 0.25, m.DetailViewRate)
	assert.Equal(t, 0.5, m.LikeRate)
	assert.Equal(t, 1.0, m.CuisineAffinity["thai"], "both thai cards engaged")
	assert.Equal(t, 0.0, m.CuisineAffinity["sushi"])
	assert.Equal(t, []int{2}, m.PreferredPriceLevels)
}

func TestTracker_MetricsReturnsCopy(t *testing.T) {
	tr, _ := newClockedTracker()
	tr.StartSession(1)
	tr.RecordView(card("c0", "thai"))
	m := tr.Metrics()
	m.CuisineAffinity["thai"] = 99
	assert.Zero(t, tr.Metrics().CuisineAffinity["thai"])
}

func TestTracker_IgnoresInteractionsOutsideSession(t *testing.T) {
	tr, _ := newClockedTracker()
	tr.RecordView(card("c0"))
	tr.RecordDetailView(card("c0"))
	tr.RecordLike(card("c0"))
	tr.EndSession()
	assert.Equal(t, prefetch.UserBehaviorMetrics{
		CuisineAffinity: map[string]float64{},
	}, tr.Metrics())
}

func TestTracker_SubscribersReceiveEventsInOrder(t *testing.T) {
	tr, _ := newClockedTracker()
	var got []prefetch.BehaviorEventType
	unsubscribe := tr.Subscribe(func(ev prefetch.BehaviorEvent) { got = append(got, ev.Type) })

	tr.StartSession(2)
	tr.RecordView(card("c0"))
	tr.RecordDetailView(card("c0"))
	tr.RecordLike(card("c0"))
	tr.EndSession()
	unsubscribe()
	tr.StartSession(2)

	assert.Equal(t, []prefetch.BehaviorEventType{
		prefetch.BehaviorSessionStarted,
		prefetch.BehaviorCardViewed,
		prefetch.BehaviorDetailViewed,
		prefetch.BehaviorSessionEnded,
	}, got)
}

func TestTracker_StartSessionEndsOpenSession(t *testing.T) {
	tr, clock := newClockedTracker()
	viewN(tr, clock, 5, 2, time.Second)
	tr.StartSession(5)
	assert.Equal(t, 1, tr.Metrics().TotalSessions)
	assert.Zero(t, tr.CurrentSession().CardsViewed)
}

func TestTracker_PredictiveSignals(t *testing.T) {
	// GIVEN no history, nothing is predicted
	tr, clock := newClockedTracker()
	viewN(tr, clock, 20, 10, time.Second)
	assert.False(t, tr.PredictiveSignals().LikelyToEndSoon)
	tr.EndSession()

	// GIVEN two sessions of 10 cards
	viewN(tr, clock, 20, 10, time.Second)
	tr.EndSession()

	// WHEN the third session is halfway
	viewN(tr, clock, 20, 5, time.Second)
	sig := tr.PredictiveSignals()
	assert.False(t, sig.LikelyToEndSoon)
	assert.Equal(t, 5, sig.EstimatedRemainingCards)
	assert.InDelta(t, 0.7, sig.ConfidenceLevel, 1e-9)

	// WHEN it reaches 90% of the usual length
	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		tr.RecordView(card(fmt.Sprintf("late%d", i)))
	}
	sig = tr.PredictiveSignals()
	assert.True(t, sig.LikelyToEndSoon)
	assert.Equal(t, 1, sig.EstimatedRemainingCards)
}

func TestSlowingDown(t *testing.T) {
	s := time.Second
	tests := []struct {
		name      string
		intervals []time.Duration
		want      bool
	}{
		{"too few", []time.Duration{s, s, 5 * s}, false},
		{"steady", []time.Duration{s, s, s, s, s, s}, false},
		{"slowing", []time.Duration{s, s, s, 3 * s, 3 * s, 3 * s}, true},
		{"speeding up", []time.Duration{3 * s, 3 * s, 3 * s, s, s, s}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, slowingDown(tt.intervals))
		})
	}
}

func TestEngagementTrend(t *testing.T) {
	tests := []struct {
		name    string
		engaged []bool
		want    float64
	}{
		{"short session", []bool{true, false}, 0},
		{"warming up", []bool{false, false, false, true, true, true}, 1},
		{"cooling off", []bool{true, true, true, false, false, false}, -1},
		{"flat", []bool{true, false, true, false, true, false}, 2 * (1.0/3 - 0.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, engagementTrend(tt.engaged), 1e-9)
		})
	}
}
