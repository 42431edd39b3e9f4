// Package session provides a reference BehaviorTracker, a simulated places
// client and a runner that drives a prefetch.Engine through synthetic
// swipe sessions.
package session

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tastedeck/prefetch-engine/prefetch"
)

// Tracker records swipe behavior and answers the engine's questions about
// it. It implements prefetch.BehaviorTracker. Safe for concurrent use.
type Tracker struct {
	mu  sync.Mutex
	now func() time.Time

	history        prefetch.UserBehaviorMetrics
	completedViews int
	queuedTotal    int
	detailTotal    int
	likeTotal      int
	viewTime       time.Duration
	cuisineViews   map[string]int
	cuisineEngaged map[string]int
	priceLikes     map[int]int

	current *liveSession

	subs    map[int]func(prefetch.BehaviorEvent)
	nextSub int
}

type liveSession struct {
	metrics   prefetch.CurrentSessionMetrics
	queued    int
	lastView  time.Time
	intervals []time.Duration
	engaged   []bool         // per view: did the user open details or like it
	viewIndex map[string]int // card ID → index into engaged
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerClock overrides the clock used for swipe intervals.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker with no history.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		now:            time.Now,
		cuisineViews:   make(map[string]int),
		cuisineEngaged: make(map[string]int),
		priceLikes:     make(map[int]int),
		subs:           make(map[int]func(prefetch.BehaviorEvent)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subscribe registers fn for behavior events and returns its removal func.
func (t *Tracker) Subscribe(fn func(prefetch.BehaviorEvent)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// publish delivers ev to subscribers. Caller must not hold t.mu.
func (t *Tracker) publish(typ prefetch.BehaviorEventType, cardID string, at time.Time) {
	t.mu.Lock()
	ids := make([]int, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(prefetch.BehaviorEvent), len(ids))
	for i, id := range ids {
		fns[i] = t.subs[id]
	}
	t.mu.Unlock()

	ev := prefetch.BehaviorEvent{Type: typ, CardID: cardID, At: at}
	for _, fn := range fns {
		fn(ev)
	}
}

// StartSession begins a session over a deck of queued cards. An open
// session is ended first.
func (t *Tracker) StartSession(queued int) string {
	if t.InSession() {
		t.EndSession()
	}
	t.mu.Lock()
	now := t.now()
	t.current = &liveSession{
		metrics:   prefetch.CurrentSessionMetrics{SessionID: uuid.NewString(), StartedAt: now},
		queued:    queued,
		viewIndex: make(map[string]int),
	}
	id := t.current.metrics.SessionID
	t.mu.Unlock()

	t.publish(prefetch.BehaviorSessionStarted, "", now)
	return id
}

// InSession reports whether a session is open.
func (t *Tracker) InSession() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil
}

// RecordView records that card reached the top of the deck.
// Views outside a session are ignored.
func (t *Tracker) RecordView(card prefetch.Card) {
	t.mu.Lock()
	s := t.current
	if s == nil {
		t.mu.Unlock()
		return
	}
	now := t.now()
	if !s.lastView.IsZero() {
		d := now.Sub(s.lastView)
		s.intervals = append(s.intervals, d)
		t.viewTime += d
	}
	s.lastView = now
	s.metrics.CardsViewed++
	s.viewIndex[card.ID] = len(s.engaged)
	s.engaged = append(s.engaged, false)
	s.metrics.AvgSwipeInterval = meanDuration(s.intervals)

	t.history.TotalCardsViewed++
	for _, c := range card.Cuisines {
		t.cuisineViews[strings.ToLower(c)]++
	}
	t.refreshDerived()
	t.mu.Unlock()

	t.publish(prefetch.BehaviorCardViewed, card.ID, now)
}

// RecordDetailView records that the user opened card's details.
func (t *Tracker) RecordDetailView(card prefetch.Card) {
	t.mu.Lock()
	s := t.current
	if s == nil {
		t.mu.Unlock()
		return
	}
	now := t.now()
	s.metrics.DetailViews++
	t.detailTotal++
	t.markEngaged(s, card)
	t.refreshDerived()
	t.mu.Unlock()

	t.publish(prefetch.BehaviorDetailViewed, card.ID, now)
}

// RecordLike records a right-swipe on card.
func (t *Tracker) RecordLike(card prefetch.Card) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.current
	if s == nil {
		return
	}
	s.metrics.Likes++
	t.likeTotal++
	if card.PriceLevel != nil {
		t.priceLikes[*card.PriceLevel]++
	}
	t.markEngaged(s, card)
	t.refreshDerived()
}

// markEngaged flags the view of card as engaged once. Caller holds t.mu.
func (t *Tracker) markEngaged(s *liveSession, card prefetch.Card) {
	i, ok := s.viewIndex[card.ID]
	if !ok || s.engaged[i] {
		return
	}
	s.engaged[i] = true
	for _, c := range card.Cuisines {
		t.cuisineEngaged[strings.ToLower(c)]++
	}
}

// EndSession closes the open session and folds it into history.
func (t *Tracker) EndSession() {
	t.mu.Lock()
	s := t.current
	if s == nil {
		t.mu.Unlock()
		return
	}
	now := t.now()
	t.current = nil
	t.history.TotalSessions++
	t.completedViews += s.metrics.CardsViewed
	t.queuedTotal += max(s.queued, s.metrics.CardsViewed)
	t.refreshDerived()
	t.mu.Unlock()

	t.publish(prefetch.BehaviorSessionEnded, "", now)
}

// refreshDerived recomputes rates and trends. Caller holds t.mu.
func (t *Tracker) refreshDerived() {
	h := &t.history
	if h.TotalSessions > 0 {
		h.AvgSessionLength = float64(t.completedViews) / float64(h.TotalSessions)
	}
	if t.queuedTotal > 0 {
		h.ViewThroughRate = math.Min(1, float64(t.completedViews)/float64(t.queuedTotal))
	}
	if h.TotalCardsViewed > 0 {
		h.DetailViewRate = math.Min(1, float64(t.detailTotal)/float64(h.TotalCardsViewed))
		h.LikeRate = math.Min(1, float64(t.likeTotal)/float64(h.TotalCardsViewed))
		h.AvgViewDuration = t.viewTime / time.Duration(h.TotalCardsViewed)
	}

	h.CuisineAffinity = make(map[string]float64, len(t.cuisineViews))
	for c, views := range t.cuisineViews {
		h.CuisineAffinity[c] = float64(t.cuisineEngaged[c]) / float64(views)
	}
	h.PreferredPriceLevels = h.PreferredPriceLevels[:0]
	for level := range t.priceLikes {
		h.PreferredPriceLevels = append(h.PreferredPriceLevels, level)
	}
	sort.Ints(h.PreferredPriceLevels)

	if s := t.current; s != nil {
		s.metrics.EngagementTrend = engagementTrend(s.engaged)
	}
}

// Metrics returns a copy of the historical behavior summary.
func (t *Tracker) Metrics() prefetch.UserBehaviorMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.history
	m.CuisineAffinity = make(map[string]float64, len(t.history.CuisineAffinity))
	for k, v := range t.history.CuisineAffinity {
		m.CuisineAffinity[k] = v
	}
	m.PreferredPriceLevels = append([]int(nil), t.history.PreferredPriceLevels...)
	return m
}

// CurrentSession returns the live session metrics, or the zero value
// between sessions.
func (t *Tracker) CurrentSession() prefetch.CurrentSessionMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return prefetch.CurrentSessionMetrics{}
	}
	return t.current.metrics
}

// PredictiveSignals estimates whether the session is about to end.
// Predictions need at least two completed sessions of history; a user
// slowing down near their usual session length ends the session sooner.
func (t *Tracker) PredictiveSignals() prefetch.PredictiveSignals {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.current
	if s == nil {
		return prefetch.PredictiveSignals{}
	}

	sig := prefetch.PredictiveSignals{IsSlowingDown: slowingDown(s.intervals)}
	avg := t.history.AvgSessionLength
	if t.history.TotalSessions < 2 || avg <= 0 {
		return sig
	}
	viewed := float64(s.metrics.CardsViewed)
	sig.EstimatedRemainingCards = int(math.Max(0, math.Round(avg-viewed)))
	sig.ConfidenceLevel = math.Min(0.95, 0.5+0.1*float64(t.history.TotalSessions))
	switch {
	case viewed >= 0.9*avg:
		sig.LikelyToEndSoon = true
	case sig.IsSlowingDown && sig.EstimatedRemainingCards <= 3:
		sig.LikelyToEndSoon = true
	}
	return sig
}

// slowingDown reports whether the last three swipe intervals average more
// than 1.5x the earlier ones.
func slowingDown(intervals []time.Duration) bool {
	if len(intervals) < 6 {
		return false
	}
	split := len(intervals) - 3
	return meanDuration(intervals[split:]) > meanDuration(intervals[:split])*3/2
}

// engagementTrend compares engagement over the last three views with the
// whole session, scaled to [-1,1].
func engagementTrend(engaged []bool) float64 {
	if len(engaged) < 4 {
		return 0
	}
	rate := func(bs []bool) float64 {
		n := 0
		for _, b := range bs {
			if b {
				n++
			}
		}
		return float64(n) / float64(len(bs))
	}
	trend := 2 * (rate(engaged[len(engaged)-3:]) - rate(engaged))
	return math.Max(-1, math.Min(1, trend))
}

func meanDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}
