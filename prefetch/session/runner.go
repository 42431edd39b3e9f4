package session

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tastedeck/prefetch-engine/prefetch"
	"github.com/tastedeck/prefetch-engine/prefetch/ledger"
	"github.com/tastedeck/prefetch-engine/prefetch/trace"
)

// Clock is a manually advanced clock shared by the tracker and engine
// during a simulation. Safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock reading start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// RunnerConfig controls simulated user behavior.
type RunnerConfig struct {
	Seed          int64         `yaml:"seed"`
	Sessions      int           `yaml:"sessions"`
	Deck          DeckConfig    `yaml:"deck"`
	DetailRate    float64       `yaml:"detail_rate"` // chance a viewed card's details are opened
	LikeRate      float64       `yaml:"like_rate"`
	QuitRate      float64       `yaml:"quit_rate"` // chance the user stops after each card
	SwipeInterval time.Duration `yaml:"swipe_interval"`
	Cuisines      []string      `yaml:"cuisines"` // active cuisine filter
}

// DefaultRunnerConfig returns a short, moderately engaged user.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Seed:          42,
		Sessions:      5,
		Deck:          DefaultDeckConfig(),
		DetailRate:    0.2,
		LikeRate:      0.3,
		QuitRate:      0.05,
		SwipeInterval: 4 * time.Second,
	}
}

// Validate checks the config for values the runner cannot simulate.
func (c RunnerConfig) Validate() error {
	if c.Sessions <= 0 {
		return fmt.Errorf("sessions must be positive, got %d", c.Sessions)
	}
	if c.Deck.Size <= 0 {
		return fmt.Errorf("deck size must be positive, got %d", c.Deck.Size)
	}
	for name, v := range map[string]float64{
		"detail_rate":              c.DetailRate,
		"like_rate":                c.LikeRate,
		"quit_rate":                c.QuitRate,
		"deck.photo_rate":          c.Deck.PhotoRate,
		"deck.missing_rating_rate": c.Deck.MissingRatingRate,
		"deck.open_rate":           c.Deck.OpenRate,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.SwipeInterval <= 0 {
		return fmt.Errorf("swipe_interval must be positive, got %v", c.SwipeInterval)
	}
	return nil
}

// Report summarizes a simulation run.
type Report struct {
	Sessions          int
	CardsViewed       int
	DetailOpens       int
	Likes             int
	PhotoHits         int // views whose photo was already prefetched
	PhotoMisses       int
	DetailHits        int // detail opens already prefetched
	DetailMisses      int
	ImmediateFailures int

	Metrics prefetch.MetricsSnapshot
	Budget  ledger.BudgetStatus
	Trace   *trace.TraceSummary
}

// PhotoHitRate returns the fraction of photo views served from prefetch.
func (r Report) PhotoHitRate() float64 {
	return ratio(r.PhotoHits, r.PhotoHits+r.PhotoMisses)
}

// DetailHitRate returns the fraction of detail opens served from prefetch.
func (r Report) DetailHitRate() float64 {
	return ratio(r.DetailHits, r.DetailHits+r.DetailMisses)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Print writes the report in human-readable form.
func (r Report) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Report ===")
	fmt.Fprintf(w, "Sessions             : %d\n", r.Sessions)
	fmt.Fprintf(w, "Cards Viewed         : %d\n", r.CardsViewed)
	fmt.Fprintf(w, "Detail Opens         : %d\n", r.DetailOpens)
	fmt.Fprintf(w, "Likes                : %d\n", r.Likes)
	fmt.Fprintf(w, "Photo Hit Rate       : %.2f%% (%d/%d)\n", 100*r.PhotoHitRate(), r.PhotoHits, r.PhotoHits+r.PhotoMisses)
	fmt.Fprintf(w, "Detail Hit Rate      : %.2f%% (%d/%d)\n", 100*r.DetailHitRate(), r.DetailHits, r.DetailHits+r.DetailMisses)
	fmt.Fprintf(w, "Immediate Failures   : %d\n", r.ImmediateFailures)
	fmt.Fprintf(w, "Daily Spend          : $%.4f of $%.2f\n", r.Budget.CurrentSpend.Daily, r.Budget.DailyBudget)
	r.Metrics.Print(w)
	if r.Trace != nil && r.Trace.TotalCycles > 0 {
		fmt.Fprintln(w, "=== Trace Summary ===")
		fmt.Fprintf(w, "Cycles               : %d (short-circuited %d, skipped %d)\n",
			r.Trace.TotalCycles, r.Trace.ShortCircuited, r.Trace.Skipped)
		fmt.Fprintf(w, "Mean Eligible        : %.2f\n", r.Trace.MeanEligible)
		fmt.Fprintf(w, "Fetch Success Rate   : %.2f%%\n", 100*r.Trace.SuccessRate)
	}
}

// Runner drives an engine through simulated swipe sessions. Each card is
// preceded by a trigger cycle whose fetches finish before the user reaches
// the card, so runs are reproducible for a fixed seed.
type Runner struct {
	engine  *prefetch.Engine
	tracker *Tracker
	clock   *Clock
	cfg     RunnerConfig
	rng     *PartitionedRNG
}

// NewRunner creates a runner. The tracker and engine should read clock.
func NewRunner(engine *prefetch.Engine, tracker *Tracker, clock *Clock, cfg RunnerConfig) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runner config: %w", err)
	}
	return &Runner{
		engine:  engine,
		tracker: tracker,
		clock:   clock,
		cfg:     cfg,
		rng:     NewPartitionedRNG(cfg.Seed),
	}, nil
}

// Run simulates cfg.Sessions sessions and reports the outcome. A canceled
// ctx stops the run after the current card.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	var rep Report
	deckRNG := r.rng.ForStream(StreamDeck)
	userRNG := r.rng.ForStream(StreamUser)
	prefs := prefetch.UserPreferences{Cuisines: r.cfg.Cuisines}

	for s := 0; s < r.cfg.Sessions; s++ {
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, rep), err
		}
		deck := newDeckCache(GenerateDeck(deckRNG, fmt.Sprintf("s%02d", s), r.cfg.Deck))
		id := r.engine.AddEventListener(prefetch.ListenerFunc(deck.onEvent))

		r.tracker.StartSession(deck.len())
		err := r.runSession(ctx, userRNG, deck, prefs, &rep)
		r.engine.Wait()
		r.tracker.EndSession()
		r.engine.RemoveEventListener(id)
		rep.Sessions++

		logrus.WithFields(logrus.Fields{
			"session": s,
			"viewed":  rep.CardsViewed,
		}).Debug("simulated session finished")
		if err != nil {
			return r.finish(ctx, rep), err
		}
	}
	return r.finish(ctx, rep), nil
}

func (r *Runner) runSession(ctx context.Context, rng *rand.Rand, deck *deckCache, prefs prefetch.UserPreferences, rep *Report) error {
	for cursor := 0; cursor < deck.len(); cursor++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.engine.Trigger(ctx, deck.snapshot(), cursor, prefs); err != nil {
			return fmt.Errorf("trigger at %d: %w", cursor, err)
		}
		r.engine.Wait()

		// jitter the swipe between 0.5x and 1.5x the configured interval
		r.clock.Advance(time.Duration(float64(r.cfg.SwipeInterval) * (0.5 + rng.Float64())))
		card := deck.card(cursor)
		rep.CardsViewed++
		if len(card.PhotoRefs) > 0 {
			if card.HasCachedPhotos {
				rep.PhotoHits++
			} else {
				rep.PhotoMisses++
				r.immediate(ctx, card, prefetch.ResourcePhotos, rep)
			}
		}
		r.tracker.RecordView(card)

		if rng.Float64() < r.cfg.DetailRate {
			rep.DetailOpens++
			if card.HasCachedDetails {
				rep.DetailHits++
			} else {
				rep.DetailMisses++
				r.immediate(ctx, card, prefetch.ResourceDetails, rep)
			}
			r.tracker.RecordDetailView(card)
		}
		if rng.Float64() < r.cfg.LikeRate {
			rep.Likes++
			r.tracker.RecordLike(card)
		}
		if rng.Float64() < r.cfg.QuitRate {
			return nil
		}
	}
	return nil
}

func (r *Runner) immediate(ctx context.Context, card prefetch.Card, res prefetch.ResourceType, rep *Report) {
	if _, err := r.engine.RequestImmediateFetch(ctx, card, res); err != nil {
		rep.ImmediateFailures++
		logrus.WithFields(logrus.Fields{
			"card":     card.ID,
			"resource": res,
		}).Debugf("immediate fetch failed: %v", err)
	}
}

func (r *Runner) finish(ctx context.Context, rep Report) Report {
	rep.Metrics = r.engine.Metrics()
	rep.Budget = r.engine.BudgetStatus(ctx)
	rep.Trace = trace.Summarize(r.engine.Trace())
	return rep
}

// deckCache is the client-side deck: completed fetches flip the card's
// cached flags so later cycles skip them.
type deckCache struct {
	mu    sync.Mutex
	cards []prefetch.Card
	index map[string]int
}

func newDeckCache(cards []prefetch.Card) *deckCache {
	d := &deckCache{cards: cards, index: make(map[string]int, len(cards))}
	for i, c := range cards {
		d.index[c.ID] = i
	}
	return d
}

func (d *deckCache) onEvent(ev prefetch.PrefetchEvent) {
	if ev.Type != prefetch.EventPrefetchCompleted || !ev.Success {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.index[ev.CardID]
	if !ok {
		return
	}
	switch ev.Resource {
	case prefetch.ResourceDetails:
		d.cards[i].HasCachedDetails = true
	case prefetch.ResourcePhotos:
		d.cards[i].HasCachedPhotos = true
	}
}

func (d *deckCache) len() int {
	return len(d.cards)
}

func (d *deckCache) card(i int) prefetch.Card {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cards[i]
}

func (d *deckCache) snapshot() []prefetch.Card {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]prefetch.Card(nil), d.cards...)
}
