package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/tastedeck/prefetch-engine/prefetch/ledger"
	"github.com/tastedeck/prefetch-engine/prefetch/trace"
)

// ErrEngineClosed is returned by operations on a closed Engine.
var ErrEngineClosed = errors.New("prefetch engine closed")

// CycleState is a phase of a trigger cycle.
type CycleState string

const (
	StateIdle      CycleState = "idle"
	StateScoring   CycleState = "scoring"
	StateFiltering CycleState = "filtering"
	StateSelecting CycleState = "selecting"
	StateExecuting CycleState = "executing"
)

// CycleReport describes one trigger cycle. FinalState is the last phase the
// cycle reached before returning to idle.
type CycleReport struct {
	CycleID    string
	FinalState CycleState
	Outcome    trace.CycleOutcome
	Reason     string

	Scored     int
	Eligible   int
	Decisions  []PrefetchDecision
	Dispatched int

	Budget     ledger.BudgetStatus
	Thresholds Thresholds // budget-adjusted
}

// Admitted returns the decisions that led to a fetch being queued.
func (r CycleReport) Admitted() []PrefetchDecision {
	var out []PrefetchDecision
	for _, d := range r.Decisions {
		if d.ShouldPrefetch {
			out = append(out, d)
		}
	}
	return out
}

// Engine decides which auxiliary data to fetch ahead of the user and spends
// the metered budget doing so. Safe for concurrent use.
type Engine struct {
	mu           sync.Mutex
	selectMu     sync.Mutex // held from budget selection through in-flight marking
	cfg          Config
	scorer       CandidateScorer
	customScorer bool
	optimizer    *CostOptimizer
	sem          *semaphore.Weighted
	paused       bool
	closed       bool
	sessionEnded bool
	generation   uint64

	ledger      *ledger.Ledger
	places      PlacesClient
	tracker     BehaviorTracker
	unsubscribe func()
	now         func() time.Time
	trace       *trace.Trace

	bus      eventBus
	inflight *inflightSet
	usage    *usageTracker
	metrics  *metrics
	wg       sync.WaitGroup
}

type engineOptions struct {
	now    func() time.Time
	scorer CandidateScorer
	trace  *trace.Trace
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithClock overrides the wall clock used for scoring, events and the
// ledger's calendar periods.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithScorer replaces the default Scorer.
func WithScorer(s CandidateScorer) Option {
	return func(o *engineOptions) { o.scorer = s }
}

// WithTrace records cycles into t instead of a trace built from Config.TraceLevel.
func WithTrace(t *trace.Trace) Option {
	return func(o *engineOptions) { o.trace = t }
}

// New creates an engine. Invalid config sections are replaced by their
// defaults with a warning. The engine subscribes to tracker events until Close.
func New(cfg Config, store ledger.Store, places PlacesClient, tracker BehaviorTracker, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("new prefetch engine: nil store")
	}
	if places == nil {
		return nil, fmt.Errorf("new prefetch engine: nil places client")
	}
	if tracker == nil {
		return nil, fmt.Errorf("new prefetch engine: nil behavior tracker")
	}
	o := engineOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	cfg = ResolveConfig(cfg)
	e := &Engine{
		cfg:       cfg,
		optimizer: NewCostOptimizer(cfg.Costs),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		ledger:    ledger.New(cfg.Budget, store, ledger.WithClock(o.now)),
		places:    places,
		tracker:   tracker,
		now:       o.now,
		trace:     o.trace,
		inflight:  newInflightSet(),
		usage:     newUsageTracker(),
		metrics:   newMetrics(),
	}
	if o.scorer != nil {
		e.scorer, e.customScorer = o.scorer, true
	} else {
		e.scorer = NewScorer(cfg.Scoring, o.now)
	}
	if e.trace == nil {
		e.trace = trace.New(cfg.TraceLevel)
	}
	e.unsubscribe = tracker.Subscribe(e.onBehaviorEvent)
	return e, nil
}

// cycleContext is the configuration snapshot a cycle runs against.
type cycleContext struct {
	id         string
	cfg        Config
	scorer     CandidateScorer
	optimizer  *CostOptimizer
	sem        *semaphore.Weighted
	generation uint64
}

// Trigger runs one decision cycle over the cards from cursor onward and
// dispatches the selected fetches in the background. It returns once
// selection is done; use Wait to block until the fetches finish.
func (e *Engine) Trigger(ctx context.Context, cards []Card, cursor int, prefs UserPreferences) (CycleReport, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return CycleReport{FinalState: StateIdle}, ErrEngineClosed
	}
	cc := cycleContext{
		id:         uuid.NewString(),
		cfg:        e.cfg,
		scorer:     e.scorer,
		optimizer:  e.optimizer,
		sem:        e.sem,
		generation: e.generation,
	}
	skip := ""
	switch {
	case e.paused:
		skip = "paused"
	case e.sessionEnded:
		skip = "session-ended"
	}
	e.mu.Unlock()

	report := CycleReport{CycleID: cc.id, FinalState: StateIdle}
	e.metrics.update(func(m *MetricsSnapshot) { m.CyclesTriggered++ })
	if skip != "" {
		e.metrics.update(func(m *MetricsSnapshot) { m.CyclesSkipped++ })
		return e.finishCycle(report, cursor, trace.OutcomeSkipped, skip), nil
	}

	report.FinalState = StateScoring
	signals := e.tracker.PredictiveSignals()
	if signals.LikelyToEndSoon && signals.ConfidenceLevel >= cc.cfg.Thresholds.SessionEndConfidence {
		e.metrics.update(func(m *MetricsSnapshot) { m.CyclesShortCircuited++ })
		return e.finishCycle(report, cursor, trace.OutcomeShortCircuited, "session likely to end"), nil
	}

	status := e.ledger.Status(ctx)
	report.Budget = status
	report.Thresholds = AdjustThresholdsForBudget(cc.cfg.Thresholds, status)
	scored := e.scoreCandidates(cc, cards, cursor, prefs)
	report.Scored = len(scored)

	report.FinalState = StateFiltering
	eligible, reasons, rejected := e.filterCandidates(cc, scored, report.Thresholds, status)
	report.Eligible = len(eligible)
	decidedAt := e.now()
	for _, r := range rejected {
		report.Decisions = append(report.Decisions, newDecision(r.Candidate, false, r.Reason, decidedAt))
	}

	report.FinalState = StateSelecting
	// Selection and marking happen under selectMu so concurrent cycles see
	// each other's reservations. Committed cost is read before the ledger:
	// a fetch finishing in between is then counted twice, never missed.
	e.selectMu.Lock()
	committed := e.inflight.committed()
	sel := cc.optimizer.OptimizeWithCommitted(eligible, e.ledger.Status(ctx), committed)
	for _, r := range sel.Rejected {
		report.Decisions = append(report.Decisions, newDecision(r.Candidate, false, ReasonInsufficientBudget, decidedAt))
		logrus.WithFields(logrus.Fields{
			"cycle":    cc.id,
			"card":     r.Candidate.Card.ID,
			"resource": r.Candidate.Resource,
		}).Debugf("prefetch rejected: %s", r.Reason)
	}

	var ops []fetchOp
	for _, c := range append(append([]PrefetchCandidate(nil), sel.Photos...), sel.Details...) {
		k := inflightKey{CardID: c.Card.ID, Resource: c.Resource}
		token, ok := e.inflight.tryMark(k, c.EstimatedCost)
		if !ok {
			report.Decisions = append(report.Decisions, newDecision(c, false, ReasonInFlight, decidedAt))
			continue
		}
		d := newDecision(c, true, reasons[k], decidedAt)
		report.Decisions = append(report.Decisions, d)
		ops = append(ops, fetchOp{key: k, token: token, candidate: c, decision: d})
	}
	e.selectMu.Unlock()

	if len(ops) > 0 {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			for _, op := range ops {
				e.inflight.unmark(op.key, op.token)
			}
			return report, ErrEngineClosed
		}
		e.wg.Add(1)
		e.mu.Unlock()

		report.FinalState = StateExecuting
		report.Dispatched = len(ops)
		go e.dispatch(context.WithoutCancel(ctx), cc, ops)
	}
	return e.finishCycle(report, cursor, trace.OutcomeExecuted, ""), nil
}

func (e *Engine) finishCycle(report CycleReport, cursor int, outcome trace.CycleOutcome, reason string) CycleReport {
	report.Outcome = outcome
	report.Reason = reason
	e.trace.RecordCycle(trace.CycleRecord{
		CycleID:    report.CycleID,
		At:         e.now(),
		Cursor:     cursor,
		Candidates: report.Scored,
		Eligible:   report.Eligible,
		Outcome:    outcome,
		Reason:     reason,
	})
	for _, d := range report.Decisions {
		e.trace.RecordAdmission(trace.AdmissionRecord{
			CycleID:       report.CycleID,
			CardID:        d.CardID,
			Resource:      string(d.Resource),
			Position:      d.Position,
			Score:         d.Score,
			Confidence:    d.Confidence,
			Cost:          d.Cost,
			ExpectedValue: d.ExpectedValue,
			Admitted:      d.ShouldPrefetch,
			Reason:        d.Reason,
		})
	}
	logrus.WithFields(logrus.Fields{
		"cycle":      report.CycleID,
		"cursor":     cursor,
		"outcome":    outcome,
		"scored":     report.Scored,
		"eligible":   report.Eligible,
		"dispatched": report.Dispatched,
	}).Info("prefetch cycle")
	return report
}

// scoredCard is a candidate scored during a cycle with the resources it
// still lacks.
type scoredCard struct {
	Candidate
	score     CardScore
	resources []ResourceType
}

// scoreCandidates scores every card within the scan window that is missing
// at least one resource. Cards with cached details are skipped entirely.
func (e *Engine) scoreCandidates(cc cycleContext, cards []Card, cursor int, prefs UserPreferences) []scoredCard {
	if cursor < 0 {
		cursor = 0
	}
	history := e.tracker.Metrics()
	sctx := SessionContext{Session: e.tracker.CurrentSession(), Now: e.now()}

	seen := make(map[string]bool)
	var out []scoredCard
	for i := cursor; i < len(cards) && i-cursor < cc.cfg.Thresholds.ScanWindow; i++ {
		card := cards[i]
		if card.ID == "" || card.HasCachedDetails || seen[card.ID] {
			continue
		}
		seen[card.ID] = true

		var resources []ResourceType
		if !card.HasCachedPhotos && len(card.PhotoRefs) > 0 {
			resources = append(resources, ResourcePhotos)
		}
		resources = append(resources, ResourceDetails)

		cand := Candidate{Card: card, Position: i - cursor}
		out = append(out, scoredCard{
			Candidate: cand,
			score:     cc.scorer.Score(cand.Card, cand.Position, history, sctx, prefs),
			resources: resources,
		})
	}
	return out
}

// filterCandidates applies the budget-adjusted gates. Admitted candidates
// carry the reason they passed; the rest are returned as rejections.
func (e *Engine) filterCandidates(cc cycleContext, scored []scoredCard, th Thresholds, status ledger.BudgetStatus) ([]PrefetchCandidate, map[inflightKey]string, []Rejection) {
	engagement := EngagementFromMetrics(e.tracker.Metrics())
	reasons := make(map[inflightKey]string)
	var eligible []PrefetchCandidate
	var rejected []Rejection
	for _, sc := range scored {
		for _, r := range sc.resources {
			c := cc.optimizer.NewCandidate(sc.Card, sc.score, r, engagement)
			k := inflightKey{CardID: sc.Card.ID, Resource: r}
			ok, reason := admitCandidate(c.Score, r, th, status.IsEmergencyMode)
			if ok && e.inflight.contains(k) {
				ok, reason = false, ReasonInFlight
			}
			if !ok {
				rejected = append(rejected, Rejection{Candidate: c, Reason: reason})
				continue
			}
			reasons[k] = reason
			eligible = append(eligible, c)
		}
	}
	return eligible, reasons, rejected
}

// admitCandidate reports whether a scored card may be fetched for r.
// Details close to the cursor are always eligible; photos never get that
// override. In emergency mode only the override remains.
func admitCandidate(score CardScore, r ResourceType, th Thresholds, emergency bool) (bool, string) {
	pos := score.Position
	if r == ResourceDetails && pos < th.AlwaysEligibleWindow {
		return true, ReasonPositionOverride
	}
	if emergency {
		return false, ReasonEmergencyMode
	}
	window := th.PositionWindow
	if r == ResourcePhotos {
		window = th.PhotoWindow
	}
	if pos >= window {
		return false, ReasonOutsideWindow
	}
	rt := th.For(r)
	if score.Confidence < rt.MinConfidence {
		return false, ReasonBelowConfidence
	}
	if score.FinalScore < rt.MinScore {
		return false, ReasonBelowScore
	}
	return true, ReasonThresholdsMet
}

// BudgetStatus returns the current ledger status.
func (e *Engine) BudgetStatus(ctx context.Context) ledger.BudgetStatus {
	return e.ledger.Status(ctx)
}

// DetailedBudget is the budget status plus the engine state that affects
// what can still be spent.
type DetailedBudget struct {
	Status     ledger.BudgetStatus
	Thresholds Thresholds // budget-adjusted
	Committed  map[ResourceType]float64
	Available  map[ResourceType]float64 // after reserve and committed spend
	InFlight   int
	WasteRate  float64
	WastedCost float64
}

// DetailedBudgetStatus returns the budget status with thresholds, in-flight
// commitments and waste figures.
func (e *Engine) DetailedBudgetStatus(ctx context.Context) DetailedBudget {
	cfg := e.Config()
	status := e.ledger.Status(ctx)
	committed := e.inflight.committed()
	available := make(map[ResourceType]float64, len(ledger.Resources))
	for _, r := range ledger.Resources {
		available[r] = availableFor(status, r, committed[r])
	}
	m := e.metrics.snapshot()
	return DetailedBudget{
		Status:     status,
		Thresholds: AdjustThresholdsForBudget(cfg.Thresholds, status),
		Committed:  committed,
		Available:  available,
		InFlight:   e.inflight.len(),
		WasteRate:  m.WasteRate(),
		WastedCost: m.WastedCost,
	}
}

// Pause stops new cycles and stops dispatchers from issuing further fetches.
// Fetches already issued complete and record their spend.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume re-enables cycles after Pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}

// IsPaused reports whether the engine is paused.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// ClearQueue abandons every fetch that has not been issued yet and drops
// all in-flight markers. Network calls already issued are not cancelled.
// It returns the number of markers dropped.
func (e *Engine) ClearQueue() int {
	e.mu.Lock()
	e.generation++
	e.mu.Unlock()
	n := e.inflight.clear()
	logrus.WithField("dropped", n).Debug("prefetch queue cleared")
	return n
}

// AddEventListener registers l and returns its ID.
func (e *Engine) AddEventListener(l Listener) ListenerID {
	return e.bus.add(l)
}

// RemoveEventListener unregisters a listener. It reports whether one was removed.
func (e *Engine) RemoveEventListener(id ListenerID) bool {
	return e.bus.remove(id)
}

// Config returns the configuration in effect.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// UpdateConfig applies a partial configuration change. Cycles already
// running keep the configuration they started with.
func (e *Engine) UpdateConfig(u ConfigUpdate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next, err := u.Apply(e.cfg)
	if err != nil {
		return err
	}
	if next.MaxConcurrentRequests != e.cfg.MaxConcurrentRequests {
		e.sem = semaphore.NewWeighted(int64(next.MaxConcurrentRequests))
	}
	if !e.customScorer {
		e.scorer = NewScorer(next.Scoring, e.now)
	}
	e.optimizer = NewCostOptimizer(next.Costs)
	e.ledger.SetConfig(next.Budget)
	e.cfg = next
	logrus.Info("prefetch config updated")
	return nil
}

// Metrics returns a snapshot of the engine counters.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.snapshot()
}

// Trace returns the decision trace. Never nil.
func (e *Engine) Trace() *trace.Trace {
	return e.trace
}

// Ledger returns the budget ledger the engine spends against.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Wait blocks until every dispatched fetch has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close unsubscribes from the tracker, waits for dispatched work and
// rejects further calls. Calling Close more than once is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	unsubscribe := e.unsubscribe
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	e.wg.Wait()
	return nil
}
