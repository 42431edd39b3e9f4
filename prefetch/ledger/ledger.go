// Package ledger keeps the persisted spend counters that back budget checks.
//
// Counters are kept per calendar day and month, split by resource pool, and are
// written through a Store after every mutation. When the store misbehaves the
// ledger reports a fully depleted status instead of failing its callers.
package ledger

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is the key-value persistence the ledger writes through.
// GetItem returns ok=false for a missing key.
type Store interface {
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
	SetItem(ctx context.Context, key, value string) error
}

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// counters is the in-memory copy of one day's and one month's persisted spend.
type counters struct {
	day   string
	month string

	dailyPhotos    float64
	dailyDetails   float64
	monthlyPhotos  float64
	monthlyDetails float64
}

func (c *counters) add(r Resource, cost float64) {
	switch r {
	case ResourcePhotos:
		c.dailyPhotos += cost
		c.monthlyPhotos += cost
	case ResourceDetails:
		c.dailyDetails += cost
		c.monthlyDetails += cost
	}
}

func (c *counters) addMonthly(r Resource, cost float64) {
	switch r {
	case ResourcePhotos:
		c.monthlyPhotos += cost
	case ResourceDetails:
		c.monthlyDetails += cost
	}
}

func (c *counters) spend(session float64) Spend {
	return Spend{
		DailyPhotos:    c.dailyPhotos,
		DailyDetails:   c.dailyDetails,
		MonthlyPhotos:  c.monthlyPhotos,
		MonthlyDetails: c.monthlyDetails,
		Session:        session,
	}
}

// Ledger serializes every read-modify-write of the spend counters.
// Safe for concurrent use.
type Ledger struct {
	mu    sync.Mutex
	cfg   Config
	store Store
	now   func() time.Time

	loaded   bool
	c        counters
	session  float64
	degraded bool

	// pending holds spend recorded while the current period could not be loaded,
	// keyed by the period it was spent in. It is folded back on the next
	// successful load.
	pending map[pendingSpend]float64
}

type pendingSpend struct {
	resource Resource
	day      string
	month    string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock used to pick the calendar period.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger over store. Nothing is read until the first call that
// needs the counters.
func New(cfg Config, store Store, opts ...Option) *Ledger {
	l := &Ledger{
		cfg:     cfg,
		store:   store,
		now:     time.Now,
		pending: make(map[pendingSpend]float64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the budget configuration in effect.
func (l *Ledger) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// SetConfig replaces the budget caps and split. Counters are unaffected.
func (l *Ledger) SetConfig(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
}

// Load reads the counters for the current calendar period from the store.
func (l *Ledger) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = false
	return l.ensurePeriod(ctx)
}

// Status returns the current budget status. A store failure yields the
// depleted fallback with Degraded set; it is never returned as an error.
func (l *Ledger) Status(ctx context.Context) BudgetStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensurePeriod(ctx); err != nil {
		logrus.WithError(err).Warn("budget ledger unavailable; assuming depleted budget")
		return DepletedStatus(l.cfg, l.session)
	}
	if l.degraded {
		if err := l.foldPending(ctx); err != nil {
			logrus.WithError(err).Warn("budget ledger still failing to persist; assuming depleted budget")
			return DepletedStatus(l.cfg, l.session)
		}
		l.degraded = false
	}
	return NewBudgetStatus(l.cfg, l.c.spend(l.session))
}

// Record adds cost to the resource's counters and persists them.
// Negative and NaN costs are clamped to zero. On a store failure the spend is
// kept in memory, the returned status is the depleted fallback and the error
// is returned for logging.
func (l *Ledger) Record(ctx context.Context, r Resource, cost float64) (BudgetStatus, error) {
	if !r.IsValid() {
		return BudgetStatus{}, fmt.Errorf("record spend: unknown resource %q", r)
	}
	cost = nonNegative(cost)
	if math.IsInf(cost, 0) {
		cost = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.session += cost
	if err := l.ensurePeriod(ctx); err != nil {
		now := l.now()
		l.pending[pendingSpend{resource: r, day: now.Format(dayLayout), month: now.Format(monthLayout)}] += cost
		return DepletedStatus(l.cfg, l.session), fmt.Errorf("record spend: %w", err)
	}
	l.c.add(r, cost)
	if err := l.persist(ctx, r); err != nil {
		l.degraded = true
		return DepletedStatus(l.cfg, l.session), fmt.Errorf("record spend: %w", err)
	}
	return NewBudgetStatus(l.cfg, l.c.spend(l.session)), nil
}

// ResetSession zeroes the per-session spend counter.
func (l *Ledger) ResetSession() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session = 0
}

// Reset zeroes today's counters and subtracts them from the month.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensurePeriod(ctx); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	l.c.monthlyPhotos = math.Max(0, l.c.monthlyPhotos-l.c.dailyPhotos)
	l.c.monthlyDetails = math.Max(0, l.c.monthlyDetails-l.c.dailyDetails)
	l.c.dailyPhotos, l.c.dailyDetails = 0, 0
	l.session = 0
	if err := l.flush(ctx); err != nil {
		l.degraded = true
		return fmt.Errorf("reset ledger: %w", err)
	}
	l.degraded = false
	return nil
}

// ensurePeriod (re)loads counters when nothing is loaded or the calendar day
// has rolled over. Caller holds l.mu.
func (l *Ledger) ensurePeriod(ctx context.Context) error {
	now := l.now()
	day, month := now.Format(dayLayout), now.Format(monthLayout)
	if l.loaded && l.c.day == day {
		return nil
	}

	next := counters{day: day, month: month}
	var err error
	if next.dailyPhotos, err = l.readFloat(ctx, DailyResourceKey(l.cfg.KeyPrefix, ResourcePhotos, day)); err != nil {
		return err
	}
	if next.dailyDetails, err = l.readFloat(ctx, DailyResourceKey(l.cfg.KeyPrefix, ResourceDetails, day)); err != nil {
		return err
	}
	if next.monthlyPhotos, err = l.readFloat(ctx, MonthlyResourceKey(l.cfg.KeyPrefix, ResourcePhotos, month)); err != nil {
		return err
	}
	if next.monthlyDetails, err = l.readFloat(ctx, MonthlyResourceKey(l.cfg.KeyPrefix, ResourceDetails, month)); err != nil {
		return err
	}
	l.c = next
	l.loaded = true

	if len(l.pending) > 0 {
		if err := l.foldPending(ctx); err != nil {
			l.degraded = true
			logrus.WithError(err).Warn("budget ledger failed to persist recovered spend")
		}
	}
	return nil
}

// foldPending moves outage spend into the period it was spent in, then
// flushes the loaded counters. Spend from today goes to the loaded counters.
// Spend from an earlier day is added to that day's stored keys, and to the
// loaded month or the earlier month's stored keys. An entry stays pending
// until all of its writes succeed; a partial failure can only overstate
// spend. Caller holds l.mu with the current period loaded.
func (l *Ledger) foldPending(ctx context.Context) error {
	p := l.cfg.KeyPrefix
	for ps, cost := range l.pending {
		if ps.day == l.c.day {
			l.c.add(ps.resource, cost)
			delete(l.pending, ps)
			continue
		}
		keys := []string{DailyKey(p, ps.day), DailyResourceKey(p, ps.resource, ps.day)}
		sameMonth := ps.month == l.c.month
		if !sameMonth {
			keys = append(keys, MonthlyKey(p, ps.month), MonthlyResourceKey(p, ps.resource, ps.month))
		}
		for _, key := range keys {
			if err := l.addStored(ctx, key, cost); err != nil {
				return err
			}
		}
		if sameMonth {
			l.c.addMonthly(ps.resource, cost)
		}
		delete(l.pending, ps)
	}
	return l.flush(ctx)
}

// addStored adds cost to the counter stored at key.
func (l *Ledger) addStored(ctx context.Context, key string, cost float64) error {
	v, err := l.readFloat(ctx, key)
	if err != nil {
		return err
	}
	if err := l.store.SetItem(ctx, key, formatFloat(v+cost)); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (l *Ledger) readFloat(ctx context.Context, key string) (float64, error) {
	raw, ok, err := l.store.GetItem(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", key, err)
	}
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", key, raw, err)
	}
	return nonNegative(v), nil
}

type counterWrite struct {
	key string
	val float64
}

// persist writes the aggregate keys and the keys of one resource.
func (l *Ledger) persist(ctx context.Context, r Resource) error {
	p := l.cfg.KeyPrefix
	writes := []counterWrite{
		{DailyKey(p, l.c.day), l.c.dailyPhotos + l.c.dailyDetails},
		{MonthlyKey(p, l.c.month), l.c.monthlyPhotos + l.c.monthlyDetails},
	}
	switch r {
	case ResourcePhotos:
		writes = append(writes,
			counterWrite{DailyResourceKey(p, r, l.c.day), l.c.dailyPhotos},
			counterWrite{MonthlyResourceKey(p, r, l.c.month), l.c.monthlyPhotos})
	case ResourceDetails:
		writes = append(writes,
			counterWrite{DailyResourceKey(p, r, l.c.day), l.c.dailyDetails},
			counterWrite{MonthlyResourceKey(p, r, l.c.month), l.c.monthlyDetails})
	}
	for _, w := range writes {
		if err := l.store.SetItem(ctx, w.key, formatFloat(w.val)); err != nil {
			return fmt.Errorf("writing %s: %w", w.key, err)
		}
	}
	return nil
}

// flush writes every counter for the current period.
func (l *Ledger) flush(ctx context.Context) error {
	for _, r := range Resources {
		if err := l.persist(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
