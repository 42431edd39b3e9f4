package prefetch

import (
	"fmt"
	"math"
	"sort"

	"github.com/tastedeck/prefetch-engine/prefetch/ledger"
)

// costEpsilon absorbs float rounding when a candidate exactly fills the budget.
const costEpsilon = 1e-12

// CostModel is the fixed unit price of each resource (USD) and the assumed
// value of a view that was served from prefetched data.
type CostModel struct {
	Details          float64 `yaml:"details"`
	Photos           float64 `yaml:"photos"`
	AssumedViewValue float64 `yaml:"assumed_view_value"`
}

// DefaultCostModel returns the published per-call prices.
func DefaultCostModel() CostModel {
	return CostModel{
		Details:          0.0017,
		Photos:           0.007,
		AssumedViewValue: 0.05,
	}
}

// Validate checks that every price is finite and non-negative.
func (m CostModel) Validate() error {
	for name, v := range map[string]float64{
		"costs.details":            m.Details,
		"costs.photos":             m.Photos,
		"costs.assumed_view_value": m.AssumedViewValue,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%s must be a finite non-negative number, got %v", name, v)
		}
	}
	return nil
}

// CostEstimate is the price of fetching one resource for one card.
type CostEstimate struct {
	Resource   ResourceType
	Cost       float64
	Confidence float64 // pricing is fixed, so this is a constant near 1
}

// EngagementHistory is the historical probability that a prefetched
// resource gets used: detail-open rate for details, view-through rate for photos.
type EngagementHistory struct {
	Details float64
	Photos  float64
}

// Cold-start engagement rates.
const (
	defaultDetailsEngagement = 0.3
	defaultPhotosEngagement  = 0.5
)

// EngagementFromMetrics derives engagement rates from tracker history.
// Users without history get conservative cold-start rates.
func EngagementFromMetrics(m UserBehaviorMetrics) EngagementHistory {
	e := EngagementHistory{Details: defaultDetailsEngagement, Photos: defaultPhotosEngagement}
	if m.TotalCardsViewed == 0 {
		return e
	}
	if m.DetailViewRate > 0 {
		e.Details = clampUnit(m.DetailViewRate)
	}
	if m.ViewThroughRate > 0 {
		e.Photos = clampUnit(m.ViewThroughRate)
	}
	return e
}

// For returns the engagement rate of one resource.
func (e EngagementHistory) For(r ResourceType) float64 {
	if r == ResourcePhotos {
		return e.Photos
	}
	return e.Details
}

// PrefetchCandidate is a scored card paired with a resource and its economics.
type PrefetchCandidate struct {
	Score          CardScore
	Card           Card
	Resource       ResourceType
	EstimatedCost  float64
	ExpectedValue  float64
	ValuePerDollar float64 // +Inf for free positive-EV fetches, -Inf for free non-positive ones
}

// Rejection explains why a candidate was not selected.
type Rejection struct {
	Candidate PrefetchCandidate
	Reason    string
}

// Selection is the optimizer's output: per-resource admitted lists in
// dispatch order plus everything it turned away.
type Selection struct {
	Details  []PrefetchCandidate
	Photos   []PrefetchCandidate
	Rejected []Rejection

	// Available is the spendable budget per resource the selection was made against.
	Available map[ResourceType]float64
}

// Len returns the number of admitted candidates.
func (s Selection) Len() int { return len(s.Details) + len(s.Photos) }

// Spend returns the summed estimated cost of the admitted candidates.
func (s Selection) Spend() float64 {
	total := 0.0
	for _, c := range s.Photos {
		total += c.EstimatedCost
	}
	for _, c := range s.Details {
		total += c.EstimatedCost
	}
	return total
}

// CostOptimizer turns scored candidates into a budget-respecting selection.
// It holds no mutable state; callers pass a fresh budget status per cycle.
type CostOptimizer struct {
	model CostModel
}

// NewCostOptimizer creates an optimizer over a price model.
func NewCostOptimizer(model CostModel) *CostOptimizer {
	return &CostOptimizer{model: model}
}

// EstimateCost returns the fixed price of fetching r for card.
func (o *CostOptimizer) EstimateCost(_ Card, r ResourceType) CostEstimate {
	cost := o.model.Details
	if r == ResourcePhotos {
		cost = o.model.Photos
	}
	return CostEstimate{Resource: r, Cost: cost, Confidence: 0.99}
}

// ExpectedValue returns P(view)·assumedViewValue − cost, where
// P(view) = confidence · finalScore/100 · engagement.
func (o *CostOptimizer) ExpectedValue(score CardScore, cost, engagement float64) float64 {
	pView := clampUnit(score.Confidence) * clampScore(score.FinalScore) / 100 * clampUnit(engagement)
	return pView*o.model.AssumedViewValue - cost
}

// NewCandidate prices a (card, resource) pair.
func (o *CostOptimizer) NewCandidate(card Card, score CardScore, r ResourceType, engagement EngagementHistory) PrefetchCandidate {
	cost := o.EstimateCost(card, r).Cost
	ev := o.ExpectedValue(score, cost, engagement.For(r))
	return PrefetchCandidate{
		Score:          score,
		Card:           card,
		Resource:       r,
		EstimatedCost:  cost,
		ExpectedValue:  ev,
		ValuePerDollar: valuePerDollar(ev, cost),
	}
}

func valuePerDollar(ev, cost float64) float64 {
	if cost <= 0 {
		if ev > 0 {
			return math.Inf(1)
		}
		return math.Inf(-1)
	}
	return ev / cost
}

// OptimizeSeparateQueue selects candidates for each resource independently
// against that resource's sub-ledger.
func (o *CostOptimizer) OptimizeSeparateQueue(candidates []PrefetchCandidate, status ledger.BudgetStatus) Selection {
	return o.OptimizeWithCommitted(candidates, status, nil)
}

// OptimizeWithCommitted is OptimizeSeparateQueue with spend already
// committed by in-flight work deducted from each sub-ledger first.
//
// Per resource: available = max(0, min(remainingDaily, remainingMonthly)
// − reserve share − committed). Candidates are ranked by value per dollar
// (non-positive expected value always below positive) and admitted greedily
// while the running total fits. A candidate that does not fit is rejected
// and cheaper ones after it are still considered.
func (o *CostOptimizer) OptimizeWithCommitted(candidates []PrefetchCandidate, status ledger.BudgetStatus, committed map[ResourceType]float64) Selection {
	sel := Selection{Available: make(map[ResourceType]float64, len(ledger.Resources))}
	for _, r := range ledger.Resources {
		var queue []PrefetchCandidate
		for _, c := range candidates {
			if c.Resource == r {
				queue = append(queue, c)
			}
		}
		available := availableFor(status, r, committed[r])
		sel.Available[r] = available

		rankCandidates(queue)
		running := 0.0
		var admitted []PrefetchCandidate
		for _, c := range queue {
			if running+c.EstimatedCost > available+costEpsilon {
				sel.Rejected = append(sel.Rejected, Rejection{
					Candidate: c,
					Reason:    fmt.Sprintf("insufficient %s budget: need %.4f, %.4f left", r, c.EstimatedCost, math.Max(0, available-running)),
				})
				continue
			}
			running += c.EstimatedCost
			admitted = append(admitted, c)
		}
		if r == ResourcePhotos {
			sel.Photos = admitted
		} else {
			sel.Details = admitted
		}
	}
	return sel
}

// availableFor returns the spendable amount of one sub-ledger after the
// minimum reserve (split by the resource's share) and committed spend.
func availableFor(status ledger.BudgetStatus, r ResourceType, committed float64) float64 {
	sub := status.Sub(r)
	share := 0.0
	if status.DailyBudget > 0 {
		share = sub.Daily / status.DailyBudget
	}
	reserve := status.MinimumReserve * share
	v := sub.Available() - reserve - nonNegativeFloat(committed)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// rankCandidates sorts by value per dollar, descending. Positive expected
// value always ranks above non-positive. Ties fall back to score, then
// position, then card ID for a deterministic order.
func rankCandidates(cs []PrefetchCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if pa, pb := a.ExpectedValue > 0, b.ExpectedValue > 0; pa != pb {
			return pa
		}
		if a.ValuePerDollar != b.ValuePerDollar {
			return a.ValuePerDollar > b.ValuePerDollar
		}
		if a.Score.FinalScore != b.Score.FinalScore {
			return a.Score.FinalScore > b.Score.FinalScore
		}
		if a.Score.Position != b.Score.Position {
			return a.Score.Position < b.Score.Position
		}
		return a.Card.ID < b.Card.ID
	})
}

func nonNegativeFloat(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
