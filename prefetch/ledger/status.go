package ledger

import "math"

// Resource identifies one of the two metered resource pools.
type Resource string

const (
	// ResourceDetails is a place-details lookup.
	ResourceDetails Resource = "details"
	// ResourcePhotos is a photo fetch.
	ResourcePhotos Resource = "photos"
)

// Resources lists every resource pool in dispatch order (photos first).
var Resources = []Resource{ResourcePhotos, ResourceDetails}

// IsValid reports whether r names a known resource pool.
func (r Resource) IsValid() bool {
	return r == ResourceDetails || r == ResourcePhotos
}

// SubBudget is the ledger for a single resource pool.
// Remaining values are always derived: Remaining = max(0, budget - spent).
type SubBudget struct {
	Daily            float64 `json:"daily" yaml:"daily"`
	Monthly          float64 `json:"monthly" yaml:"monthly"`
	SpentToday       float64 `json:"spent_today" yaml:"spent_today"`
	SpentThisMonth   float64 `json:"spent_this_month" yaml:"spent_this_month"`
	RemainingDaily   float64 `json:"remaining_daily" yaml:"remaining_daily"`
	RemainingMonthly float64 `json:"remaining_monthly" yaml:"remaining_monthly"`
}

func newSubBudget(daily, monthly, spentToday, spentMonth float64) SubBudget {
	return SubBudget{
		Daily:            daily,
		Monthly:          monthly,
		SpentToday:       spentToday,
		SpentThisMonth:   spentMonth,
		RemainingDaily:   math.Max(0, daily-spentToday),
		RemainingMonthly: math.Max(0, monthly-spentMonth),
	}
}

// Available returns the tighter of the daily and monthly remaining amounts.
func (s SubBudget) Available() float64 {
	return math.Min(s.RemainingDaily, s.RemainingMonthly)
}

// RemainingRatio returns min(remainingDaily/daily, remainingMonthly/monthly).
// A zero or negative budget has no headroom and returns 0.
func (s SubBudget) RemainingRatio() float64 {
	return remainingRatio(s.Daily, s.RemainingDaily, s.Monthly, s.RemainingMonthly)
}

func remainingRatio(daily, remDaily, monthly, remMonthly float64) float64 {
	if daily <= 0 || monthly <= 0 {
		return 0
	}
	r := math.Min(remDaily/daily, remMonthly/monthly)
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	return math.Min(r, 1)
}

// CurrentSpend aggregates spend across pools. Photos and Details are today's spend.
type CurrentSpend struct {
	Daily   float64 `json:"daily" yaml:"daily"`
	Monthly float64 `json:"monthly" yaml:"monthly"`
	Session float64 `json:"session" yaml:"session"`
	Photos  float64 `json:"photos" yaml:"photos"`
	Details float64 `json:"details" yaml:"details"`
}

// Spend is the raw counter state a BudgetStatus is derived from.
type Spend struct {
	DailyPhotos    float64
	DailyDetails   float64
	MonthlyPhotos  float64
	MonthlyDetails float64
	Session        float64
}

// BudgetStatus is a point-in-time view of both sub-ledgers.
// Flags are pure functions of the numeric fields; build values with NewBudgetStatus.
type BudgetStatus struct {
	Photos             SubBudget    `json:"photos" yaml:"photos"`
	Details            SubBudget    `json:"details" yaml:"details"`
	DailyBudget        float64      `json:"daily_budget" yaml:"daily_budget"`
	MonthlyBudget      float64      `json:"monthly_budget" yaml:"monthly_budget"`
	CurrentSpend       CurrentSpend `json:"current_spend" yaml:"current_spend"`
	MinimumReserve     float64      `json:"minimum_reserve" yaml:"minimum_reserve"`
	EmergencyThreshold float64      `json:"emergency_threshold" yaml:"emergency_threshold"`

	IsLowBudget     bool `json:"is_low_budget" yaml:"is_low_budget"`
	IsEmergencyMode bool `json:"is_emergency_mode" yaml:"is_emergency_mode"`
	BudgetExceeded  bool `json:"budget_exceeded" yaml:"budget_exceeded"`

	// Degraded is set when the status is a conservative stand-in because the
	// backing store could not be read or written.
	Degraded bool `json:"degraded" yaml:"degraded"`
}

// NewBudgetStatus derives a BudgetStatus from configuration and spend counters.
// Negative or NaN counters are treated as zero.
func NewBudgetStatus(cfg Config, spend Spend) BudgetStatus {
	photoRatio, detailsRatio := cfg.Ratios()
	dp, dd := nonNegative(spend.DailyPhotos), nonNegative(spend.DailyDetails)
	mp, md := nonNegative(spend.MonthlyPhotos), nonNegative(spend.MonthlyDetails)

	st := BudgetStatus{
		Photos:             newSubBudget(cfg.Daily*photoRatio, cfg.Monthly*photoRatio, dp, mp),
		Details:            newSubBudget(cfg.Daily*detailsRatio, cfg.Monthly*detailsRatio, dd, md),
		DailyBudget:        cfg.Daily,
		MonthlyBudget:      cfg.Monthly,
		MinimumReserve:     cfg.MinimumReserve,
		EmergencyThreshold: cfg.EmergencyThreshold,
		CurrentSpend: CurrentSpend{
			Daily:   dp + dd,
			Monthly: mp + md,
			Session: nonNegative(spend.Session),
			Photos:  dp,
			Details: dd,
		},
	}

	remDaily := math.Max(0, st.DailyBudget-st.CurrentSpend.Daily)
	remMonthly := math.Max(0, st.MonthlyBudget-st.CurrentSpend.Monthly)
	ratio := remainingRatio(st.DailyBudget, remDaily, st.MonthlyBudget, remMonthly)

	st.BudgetExceeded = st.CurrentSpend.Daily >= st.DailyBudget || st.CurrentSpend.Monthly >= st.MonthlyBudget
	st.IsLowBudget = ratio < cfg.LowBudgetThreshold
	st.IsEmergencyMode = st.BudgetExceeded || ratio < cfg.EmergencyThreshold ||
		math.Min(remDaily, remMonthly) <= st.MinimumReserve
	return st
}

// DepletedStatus is the conservative status used when spend is unknown:
// every pool is treated as fully spent.
func DepletedStatus(cfg Config, session float64) BudgetStatus {
	photoRatio, detailsRatio := cfg.Ratios()
	st := NewBudgetStatus(cfg, Spend{
		DailyPhotos:    cfg.Daily * photoRatio,
		DailyDetails:   cfg.Daily * detailsRatio,
		MonthlyPhotos:  cfg.Monthly * photoRatio,
		MonthlyDetails: cfg.Monthly * detailsRatio,
		Session:        session,
	})
	st.Degraded = true
	return st
}

// Sub returns the sub-ledger for a resource. Unknown resources get an empty ledger.
func (b BudgetStatus) Sub(r Resource) SubBudget {
	switch r {
	case ResourcePhotos:
		return b.Photos
	case ResourceDetails:
		return b.Details
	default:
		return SubBudget{}
	}
}

// RemainingDaily is the aggregate daily headroom across both pools.
func (b BudgetStatus) RemainingDaily() float64 {
	return b.Photos.RemainingDaily + b.Details.RemainingDaily
}

// RemainingMonthly is the aggregate monthly headroom across both pools.
func (b BudgetStatus) RemainingMonthly() float64 {
	return b.Photos.RemainingMonthly + b.Details.RemainingMonthly
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
