package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBudgetStatus_FlagsDeriveFromCounters(t *testing.T) {
	cfg := DefaultConfig() // daily 5, monthly 100, 60/40 split

	tests := []struct {
		name          string
		spend         Spend
		wantLow       bool
		wantEmergency bool
		wantExceeded  bool
	}{
		{name: "untouched", spend: Spend{}},
		{
			name:    "below low-budget line",
			spend:   Spend{DailyPhotos: 2.5, DailyDetails: 1.5, MonthlyPhotos: 2.5, MonthlyDetails: 1.5},
			wantLow: true,
		},
		{
			name:          "inside reserve",
			spend:         Spend{DailyPhotos: 3.0, DailyDetails: 1.96, MonthlyPhotos: 3.0, MonthlyDetails: 1.96},
			wantLow:       true,
			wantEmergency: true,
		},
		{
			name:          "daily cap blown",
			spend:         Spend{DailyPhotos: 4, DailyDetails: 4, MonthlyPhotos: 4, MonthlyDetails: 4},
			wantLow:       true,
			wantEmergency: true,
			wantExceeded:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewBudgetStatus(cfg, tt.spend)
			assert.Equal(t, tt.wantLow, st.IsLowBudget, "IsLowBudget")
			assert.Equal(t, tt.wantEmergency, st.IsEmergencyMode, "IsEmergencyMode")
			assert.Equal(t, tt.wantExceeded, st.BudgetExceeded, "BudgetExceeded")
		})
	}
}

func TestNewBudgetStatus_SplitsCapsByRatio(t *testing.T) {
	cfg := DefaultConfig()
	st := NewBudgetStatus(cfg, Spend{})
	assert.InDelta(t, 3.0, st.Photos.Daily, 1e-12)
	assert.InDelta(t, 2.0, st.Details.Daily, 1e-12)
	assert.InDelta(t, 60.0, st.Photos.Monthly, 1e-12)
	assert.InDelta(t, 40.0, st.Details.Monthly, 1e-12)
}

func TestNewBudgetStatus_ClampsGarbageCounters(t *testing.T) {
	st := NewBudgetStatus(DefaultConfig(), Spend{DailyPhotos: -3, DailyDetails: math.NaN()})
	assert.InDelta(t, 3.0, st.Photos.RemainingDaily, 1e-12)
	assert.InDelta(t, 2.0, st.Details.RemainingDaily, 1e-12)
}

func TestDepletedStatus_HasNoHeadroom(t *testing.T) {
	st := DepletedStatus(DefaultConfig(), 0.4)
	assert.True(t, st.Degraded)
	assert.True(t, st.BudgetExceeded)
	assert.Equal(t, 0.0, st.Photos.Available())
	assert.Equal(t, 0.0, st.Details.Available())
	assert.InDelta(t, 0.4, st.CurrentSpend.Session, 1e-12)
}

func TestSubBudget_RemainingRatio(t *testing.T) {
	s := newSubBudget(2, 40, 1.5, 2)
	// daily 25% left, monthly 95% left: the tighter one wins
	assert.InDelta(t, 0.25, s.RemainingRatio(), 1e-12)
	assert.Equal(t, 0.0, newSubBudget(0, 0, 0, 0).RemainingRatio())
}

func TestConfig_Ratios(t *testing.T) {
	c := Config{PhotoRatio: 9, DetailsRatio: 1}
	p, d := c.Ratios()
	assert.InDelta(t, 0.9, p, 1e-12)
	assert.InDelta(t, 0.1, d, 1e-12)

	p, d = Config{}.Ratios()
	assert.Equal(t, 0.5, p)
	assert.Equal(t, 0.5, d)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	mutations := map[string]func(*Config){
		"zero daily":        func(c *Config) { c.Daily = 0 },
		"nan monthly":       func(c *Config) { c.Monthly = math.NaN() },
		"monthly < daily":   func(c *Config) { c.Monthly = 1 },
		"negative ratio":    func(c *Config) { c.PhotoRatio = -1 },
		"zero ratios":       func(c *Config) { c.PhotoRatio, c.DetailsRatio = 0, 0 },
		"reserve too big":   func(c *Config) { c.MinimumReserve = 10 },
		"emergency > 1":     func(c *Config) { c.EmergencyThreshold = 1.5 },
		"negative low line": func(c *Config) { c.LowBudgetThreshold = -0.1 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
