package prefetch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tastedeck/prefetch-engine/prefetch/trace"
)

func TestDefaultConfig_Validates(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestParseConfig_OverlaysDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
budget:
  daily: 2.5
  photo_ratio: 0.5
  details_ratio: 0.5
thresholds:
  details:
    min_confidence: 0.7
    min_score: 65
request_timeout: 3s
trace_level: decisions
`))
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.Budget.Daily)
	assert.Equal(t, 100.0, cfg.Budget.Monthly, "unset keys keep defaults")
	assert.Equal(t, 0.7, cfg.Thresholds.Details.MinConfidence)
	assert.Equal(t, 0.85, cfg.Thresholds.Photos.MinConfidence)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, trace.TraceLevelDecisions, cfg.TraceLevel)
	assert.Equal(t, 3, cfg.MaxConcurrentRequests)
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_RejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("budget:\n  dayly: 3\n"))
	assert.Error(t, err)
}

func TestParseConfig_EmptyIsDefault(t *testing.T) {
	cfg, err := ParseConfig([]byte("  \n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent_requests: 6\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.MaxConcurrentRequests)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestResolveConfig_ReplacesOnlyInvalidSections(t *testing.T) {
	// GIVEN a config with one bad section and one customized valid section
	cfg := DefaultConfig()
	cfg.Costs.Photos = -1
	cfg.Thresholds.PositionWindow = 7
	cfg.TraceLevel = "verbose"

	// WHEN resolved
	got := ResolveConfig(cfg)

	// THEN bad sections are defaulted and good ones survive
	assert.Equal(t, DefaultCostModel(), got.Costs)
	assert.Equal(t, 7, got.Thresholds.PositionWindow)
	assert.Equal(t, trace.TraceLevelNone, got.TraceLevel)
	assert.NoError(t, got.Validate())
}

func TestConfig_ValidateRejects(t *testing.T) {
	mutations := map[string]func(*Config){
		"zero workers":       func(c *Config) { c.MaxConcurrentRequests = 0 },
		"zero timeout":       func(c *Config) { c.RequestTimeout = 0 },
		"zero photo width":   func(c *Config) { c.PhotoMaxWidth = 0 },
		"unknown trace":      func(c *Config) { c.TraceLevel = "all" },
		"negative cost":      func(c *Config) { c.Costs.Details = -0.1 },
		"zero weights":       func(c *Config) { c.Scoring = ScoringWeights{} },
		"monthly below cap":  func(c *Config) { c.Budget.Monthly = 1 },
		"bad threshold":      func(c *Config) { c.Thresholds.Photos.MinConfidence = 1.5 },
		"reserve over daily": func(c *Config) { c.Budget.MinimumReserve = 10 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigUpdate_Apply(t *testing.T) {
	base := DefaultConfig()

	photo, details := 0.3, 0.7
	timeout := 2 * time.Second
	dims := [2]int{800, 600}
	got, err := ConfigUpdate{
		PhotoRatio:         &photo,
		DetailsRatio:       &details,
		RequestTimeout:     &timeout,
		PhotoMaxDimensions: &dims,
	}.Apply(base)
	require.NoError(t, err)
	assert.Equal(t, 0.3, got.Budget.PhotoRatio)
	assert.Equal(t, 0.7, got.Budget.DetailsRatio)
	assert.Equal(t, timeout, got.RequestTimeout)
	assert.Equal(t, 800, got.PhotoMaxWidth)
	assert.Equal(t, 600, got.PhotoMaxHeight)
	assert.Equal(t, DefaultConfig(), base, "input is not modified")

	monthly := 1.0
	unchanged, err := ConfigUpdate{MonthlyBudget: &monthly}.Apply(base)
	assert.Error(t, err)
	assert.Equal(t, base, unchanged)
}
