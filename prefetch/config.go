package prefetch

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/tastedeck/prefetch-engine/prefetch/ledger"
	"github.com/tastedeck/prefetch-engine/prefetch/trace"
)

// Config is the engine's process-lifetime configuration. It is loaded once
// and may be changed at runtime through Engine.UpdateConfig.
type Config struct {
	Budget     ledger.Config  `yaml:"budget"`
	Thresholds Thresholds     `yaml:"thresholds"`
	Costs      CostModel      `yaml:"costs"`
	Scoring    ScoringWeights `yaml:"scoring"`

	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
	PhotoMaxWidth         int           `yaml:"photo_max_width"`
	PhotoMaxHeight        int           `yaml:"photo_max_height"`

	TraceLevel trace.TraceLevel `yaml:"trace_level"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Budget:                ledger.DefaultConfig(),
		Thresholds:            DefaultThresholds(),
		Costs:                 DefaultCostModel(),
		Scoring:               DefaultScoringWeights(),
		MaxConcurrentRequests: 3,
		RequestTimeout:        10 * time.Second,
		PhotoMaxWidth:         400,
		PhotoMaxHeight:        400,
		TraceLevel:            trace.TraceLevelNone,
	}
}

// Validate returns the first invalid setting, or nil.
func (c Config) Validate() error {
	for _, err := range c.sectionErrors() {
		if err != nil {
			return err
		}
	}
	return nil
}

// configSection is one independently validated and defaulted part of Config.
type configSection struct {
	name     string
	validate func(Config) error
	reset    func(*Config, Config)
}

var configSections = []configSection{
	{"budget", func(c Config) error { return c.Budget.Validate() },
		func(c *Config, d Config) { c.Budget = d.Budget }},
	{"thresholds", func(c Config) error { return c.Thresholds.Validate() },
		func(c *Config, d Config) { c.Thresholds = d.Thresholds }},
	{"costs", func(c Config) error { return c.Costs.Validate() },
		func(c *Config, d Config) { c.Costs = d.Costs }},
	{"scoring", func(c Config) error { return c.Scoring.Validate() },
		func(c *Config, d Config) { c.Scoring = d.Scoring }},
	{"max_concurrent_requests", func(c Config) error {
		if c.MaxConcurrentRequests < 1 {
			return fmt.Errorf("max_concurrent_requests must be >= 1, got %d", c.MaxConcurrentRequests)
		}
		return nil
	}, func(c *Config, d Config) { c.MaxConcurrentRequests = d.MaxConcurrentRequests }},
	{"request_timeout", func(c Config) error {
		if c.RequestTimeout <= 0 {
			return fmt.Errorf("request_timeout must be positive, got %v", c.RequestTimeout)
		}
		return nil
	}, func(c *Config, d Config) { c.RequestTimeout = d.RequestTimeout }},
	{"photo_size", func(c Config) error {
		if c.PhotoMaxWidth < 1 || c.PhotoMaxHeight < 1 {
			return fmt.Errorf("photo_max_width and photo_max_height must be >= 1, got %dx%d", c.PhotoMaxWidth, c.PhotoMaxHeight)
		}
		return nil
	}, func(c *Config, d Config) { c.PhotoMaxWidth, c.PhotoMaxHeight = d.PhotoMaxWidth, d.PhotoMaxHeight }},
	{"trace_level", func(c Config) error {
		if !trace.IsValidTraceLevel(string(c.TraceLevel)) {
			return fmt.Errorf("unknown trace_level %q; valid: none, cycles, decisions", c.TraceLevel)
		}
		return nil
	}, func(c *Config, d Config) { c.TraceLevel = d.TraceLevel }},
}

func (c Config) sectionErrors() []error {
	errs := make([]error, len(configSections))
	for i, s := range configSections {
		errs[i] = s.validate(c)
	}
	return errs
}

// ResolveConfig replaces every invalid section of c with its default and
// logs a warning for each replacement. The result always validates.
func ResolveConfig(c Config) Config {
	defaults := DefaultConfig()
	for i, err := range c.sectionErrors() {
		if err == nil {
			continue
		}
		s := configSections[i]
		logrus.WithField("section", s.name).Warnf("invalid prefetch config, using default: %v", err)
		s.reset(&c, defaults)
	}
	return c
}

// LoadConfig reads a YAML config file layered over DefaultConfig.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading prefetch config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig. Empty input yields the defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing prefetch config: %w", err)
	}
	return cfg, nil
}

// ConfigUpdate is a partial configuration change.
// Nil fields mean "leave unchanged".
type ConfigUpdate struct {
	DailyBudget        *float64        `yaml:"daily_budget"`
	MonthlyBudget      *float64        `yaml:"monthly_budget"`
	PhotoRatio         *float64        `yaml:"photo_ratio"`
	DetailsRatio       *float64        `yaml:"details_ratio"`
	MinimumReserve     *float64        `yaml:"minimum_reserve"`
	Thresholds         *Thresholds     `yaml:"thresholds"`
	Costs              *CostModel      `yaml:"costs"`
	Scoring            *ScoringWeights `yaml:"scoring"`
	MaxConcurrent      *int            `yaml:"max_concurrent_requests"`
	RequestTimeout     *time.Duration  `yaml:"request_timeout"`
	PhotoMaxDimensions *[2]int         `yaml:"photo_max_dimensions"`
}

// Apply returns c with the update applied. The result is validated and
// c is left untouched on error.
func (u ConfigUpdate) Apply(c Config) (Config, error) {
	next := c
	if u.DailyBudget != nil {
		next.Budget.Daily = *u.DailyBudget
	}
	if u.MonthlyBudget != nil {
		next.Budget.Monthly = *u.MonthlyBudget
	}
	if u.PhotoRatio != nil {
		next.Budget.PhotoRatio = *u.PhotoRatio
	}
	if u.DetailsRatio != nil {
		next.Budget.DetailsRatio = *u.DetailsRatio
	}
	if u.MinimumReserve != nil {
		next.Budget.MinimumReserve = *u.MinimumReserve
	}
	if u.Thresholds != nil {
		next.Thresholds = *u.Thresholds
	}
	if u.Costs != nil {
		next.Costs = *u.Costs
	}
	if u.Scoring != nil {
		next.Scoring = *u.Scoring
	}
	if u.MaxConcurrent != nil {
		next.MaxConcurrentRequests = *u.MaxConcurrent
	}
	if u.RequestTimeout != nil {
		next.RequestTimeout = *u.RequestTimeout
	}
	if u.PhotoMaxDimensions != nil {
		next.PhotoMaxWidth, next.PhotoMaxHeight = u.PhotoMaxDimensions[0], u.PhotoMaxDimensions[1]
	}
	if err := next.Validate(); err != nil {
		return c, fmt.Errorf("invalid config update: %w", err)
	}
	return next, nil
}
