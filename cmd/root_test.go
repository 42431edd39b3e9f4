package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tastedeck/prefetch-engine/prefetch"
	"github.com/tastedeck/prefetch-engine/prefetch/ledger"
)

// run executes the CLI with args and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRoot_InvalidLogLevel(t *testing.T) {
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--log", "loud", "config", "validate"})
	assert.Error(t, root.Execute())
	logrus.SetLevel(logrus.ErrorLevel)
}

func TestConfigShow_PrintsDefaults(t *testing.T) {
	out, err := run(t, "config", "show")
	require.NoError(t, err)

	var cfg prefetch.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, prefetch.DefaultConfig(), cfg)
	assert.Contains(t, out, "request_timeout: 10s")
}

func TestConfigShow_ReplacesInvalidSections(t *testing.T) {
	path := writeConfig(t, "costs:\n  photos: -1\nmax_concurrent_requests: 5\n")
	out, err := run(t, "--config", path, "config", "show")
	require.NoError(t, err)

	var cfg prefetch.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, prefetch.DefaultCostModel(), cfg.Costs)
	assert.Equal(t, 5, cfg.MaxConcurrentRequests)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", "budget:\n  daily: 2\nrequest_timeout: 4s\n", false},
		{"unknown key", "budgett:\n  daily: 2\n", true},
		{"invalid value", "max_concurrent_requests: 0\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, "--config", writeConfig(t, tt.body), "config", "validate")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, "config OK")
		})
	}
}

func TestBudget_RecordShowResetPersist(t *testing.T) {
	for _, backend := range []string{"badger", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			// GIVEN spend recorded by one invocation
			dir := t.TempDir()
			base := []string{"--store", backend, "--data-dir", dir}
			out, err := run(t, append(base, "budget", "record", "--resource", "photos", "--cost", "0.5")...)
			require.NoError(t, err)
			assert.Contains(t, out, "recorded $0.5000 photos")

			// WHEN a later invocation shows the status
			out, err = run(t, append(base, "budget", "show")...)
			require.NoError(t, err)

			// THEN the spend survived
			var status ledger.BudgetStatus
			require.NoError(t, yaml.Unmarshal([]byte(out), &status))
			assert.InDelta(t, 0.5, status.Photos.SpentToday, 1e-9)
			assert.InDelta(t, 0.5, status.CurrentSpend.Daily, 1e-9)

			// AND reset zeroes it
			_, err = run(t, append(base, "budget", "reset")...)
			require.NoError(t, err)
			out, err = run(t, append(base, "budget", "show")...)
			require.NoError(t, err)
			require.NoError(t, yaml.Unmarshal([]byte(out), &status))
			assert.Zero(t, status.CurrentSpend.Daily)
			assert.Zero(t, status.CurrentSpend.Monthly)
		})
	}
}

func TestBudgetShow_ListsPersistedCounters(t *testing.T) {
	tests := []struct {
		name     string
		record   []string // resource to record 0.25 against, if any
		wantKeys []string // key stems, before the period suffix
	}{
		{"empty ledger", nil, nil},
		{"photos spend", []string{"photos"}, []string{"daily_", "daily_photos_", "monthly_", "monthly_photos_"}},
		{"both pools", []string{"photos", "details"}, []string{
			"daily_", "daily_details_", "daily_photos_", "monthly_", "monthly_details_", "monthly_photos_",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN a sqlite ledger with some spend
			base := []string{"--store", "sqlite", "--data-dir", t.TempDir()}
			for _, r := range tt.record {
				_, err := run(t, append(base, "budget", "record", "--resource", r, "--cost", "0.25")...)
				require.NoError(t, err)
			}

			// WHEN the raw counters are listed
			out, err := run(t, append(base, "budget", "show", "--keys")...)
			require.NoError(t, err)

			// THEN there is one key=value line per counter
			lines := strings.Fields(out)
			require.Len(t, lines, len(tt.wantKeys))
			prefix := ledger.DefaultConfig().KeyPrefix
			for i, line := range lines {
				key, value, ok := strings.Cut(line, "=")
				require.True(t, ok, line)
				assert.True(t, strings.HasPrefix(key, prefix+tt.wantKeys[i]), key)
				assert.NotEmpty(t, value)
			}
		})
	}
}

func TestBudgetRecord_RejectsUnknownResource(t *testing.T) {
	_, err := run(t, "budget", "record", "--resource", "videos", "--cost", "1")
	assert.Error(t, err)
}

func TestStoreFromEnvironment(t *testing.T) {
	t.Setenv("PREFETCH_STORE", "floppy")
	_, err := run(t, "budget", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floppy")
}

func TestSimulate_PrintsReport(t *testing.T) {
	out, err := run(t, "simulate", "--sessions", "2", "--deck-size", "10", "--seed", "3", "--trace", "decisions")
	require.NoError(t, err)
	assert.Contains(t, out, "=== Simulation Report ===")
	assert.Contains(t, out, "Sessions             : 2")
	assert.Contains(t, out, "=== Prefetch Metrics ===")
	assert.Contains(t, out, "=== Trace Summary ===")
}

func TestSimulate_RejectsBadFlags(t *testing.T) {
	tests := map[string][]string{
		"trace level": {"simulate", "--trace", "everything"},
		"start time":  {"simulate", "--start", "yesterday"},
		"rate":        {"simulate", "--detail-rate", "2"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, args...)
			assert.Error(t, err)
		})
	}
}
