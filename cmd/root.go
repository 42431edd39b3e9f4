package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tastedeck/prefetch-engine/prefetch"
	"github.com/tastedeck/prefetch-engine/prefetch/store"
)

// Persistent setting keys. Each is also read from PREFETCH_<KEY> with
// dashes replaced by underscores.
const (
	keyLog     = "log"
	keyConfig  = "config"
	keyStore   = "store"
	keyDataDir = "data-dir"
)

// NewRootCmd builds the CLI. Settings are bound to flags and environment
// through a fresh viper instance, so each call is independent.
func NewRootCmd() *cobra.Command {
	settings := viper.New()
	settings.SetEnvPrefix("PREFETCH")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	root := &cobra.Command{
		Use:           "prefetch-engine",
		Short:         "Cost-budgeted predictive prefetching for a swipe deck",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(settings.GetString(keyLog))
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", settings.GetString(keyLog), err)
			}
			logrus.SetLevel(level)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String(keyLog, "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	flags.String(keyConfig, "", "Path to engine config YAML (defaults when empty)")
	flags.String(keyStore, "memory", "Ledger store backend ("+strings.Join(store.ValidBackendNames(), ", ")+")")
	flags.String(keyDataDir, ".prefetch", "Directory for persistent store backends")
	for _, key := range []string{keyLog, keyConfig, keyStore, keyDataDir} {
		_ = settings.BindPFlag(key, flags.Lookup(key))
	}

	root.AddCommand(
		newSimulateCmd(settings),
		newBudgetCmd(settings),
		newConfigCmd(settings),
	)
	return root
}

// Execute runs the CLI root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

// loadConfig returns the config named by --config, or the defaults.
func loadConfig(settings *viper.Viper) (prefetch.Config, error) {
	path := settings.GetString(keyConfig)
	if path == "" {
		return prefetch.DefaultConfig(), nil
	}
	cfg, err := prefetch.LoadConfig(path)
	if err != nil {
		return prefetch.Config{}, err
	}
	logrus.WithField("path", path).Debug("loaded engine config")
	return cfg, nil
}

// openStore opens the backend named by --store under --data-dir.
func openStore(settings *viper.Viper) (store.KV, error) {
	backend := settings.GetString(keyStore)
	if !store.IsValidBackend(backend) {
		return nil, fmt.Errorf("unknown --store %q; valid: %s", backend, strings.Join(store.ValidBackendNames(), ", "))
	}
	if backend != "memory" {
		if err := os.MkdirAll(settings.GetString(keyDataDir), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return store.Open(backend, settings.GetString(keyDataDir))
}
