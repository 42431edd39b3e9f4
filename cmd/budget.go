package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tastedeck/prefetch-engine/prefetch/ledger"
	"github.com/tastedeck/prefetch-engine/prefetch/store"
)

func newBudgetCmd(settings *viper.Viper) *cobra.Command {
	c := &cobra.Command{
		Use:   "budget",
		Short: "Inspect or adjust the persisted spend ledger",
	}
	c.AddCommand(
		newBudgetShowCmd(settings),
		newBudgetRecordCmd(settings),
		newBudgetResetCmd(settings),
	)
	return c
}

// withLedger opens the configured store and runs fn over a ledger on it.
func withLedger(settings *viper.Viper, fn func(l *ledger.Ledger, kv store.KV) error) error {
	cfg, err := loadConfig(settings)
	if err != nil {
		return err
	}
	if err := cfg.Budget.Validate(); err != nil {
		return fmt.Errorf("budget config: %w", err)
	}
	kv, err := openStore(settings)
	if err != nil {
		return err
	}
	defer kv.Close()
	return fn(ledger.New(cfg.Budget, kv), kv)
}

func newBudgetShowCmd(settings *viper.Viper) *cobra.Command {
	var keys bool
	c := &cobra.Command{
		Use:   "show",
		Short: "Print the current budget status as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(settings, func(l *ledger.Ledger, kv store.KV) error {
				if keys {
					return printCounterKeys(cmd, kv, l.Config().KeyPrefix)
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(l.Status(cmd.Context()))
			})
		},
	}
	c.Flags().BoolVar(&keys, "keys", false, "List the raw persisted counters instead of the status")
	return c
}

// printCounterKeys writes every persisted counter under prefix as key=value,
// one per line in key order.
func printCounterKeys(cmd *cobra.Command, kv store.KV, prefix string) error {
	ctx := cmd.Context()
	keys, err := kv.Keys(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list counters: %w", err)
	}
	for _, k := range keys {
		v, ok, err := kv.GetItem(ctx, k)
		if err != nil {
			return fmt.Errorf("read %s: %w", k, err)
		}
		if ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, v)
		}
	}
	return nil
}

func newBudgetRecordCmd(settings *viper.Viper) *cobra.Command {
	var (
		resource string
		cost     float64
	)
	c := &cobra.Command{
		Use:   "record",
		Short: "Record spend made outside the engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := ledger.Resource(resource)
			if !r.IsValid() {
				return fmt.Errorf("invalid --resource %q; valid: photos, details", resource)
			}
			return withLedger(settings, func(l *ledger.Ledger, _ store.KV) error {
				status, err := l.Record(cmd.Context(), r, cost)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recorded $%.4f %s; $%.4f of $%.2f spent today\n",
					cost, r, status.CurrentSpend.Daily, status.DailyBudget)
				return nil
			})
		},
	}
	c.Flags().StringVar(&resource, "resource", "", "Resource pool (photos, details)")
	c.Flags().Float64Var(&cost, "cost", 0, "Amount spent in USD")
	_ = c.MarkFlagRequired("resource")
	_ = c.MarkFlagRequired("cost")
	return c
}

func newBudgetResetCmd(settings *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Zero today's spend (the month total drops by the same amount)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(settings, func(l *ledger.Ledger, _ store.KV) error {
				if err := l.Reset(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "daily spend reset")
				return nil
			})
		},
	}
}
