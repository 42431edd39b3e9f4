package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tastedeck/prefetch-engine/prefetch"
)

func newConfigCmd(settings *viper.Viper) *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Check or print the engine configuration",
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Parse --config strictly and validate every section",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(settings)
				if err != nil {
					return err
				}
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid config: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "config OK")
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML",
			Long:  "Print the configuration the engine would run with: --config overlaid on the defaults, with invalid sections replaced by their defaults.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(settings)
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(prefetch.ResolveConfig(cfg))
			},
		},
	)
	return c
}
