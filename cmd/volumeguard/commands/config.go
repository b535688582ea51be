package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hed1ad/volumeguard/internal/config"
	"github.com/hed1ad/volumeguard/pkg/ensemble"
	vgio "github.com/hed1ad/volumeguard/pkg/io"
)

// effectiveConfig is what the config command prints.
type effectiveConfig struct {
	Strength   float64                 `json:"strength" yaml:"strength"`
	Seed       *int64                  `json:"seed,omitempty" yaml:"seed,omitempty"`
	Ensemble   ensemble.Config         `json:"ensemble" yaml:"ensemble"`
	WouldApply ensemble.AdjustedParams `json:"strength_would_apply" yaml:"strength_would_apply"`
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the ensemble configuration after merging the config file,
environment and flags over the defaults, together with the detector
parameters the strength would map to. Strength is not applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			cfg, err := config.Load(path, cmd.Flags())
			if err != nil {
				return err
			}

			merged, err := ensemble.Merge(cfg.Ensemble)
			if err != nil {
				return err
			}

			out := effectiveConfig{
				Strength:   cfg.Strength,
				Seed:       cfg.Seed,
				Ensemble:   merged,
				WouldApply: ensemble.AdjustParams(cfg.Strength),
			}

			if vgio.Format(cfg.Output.Format) == vgio.FormatJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			if err := enc.Encode(out); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
