package commands

import (
	"github.com/spf13/cobra"

	"github.com/deltaknight858/Eco-sub001/internal/app"
	"github.com/deltaknight858/Eco-sub001/internal/output"
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (defaults, config.yaml, then ECO_* env)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.EffectiveConfig()
			if err != nil {
				return cmdErr(err)
			}
			return output.PrintSuccess(cfg)
		},
	}
}
