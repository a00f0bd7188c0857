package commands

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/deltaknight858/Eco-sub001/internal/app"
	"github.com/deltaknight858/Eco-sub001/internal/output"
)

// Execute runs the CLI application.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := NewRootCmd(version)
	err := root.Execute()
	if err != nil {
		var pe printedError
		if !errors.As(err, &pe) {
			slog.Error("command failed", "error", err.Error())
		}
	}
	return err
}

// NewRootCmd builds the command tree without executing it.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "eco",
		Short:         "Agent ecosystem event processor (status, provenance, capsules, gates)",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.EnsureConfigDir(); err != nil {
				return err
			}

			// Wire --db-path into app-level resolver.
			if dbPath, err := cmd.Flags().GetString("db-path"); err == nil && dbPath != "" {
				app.SetDBPathOverride(dbPath)
			}

			return nil
		},
	}

	root.PersistentFlags().String("db-path", "", "Override database path")
	root.Flags().BoolP("version", "v", false, "version for eco")

	root.AddCommand(NewSubmitCmd())
	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewGateCmd())
	root.AddCommand(NewCapsuleCmd())
	root.AddCommand(NewAgentCmd())
	root.AddCommand(NewEventsCmd())
	root.AddCommand(NewDBCmd())
	root.AddCommand(NewConfigCmd())
	root.AddCommand(NewUpgradeCmd())
	root.AddCommand(NewDoctorCmd())
	root.AddCommand(NewSchemaCmd(root))

	return root
}
