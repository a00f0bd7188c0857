package commands

import (
	"github.com/spf13/cobra"

	"github.com/deltaknight858/Eco-sub001/internal/app"
	"github.com/deltaknight858/Eco-sub001/internal/output"
	"github.com/deltaknight858/Eco-sub001/internal/store"
)

// NewUpgradeCmd creates the upgrade command.
func NewUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Apply pending event store migrations",
		Long:  `Opens the event store, which applies every pending embedded migration, and reports the schema version before and after.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, err := app.GetDBPath()
			if err != nil {
				return cmdErr(err)
			}

			before, latest, err := store.PeekSchemaVersion(dbPath)
			if err != nil {
				return cmdErr(err)
			}

			var after int64
			if err := withDB(func(db *DB) error {
				current, _, err := store.SchemaVersion(db)
				after = current
				return err
			}); err != nil {
				return err
			}

			type result struct {
				DBPath  string `json:"db_path"`
				Before  int64  `json:"before"`
				After   int64  `json:"after"`
				Latest  int64  `json:"latest"`
				Updated bool   `json:"updated"`
			}
			return output.PrintSuccess(result{
				DBPath:  dbPath,
				Before:  before,
				After:   after,
				Latest:  latest,
				Updated: after != before,
			})
		},
	}
}
