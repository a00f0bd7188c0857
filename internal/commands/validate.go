package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/deltaknight858/Eco-sub001/internal/models"
	"github.com/deltaknight858/Eco-sub001/internal/output"
)

type validation struct {
	Valid bool                   `json:"valid"`
	Event *models.Event          `json:"event,omitempty"`
	Error *models.RejectionError `json:"error,omitempty"`
}

func NewValidateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate events against the schema and current ordering without applying them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return cmdErr(err)
			}
			docs, err := splitDocuments(data)
			if err != nil {
				return cmdErr(err)
			}
			if len(docs) == 0 {
				return cmdErr(errors.New("no events in input"))
			}

			results := make([]validation, 0, len(docs))
			if err := withEngine(cmd.Context(), false, func(db *DB, e *engine) error {
				for _, doc := range docs {
					ev, err := e.d.Validate(doc)
					if err != nil {
						var rej *models.RejectionError
						if !errors.As(err, &rej) {
							return err
						}
						results = append(results, validation{Error: rej})
						continue
					}
					results = append(results, validation{Valid: true, Event: ev})
				}
				return nil
			}); err != nil {
				return err
			}

			invalid := 0
			for _, r := range results {
				if !r.Valid {
					invalid++
				}
			}

			type resp struct {
				Count   int          `json:"count"`
				Invalid int          `json:"invalid"`
				Results []validation `json:"results"`
			}
			return output.PrintSuccess(resp{Count: len(results), Invalid: invalid, Results: results})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "Input file (- for stdin)")
	return cmd
}
