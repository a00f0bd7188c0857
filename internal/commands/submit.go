package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deltaknight858/Eco-sub001/internal/dispatch"
	"github.com/deltaknight858/Eco-sub001/internal/models"
	"github.com/deltaknight858/Eco-sub001/internal/output"
)

// errRejected fails --strict submissions.
var errRejected = errors.New("one or more events were rejected")

type submitResult struct {
	Count    int              `json:"count"`
	Accepted int              `json:"accepted"`
	Rejected int              `json:"rejected"`
	Replayed int              `json:"replayed"`
	Outcomes []models.Outcome `json:"outcomes"`
}

func NewSubmitCmd() *cobra.Command {
	var (
		file   string
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit events (one JSON event, a JSON array, or JSONL)",
		Long: `Validates each event, applies accepted ones and records every outcome.

Events for the same capsule or agent are applied in input order; events for
different aggregates may be applied in parallel. Outcomes are printed in input
order.`,
		Args: cobra.NoArgs,
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

			var res submitResult
			if err := withEngine(cmd.Context(), true, func(db *DB, e *engine) error {
				outcomes, err := e.d.SubmitBatch(cmd.Context(), docs)
				if err != nil {
					return err
				}
				if err := e.settle(outcomes); err != nil {
					return err
				}
				res = summarize(outcomes, e.replay)
				return nil
			}); err != nil {
				return err
			}

			if strict && res.Rejected > 0 {
				if err := output.PrintSuccess(res); err != nil {
					return err
				}
				return printedError{err: fmt.Errorf("%w: %d of %d", errRejected, res.Rejected, res.Count)}
			}
			return output.PrintSuccess(res)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "Input file (- for stdin)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any event is rejected")
	return cmd
}

func summarize(outcomes []models.Outcome, replay dispatch.ReplayStats) submitResult {
	res := submitResult{Count: len(outcomes), Replayed: replay.Accepted, Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Accepted {
			res.Accepted++
		} else {
			res.Rejected++
		}
	}
	return res
}
