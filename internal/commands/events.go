package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deltaknight858/Eco-sub001/internal/models"
	"github.com/deltaknight858/Eco-sub001/internal/output"
	"github.com/deltaknight858/Eco-sub001/internal/store"
)

func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the event log",
	}

	cmd.AddCommand(newEventsListCmd())
	cmd.AddCommand(newEventsRejectionsCmd())
	return cmd
}

func newEventsListCmd() *cobra.Command {
	var (
		agent     string
		capsuleID string
		eventType string
		limit     int
		since     int64
		asc       bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accepted events (filterable)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventType != "" && !models.EventType(eventType).Valid() {
				return cmdErr(fmt.Errorf("invalid --type %q", eventType))
			}

			var events []*models.StoredEvent
			if err := withDB(func(db *DB) error {
				ev, err := store.ListEvents(cmd.Context(), db, store.ListEventsParams{
					Agent:     agent,
					CapsuleID: capsuleID,
					Type:      eventType,
					SinceSeq:  since,
					Limit:     limit,
					Desc:      !asc,
				})
				if err != nil {
					return err
				}
				events = ev
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Agent   string                `json:"agent,omitempty"`
				Capsule string                `json:"capsule,omitempty"`
				Type    string                `json:"type,omitempty"`
				Since   int64                 `json:"since_seq,omitempty"`
				Count   int                   `json:"count"`
				Events  []*models.StoredEvent `json:"events"`
			}
			return output.PrintSuccess(resp{
				Agent:   agent,
				Capsule: capsuleID,
				Type:    eventType,
				Since:   since,
				Count:   len(events),
				Events:  events,
			})
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "Filter by agent id")
	cmd.Flags().StringVar(&capsuleID, "capsule", "", "Filter by capsule id")
	cmd.Flags().StringVar(&eventType, "type", "", "Filter by type: status|provenance|capsule|orchestration|marketplace")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max events (<= 1000)")
	cmd.Flags().Int64Var(&since, "since-seq", 0, "Only events with seq > since-seq")
	cmd.Flags().BoolVar(&asc, "asc", false, "Sort oldest first (default newest first)")

	return cmd
}

func newEventsRejectionsCmd() *cobra.Command {
	var (
		code  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "rejections",
		Short: "List rejected submissions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rejections []*models.StoredRejection
			if err := withDB(func(db *DB) error {
				r, err := store.ListRejections(cmd.Context(), db, code, limit)
				if err != nil {
					return err
				}
				rejections = r
				return nil
			}); err != nil {
				return err
			}

			type resp struct {
				Code       string                    `json:"code,omitempty"`
				Count      int                       `json:"count"`
				Rejections []*models.StoredRejection `json:"rejections"`
			}
			return output.PrintSuccess(resp{Code: code, Count: len(rejections), Rejections: rejections})
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "Filter by rejection code (e.g. ILLEGAL_STAGE_SKIP)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max rejections (<= 1000)")
	return cmd
}
