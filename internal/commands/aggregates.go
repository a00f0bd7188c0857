package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deltaknight858/Eco-sub001/internal/models"
	"github.com/deltaknight858/Eco-sub001/internal/output"
	"github.com/deltaknight858/Eco-sub001/internal/store"
)

// aggregateNotFoundError reports an id the replayed state does not know.
type aggregateNotFoundError struct {
	Kind string
	ID   string
}

func (e *aggregateNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
func (e *aggregateNotFoundError) ErrorCode() string {
	return strings.ToUpper(e.Kind) + "_NOT_FOUND"
}
func (e *aggregateNotFoundError) Context() map[string]string {
	return map[string]string{e.Kind + "_id": e.ID}
}
func (e *aggregateNotFoundError) SuggestedAction() string {
	return fmt.Sprintf("eco %s list", e.Kind)
}

func NewCapsuleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capsule",
		Short: "Inspect capsule state",
	}
	cmd.AddCommand(newCapsuleShowCmd())
	cmd.AddCommand(newCapsuleListCmd())
	return cmd
}

func newCapsuleShowCmd() *cobra.Command {
	var (
		id       string
		snapshot bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one capsule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(id) == "" {
				return cmdErr(errors.New("--id is required"))
			}
			if snapshot {
				return showSnapshot(cmd, models.AggregateCapsule, id)
			}

			var capsule models.Capsule
			if err := withEngine(cmd.Context(), false, func(db *DB, e *engine) error {
				c, ok := e.d.Capsule(id)
				if !ok {
					return &aggregateNotFoundError{Kind: models.AggregateCapsule, ID: id}
				}
				capsule = c
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(capsule)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Capsule id (required)")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "Read the stored snapshot instead of replaying the log")
	return cmd
}

func newCapsuleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List capsule ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []string
			if err := withEngine(cmd.Context(), false, func(db *DB, e *engine) error {
				ids = e.d.CapsuleIDs()
				return nil
			}); err != nil {
				return err
			}
			return printIDs(ids)
		},
	}
}

func NewAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Inspect agent state",
	}
	cmd.AddCommand(newAgentShowCmd())
	cmd.AddCommand(newAgentListCmd())
	return cmd
}

func newAgentShowCmd() *cobra.Command {
	var (
		id       string
		snapshot bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(id) == "" {
				return cmdErr(errors.New("--id is required"))
			}
			if snapshot {
				return showSnapshot(cmd, models.AggregateAgent, id)
			}

			var agent models.Agent
			if err := withEngine(cmd.Context(), false, func(db *DB, e *engine) error {
				a, ok := e.d.Agent(id)
				if !ok {
					return &aggregateNotFoundError{Kind: models.AggregateAgent, ID: id}
				}
				agent = a
				return nil
			}); err != nil {
				return err
			}
			return output.PrintSuccess(agent)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Agent id (required)")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "Read the stored snapshot instead of replaying the log")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agent ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []string
			if err := withEngine(cmd.Context(), false, func(db *DB, e *engine) error {
				ids = e.d.AgentIDs()
				return nil
			}); err != nil {
				return err
			}
			return printIDs(ids)
		},
	}
}

func printIDs(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	type resp struct {
		Count int      `json:"count"`
		IDs   []string `json:"ids"`
	}
	return output.PrintSuccess(resp{Count: len(ids), IDs: ids})
}

func showSnapshot(cmd *cobra.Command, kind, id string) error {
	var snap *models.Snapshot
	if err := withDB(func(db *DB) error {
		s, err := store.LoadSnapshot(cmd.Context(), db, kind, id)
		if err != nil {
			return err
		}
		snap = s
		return nil
	}); err != nil {
		return err
	}

	type resp struct {
		EventSeq int64           `json:"event_seq"`
		State    json.RawMessage `json:"state"`
	}
	return output.PrintSuccess(resp{EventSeq: snap.EventSeq, State: snap.Body})
}
