package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deltaknight858/Eco-sub001/internal/app"
	"github.com/deltaknight858/Eco-sub001/internal/models"
	"github.com/deltaknight858/Eco-sub001/internal/output"
	"github.com/deltaknight858/Eco-sub001/internal/store"
)

func NewDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, the event store and replay consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, dbSource, err := app.ResolveDBPathDetailed()
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				DBPath      string             `json:"db_path"`
				DBSource    string             `json:"db_source"`
				DBOK        bool               `json:"db_ok"`
				DBErr       string             `json:"db_error,omitempty"`
				ConfigOK    bool               `json:"config_ok"`
				ConfigErr   string             `json:"config_error,omitempty"`
				Replayed    int                `json:"replayed"`
				Diagnostics []store.Diagnostic `json:"diagnostics"`
				Hint        string             `json:"hint,omitempty"`
			}
			r := resp{DBPath: dbPath, DBSource: dbSource, Diagnostics: []store.Diagnostic{}}

			if _, err := app.EffectiveConfig(); err != nil {
				r.ConfigErr = err.Error()
			} else {
				r.ConfigOK = true
			}

			db, err := store.InitDBWithPath(dbPath)
			if err != nil {
				r.DBErr = err.Error()
				r.Hint = "If this is running in a sandboxed environment, set db_path to a writable location or use --db-path."
				return output.PrintSuccess(r)
			}
			defer db.Close()
			r.DBOK = true

			diags, err := store.RunDiagnostics(cmd.Context(), db)
			if err != nil {
				return cmdErr(err)
			}
			r.Diagnostics = append(r.Diagnostics, diags...)

			if r.ConfigOK {
				drift, replayed, err := findSnapshotDrift(cmd.Context(), db)
				if err != nil {
					return cmdErr(err)
				}
				r.Replayed = replayed
				r.Diagnostics = append(r.Diagnostics, drift...)
			}
			return output.PrintSuccess(r)
		},
	}
}

// findSnapshotDrift replays the log and compares the result with every
// stored snapshot.
func findSnapshotDrift(ctx context.Context, db *DB) ([]store.Diagnostic, int, error) {
	e, err := openEngine(ctx, db, false)
	if err != nil {
		return nil, 0, err
	}
	defer e.close()

	var diags []store.Diagnostic
	if e.replay.Rejected > 0 {
		diags = append(diags, store.Diagnostic{
			Level:           "warning",
			Code:            "REPLAY_REJECTED",
			Message:         fmt.Sprintf("%d stored events were rejected on replay under the current policy", e.replay.Rejected),
			SuggestedAction: "eco config show",
		})
	}

	lookups := map[string]func(id string) (any, bool){
		models.AggregateAgent: func(id string) (any, bool) {
			a, ok := e.d.Agent(id)
			return a, ok
		},
		models.AggregateCapsule: func(id string) (any, bool) {
			c, ok := e.d.Capsule(id)
			return c, ok
		},
	}
	for _, kind := range []string{models.AggregateAgent, models.AggregateCapsule} {
		keys, err := store.SnapshotKeys(ctx, db, kind)
		if err != nil {
			return nil, 0, err
		}
		for _, key := range keys {
			snap, err := store.LoadSnapshot(ctx, db, kind, key)
			if err != nil {
				return nil, 0, err
			}
			live, ok := lookups[kind](key)
			if !ok {
				diags = append(diags, driftDiagnostic(kind, key, "is missing after replay"))
				continue
			}
			if !sameJSON(snap.Body, live) {
				diags = append(diags, driftDiagnostic(kind, key, "differs from replayed state"))
			}
		}
	}
	return diags, e.replay.Accepted, nil
}

// sameJSON compares stored against live after normalizing both through a
// generic decode, so whitespace and key order do not matter.
func sameJSON(stored json.RawMessage, live any) bool {
	b, err := json.Marshal(live)
	if err != nil {
		return false
	}
	var x, y any
	if json.Unmarshal(stored, &x) != nil || json.Unmarshal(b, &y) != nil {
		return false
	}
	xb, _ := json.Marshal(x)
	yb, _ := json.Marshal(y)
	return bytes.Equal(xb, yb)
}

func driftDiagnostic(kind, key, what string) store.Diagnostic {
	return store.Diagnostic{
		Level:           "warning",
		Code:            "SNAPSHOT_DRIFT",
		Message:         fmt.Sprintf("%s snapshot %s %s", kind, key, what),
		SuggestedAction: fmt.Sprintf("eco %s show --id %s", kind, key),
	}
}
