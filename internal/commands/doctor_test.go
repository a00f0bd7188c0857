package commands

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deltaknight858/Eco-sub001/internal/models"
	"github.com/deltaknight858/Eco-sub001/internal/store"
)

func TestSameJSON(t *testing.T) {
	live := map[string]any{"b": 2, "a": []int{1}}
	require.True(t, sameJSON(json.RawMessage(`{ "a": [1], "b": 2 }`), live))
	require.False(t, sameJSON(json.RawMessage(`{"a":[1],"b":3}`), live))
	require.False(t, sameJSON(json.RawMessage(`{`), live))
}

type doctorResult struct {
	DBOK        bool               `json:"db_ok"`
	ConfigOK    bool               `json:"config_ok"`
	Replayed    int                `json:"replayed"`
	Diagnostics []store.Diagnostic `json:"diagnostics"`
}

func TestDoctor_CleanStoreHasNoDiagnostics(t *testing.T) {
	useTempDB(t)
	_, err := run(t, scenario, "submit")
	require.NoError(t, err)

	env, err := run(t, "", "doctor")
	require.NoError(t, err)

	var res doctorResult
	decodeData(t, env, &res)
	require.True(t, res.DBOK)
	require.True(t, res.ConfigOK)
	require.Equal(t, 2, res.Replayed)
	require.Empty(t, res.Diagnostics)
}

func TestDoctor_ReportsSnapshotDrift(t *testing.T) {
	dbPath := useTempDB(t)
	_, err := run(t, scenario, "submit")
	require.NoError(t, err)

	db, err := store.InitDBWithPath(dbPath)
	require.NoError(t, err)
	snap, err := store.LoadSnapshot(context.Background(), db, models.AggregateAgent, "a2")
	require.NoError(t, err)
	require.NoError(t, store.UpsertSnapshot(context.Background(), db, models.AggregateAgent, "a2", snap.EventSeq,
		models.Agent{ID: "a2", Status: models.AgentStateError}))
	require.NoError(t, db.Close())

	env, err := run(t, "", "doctor")
	require.NoError(t, err)

	var res doctorResult
	decodeData(t, env, &res)
	require.Len(t, res.Diagnostics, 1)
	require.Equal(t, "SNAPSHOT_DRIFT", res.Diagnostics[0].Code)
	require.Equal(t, "eco agent show --id a2", res.Diagnostics[0].SuggestedAction)
}

func TestUpgrade_ReportsSchemaVersions(t *testing.T) {
	useTempDB(t)

	env, err := run(t, "", "upgrade")
	require.NoError(t, err)

	var res struct {
		Before  int64 `json:"before"`
		After   int64 `json:"after"`
		Latest  int64 `json:"latest"`
		Updated bool  `json:"updated"`
	}
	decodeData(t, env, &res)
	require.Zero(t, res.Before)
	require.Equal(t, res.Latest, res.After)
	require.True(t, res.Updated)
}
