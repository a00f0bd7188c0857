package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

func TestRunDiagnostics_Clean(t *testing.T) {
	db := setupTestDB(t)

	diags, err := RunDiagnostics(context.Background(), db)
	require.NoError(t, err)
	require.Empty(t, diags)
}

func TestRunDiagnostics_DigestMismatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := AppendAccepted(ctx, db, capsuleEvent("e1", "a1", "c1", 1, models.StageCreated))
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE events SET body = replace(body, '"a1"', '"a2"') WHERE id = 'e1'`)
	require.NoError(t, err)

	diags, err := RunDiagnostics(ctx, db)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	require.Equal(t, "DIGEST_MISMATCH", diags[0].Code)
	require.Equal(t, "error", diags[0].Level)
	require.Contains(t, diags[0].Message, "e1")
	require.NotEmpty(t, diags[0].SuggestedAction)
}

func TestRunDiagnostics_OrphanSnapshot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, UpsertSnapshot(ctx, db, models.AggregateCapsule, "c9", 42, models.NewCapsule("c9", "a1")))

	diags, err := RunDiagnostics(ctx, db)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	require.Equal(t, "ORPHAN_SNAPSHOT", diags[0].Code)
	require.Contains(t, diags[0].Message, "c9")
	require.Equal(t, "eco capsule show --id c9", diags[0].SuggestedAction)
}
