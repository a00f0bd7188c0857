package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Diagnostic represents a single consistency check finding.
type Diagnostic struct {
	Level           string `json:"level"` // "warning" or "error"
	Code            string `json:"code"`
	Message         string `json:"message"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// RunDiagnostics performs consistency checks on the event store.
func RunDiagnostics(ctx context.Context, db *sql.DB) ([]Diagnostic, error) {
	var diags []Diagnostic

	pending, err := findPendingMigrations(db)
	if err != nil {
		return nil, fmt.Errorf("schema version check: %w", err)
	}
	diags = append(diags, pending...)

	mismatched, err := findDigestMismatches(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("digest check: %w", err)
	}
	diags = append(diags, mismatched...)

	orphans, err := findOrphanSnapshots(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("snapshot check: %w", err)
	}
	diags = append(diags, orphans...)

	return diags, nil
}

func findPendingMigrations(db *sql.DB) ([]Diagnostic, error) {
	current, latest, err := SchemaVersion(db)
	if err != nil {
		return nil, err
	}
	if current >= latest {
		return nil, nil
	}
	return []Diagnostic{{
		Level:           "warning",
		Code:            "PENDING_MIGRATIONS",
		Message:         fmt.Sprintf("schema is at version %d, latest is %d", current, latest),
		SuggestedAction: "eco upgrade",
	}}, nil
}

// findDigestMismatches recomputes the digest of every stored body.
func findDigestMismatches(ctx context.Context, db *sql.DB) ([]Diagnostic, error) {
	rows, err := db.QueryContext(ctx, `SELECT seq, id, body, digest FROM events ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var diags []Diagnostic
	for rows.Next() {
		var (
			seq              int64
			id, body, digest string
		)
		if err := rows.Scan(&seq, &id, &body, &digest); err != nil {
			return nil, err
		}
		if got := Digest([]byte(body)); got != digest {
			diags = append(diags, Diagnostic{
				Level:           "error",
				Code:            "DIGEST_MISMATCH",
				Message:         fmt.Sprintf("event %s (seq %d) body does not match its digest", id, seq),
				SuggestedAction: "restore the event store from a backup; the log was modified outside eco",
			})
		}
	}
	return diags, rows.Err()
}

// findOrphanSnapshots finds snapshots that point past the end of the log.
func findOrphanSnapshots(ctx context.Context, db *sql.DB) ([]Diagnostic, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.kind, s.key, s.event_seq
		FROM snapshots s
		LEFT JOIN events e ON e.seq = s.event_seq
		WHERE e.seq IS NULL
		ORDER BY s.kind, s.key
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var diags []Diagnostic
	for rows.Next() {
		var (
			kind, key string
			seq       int64
		)
		if err := rows.Scan(&kind, &key, &seq); err != nil {
			return nil, err
		}
		diags = append(diags, Diagnostic{
			Level:           "warning",
			Code:            "ORPHAN_SNAPSHOT",
			Message:         fmt.Sprintf("%s snapshot %s refers to missing event seq %d", kind, key, seq),
			SuggestedAction: fmt.Sprintf("eco %s show --id %s", kind, key),
		})
	}
	return diags, rows.Err()
}
