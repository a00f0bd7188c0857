package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

// ListEventsParams filters the event log. Zero values do not filter.
type ListEventsParams struct {
	Agent     string
	CapsuleID string
	Type      string
	SinceSeq  int64
	Limit     int
	Desc      bool
}

// ListEvents returns stored events in seq order.
func ListEvents(ctx context.Context, db *sql.DB, p ListEventsParams) ([]*models.StoredEvent, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}

	where := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if p.Agent != "" {
		where = append(where, "agent = ?")
		args = append(args, p.Agent)
	}
	if p.CapsuleID != "" {
		where = append(where, "capsule_id = ?")
		args = append(args, p.CapsuleID)
	}
	if p.Type != "" {
		where = append(where, "type = ?")
		args = append(args, p.Type)
	}
	if p.SinceSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, p.SinceSeq)
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if p.Desc {
		query += " ORDER BY seq DESC"
	} else {
		query += " ORDER BY seq ASC"
	}
	query += " LIMIT ?"
	args = append(args, p.Limit)

	var out []*models.StoredEvent
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		defer func() { _ = rows.Close() }()

		out = make([]*models.StoredEvent, 0)
		for rows.Next() {
			e, err := scanEventRow(rows)
			if err != nil {
				return fmt.Errorf("failed to scan event: %w", err)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListRejections returns the newest rejections first.
func ListRejections(ctx context.Context, db *sql.DB, code string, limit int) ([]*models.StoredRejection, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `SELECT ` + rejectionColumns + ` FROM rejections`
	args := make([]any, 0, 2)
	if code != "" {
		query += " WHERE code = ?"
		args = append(args, code)
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	var out []*models.StoredRejection
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to list rejections: %w", err)
		}
		defer func() { _ = rows.Close() }()

		out = make([]*models.StoredRejection, 0)
		for rows.Next() {
			r, err := scanRejectionRow(rows)
			if err != nil {
				return fmt.Errorf("failed to scan rejection: %w", err)
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AcceptedEventsForReplay returns the body of every stored event in seq
// order.
func AcceptedEventsForReplay(ctx context.Context, db *sql.DB) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := RetryWithBackoff(func() error {
		bodies, err := queryStringColumn(ctx, db, `SELECT body FROM events ORDER BY seq ASC`)
		if err != nil {
			return fmt.Errorf("failed to load events for replay: %w", err)
		}
		out = make([]json.RawMessage, len(bodies))
		for i, b := range bodies {
			out[i] = json.RawMessage(b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadSnapshot returns the stored snapshot of kind/key.
func LoadSnapshot(ctx context.Context, db *sql.DB, kind, key string) (*models.Snapshot, error) {
	var (
		s    = models.Snapshot{Kind: kind, Key: key}
		body string
	)
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(ctx, `
			SELECT event_seq, body, updated_at FROM snapshots WHERE kind = ? AND key = ?
		`, kind, key).Scan(&s.EventSeq, &body, &s.UpdatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &SnapshotNotFoundError{Kind: kind, Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s snapshot: %w", kind, err)
	}
	s.Body = json.RawMessage(body)
	return &s, nil
}

// SnapshotKeys returns every stored key of kind in sorted order.
func SnapshotKeys(ctx context.Context, db *sql.DB, kind string) ([]string, error) {
	var out []string
	err := RetryWithBackoff(func() error {
		keys, err := queryStringColumn(ctx, db, `SELECT key FROM snapshots WHERE kind = ? ORDER BY key`, kind)
		out = keys
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s snapshots: %w", kind, err)
	}
	return out, nil
}
