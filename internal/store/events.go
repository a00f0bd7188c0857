package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

// MaxRawRejectionLength caps the raw submission text kept for a rejection.
const MaxRawRejectionLength = 16384

// CanonicalEvent returns the RFC 8785 canonical JSON of ev and its sha256
// digest in hex.
func CanonicalEvent(ev *models.Event) ([]byte, string, error) {
	if ev == nil {
		return nil, "", errors.New("event is required")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, "", fmt.Errorf("marshal event: %w", err)
	}
	body, err := jcs.Transform(b)
	if err != nil {
		return nil, "", fmt.Errorf("canonicalize event: %w", err)
	}
	return body, Digest(body), nil
}

// Digest is the hex sha256 of body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// AppendAccepted appends ev to the event log and returns its sequence number.
func AppendAccepted(ctx context.Context, q Querier, ev *models.Event) (int64, error) {
	body, digest, err := CanonicalEvent(ev)
	if err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO events (id, type, agent, capsule_id, timestamp, body, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, string(ev.Type), ev.Agent, nullIfEmpty(ev.CapsuleID), ev.Timestamp, string(body), digest)
	if err != nil {
		if IsConstraintViolation(err) {
			return 0, &DuplicateStoredEventError{Agent: ev.Agent, EventID: ev.ID}
		}
		return 0, fmt.Errorf("failed to append event: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event seq: %w", err)
	}
	return seq, nil
}

// AppendRejection records a rejected submission. ev is nil when the
// submission never parsed far enough to have an envelope.
func AppendRejection(ctx context.Context, q Querier, ev *models.Event, raw []byte, rej *models.RejectionError) (int64, error) {
	if rej == nil {
		return 0, errors.New("rejection is required")
	}

	var eventID, eventType, agent, capsuleID any
	if ev != nil {
		eventID = nullIfEmpty(ev.ID)
		eventType = nullIfEmpty(string(ev.Type))
		agent = nullIfEmpty(ev.Agent)
		capsuleID = nullIfEmpty(ev.CapsuleID)
	}

	text := string(raw)
	if len(text) > MaxRawRejectionLength {
		text = text[:MaxRawRejectionLength]
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO rejections (event_id, type, agent, capsule_id, code, field, reason, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID, eventType, agent, capsuleID, string(rej.Code), nullIfEmpty(rej.Field), nullIfEmpty(rej.Reason), nullIfEmpty(text))
	if err != nil {
		return 0, fmt.Errorf("failed to append rejection: %w", err)
	}
	return res.LastInsertId()
}

// UpsertSnapshot stores v as the latest JSON of the aggregate kind/key.
func UpsertSnapshot(ctx context.Context, q Querier, kind, key string, eventSeq int64, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s snapshot: %w", kind, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO snapshots (kind, key, event_seq, body, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (kind, key) DO UPDATE SET
			event_seq = excluded.event_seq,
			body = excluded.body,
			updated_at = excluded.updated_at
	`, kind, key, eventSeq, string(body))
	if err != nil {
		return fmt.Errorf("failed to upsert %s snapshot: %w", kind, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
