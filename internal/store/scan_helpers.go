package store

import (
	"database/sql"
	"encoding/json"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanNullString converts sql.NullString to string (empty if NULL)
func scanNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

const eventColumns = `seq, id, type, agent, capsule_id, timestamp, body, digest, created_at`

func scanEventRow(row rowScanner) (*models.StoredEvent, error) {
	var (
		e         models.StoredEvent
		eventType string
		capsuleID sql.NullString
		body      string
	)
	if err := row.Scan(&e.Seq, &e.ID, &eventType, &e.Agent, &capsuleID, &e.Timestamp, &body, &e.Digest, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = models.EventType(eventType)
	e.CapsuleID = scanNullString(capsuleID)
	e.Body = json.RawMessage(body)
	return &e, nil
}

const rejectionColumns = `seq, event_id, type, agent, capsule_id, code, field, reason, raw, created_at`

func scanRejectionRow(row rowScanner) (*models.StoredRejection, error) {
	var (
		r                                    models.StoredRejection
		eventID, eventType, agent, capsuleID sql.NullString
		field, reason, raw                   sql.NullString
		code                                 string
	)
	if err := row.Scan(&r.Seq, &eventID, &eventType, &agent, &capsuleID, &code, &field, &reason, &raw, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.EventID = scanNullString(eventID)
	r.Type = models.EventType(scanNullString(eventType))
	r.Agent = scanNullString(agent)
	r.CapsuleID = scanNullString(capsuleID)
	r.Code = models.ErrorCode(code)
	r.Field = scanNullString(field)
	r.Reason = scanNullString(reason)
	r.Raw = scanNullString(raw)
	return &r, nil
}
