package models

import (
	"encoding/json"
	"time"
)

// StoredEvent is an accepted event as persisted in the event log. Body is
// the RFC 8785 canonical JSON of the event and Digest its sha256.
type StoredEvent struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Agent     string          `json:"agent"`
	CapsuleID string          `json:"capsuleId,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Body      json.RawMessage `json:"body"`
	Digest    string          `json:"digest"`
	CreatedAt time.Time       `json:"createdAt"`
}

// StoredRejection is one audited rejected submission. Raw is kept as text
// because a rejected submission need not be valid JSON.
type StoredRejection struct {
	Seq       int64     `json:"seq"`
	EventID   string    `json:"eventId,omitempty"`
	Type      EventType `json:"type,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	CapsuleID string    `json:"capsuleId,omitempty"`
	Code      ErrorCode `json:"code"`
	Field     string    `json:"field,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Raw       string    `json:"raw,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Snapshot is the latest persisted JSON of one aggregate.
type Snapshot struct {
	Kind      string          `json:"kind"`
	Key       string          `json:"key"`
	EventSeq  int64           `json:"eventSeq"`
	Body      json.RawMessage `json:"body"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
