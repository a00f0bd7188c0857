// Package protocol defines the event wire contract and validates raw events
// against it. Validation is pure: it reads a prior-state snapshot through
// OrderingView and never mutates anything.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

// Numeric bounds enforced before the structural pass so that out-of-range
// values surface as range violations rather than generic schema errors.
const (
	MinLoad       = 0.0
	MaxLoad       = 1.0
	MinProgress   = 0.0
	MaxProgress   = 100.0
	MinConfidence = 0.0
	MaxConfidence = 1.0
)

// MaxEventSize bounds the raw event accepted by Validate.
const MaxEventSize = 256 * 1024

// OrderingView exposes the last accepted timestamp per (agent, capsuleId) key.
type OrderingView interface {
	LastTimestamp(agent, capsuleID string) (ts int64, ok bool)
}

// NoHistory is an OrderingView with no prior events.
type NoHistory struct{}

// LastTimestamp always reports no prior event.
func (NoHistory) LastTimestamp(string, string) (int64, bool) { return 0, false }

// Validator checks raw events against the embedded schema and ordering rules.
// A Validator is immutable after construction and safe for concurrent use.
type Validator struct {
	schemas map[models.EventType]*jsonschema.Schema
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Validator{schemas: schemas}, nil
}

type rangeRule struct {
	field    string
	min, max float64
}

// rangeRules lists the bounded numeric payload fields per event type.
var rangeRules = map[models.EventType][]rangeRule{
	models.EventTypeStatus:     {{field: "load", min: MinLoad, max: MaxLoad}},
	models.EventTypeCapsule:    {{field: "progress", min: MinProgress, max: MaxProgress}},
	models.EventTypeProvenance: {{field: "confidence", min: MinConfidence, max: MaxConfidence}},
}

// Validate decodes raw into a typed event. Errors are always *models.RejectionError.
//
// Checks run in a fixed order: JSON shape, type tag, capsule reference
// rules, numeric ranges, schema conformance, per-list uniqueness, and
// finally timestamp ordering against view.
func (v *Validator) Validate(raw []byte, view OrderingView) (*models.Event, error) {
	if view == nil {
		view = NoHistory{}
	}
	if len(raw) > MaxEventSize {
		return nil, models.Reject(models.CodeMalformedEvent, "", "event exceeds max size (%d bytes)", MaxEventSize)
	}

	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}

	evType, rerr := eventTypeOf(doc)
	if rerr != nil {
		return nil, rerr
	}

	if rerr := checkCapsuleReference(evType, doc); rerr != nil {
		return nil, rerr
	}

	if rerr := checkRanges(evType, doc); rerr != nil {
		return nil, rerr
	}

	schema, ok := v.schemas[evType]
	if !ok {
		return nil, models.Reject(models.CodeUnknownEventType, "type", "no schema for event type %q", evType)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, schemaRejection(err)
	}

	ev, rerr := decodeEvent(raw, evType)
	if rerr != nil {
		return nil, rerr
	}

	if rerr := checkUniqueness(ev); rerr != nil {
		return nil, rerr
	}

	if err := CheckOrder(ev, view); err != nil {
		return nil, err
	}

	return ev, nil
}

// CheckOrder rejects ev when its timestamp precedes the last accepted
// timestamp for its (agent, capsuleId) key. Equal timestamps are allowed.
func CheckOrder(ev *models.Event, view OrderingView) error {
	last, ok := view.LastTimestamp(ev.Agent, ev.CapsuleID)
	if !ok || ev.Timestamp >= last {
		return nil
	}
	return models.Reject(models.CodeOutOfOrderEvent, "timestamp",
		"timestamp %d is earlier than last accepted %d for agent %q capsule %q",
		ev.Timestamp, last, ev.Agent, ev.CapsuleID,
	).WithStates(fmt.Sprint(last), fmt.Sprint(ev.Timestamp))
}

func decodeDocument(raw []byte) (map[string]any, *models.RejectionError) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, models.Reject(models.CodeMalformedEvent, "", "invalid JSON: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, models.Reject(models.CodeMalformedEvent, "", "trailing data after event object")
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, models.Reject(models.CodeMalformedEvent, "", "event must be a JSON object")
	}
	return obj, nil
}

func eventTypeOf(doc map[string]any) (models.EventType, *models.RejectionError) {
	rawType, ok := doc["type"]
	if !ok {
		return "", models.Reject(models.CodeMalformedEvent, "type", "missing required field")
	}
	s, ok := rawType.(string)
	if !ok {
		return "", models.Reject(models.CodeMalformedEvent, "type", "must be a string")
	}
	t := models.EventType(s)
	if !t.Valid() {
		return "", models.Reject(models.CodeUnknownEventType, "type", "unrecognized event type %q", s)
	}
	return t, nil
}

func checkCapsuleReference(t models.EventType, doc map[string]any) *models.RejectionError {
	v, present := doc["capsuleId"]
	if present && v == nil {
		present = false
	}
	if s, ok := v.(string); ok && s == "" {
		present = false
	}

	switch {
	case t.ForbidsCapsule() && present:
		return models.Reject(models.CodeMalformedEvent, "capsuleId", "not allowed on %s events", t)
	case t.RequiresCapsule() && !present:
		return models.Reject(models.CodeMissingCapsuleReference, "capsuleId", "required on %s events", t)
	}
	return nil
}

func checkRanges(t models.EventType, doc map[string]any) *models.RejectionError {
	payload, ok := doc["payload"].(map[string]any)
	if !ok {
		return nil
	}
	for _, rule := range rangeRules[t] {
		n, ok := payload[rule.field].(json.Number)
		if !ok {
			continue
		}
		f, err := n.Float64()
		if err != nil {
			return models.Reject(models.CodeMalformedEvent, "payload."+rule.field, "not a number: %s", n)
		}
		if f < rule.min || f > rule.max {
			return models.Reject(models.CodeRangeViolation, "payload."+rule.field,
				"%v outside [%v, %v]", f, rule.min, rule.max)
		}
	}
	return nil
}

// wireEvent mirrors models.Event with the payload left undecoded.
type wireEvent struct {
	ID             string           `json:"id"`
	Type           models.EventType `json:"type"`
	Agent          string           `json:"agent"`
	CapsuleID      string           `json:"capsuleId"`
	Payload        json.RawMessage  `json:"payload"`
	Timestamp      int64            `json:"timestamp"`
	Severity       string           `json:"severity"`
	ProvenanceTier models.Tier      `json:"provenanceTier"`
}

func decodeEvent(raw []byte, t models.EventType) (*models.Event, *models.RejectionError) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, models.Reject(models.CodeMalformedEvent, "", "decode envelope: %v", err)
	}

	payload, err := models.DecodePayload(t, w.Payload)
	if err != nil {
		return nil, models.Reject(models.CodeMalformedEvent, "payload", "decode %s payload: %v", t, err)
	}

	return &models.Event{
		ID:             w.ID,
		Type:           w.Type,
		Agent:          w.Agent,
		CapsuleID:      w.CapsuleID,
		Payload:        payload,
		Timestamp:      w.Timestamp,
		Severity:       w.Severity,
		ProvenanceTier: w.ProvenanceTier,
	}, nil
}

func checkUniqueness(ev *models.Event) *models.RejectionError {
	switch p := ev.Payload.(type) {
	case models.CapsulePayload:
		seen := make(map[string]int, len(p.Artifacts))
		for i, a := range p.Artifacts {
			if first, dup := seen[a.ID]; dup {
				return models.Reject(models.CodeMalformedEvent, fmt.Sprintf("payload.artifacts[%d].id", i),
					"duplicate artifact id %q (first at index %d)", a.ID, first)
			}
			seen[a.ID] = i
		}
	case models.OrchestrationPayload:
		seen := make(map[string]int, len(p.Checks))
		for i, c := range p.Checks {
			if first, dup := seen[c.Name]; dup {
				return models.Reject(models.CodeMalformedEvent, fmt.Sprintf("payload.checks[%d].name", i),
					"duplicate check name %q (first at index %d)", c.Name, first)
			}
			seen[c.Name] = i
		}
	}
	return nil
}
