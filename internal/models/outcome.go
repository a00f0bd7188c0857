package models

import "encoding/json"

// GateVerdict is the computed result of an orchestration gate.
type GateVerdict struct {
	Gate     Tier        `json:"gate"`
	Status   CheckResult `json:"status"`
	Declared CheckResult `json:"declared,omitempty"`
	Failing  []string    `json:"failing,omitempty"`
	Warning  []string    `json:"warning,omitempty"`
	Checks   int         `json:"checks"`
}

// Outcome is the normalized result of one submission. Exactly one of
// Error or the accepted fields is meaningful, selected by Accepted.
type Outcome struct {
	Accepted  bool               `json:"accepted"`
	EventID   string             `json:"eventId,omitempty"`
	Type      EventType          `json:"type,omitempty"`
	Agent     *Agent             `json:"agent,omitempty"`
	Capsule   *Capsule           `json:"capsule,omitempty"`
	Verdict   *GateVerdict       `json:"verdict,omitempty"`
	Candidate *ProvenancePayload `json:"candidate,omitempty"`
	Error     *RejectionError    `json:"error,omitempty"`
}

// Rejected builds a rejected outcome.
func Rejected(ev *Event, err *RejectionError) Outcome {
	out := Outcome{Error: err}
	if ev != nil {
		out.EventID = ev.ID
		out.Type = ev.Type
	}
	return out
}

// Clone returns a deep copy of o.
func (o Outcome) Clone() Outcome {
	out := o
	if o.Agent != nil {
		a := o.Agent.Clone()
		out.Agent = &a
	}
	if o.Capsule != nil {
		c := o.Capsule.Clone()
		out.Capsule = &c
	}
	if o.Verdict != nil {
		v := *o.Verdict
		v.Failing = append([]string(nil), o.Verdict.Failing...)
		v.Warning = append([]string(nil), o.Verdict.Warning...)
		out.Verdict = &v
	}
	if o.Candidate != nil {
		c := *o.Candidate
		c.Criteria = CloneMap(o.Candidate.Criteria)
		if o.Candidate.Confidence != nil {
			f := *o.Candidate.Confidence
			c.Confidence = &f
		}
		out.Candidate = &c
	}
	if o.Error != nil {
		e := *o.Error
		out.Error = &e
	}
	return out
}

// Record is what the core hands to storage and transport collaborators.
// Accepted records carry the event verbatim and the outcome it produced;
// rejected records carry the raw submission, since it may never have parsed.
type Record struct {
	Seq     uint64          `json:"seq"`
	Event   *Event          `json:"event,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
	Outcome Outcome         `json:"outcome"`
}
