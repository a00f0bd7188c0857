package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID strategy:
// - Event ids are opaque strings, caller supplied or a dispatcher generated UUID.
// - Agent and capsule ids are caller supplied and stable; they key the aggregate arena.
// - Timestamps are epoch milliseconds.

// EventType discriminates the payload carried by an Event.
type EventType string

// Event type constants.
const (
	EventTypeStatus        EventType = "status"
	EventTypeProvenance    EventType = "provenance"
	EventTypeCapsule       EventType = "capsule"
	EventTypeOrchestration EventType = "orchestration"
	EventTypeMarketplace   EventType = "marketplace"
)

// EventTypes lists every recognized event type in schema order.
func EventTypes() []EventType {
	return []EventType{
		EventTypeStatus,
		EventTypeProvenance,
		EventTypeCapsule,
		EventTypeOrchestration,
		EventTypeMarketplace,
	}
}

// Valid reports whether t is a recognized event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeStatus, EventTypeProvenance, EventTypeCapsule, EventTypeOrchestration, EventTypeMarketplace:
		return true
	}
	return false
}

// RequiresCapsule is true for event types that must name a capsule.
func (t EventType) RequiresCapsule() bool {
	return t == EventTypeCapsule || t == EventTypeOrchestration
}

// ForbidsCapsule is true for event types that describe the agent alone.
func (t EventType) ForbidsCapsule() bool {
	return t == EventTypeStatus
}

// Tier is a provenance trust level. Tiers are totally ordered bronze < silver < gold.
type Tier string

// Tier constants.
const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// InitialTier is assigned to every newly observed agent or capsule.
const InitialTier = TierBronze

// Rank returns the position of t in the tier ladder, or -1 for an unknown tier.
func (t Tier) Rank() int {
	switch t {
	case TierBronze:
		return 0
	case TierSilver:
		return 1
	case TierGold:
		return 2
	}
	return -1
}

// Valid reports whether t is a recognized tier.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// Next returns the tier directly above t. ok is false for gold and unknown tiers.
func (t Tier) Next() (next Tier, ok bool) {
	switch t {
	case TierBronze:
		return TierSilver, true
	case TierSilver:
		return TierGold, true
	}
	return "", false
}

// AgentState is the operational state reported by a status event.
type AgentState string

// Agent state constants.
const (
	AgentStateIdle        AgentState = "idle"
	AgentStateActive      AgentState = "active"
	AgentStateError       AgentState = "error"
	AgentStateMaintenance AgentState = "maintenance"
)

// Stage is a capsule lifecycle stage.
type Stage string

// Lifecycle stage constants, in forward order.
const (
	StageCreated   Stage = "created"
	StageModified  Stage = "modified"
	StageTested    Stage = "tested"
	StageSigned    Stage = "signed"
	StagePublished Stage = "published"
)

// Rank returns the position of s in the forward lifecycle, or -1 for an
// unknown or empty stage.
func (s Stage) Rank() int {
	switch s {
	case StageCreated:
		return 0
	case StageModified:
		return 1
	case StageTested:
		return 2
	case StageSigned:
		return 3
	case StagePublished:
		return 4
	}
	return -1
}

// RequiresCleanState is true for stages that certify the capsule and so
// cannot be entered while errors are outstanding.
func (s Stage) RequiresCleanState() bool {
	return s == StageSigned || s == StagePublished
}

// CheckResult is the result of one named check, and also a gate verdict.
type CheckResult string

// Check result constants.
const (
	ResultPass CheckResult = "pass"
	ResultWarn CheckResult = "warn"
	ResultFail CheckResult = "fail"
)

// Severity orders results so the most conservative one wins: pass < warn < fail.
func (r CheckResult) Severity() int {
	switch r {
	case ResultPass:
		return 0
	case ResultWarn:
		return 1
	case ResultFail:
		return 2
	}
	return -1
}

// Severity annotation values. Annotations never drive state transitions.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Event is the canonical envelope every signal conforms to.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	Agent          string    `json:"agent"`
	CapsuleID      string    `json:"capsuleId,omitempty"`
	Payload        Payload   `json:"payload"`
	Timestamp      int64     `json:"timestamp"`
	Severity       string    `json:"severity,omitempty"`
	ProvenanceTier Tier      `json:"provenanceTier,omitempty"`
}

// UnmarshalJSON decodes the payload into the variant named by Type. A
// missing or null payload leaves Payload nil.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var aux struct {
		plain
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Event(aux.plain)
	e.Payload = nil
	if len(aux.Payload) == 0 || bytes.Equal(aux.Payload, []byte("null")) {
		return nil
	}
	p, err := DecodePayload(aux.Type, aux.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", aux.Type, err)
	}
	e.Payload = p
	return nil
}

// DecodePayload decodes raw into the payload variant for t. Marketplace
// payloads are kept as compacted JSON.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	switch t {
	case EventTypeStatus:
		var p StatusPayload
		err := json.Unmarshal(raw, &p)
		return p, err
	case EventTypeProvenance:
		var p ProvenancePayload
		err := json.Unmarshal(raw, &p)
		return p, err
	case EventTypeCapsule:
		var p CapsulePayload
		err := json.Unmarshal(raw, &p)
		return p, err
	case EventTypeOrchestration:
		var p OrchestrationPayload
		err := json.Unmarshal(raw, &p)
		return p, err
	case EventTypeMarketplace:
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err != nil {
			return nil, err
		}
		return MarketplacePayload{Raw: compact.Bytes()}, nil
	}
	return nil, fmt.Errorf("unhandled event type %q", t)
}

// Payload is the closed set of typed payload variants. The unexported
// marker keeps the set sealed to this package.
type Payload interface {
	EventType() EventType
	isPayload()
}

// StatusPayload reports an agent's operational state.
type StatusPayload struct {
	State        AgentState `json:"state"`
	Capabilities []string   `json:"capabilities,omitempty"`
	Load         *float64   `json:"load,omitempty"`
	LastActivity *int64     `json:"lastActivity,omitempty"`
}

// ProvenancePayload requests a tier change.
type ProvenancePayload struct {
	FromTier   Tier           `json:"fromTier"`
	ToTier     Tier           `json:"toTier"`
	Confidence *float64       `json:"confidence,omitempty"`
	Criteria   map[string]any `json:"criteria,omitempty"`
}

// CapsulePayload reports a capsule lifecycle step.
type CapsulePayload struct {
	Lifecycle   Stage      `json:"lifecycle"`
	Progress    *float64   `json:"progress,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	PathwayID   string     `json:"pathwayId,omitempty"`
	StepID      string     `json:"stepId,omitempty"`
	CurrentStep *int       `json:"currentStep,omitempty"`
	HasErrors   bool       `json:"hasErrors,omitempty"`
}

// OrchestrationPayload reports a gate evaluation together with its checks.
type OrchestrationPayload struct {
	Gate   Tier        `json:"gate"`
	Status CheckResult `json:"status"`
	Checks []Check     `json:"checks"`
}

// MarketplacePayload is informational and passed through verbatim.
type MarketplacePayload struct {
	Raw json.RawMessage `json:"-"`
}

// MarshalJSON emits the original payload bytes.
func (p MarketplacePayload) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return []byte("{}"), nil
	}
	return p.Raw, nil
}

func (StatusPayload) EventType() EventType        { return EventTypeStatus }
func (ProvenancePayload) EventType() EventType    { return EventTypeProvenance }
func (CapsulePayload) EventType() EventType       { return EventTypeCapsule }
func (OrchestrationPayload) EventType() EventType { return EventTypeOrchestration }
func (MarketplacePayload) EventType() EventType   { return EventTypeMarketplace }

func (StatusPayload) isPayload()        {}
func (ProvenancePayload) isPayload()    {}
func (CapsulePayload) isPayload()       {}
func (OrchestrationPayload) isPayload() {}
func (MarketplacePayload) isPayload()   {}

// Artifact is a file or output produced for a capsule. ID is unique within the capsule.
type Artifact struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

// Check is one named check contributing to a gate verdict.
type Check struct {
	Name     string      `json:"name"`
	Result   CheckResult `json:"result"`
	Evidence any         `json:"evidence,omitempty"`
}
