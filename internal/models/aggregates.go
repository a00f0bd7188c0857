package models

// Capsule is the derived state of one capsule. The dispatcher owns every
// Capsule; callers only ever see copies.
type Capsule struct {
	ID          string              `json:"id"`
	Lifecycle   Stage               `json:"lifecycle"`
	Progress    float64             `json:"progress"`
	Artifacts   []Artifact          `json:"artifacts"`
	Tier        Tier                `json:"tier"`
	HasErrors   bool                `json:"hasErrors"`
	PathwayID   string              `json:"pathwayId,omitempty"`
	StepID      string              `json:"stepId,omitempty"`
	CurrentStep *int                `json:"currentStep,omitempty"`
	Markers     StageMarkers        `json:"markers"`
	Gates       map[Tier]GateRecord `json:"gates,omitempty"`
	CreatedBy   string              `json:"createdBy"`
	UpdatedAt   int64               `json:"updatedAt"`
	Transitions []Transition        `json:"transitions"`
}

// StageMarkers record the event timestamp at which a certifying stage was
// reached. A zero value means the stage is not currently held.
type StageMarkers struct {
	TestedAt    int64 `json:"testedAt,omitempty"`
	SignedAt    int64 `json:"signedAt,omitempty"`
	PublishedAt int64 `json:"publishedAt,omitempty"`
}

// GateRecord is the latest computed verdict for one gate tier.
type GateRecord struct {
	Status    CheckResult `json:"status"`
	EventID   string      `json:"eventId"`
	Timestamp int64       `json:"timestamp"`
}

// NewCapsule returns an empty capsule at the initial tier. Its lifecycle is
// unset until the first capsule event is applied.
func NewCapsule(id, agent string) Capsule {
	return Capsule{
		ID:        id,
		Tier:      InitialTier,
		CreatedBy: agent,
	}
}

// IsMaterialized reports whether a capsule event has created this capsule.
func (c *Capsule) IsMaterialized() bool {
	return c.Lifecycle != ""
}

// Clone returns a deep copy of c.
func (c Capsule) Clone() Capsule {
	out := c
	if c.Artifacts != nil {
		out.Artifacts = append([]Artifact(nil), c.Artifacts...)
	}
	if c.CurrentStep != nil {
		v := *c.CurrentStep
		out.CurrentStep = &v
	}
	if c.Gates != nil {
		out.Gates = make(map[Tier]GateRecord, len(c.Gates))
		for k, v := range c.Gates {
			out.Gates[k] = v
		}
	}
	out.Transitions = cloneTransitions(c.Transitions)
	return out
}

// Agent is the derived state of one agent.
type Agent struct {
	ID            string       `json:"id"`
	Status        AgentState   `json:"status,omitempty"`
	Capabilities  []string     `json:"capabilities,omitempty"`
	Load          *float64     `json:"load,omitempty"`
	LastActivity  *int64       `json:"lastActivity,omitempty"`
	Tier          Tier         `json:"tier"`
	LastTimestamp int64        `json:"lastTimestamp"`
	Transitions   []Transition `json:"transitions"`
}

// NewAgent returns an agent at the initial tier with no reported status.
func NewAgent(id string) Agent {
	return Agent{ID: id, Tier: InitialTier}
}

// Clone returns a deep copy of a.
func (a Agent) Clone() Agent {
	out := a
	if a.Capabilities != nil {
		out.Capabilities = append([]string(nil), a.Capabilities...)
	}
	if a.Load != nil {
		v := *a.Load
		out.Load = &v
	}
	if a.LastActivity != nil {
		v := *a.LastActivity
		out.LastActivity = &v
	}
	out.Transitions = cloneTransitions(a.Transitions)
	return out
}

// Transition is one accepted entry in an aggregate's log.
type Transition struct {
	EventID   string         `json:"eventId"`
	Kind      string         `json:"kind"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Agent     string         `json:"agent"`
	Criteria  map[string]any `json:"criteria,omitempty"`
	Note      string         `json:"note,omitempty"`
}

func cloneTransitions(in []Transition) []Transition {
	if in == nil {
		return nil
	}
	out := make([]Transition, len(in))
	for i, t := range in {
		out[i] = t
		out[i].Criteria = CloneMap(t.Criteria)
	}
	return out
}

// CloneMap deep-copies a decoded JSON object.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a decoded JSON value. Scalars are returned as is.
func CloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return CloneMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}
