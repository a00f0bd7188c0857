// Package provenance implements the bronze < silver < gold tier state machine.
package provenance

import (
	"fmt"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

// Policy defaults.
const (
	DefaultPromotionThreshold = 0.75
	DefaultAllowTierJumps     = false
)

// DefaultOverrideKeys are the criteria keys that justify a promotion
// without a confidence score. gate_pass is written by the gate evaluator.
func DefaultOverrideKeys() []string {
	return []string{"gate_pass", "manual_override"}
}

// Policy holds the promotion knobs. It is fixed at construction time.
type Policy struct {
	PromotionThreshold float64  `json:"promotion_threshold" yaml:"promotion_threshold"`
	AllowTierJumps     bool     `json:"allow_tier_jumps" yaml:"allow_tier_jumps"`
	OverrideKeys       []string `json:"override_keys" yaml:"override_keys"`
}

// DefaultPolicy returns the conservative default policy.
func DefaultPolicy() Policy {
	return Policy{
		PromotionThreshold: DefaultPromotionThreshold,
		AllowTierJumps:     DefaultAllowTierJumps,
		OverrideKeys:       DefaultOverrideKeys(),
	}
}

// Validate rejects policies that could never be satisfied or are ambiguous.
func (p Policy) Validate() error {
	if p.PromotionThreshold < 0 || p.PromotionThreshold > 1 {
		return fmt.Errorf("promotion threshold %v outside [0, 1]", p.PromotionThreshold)
	}
	for _, k := range p.OverrideKeys {
		if k == "" {
			return fmt.Errorf("override keys must be non-empty")
		}
	}
	return nil
}

// Change is the result of applying a provenance payload.
type Change struct {
	From     models.Tier
	To       models.Tier
	Kind     string
	Criteria map[string]any
}

// Delta reports whether the change moves the tier.
func (c Change) Delta() bool { return c.From != c.To }

// Transition renders the change as a log entry for ev.
func (c Change) Transition(ev *models.Event) models.Transition {
	return models.Transition{
		EventID:   ev.ID,
		Kind:      models.TransitionTier,
		From:      string(c.From),
		To:        string(c.To),
		Timestamp: ev.Timestamp,
		Agent:     ev.Agent,
		Criteria:  models.CloneMap(c.Criteria),
		Note:      c.Kind,
	}
}

// Machine applies tier transitions under a Policy.
type Machine struct {
	policy    Policy
	overrides map[string]struct{}
}

// NewMachine validates policy and returns a Machine.
func NewMachine(policy Policy) (*Machine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	overrides := make(map[string]struct{}, len(policy.OverrideKeys))
	for _, k := range policy.OverrideKeys {
		overrides[k] = struct{}{}
	}
	return &Machine{policy: policy, overrides: overrides}, nil
}

// Policy returns the policy the machine was built with.
func (m *Machine) Policy() Policy { return m.policy }

// Apply evaluates p against the tracked tier. It never mutates its inputs;
// on error the caller must leave the tracked tier unchanged.
func (m *Machine) Apply(current models.Tier, p models.ProvenancePayload) (Change, error) {
	if !current.Valid() {
		current = models.InitialTier
	}

	if p.FromTier != current {
		return Change{}, models.Reject(models.CodeStaleFromTier, "payload.fromTier",
			"payload fromTier %q does not match tracked tier %q", p.FromTier, current,
		).WithStates(string(current), string(p.FromTier))
	}

	change := Change{From: current, To: p.ToTier, Criteria: models.CloneMap(p.Criteria)}
	fromRank, toRank := p.FromTier.Rank(), p.ToTier.Rank()

	switch {
	case toRank == fromRank:
		change.Kind = models.TierChangeNoop
		return change, nil
	case toRank < fromRank:
		change.Kind = models.TierChangeDemotion
		return change, nil
	}

	change.Kind = models.TierChangePromotion
	if toRank-fromRank > 1 && !m.policy.AllowTierJumps {
		return Change{}, models.Reject(models.CodeIllegalTierJump, "payload.toTier",
			"promotion %s -> %s skips a tier", p.FromTier, p.ToTier,
		).WithStates(string(current), string(p.ToTier))
	}

	if m.hasOverride(p.Criteria) {
		return change, nil
	}
	if p.Confidence == nil {
		return Change{}, models.Reject(models.CodeBelowConfidenceThreshold, "payload.confidence",
			"promotion requires confidence >= %v or an override criterion", m.policy.PromotionThreshold,
		).WithStates(string(current), string(p.ToTier))
	}
	if *p.Confidence < m.policy.PromotionThreshold {
		return Change{}, models.Reject(models.CodeBelowConfidenceThreshold, "payload.confidence",
			"confidence %v below threshold %v", *p.Confidence, m.policy.PromotionThreshold,
		).WithStates(string(current), string(p.ToTier))
	}
	return change, nil
}

// hasOverride reports whether criteria carries a recognized override key
// with a value other than null or false.
func (m *Machine) hasOverride(criteria map[string]any) bool {
	for k, v := range criteria {
		if _, ok := m.overrides[k]; !ok {
			continue
		}
		if v == nil {
			continue
		}
		if b, isBool := v.(bool); isBool && !b {
			continue
		}
		return true
	}
	return false
}
