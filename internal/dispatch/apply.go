package dispatch

import (
	"github.com/deltaknight858/Eco-sub001/internal/gate"
	"github.com/deltaknight858/Eco-sub001/internal/models"
	"github.com/deltaknight858/Eco-sub001/internal/protocol"
	"github.com/deltaknight858/Eco-sub001/internal/provenance"
)

// dispatch applies a validated event under its slot lock. Capsule-routed
// events also hold their agent's slot, so the record they emit carries an
// agent snapshot no later event has overtaken. Every check runs against
// copies; slots are written only once all checks have passed.
func (d *Dispatcher) dispatch(ev *models.Event, raw []byte, deliver bool) models.Outcome {
	k := routeKey(ev)
	s := d.arena.slot(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	owner := s
	if k.kind == models.AggregateCapsule {
		owner = d.arena.slot(key{kind: models.AggregateAgent, id: ev.Agent})
		owner.mu.Lock()
		defer owner.mu.Unlock()
	}

	if !d.seen.Add(ev.Agent, ev.ID, ev.Timestamp) {
		rej := models.Reject(models.CodeDuplicateEvent, "id",
			"event id %q was already submitted by agent %q", ev.ID, ev.Agent)
		return d.reject(ev, raw, rej, deliver)
	}

	out, rej := d.apply(k, s, owner, ev)
	if rej != nil {
		d.seen.Delete(ev.Agent, ev.ID)
		return d.reject(ev, raw, rej, deliver)
	}

	if deliver {
		d.emit(models.Record{Event: ev, Raw: raw, Outcome: out.Clone()})
	}
	return out
}

func (d *Dispatcher) apply(k key, s, owner *slot, ev *models.Event) (models.Outcome, *models.RejectionError) {
	if err := protocol.CheckOrder(ev, s); err != nil {
		return models.Outcome{}, asRejection(err)
	}

	var (
		out models.Outcome
		rej *models.RejectionError
	)
	switch k.kind {
	case models.AggregateCapsule:
		out, rej = d.applyToCapsule(s, owner, ev)
	default:
		out, rej = d.applyToAgent(s, ev)
	}
	if rej != nil {
		return models.Outcome{}, rej
	}

	s.last[ev.Agent] = ev.Timestamp
	out.Accepted = true
	out.EventID = ev.ID
	out.Type = ev.Type
	return out, nil
}

// applyToAgent handles events that name no capsule.
func (d *Dispatcher) applyToAgent(s *slot, ev *models.Event) (models.Outcome, *models.RejectionError) {
	next := models.NewAgent(ev.Agent)
	if s.agent != nil {
		next = s.agent.Clone()
	}

	switch p := ev.Payload.(type) {
	case models.StatusPayload:
		next.Transitions = append(next.Transitions, models.Transition{
			EventID:   ev.ID,
			Kind:      models.TransitionStatus,
			From:      string(next.Status),
			To:        string(p.State),
			Timestamp: ev.Timestamp,
			Agent:     ev.Agent,
		})
		applyStatus(&next, p)
	case models.ProvenancePayload:
		change, err := d.machine.Apply(next.Tier, p)
		if err != nil {
			return models.Outcome{}, asRejection(err)
		}
		next.Tier = change.To
		next.Transitions = append(next.Transitions, change.Transition(ev))
		d.logTierChange(ev, models.AggregateAgent, ev.Agent, change)
	case models.MarketplacePayload:
		next.Transitions = append(next.Transitions, marketplaceTransition(ev))
	case models.CapsulePayload, models.OrchestrationPayload:
		return models.Outcome{}, models.Reject(models.CodeMissingCapsuleReference, "capsuleId",
			"required on %s events", ev.Type)
	default:
		return models.Outcome{}, models.Reject(models.CodeUnknownEventType, "type",
			"no handler for event type %q", ev.Type)
	}

	if ev.Timestamp > next.LastTimestamp {
		next.LastTimestamp = ev.Timestamp
	}
	s.agent = &next

	snap := next.Clone()
	return models.Outcome{Agent: &snap}, nil
}

// applyToCapsule handles events that name a capsule. Both the capsule slot
// and the owning agent's slot are held; the agent is touched only after
// every check passed.
func (d *Dispatcher) applyToCapsule(s, owner *slot, ev *models.Event) (models.Outcome, *models.RejectionError) {
	var (
		out       models.Outcome
		next      models.Capsule
		agentNote *models.Transition
	)
	existing := s.capsule != nil

	switch p := ev.Payload.(type) {
	case models.CapsulePayload:
		base := models.NewCapsule(ev.CapsuleID, ev.Agent)
		if existing {
			base = *s.capsule
		}
		c, change, err := d.tracker.Apply(base, p, ev.Timestamp)
		if err != nil {
			return models.Outcome{}, asRejection(err)
		}
		c.Transitions = append(c.Transitions, change.Transition(ev))
		next = c
	case models.ProvenancePayload:
		if !existing {
			return models.Outcome{}, unknownCapsule(ev)
		}
		change, err := d.machine.Apply(s.capsule.Tier, p)
		if err != nil {
			return models.Outcome{}, asRejection(err)
		}
		next = s.capsule.Clone()
		next.Tier = change.To
		next.UpdatedAt = ev.Timestamp
		next.Transitions = append(next.Transitions, change.Transition(ev))
		d.logTierChange(ev, models.AggregateCapsule, ev.CapsuleID, change)
	case models.OrchestrationPayload:
		if !existing {
			return models.Outcome{}, unknownCapsule(ev)
		}
		verdict, err := gate.Check(p)
		if err != nil {
			return models.Outcome{}, asRejection(err)
		}
		next = s.capsule.Clone()
		prev := next.Gates[p.Gate]
		if next.Gates == nil {
			next.Gates = make(map[models.Tier]models.GateRecord)
		}
		next.Gates[p.Gate] = models.GateRecord{Status: verdict.Status, EventID: ev.ID, Timestamp: ev.Timestamp}
		next.UpdatedAt = ev.Timestamp
		next.Transitions = append(next.Transitions, models.Transition{
			EventID:   ev.ID,
			Kind:      models.TransitionGate,
			From:      string(prev.Status),
			To:        string(verdict.Status),
			Timestamp: ev.Timestamp,
			Agent:     ev.Agent,
			Note:      string(p.Gate),
		})
		out.Verdict = &verdict
		if cand, ok := gate.Candidate(verdict, p.Checks); ok {
			out.Candidate = cand
			d.logger.Info("gate passed, promotion candidate",
				"capsule_id", ev.CapsuleID,
				"gate", p.Gate,
				"to_tier", cand.ToTier,
				"event_id", ev.ID,
			)
		}
	case models.MarketplacePayload:
		tr := marketplaceTransition(ev)
		if !existing {
			agentNote = &tr
			break
		}
		next = s.capsule.Clone()
		next.UpdatedAt = ev.Timestamp
		next.Transitions = append(next.Transitions, tr)
	case models.StatusPayload:
		return models.Outcome{}, models.Reject(models.CodeMalformedEvent, "capsuleId",
			"not allowed on %s events", ev.Type)
	default:
		return models.Outcome{}, models.Reject(models.CodeUnknownEventType, "type",
			"no handler for event type %q", ev.Type)
	}

	if agentNote == nil {
		s.capsule = &next
		snap := next.Clone()
		out.Capsule = &snap
	}

	agent := touchAgent(owner, ev, agentNote)
	out.Agent = &agent
	return out, nil
}

// touchAgent records that the agent emitted ev, creating the agent on first
// sight. The caller holds s. It cannot fail, so it runs only after the
// routed aggregate has accepted the event.
func touchAgent(s *slot, ev *models.Event, tr *models.Transition) models.Agent {
	next := models.NewAgent(ev.Agent)
	if s.agent != nil {
		next = s.agent.Clone()
	}
	if ev.Timestamp > next.LastTimestamp {
		next.LastTimestamp = ev.Timestamp
	}
	if tr != nil {
		next.Transitions = append(next.Transitions, *tr)
	}
	s.agent = &next
	return next.Clone()
}

// applyStatus overwrites the reported fields. Optional fields that are
// absent keep their previous value.
func applyStatus(a *models.Agent, p models.StatusPayload) {
	a.Status = p.State
	if p.Capabilities != nil {
		a.Capabilities = append([]string(nil), p.Capabilities...)
	}
	if p.Load != nil {
		v := *p.Load
		a.Load = &v
	}
	if p.LastActivity != nil {
		v := *p.LastActivity
		a.LastActivity = &v
	}
}

func marketplaceTransition(ev *models.Event) models.Transition {
	return models.Transition{
		EventID:   ev.ID,
		Kind:      models.TransitionMarketplace,
		Timestamp: ev.Timestamp,
		Agent:     ev.Agent,
	}
}

func unknownCapsule(ev *models.Event) *models.RejectionError {
	return models.Reject(models.CodeUnknownCapsule, "capsuleId",
		"capsule %q has not been created", ev.CapsuleID,
	).WithStates("", string(ev.Type))
}

func (d *Dispatcher) logTierChange(ev *models.Event, kind, id string, c provenance.Change) {
	switch c.Kind {
	case models.TierChangeDemotion:
		d.logger.Warn("tier demoted",
			"aggregate", kind,
			"id", id,
			"from", c.From,
			"to", c.To,
			"event_id", ev.ID,
			"agent", ev.Agent,
			"criteria", c.Criteria,
		)
	case models.TierChangePromotion:
		d.logger.Info("tier promoted",
			"aggregate", kind,
			"id", id,
			"from", c.From,
			"to", c.To,
			"event_id", ev.ID,
		)
	}
}

func (d *Dispatcher) reject(ev *models.Event, raw []byte, rej *models.RejectionError, deliver bool) models.Outcome {
	out := models.Rejected(ev, rej)

	attrs := []any{"code", rej.Code, "field", rej.Field, "reason", rej.Reason}
	if ev != nil {
		attrs = append(attrs, "event_id", ev.ID, "type", ev.Type, "agent", ev.Agent)
	}
	d.logger.Debug("event rejected", attrs...)

	if deliver {
		d.emit(models.Record{Event: ev, Raw: raw, Outcome: out.Clone()})
	}
	return out
}
