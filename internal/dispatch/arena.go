package dispatch

import (
	"sync"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

// key identifies one aggregate slot.
type key struct {
	kind string
	id   string
}

func (k key) String() string { return k.kind + ":" + k.id }

// routeKey returns the single slot that serializes ev: the capsule when the
// event names one, else the agent.
func routeKey(ev *models.Event) key {
	if ev.CapsuleID != "" {
		return key{kind: models.AggregateCapsule, id: ev.CapsuleID}
	}
	return key{kind: models.AggregateAgent, id: ev.Agent}
}

// slot owns one aggregate and the ordering state of every
// (agent, capsuleId) key routed to it. All fields are guarded by mu.
type slot struct {
	mu      sync.Mutex
	agent   *models.Agent
	capsule *models.Capsule
	// last maps agent -> last accepted timestamp for this slot's capsule
	// (or for the agent itself on agent slots).
	last map[string]int64
}

// LastTimestamp implements protocol.OrderingView for events routed to s.
// The caller must hold s.mu.
func (s *slot) LastTimestamp(agent, _ string) (int64, bool) {
	ts, ok := s.last[agent]
	return ts, ok
}

// arena maps stable ids to slots. Slots are created on first use and never
// removed.
type arena struct {
	mu    sync.Mutex
	slots map[key]*slot
}

func newArena() *arena {
	return &arena{slots: make(map[key]*slot)}
}

func (a *arena) slot(k key) *slot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.slots[k]
	if !ok {
		s = &slot{last: make(map[string]int64)}
		a.slots[k] = s
	}
	return s
}

// lookup returns the slot for k without creating it.
func (a *arena) lookup(k key) (*slot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.slots[k]
	return s, ok
}

// ids returns the ids of every slot of the given kind.
func (a *arena) ids(kind string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []string
	for k := range a.slots {
		if k.kind == kind {
			out = append(out, k.id)
		}
	}
	return out
}
