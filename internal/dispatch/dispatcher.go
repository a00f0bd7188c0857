// Package dispatch is the single entry point for raw events. It validates
// each event, routes it to the component that owns its semantics and commits
// the result to the aggregate arena atomically.
//
// Submissions that target the same aggregate are serialized by that
// aggregate's slot lock; submissions for different aggregates run in
// parallel. A capsule-routed event also holds its agent's slot for the
// whole critical section, since it touches the agent too. Lock order is
// always capsule then agent.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/deltaknight858/Eco-sub001/internal/lifecycle"
	"github.com/deltaknight858/Eco-sub001/internal/models"
	"github.com/deltaknight858/Eco-sub001/internal/protocol"
	"github.com/deltaknight858/Eco-sub001/internal/provenance"
	"github.com/deltaknight858/Eco-sub001/pkg/lru"
)

// DefaultRecentIDWindow is how many event ids per agent are remembered for
// duplicate detection.
const DefaultRecentIDWindow = 4096

// Config holds the engine knobs. It is fixed at construction.
type Config struct {
	Policy         provenance.Policy
	RecentIDWindow int
}

// DefaultConfig returns the default policy and id window.
func DefaultConfig() Config {
	return Config{
		Policy:         provenance.DefaultPolicy(),
		RecentIDWindow: DefaultRecentIDWindow,
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithSinks registers collaborators that receive every record.
func WithSinks(sinks ...Sink) Option {
	return func(d *Dispatcher) {
		d.sinks = append(d.sinks, sinks...)
	}
}

// WithIDGenerator replaces the UUID generator used for events without an id.
func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// Dispatcher owns the identifier -> aggregate arena.
type Dispatcher struct {
	validator *protocol.Validator
	machine   *provenance.Machine
	tracker   *lifecycle.Tracker
	logger    *slog.Logger
	newID     func() string
	sinks     []Sink

	arena  *arena
	seen   *lru.Cache[int64]
	outbox *outbox
}

// New builds a Dispatcher. It fails only on an invalid policy or a schema
// that does not compile.
func New(cfg Config, opts ...Option) (*Dispatcher, error) {
	if cfg.RecentIDWindow <= 0 {
		cfg.RecentIDWindow = DefaultRecentIDWindow
	}

	machine, err := provenance.NewMachine(cfg.Policy)
	if err != nil {
		return nil, err
	}
	validator, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		validator: validator,
		machine:   machine,
		tracker:   lifecycle.NewTracker(),
		logger:    slog.Default(),
		newID:     uuid.NewString,
		arena:     newArena(),
		seen:      lru.New[int64](cfg.RecentIDWindow),
	}
	for _, opt := range opts {
		opt(d)
	}
	if len(d.sinks) > 0 {
		d.outbox = newOutbox(d.logger, d.sinks)
	}
	return d, nil
}

// Policy returns the provenance policy in effect.
func (d *Dispatcher) Policy() provenance.Policy { return d.machine.Policy() }

// Submit validates and applies one raw event. It never panics on bad input
// and never leaves an aggregate partially updated.
func (d *Dispatcher) Submit(raw []byte) models.Outcome {
	ev, rej := d.prepare(raw)
	if rej != nil {
		return d.reject(nil, raw, rej, true)
	}
	return d.dispatch(ev, raw, true)
}

// Validate runs the structural checks and the ordering check against
// current state without applying anything.
func (d *Dispatcher) Validate(raw []byte) (*models.Event, error) {
	ev, rej := d.prepare(raw)
	if rej != nil {
		return nil, rej
	}
	s, ok := d.arena.lookup(routeKey(ev))
	if !ok {
		return ev, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := protocol.CheckOrder(ev, s); err != nil {
		return nil, err
	}
	return ev, nil
}

// prepare runs the stateless part of validation and assigns an id.
func (d *Dispatcher) prepare(raw []byte) (*models.Event, *models.RejectionError) {
	ev, err := d.validator.Validate(raw, protocol.NoHistory{})
	if err != nil {
		return nil, asRejection(err)
	}
	if ev.ID == "" {
		ev.ID = d.newID()
	}
	return ev, nil
}

// Agent returns a snapshot of the agent with id.
func (d *Dispatcher) Agent(id string) (models.Agent, bool) {
	s, ok := d.arena.lookup(key{kind: models.AggregateAgent, id: id})
	if !ok {
		return models.Agent{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agent == nil {
		return models.Agent{}, false
	}
	return s.agent.Clone(), true
}

// Capsule returns a snapshot of the capsule with id. Capsules exist once a
// capsule event has created them.
func (d *Dispatcher) Capsule(id string) (models.Capsule, bool) {
	s, ok := d.arena.lookup(key{kind: models.AggregateCapsule, id: id})
	if !ok {
		return models.Capsule{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capsule == nil {
		return models.Capsule{}, false
	}
	return s.capsule.Clone(), true
}

// AgentIDs returns the ids of every known agent in sorted order.
func (d *Dispatcher) AgentIDs() []string {
	var out []string
	for _, id := range d.arena.ids(models.AggregateAgent) {
		if _, ok := d.Agent(id); ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// CapsuleIDs returns the ids of every materialized capsule in sorted order.
func (d *Dispatcher) CapsuleIDs() []string {
	var out []string
	for _, id := range d.arena.ids(models.AggregateCapsule) {
		if _, ok := d.Capsule(id); ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Close stops record delivery after draining queued records. Submissions
// made after Close still return outcomes but their records are dropped.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d.outbox == nil {
		return nil
	}
	return d.outbox.close(ctx)
}

func (d *Dispatcher) emit(rec models.Record) {
	if d.outbox == nil {
		return
	}
	d.outbox.enqueue(rec)
}

func asRejection(err error) *models.RejectionError {
	var rej *models.RejectionError
	if errors.As(err, &rej) {
		return rej
	}
	return models.Reject(models.CodeMalformedEvent, "", "%v", err)
}
