package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deltaknight858/Eco-sub001/internal/app"
	"github.com/deltaknight858/Eco-sub001/internal/broadcast"
	"github.com/deltaknight858/Eco-sub001/internal/dispatch"
	"github.com/deltaknight858/Eco-sub001/internal/models"
	"github.com/deltaknight858/Eco-sub001/internal/store"
)

// drainTimeout bounds how long a command waits for sinks on exit.
const drainTimeout = 10 * time.Second

// engine is a dispatcher rebuilt from the event log for one command.
type engine struct {
	cfg     app.Config
	d       *dispatch.Dispatcher
	replay  dispatch.ReplayStats
	bcast   *broadcast.Sink
	lock    *store.WriteLock
	persist *persistSink
	drained bool
}

// openEngine replays the log into a fresh dispatcher. A live engine holds
// the store's write lock from before the replay until close, so concurrent
// eco processes apply their batches one after another against current state.
func openEngine(ctx context.Context, db *DB, live bool) (*engine, error) {
	cfg, err := app.EffectiveConfig()
	if err != nil {
		return nil, err
	}

	e := &engine{cfg: cfg}
	opts := []dispatch.Option{dispatch.WithLogger(slog.Default())}
	if live {
		dbPath, err := app.GetDBPath()
		if err != nil {
			return nil, err
		}
		lock, err := store.AcquireWriteLock(dbPath)
		if err != nil {
			return nil, err
		}
		e.lock = lock
		e.persist = newPersistSink(store.NewRecorder(db))
		opts = append(opts, dispatch.WithSinks(e.persist))
		if cfg.NATSURL != "" {
			sink, err := broadcast.Connect(cfg.NATSURL, cfg.NATSSubject, slog.Default())
			if err != nil {
				// The log is the source of truth; broadcast is best effort.
				slog.Warn("broadcast disabled", "url", cfg.NATSURL, "error", err.Error())
			} else {
				e.bcast = sink
				opts = append(opts, dispatch.WithSinks(sink))
			}
		}
	}

	d, err := dispatch.New(dispatch.Config{
		Policy:         cfg.Policy(),
		RecentIDWindow: cfg.RecentIDWindow,
	}, opts...)
	if err != nil {
		e.close()
		return nil, err
	}
	e.d = d

	bodies, err := store.AcceptedEventsForReplay(ctx, db)
	if err != nil {
		e.close()
		return nil, err
	}
	stats, err := d.Replay(ctx, bodies)
	if err != nil {
		e.close()
		return nil, err
	}
	e.replay = stats
	if stats.Rejected > 0 {
		slog.Warn("replay rejected stored events", "accepted", stats.Accepted, "rejected", stats.Rejected)
	}
	return e, nil
}

// drain stops intake and waits for queued records to reach every sink.
func (e *engine) drain() error {
	if e.d == nil || e.drained {
		return nil
	}
	e.drained = true
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	return e.d.Close(ctx)
}

// settle drains the engine and reconciles outcomes with what the log
// actually stored. An accepted event whose insert hit an already stored
// (agent, id) becomes a DUPLICATE_EVENT rejection; any other persistence
// failure is returned.
func (e *engine) settle(outcomes []models.Outcome) error {
	if err := e.drain(); err != nil {
		return fmt.Errorf("record delivery did not drain: %w", err)
	}
	if e.persist == nil {
		return nil
	}
	return e.persist.settle(outcomes)
}

// close drains sinks before the database is closed and then drops the
// write lock.
func (e *engine) close() {
	if err := e.drain(); err != nil {
		slog.Error("record delivery did not drain", "error", err.Error())
	}
	e.closeBroadcast()
	e.lock.Release()
	e.lock = nil
}

func (e *engine) closeBroadcast() {
	if e.bcast == nil {
		return
	}
	if err := e.bcast.Close(); err != nil {
		slog.Warn("broadcast close failed", "error", err.Error())
	}
	e.bcast = nil
}

type persistKey struct {
	agent, id string
}

// persistSink wraps the store recorder and keeps the result of every write
// so the command can report what the log refused.
type persistSink struct {
	rec *store.Recorder

	mu       sync.Mutex
	accepted map[persistKey][]error
	failed   []error
}

func newPersistSink(rec *store.Recorder) *persistSink {
	return &persistSink{rec: rec, accepted: make(map[persistKey][]error)}
}

// Record implements dispatch.Sink.
func (s *persistSink) Record(ctx context.Context, rec models.Record) error {
	err := s.rec.Record(ctx, rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Outcome.Accepted && rec.Event != nil {
		k := persistKey{agent: rec.Event.Agent, id: rec.Event.ID}
		s.accepted[k] = append(s.accepted[k], err)
	} else if err != nil {
		s.failed = append(s.failed, fmt.Errorf("record rejection of %q: %w", rec.Outcome.EventID, err))
	}
	return err
}

// settle consumes write results in delivery order per (agent, id).
func (s *persistSink) settle(outcomes []models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := append([]error(nil), s.failed...)
	for i, o := range outcomes {
		if !o.Accepted || o.Agent == nil {
			continue
		}
		k := persistKey{agent: o.Agent.ID, id: o.EventID}
		results := s.accepted[k]
		if len(results) == 0 {
			continue
		}
		err := results[0]
		s.accepted[k] = results[1:]
		switch {
		case err == nil:
		case errors.Is(err, store.ErrDuplicateStoredEvent):
			outcomes[i] = models.Outcome{
				EventID: o.EventID,
				Type:    o.Type,
				Error: models.Reject(models.CodeDuplicateEvent, "id",
					"event id %q from agent %q is already in the log", o.EventID, o.Agent.ID),
			}
		default:
			failed = append(failed, fmt.Errorf("store event %q: %w", o.EventID, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d records were not persisted: %w", len(failed), errors.Join(failed...))
	}
	return nil
}
