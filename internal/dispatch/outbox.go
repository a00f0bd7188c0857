package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

// Sink receives every record the dispatcher produces, in acceptance order.
// A Sink is called from a single goroutine and never while an aggregate is
// locked. Errors are logged and do not affect outcomes; a caller that must
// know whether a record landed wraps its sink.
type Sink interface {
	Record(ctx context.Context, rec models.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec models.Record) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, rec models.Record) error { return f(ctx, rec) }

// outbox is an unbounded FIFO drained by one worker. enqueue never blocks
// on delivery, so it is safe to call inside a slot's critical section.
type outbox struct {
	logger *slog.Logger
	sinks  []Sink

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []models.Record
	seq    uint64
	closed bool

	done chan struct{}
}

func newOutbox(logger *slog.Logger, sinks []Sink) *outbox {
	o := &outbox{
		logger: logger,
		sinks:  sinks,
		done:   make(chan struct{}),
	}
	o.cond = sync.NewCond(&o.mu)
	go o.run()
	return o
}

// enqueue assigns the next sequence number to rec and queues it.
func (o *outbox) enqueue(rec models.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		o.logger.Warn("outbox closed, dropping record", "event_id", rec.Outcome.EventID)
		return
	}
	o.seq++
	rec.Seq = o.seq
	o.queue = append(o.queue, rec)
	o.cond.Signal()
}

func (o *outbox) run() {
	defer close(o.done)
	ctx := context.Background()

	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closed {
			o.cond.Wait()
		}
		if len(o.queue) == 0 && o.closed {
			o.mu.Unlock()
			return
		}
		batch := o.queue
		o.queue = nil
		o.mu.Unlock()

		for _, rec := range batch {
			o.deliver(ctx, rec)
		}
	}
}

func (o *outbox) deliver(ctx context.Context, rec models.Record) {
	for _, s := range o.sinks {
		if err := s.Record(ctx, rec); err != nil {
			o.logger.Error("sink delivery failed",
				"error", err,
				"seq", rec.Seq,
				"event_id", rec.Outcome.EventID,
				"accepted", rec.Outcome.Accepted,
			)
		}
	}
}

// close stops intake and waits for queued records to drain or ctx to end.
func (o *outbox) close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.cond.Broadcast()
	o.mu.Unlock()

	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
