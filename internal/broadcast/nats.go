// Package broadcast publishes accepted records to NATS so other processes
// can follow capsule and agent state as it changes.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "eco.events"

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Sink publishes every accepted record as JSON to <prefix>.<type>.
// Rejected records are not broadcast.
type Sink struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewSink wraps pub. An empty prefix selects DefaultSubjectPrefix.
func NewSink(pub Publisher, prefix string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Sink{pub: pub, prefix: prefix, logger: logger}
}

// Connect dials url and returns a sink that owns the connection.
func Connect(url, prefix string, logger *slog.Logger) (*Sink, error) {
	nc, err := nats.Connect(url, nats.Name("eco"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	s := NewSink(nc, prefix, logger)
	s.conn = nc
	s.logger.Debug("nats connected", "url", url, "prefix", s.prefix)
	return s, nil
}

// Subject returns the subject records of type t are published on.
func (s *Sink) Subject(t models.EventType) string {
	return s.prefix + "." + string(t)
}

// Message is the published body.
type Message struct {
	Seq     uint64         `json:"seq"`
	Event   *models.Event  `json:"event"`
	Outcome models.Outcome `json:"outcome"`
}

// Record implements dispatch.Sink.
func (s *Sink) Record(ctx context.Context, rec models.Record) error {
	if !rec.Outcome.Accepted || rec.Event == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(Message{Seq: rec.Seq, Event: rec.Event, Outcome: rec.Outcome})
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	subject := s.Subject(rec.Event.Type)
	if err := s.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes a connection opened by Connect.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
