package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deltaknight858/Eco-sub001/internal/dispatch"
	"github.com/deltaknight858/Eco-sub001/internal/models"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []message
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{subject: subject, data: append([]byte(nil), data...)})
	return nil
}

func TestSubject(t *testing.T) {
	require.Equal(t, "eco.events.capsule", NewSink(nil, "", nil).Subject(models.EventTypeCapsule))
	require.Equal(t, "lab.eco.status", NewSink(nil, " lab.eco. ", nil).Subject(models.EventTypeStatus))
}

func TestRecord_PublishesAcceptedOnly(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewSink(pub, "", nil)

	d, err := dispatch.New(dispatch.DefaultConfig(), dispatch.WithSinks(sink))
	require.NoError(t, err)

	d.Submit([]byte(`{"id":"e1","type":"capsule","agent":"a1","capsuleId":"c1","timestamp":1,"payload":{"lifecycle":"created"}}`))
	d.Submit([]byte(`{"id":"e2","type":"capsule","agent":"a1","capsuleId":"c1","timestamp":2,"payload":{"lifecycle":"published"}}`))
	d.Submit([]byte(`{"id":"e3","type":"status","agent":"a1","timestamp":3,"payload":{"state":"idle"}}`))
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, pub.msgs, 2)
	require.Equal(t, "eco.events.capsule", pub.msgs[0].subject)
	require.Equal(t, "eco.events.status", pub.msgs[1].subject)

	var m Message
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &m))
	require.Equal(t, uint64(1), m.Seq)
	require.True(t, m.Outcome.Accepted)
	require.NotNil(t, m.Outcome.Capsule)
	require.Equal(t, models.StageCreated, m.Outcome.Capsule.Lifecycle)
	require.NotNil(t, m.Event)
	require.Equal(t, models.CapsulePayload{Lifecycle: models.StageCreated}, m.Event.Payload)
}

func TestRecord_PublishError(t *testing.T) {
	sink := NewSink(&fakePublisher{err: errors.New("no responders")}, "eco", nil)
	rec := models.Record{
		Event:   &models.Event{ID: "e1", Type: models.EventTypeStatus, Agent: "a1", Payload: models.StatusPayload{State: models.AgentStateIdle}},
		Outcome: models.Outcome{Accepted: true, EventID: "e1"},
	}
	err := sink.Record(context.Background(), rec)
	require.ErrorContains(t, err, "nats publish eco.status")
}

func TestRecord_CancelledContext(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewSink(pub, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.Record(ctx, models.Record{
		Event:   &models.Event{ID: "e1", Type: models.EventTypeStatus},
		Outcome: models.Outcome{Accepted: true},
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, pub.msgs)
}

func TestClose_WithoutConnection(t *testing.T) {
	require.NoError(t, NewSink(&fakePublisher{}, "", nil).Close())
}
