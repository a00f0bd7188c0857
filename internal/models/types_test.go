package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventUnmarshalJSON_DecodesEveryPayloadVariant(t *testing.T) {
	load := 0.5
	progress := 40.0
	confidence := 0.9

	for _, ev := range []Event{
		{ID: "s", Type: EventTypeStatus, Agent: "a1", Timestamp: 1,
			Payload: StatusPayload{State: AgentStateActive, Capabilities: []string{"build"}, Load: &load}},
		{ID: "p", Type: EventTypeProvenance, Agent: "a1", CapsuleID: "c1", Timestamp: 2,
			Payload: ProvenancePayload{FromTier: TierBronze, ToTier: TierSilver, Confidence: &confidence}},
		{ID: "c", Type: EventTypeCapsule, Agent: "a1", CapsuleID: "c1", Timestamp: 3, Severity: SeverityError,
			Payload: CapsulePayload{Lifecycle: StageModified, Progress: &progress, Artifacts: []Artifact{{ID: "x"}}}},
		{ID: "o", Type: EventTypeOrchestration, Agent: "a1", CapsuleID: "c1", Timestamp: 4, ProvenanceTier: TierSilver,
			Payload: OrchestrationPayload{Gate: TierSilver, Status: ResultPass, Checks: []Check{{Name: "lint", Result: ResultPass}}}},
		{ID: "m", Type: EventTypeMarketplace, Agent: "a1", Timestamp: 5,
			Payload: MarketplacePayload{Raw: json.RawMessage(`{"listing":"l1","price":3}`)}},
	} {
		t.Run(string(ev.Type), func(t *testing.T) {
			data, err := json.Marshal(ev)
			require.NoError(t, err)

			var got Event
			require.NoError(t, json.Unmarshal(data, &got))
			require.Equal(t, ev, got)
			require.Equal(t, ev.Type, got.Payload.EventType())
		})
	}
}

func TestEventUnmarshalJSON_Edges(t *testing.T) {
	t.Run("missing payload stays nil", func(t *testing.T) {
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(`{"id":"e","type":"status","agent":"a","timestamp":1}`), &ev))
		require.Nil(t, ev.Payload)
		require.Equal(t, "a", ev.Agent)

		require.NoError(t, json.Unmarshal([]byte(`{"id":"e","type":"status","agent":"a","payload":null}`), &ev))
		require.Nil(t, ev.Payload)
	})

	t.Run("unknown type", func(t *testing.T) {
		var ev Event
		err := json.Unmarshal([]byte(`{"id":"e","type":"gossip","agent":"a","payload":{}}`), &ev)
		require.ErrorContains(t, err, `unhandled event type "gossip"`)
	})

	t.Run("payload shape mismatch", func(t *testing.T) {
		var ev Event
		err := json.Unmarshal([]byte(`{"id":"e","type":"status","agent":"a","payload":{"state":7}}`), &ev)
		require.ErrorContains(t, err, "decode status payload")
	})

	t.Run("marketplace payload is compacted", func(t *testing.T) {
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(`{"id":"e","type":"marketplace","agent":"a","payload":{ "k" : [1, 2] }}`), &ev))
		require.Equal(t, MarketplacePayload{Raw: json.RawMessage(`{"k":[1,2]}`)}, ev.Payload)
	})
}

func TestRecordRoundTrip(t *testing.T) {
	ev := &Event{ID: "e1", Type: EventTypeCapsule, Agent: "a1", CapsuleID: "c1", Timestamp: 10,
		Payload: CapsulePayload{Lifecycle: StageCreated}}
	rec := Record{
		Seq:   7,
		Event: ev,
		Outcome: Outcome{
			Accepted: true,
			EventID:  "e1",
			Type:     EventTypeCapsule,
			Capsule:  &Capsule{ID: "c1", Lifecycle: StageCreated, CreatedBy: "a1"},
		},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var got Record
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, rec.Seq, got.Seq)
	require.Equal(t, ev, got.Event)
	require.Equal(t, rec.Outcome.Capsule.Lifecycle, got.Outcome.Capsule.Lifecycle)
}
