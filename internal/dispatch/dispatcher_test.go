package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltaknight858/Eco-sub001/internal/models"
	"github.com/deltaknight858/Eco-sub001/internal/provenance"
)

func newTestDispatcher(t *testing.T, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New(DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

// raw encodes an event document. Fields left empty are omitted.
func raw(t *testing.T, id, typ, agent, capsule string, ts int64, payload any) []byte {
	t.Helper()
	doc := map[string]any{"type": typ, "agent": agent, "timestamp": ts, "payload": payload}
	if id != "" {
		doc["id"] = id
	}
	if capsule != "" {
		doc["capsuleId"] = capsule
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return b
}

func capsuleEvent(t *testing.T, id, capsule string, ts int64, stage string) []byte {
	return raw(t, id, "capsule", "a1", capsule, ts, map[string]any{"lifecycle": stage})
}

func requireAccepted(t *testing.T, out models.Outcome, msgAndArgs ...any) {
	t.Helper()
	if !out.Accepted {
		require.Fail(t, fmt.Sprintf("rejected: %v", out.Error), msgAndArgs...)
	}
}

func requireRejected(t *testing.T, out models.Outcome, code models.ErrorCode) {
	t.Helper()
	require.False(t, out.Accepted)
	require.NotNil(t, out.Error)
	require.Equal(t, code, out.Error.Code, out.Error.Error())
}

func TestSubmit_EndToEndCapsuleScenario(t *testing.T) {
	d := newTestDispatcher(t)

	out := d.Submit(capsuleEvent(t, "e1", "c1", 1000, "created"))
	requireAccepted(t, out)
	require.Equal(t, models.StageCreated, out.Capsule.Lifecycle)
	require.Equal(t, models.TierBronze, out.Capsule.Tier)

	out = d.Submit(raw(t, "e2", "orchestration", "a1", "c1", 1001, map[string]any{
		"gate":   "bronze",
		"status": "pass",
		"checks": []any{
			map[string]any{"name": "lint", "result": "pass"},
			map[string]any{"name": "tests", "result": "pass"},
		},
	}))
	requireAccepted(t, out)
	require.Equal(t, models.ResultPass, out.Verdict.Status)
	require.NotNil(t, out.Candidate, "a passing bronze gate proposes silver")
	require.Equal(t, models.TierBronze, out.Candidate.FromTier)
	require.Equal(t, models.TierSilver, out.Candidate.ToTier)
	require.Equal(t, models.TierBronze, out.Capsule.Tier, "the evaluator never changes the tier itself")

	out = d.Submit(raw(t, "e3", "provenance", "a1", "c1", 1002, map[string]any{
		"fromTier": "bronze", "toTier": "silver", "confidence": 0.9,
	}))
	requireAccepted(t, out)
	require.Equal(t, models.TierSilver, out.Capsule.Tier)

	c, ok := d.Capsule("c1")
	require.True(t, ok)
	require.Equal(t, models.TierSilver, c.Tier)
	require.Len(t, c.Transitions, 3)
	require.Equal(t, []string{models.TransitionLifecycle, models.TransitionGate, models.TransitionTier},
		[]string{c.Transitions[0].Kind, c.Transitions[1].Kind, c.Transitions[2].Kind})

	a, ok := d.Agent("a1")
	require.True(t, ok, "capsule events create their agent")
	require.Equal(t, int64(1002), a.LastTimestamp)
}

func TestSubmit_CandidateCanBeSubmitted(t *testing.T) {
	d := newTestDispatcher(t)
	requireAccepted(t, d.Submit(capsuleEvent(t, "e1", "c1", 1, "created")))

	out := d.Submit(raw(t, "e2", "orchestration", "a1", "c1", 2, map[string]any{
		"gate": "bronze", "status": "pass", "checks": []any{map[string]any{"name": "lint", "result": "pass", "evidence": "ok"}},
	}))
	requireAccepted(t, out)

	out = d.Submit(raw(t, "e3", "provenance", "a1", "c1", 3, out.Candidate))
	requireAccepted(t, out)
	require.Equal(t, models.TierSilver, out.Capsule.Tier, "gate_pass criteria override the confidence requirement")
	require.Equal(t, "bronze", out.Capsule.Transitions[2].Criteria["gate_pass"])
}

func TestSubmit_StatusOverwritesAgent(t *testing.T) {
	d := newTestDispatcher(t)

	out := d.Submit(raw(t, "", "status", "a1", "", 10, map[string]any{"state": "active", "capabilities": []string{"build"}, "load": 0.5}))
	requireAccepted(t, out)
	require.NotEmpty(t, out.EventID, "ids are assigned when absent")
	require.Equal(t, models.AgentStateActive, out.Agent.Status)
	require.Equal(t, models.TierBronze, out.Agent.Tier)

	out = d.Submit(raw(t, "", "status", "a1", "", 11, map[string]any{"state": "idle"}))
	requireAccepted(t, out)
	require.Equal(t, models.AgentStateIdle, out.Agent.Status)
	require.Equal(t, []string{"build"}, out.Agent.Capabilities)
	require.Equal(t, 0.5, *out.Agent.Load)
	require.Equal(t, "active", out.Agent.Transitions[1].From)
	require.Equal(t, int64(11), out.Agent.LastTimestamp)
}

func TestSubmit_AgentTierAndDemotionAudit(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	d := newTestDispatcher(t, WithLogger(logger))

	requireAccepted(t, d.Submit(raw(t, "p1", "provenance", "a1", "", 1, map[string]any{"fromTier": "bronze", "toTier": "silver", "confidence": 0.8})))
	requireAccepted(t, d.Submit(raw(t, "p2", "provenance", "a1", "", 2, map[string]any{"fromTier": "silver", "toTier": "gold", "confidence": 0.8})))

	out := d.Submit(raw(t, "p3", "provenance", "a1", "", 3, map[string]any{
		"fromTier": "gold", "toTier": "bronze", "criteria": map[string]any{"reason": "revoked"},
	}))
	requireAccepted(t, out)
	require.Equal(t, models.TierBronze, out.Agent.Tier)
	require.Equal(t, map[string]any{"reason": "revoked"}, out.Agent.Transitions[2].Criteria)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == "tier demoted" {
			found = true
			assert.Equal(t, "WARN", entry["level"])
			assert.Equal(t, map[string]any{"reason": "revoked"}, entry["criteria"])
		}
	}
	require.True(t, found, "demotions are logged for audit")
}

func TestSubmit_RejectionLeavesStateUntouched(t *testing.T) {
	d := newTestDispatcher(t)
	requireAccepted(t, d.Submit(capsuleEvent(t, "e1", "c1", 100, "created")))
	requireAccepted(t, d.Submit(capsuleEvent(t, "e2", "c1", 101, "modified")))

	before, ok := d.Capsule("c1")
	require.True(t, ok)
	beforeJSON, err := json.Marshal(before)
	require.NoError(t, err)

	rejects := []struct {
		name string
		raw  []byte
		code models.ErrorCode
	}{
		{name: "stage skip", raw: capsuleEvent(t, "r1", "c1", 102, "published"), code: models.CodeIllegalStageSkip},
		{name: "out of order", raw: capsuleEvent(t, "r2", "c1", 50, "tested"), code: models.CodeOutOfOrderEvent},
		{name: "stale tier", raw: raw(t, "r3", "provenance", "a1", "c1", 103, map[string]any{"fromTier": "silver", "toTier": "gold", "confidence": 1}), code: models.CodeStaleFromTier},
		{name: "tier jump", raw: raw(t, "r4", "provenance", "a1", "c1", 103, map[string]any{"fromTier": "bronze", "toTier": "gold", "confidence": 1}), code: models.CodeIllegalTierJump},
		{name: "inconsistent gate", raw: raw(t, "r5", "orchestration", "a1", "c1", 103, map[string]any{"gate": "bronze", "status": "pass", "checks": []any{map[string]any{"name": "x", "result": "fail"}}}), code: models.CodeInconsistentGateStatus},
		{name: "duplicate id", raw: capsuleEvent(t, "e2", "c1", 104, "tested"), code: models.CodeDuplicateEvent},
		{name: "range", raw: raw(t, "r6", "capsule", "a1", "c1", 105, map[string]any{"lifecycle": "modified", "progress": 101}), code: models.CodeRangeViolation},
	}

	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			requireRejected(t, d.Submit(tt.raw), tt.code)

			after, ok := d.Capsule("c1")
			require.True(t, ok)
			afterJSON, err := json.Marshal(after)
			require.NoError(t, err)
			require.Equal(t, string(beforeJSON), string(afterJSON))
		})
	}

	requireAccepted(t, d.Submit(capsuleEvent(t, "r2", "c1", 110, "tested")))
}

func TestSubmit_UnknownCapsule(t *testing.T) {
	d := newTestDispatcher(t)

	requireRejected(t, d.Submit(raw(t, "", "provenance", "a1", "ghost", 1, map[string]any{"fromTier": "bronze", "toTier": "silver", "confidence": 1})), models.CodeUnknownCapsule)
	requireRejected(t, d.Submit(raw(t, "", "orchestration", "a1", "ghost", 1, map[string]any{"gate": "bronze", "status": "pass", "checks": []any{}})), models.CodeUnknownCapsule)

	_, ok := d.Capsule("ghost")
	require.False(t, ok)
	_, ok = d.Agent("a1")
	require.False(t, ok, "rejected events do not create agents")
}

func TestSubmit_MarketplaceRecorded(t *testing.T) {
	d := newTestDispatcher(t)

	out := d.Submit(raw(t, "m1", "marketplace", "a1", "", 1, map[string]any{"listing": "x"}))
	requireAccepted(t, out)
	require.Equal(t, models.TransitionMarketplace, out.Agent.Transitions[0].Kind)

	out = d.Submit(raw(t, "m2", "marketplace", "a1", "unseen", 2, map[string]any{"listing": "y"}))
	requireAccepted(t, out)
	require.Nil(t, out.Capsule)
	require.Len(t, out.Agent.Transitions, 2, "unseen capsule: recorded on the agent")

	requireAccepted(t, d.Submit(capsuleEvent(t, "c", "c1", 3, "created")))
	out = d.Submit(raw(t, "m3", "marketplace", "a1", "c1", 4, map[string]any{}))
	requireAccepted(t, out)
	require.Equal(t, models.TransitionMarketplace, out.Capsule.Transitions[1].Kind)
}

func TestSubmit_OrderingIsPerAgentAndCapsule(t *testing.T) {
	d := newTestDispatcher(t)

	requireAccepted(t, d.Submit(capsuleEvent(t, "", "c1", 100, "created")))
	requireAccepted(t, d.Submit(capsuleEvent(t, "", "c2", 10, "created")))
	requireAccepted(t, d.Submit(raw(t, "", "status", "a1", "", 5, map[string]any{"state": "idle"})))
	requireAccepted(t, d.Submit(raw(t, "", "capsule", "a2", "c1", 1, map[string]any{"lifecycle": "created"})))
	requireAccepted(t, d.Submit(capsuleEvent(t, "", "c1", 100, "created")), "equal timestamps are allowed")
	requireRejected(t, d.Submit(capsuleEvent(t, "", "c1", 99, "created")), models.CodeOutOfOrderEvent)
}

func TestSubmit_DuplicateReleasedOnRejection(t *testing.T) {
	d := newTestDispatcher(t)

	requireRejected(t, d.Submit(capsuleEvent(t, "e1", "c1", 1, "tested")), models.CodeIllegalStageSkip)
	requireAccepted(t, d.Submit(capsuleEvent(t, "e1", "c1", 1, "created")), "a rejected id may be reused")
	requireRejected(t, d.Submit(capsuleEvent(t, "e1", "c1", 2, "modified")), models.CodeDuplicateEvent)
}

func TestSubmit_GarbageNeverPanics(t *testing.T) {
	d := newTestDispatcher(t)

	for _, in := range []string{"", "null", "[]", `{"type":1}`, `{"type":"status"}`, "{", strings.Repeat("x", 10)} {
		out := d.Submit([]byte(in))
		require.False(t, out.Accepted, in)
		require.Equal(t, models.ClassSchema, out.Error.Class(), in)
	}
}

func TestValidate_UsesCurrentOrderingState(t *testing.T) {
	d := newTestDispatcher(t)
	requireAccepted(t, d.Submit(capsuleEvent(t, "", "c1", 100, "created")))

	_, err := d.Validate(capsuleEvent(t, "", "c1", 99, "modified"))
	require.ErrorIs(t, err, models.ErrOutOfOrderEvent)

	ev, err := d.Validate(capsuleEvent(t, "", "c1", 100, "modified"))
	require.NoError(t, err)
	require.Equal(t, "c1", ev.CapsuleID)

	c, _ := d.Capsule("c1")
	require.Equal(t, models.StageCreated, c.Lifecycle, "validate never applies")
}

func TestSubmit_SnapshotsAreCopies(t *testing.T) {
	d := newTestDispatcher(t)
	out := d.Submit(raw(t, "", "capsule", "a1", "c1", 1, map[string]any{
		"lifecycle": "created", "artifacts": []any{map[string]any{"id": "x", "type": "src"}},
	}))
	requireAccepted(t, out)

	out.Capsule.Artifacts[0].Type = "mutated"
	out.Capsule.Transitions = nil

	c, _ := d.Capsule("c1")
	require.Equal(t, "src", c.Artifacts[0].Type)
	require.Len(t, c.Transitions, 1)
}

func TestSubmit_ConcurrentKeysAndSerializedSlot(t *testing.T) {
	d := newTestDispatcher(t)
	const capsules = 8
	const updates = 50

	for i := 0; i < capsules; i++ {
		requireAccepted(t, d.Submit(capsuleEvent(t, "", fmt.Sprintf("c%d", i), 0, "created")))
	}

	var wg sync.WaitGroup
	for i := 0; i < capsules; i++ {
		for j := 0; j < updates; j++ {
			i, j := i, j
			wg.Add(1)
			go func() {
				defer wg.Done()
				out := d.Submit(raw(t, "", "capsule", "a1", fmt.Sprintf("c%d", i), 1, map[string]any{"lifecycle": "created", "progress": 10}))
				assert.True(t, out.Accepted, "update %d: %v", j, out.Error)
			}()
		}
	}
	wg.Wait()

	for i := 0; i < capsules; i++ {
		c, ok := d.Capsule(fmt.Sprintf("c%d", i))
		require.True(t, ok)
		require.Len(t, c.Transitions, updates+1, "no lost updates")
	}
	require.Equal(t, []string{"a1"}, d.AgentIDs())
	require.Len(t, d.CapsuleIDs(), capsules)
}

func TestSubmitBatch_PreservesPerKeyOrder(t *testing.T) {
	d := newTestDispatcher(t)

	raws := [][]byte{
		capsuleEvent(t, "", "c1", 1, "created"),
		capsuleEvent(t, "", "c2", 1, "created"),
		[]byte(`{"type":"bogus"}`),
		capsuleEvent(t, "", "c1", 2, "modified"),
		capsuleEvent(t, "", "c2", 2, "modified"),
		capsuleEvent(t, "", "c1", 3, "tested"),
	}
	outs, err := d.SubmitBatch(context.Background(), raws)
	require.NoError(t, err)
	require.Len(t, outs, len(raws))

	requireRejected(t, outs[2], models.CodeUnknownEventType)
	for _, i := range []int{0, 1, 3, 4, 5} {
		requireAccepted(t, outs[i])
	}
	require.Equal(t, models.StageTested, outs[5].Capsule.Lifecycle)
}

func TestSubmitBatch_Cancelled(t *testing.T) {
	d := newTestDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outs, err := d.SubmitBatch(ctx, [][]byte{
		capsuleEvent(t, "", "c1", 1, "created"),
		capsuleEvent(t, "", "c2", 1, "created"),
	})
	require.ErrorIs(t, err, context.Canceled)
	for _, out := range outs {
		requireRejected(t, out, models.CodeCancelled)
	}
	require.Empty(t, d.CapsuleIDs(), "cancelled events are never applied")
}

type recordingSink struct {
	mu   sync.Mutex
	recs []models.Record
}

func (s *recordingSink) Record(_ context.Context, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *recordingSink) records() []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Record(nil), s.recs...)
}

func TestSinks_ReceiveRecordsInOrder(t *testing.T) {
	sink := &recordingSink{}
	failing := SinkFunc(func(context.Context, models.Record) error { return errors.New("down") })

	var logs bytes.Buffer
	d, err := New(DefaultConfig(), WithSinks(failing, sink), WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	require.NoError(t, err)

	requireAccepted(t, d.Submit(capsuleEvent(t, "e1", "c1", 1, "created")))
	requireRejected(t, d.Submit(capsuleEvent(t, "e2", "c1", 2, "signed")), models.CodeIllegalStageSkip)
	requireAccepted(t, d.Submit(capsuleEvent(t, "e3", "c1", 3, "modified")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	recs := sink.records()
	require.Len(t, recs, 3)
	for i, rec := range recs {
		require.Equal(t, uint64(i+1), rec.Seq)
	}
	require.Equal(t, "e1", recs[0].Event.ID)
	require.False(t, recs[1].Outcome.Accepted)
	require.Equal(t, models.CodeIllegalStageSkip, recs[1].Outcome.Error.Code)
	require.Equal(t, models.StageModified, recs[2].Outcome.Capsule.Lifecycle)
	require.Contains(t, logs.String(), "sink delivery failed")

	requireAccepted(t, d.Submit(capsuleEvent(t, "e4", "c1", 4, "tested")), "outcomes survive a closed outbox")
	require.Len(t, sink.records(), 3)
}

func TestReplay_RebuildsStateWithoutSinks(t *testing.T) {
	source := newTestDispatcher(t)
	var accepted []json.RawMessage
	for _, r := range [][]byte{
		capsuleEvent(t, "e1", "c1", 1, "created"),
		capsuleEvent(t, "e2", "c1", 2, "modified"),
		raw(t, "e3", "provenance", "a1", "c1", 3, map[string]any{"fromTier": "bronze", "toTier": "silver", "confidence": 0.8}),
	} {
		out := source.Submit(r)
		requireAccepted(t, out)
		accepted = append(accepted, r)
	}
	want, _ := source.Capsule("c1")

	sink := &recordingSink{}
	d := newTestDispatcher(t, WithSinks(sink))
	stats, err := d.Replay(context.Background(), accepted)
	require.NoError(t, err)
	require.Equal(t, ReplayStats{Accepted: 3}, stats)

	got, ok := d.Capsule("c1")
	require.True(t, ok)
	require.Equal(t, want, got)

	require.NoError(t, d.Close(context.Background()))
	require.Empty(t, sink.records())

	requireRejected(t, d.Submit(capsuleEvent(t, "e2", "c1", 4, "tested")), models.CodeDuplicateEvent)
}

func TestReplay_CountsPolicyRejections(t *testing.T) {
	strict := DefaultConfig()
	strict.Policy = provenance.Policy{PromotionThreshold: 0.95, OverrideKeys: provenance.DefaultOverrideKeys()}
	d, err := New(strict)
	require.NoError(t, err)

	stats, err := d.Replay(context.Background(), []json.RawMessage{
		capsuleEvent(t, "e1", "c1", 1, "created"),
		raw(t, "e2", "provenance", "a1", "c1", 2, map[string]any{"fromTier": "bronze", "toTier": "silver", "confidence": 0.8}),
	})
	require.NoError(t, err)
	require.Equal(t, ReplayStats{Accepted: 1, Rejected: 1}, stats)
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.PromotionThreshold = 2
	_, err := New(cfg)
	require.Error(t, err)
}
