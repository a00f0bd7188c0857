// Package lifecycle tracks capsules through created, modified, tested,
// signed and published.
//
// Forward motion is strictly one stage at a time. A modified event received
// after testing resets the capsule to modified and drops every certification
// marker earned since.
package lifecycle

import (
	"strconv"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

// Change kinds.
const (
	ChangeCreate   = "create"
	ChangeAdvance  = "advance"
	ChangeProgress = "progress"
	ChangeReset    = "reset"
)

// Change describes how a capsule event moved the lifecycle.
type Change struct {
	Kind string
	From models.Stage
	To   models.Stage
}

// Transition renders the change as a log entry for ev.
func (c Change) Transition(ev *models.Event) models.Transition {
	return models.Transition{
		EventID:   ev.ID,
		Kind:      models.TransitionLifecycle,
		From:      string(c.From),
		To:        string(c.To),
		Timestamp: ev.Timestamp,
		Agent:     ev.Agent,
		Note:      c.Kind,
	}
}

// Tracker applies capsule payloads. It holds no state.
type Tracker struct{}

// NewTracker returns a Tracker.
func NewTracker() *Tracker { return &Tracker{} }

// Apply returns the capsule that results from applying p at event time ts.
// c is never mutated; on error the returned capsule is the zero value.
func (t *Tracker) Apply(c models.Capsule, p models.CapsulePayload, ts int64) (models.Capsule, Change, error) {
	from, to := c.Lifecycle, p.Lifecycle
	change := Change{From: from, To: to}

	switch {
	case from == "":
		if to != models.StageCreated {
			return models.Capsule{}, Change{}, models.Reject(models.CodeIllegalStageSkip, "payload.lifecycle",
				"a new capsule must start at %s", models.StageCreated,
			).WithStates("", string(to))
		}
		change.Kind = ChangeCreate
	case to == from:
		change.Kind = ChangeProgress
	case to.Rank() == from.Rank()+1:
		change.Kind = ChangeAdvance
	case to.Rank() > from.Rank()+1:
		return models.Capsule{}, Change{}, models.Reject(models.CodeIllegalStageSkip, "payload.lifecycle",
			"cannot move from %s to %s without the stages between", from, to,
		).WithStates(string(from), string(to))
	case to == models.StageModified && from.Rank() > models.StageModified.Rank():
		change.Kind = ChangeReset
	default:
		return models.Capsule{}, Change{}, models.Reject(models.CodeIllegalStageRegression, "payload.lifecycle",
			"cannot move back from %s to %s", from, to,
		).WithStates(string(from), string(to))
	}

	if p.HasErrors && to.RequiresCleanState() {
		return models.Capsule{}, Change{}, models.Reject(models.CodeUnresolvedErrors, "payload.hasErrors",
			"capsule has unresolved errors and cannot be %s", to,
		).WithStates(string(from), string(to))
	}

	progress := 0.0
	if p.Progress != nil {
		progress = *p.Progress
	}
	if change.Kind == ChangeProgress {
		if p.Progress == nil {
			progress = c.Progress
		} else if progress < c.Progress {
			return models.Capsule{}, Change{}, models.Reject(models.CodeProgressRegression, "payload.progress",
				"progress %v is below current %v in stage %s", progress, c.Progress, from,
			).WithStates(formatProgress(c.Progress), formatProgress(progress))
		}
	}

	next := c.Clone()
	next.Lifecycle = to
	next.Progress = progress
	next.HasErrors = p.HasErrors
	next.Artifacts = MergeArtifacts(next.Artifacts, p.Artifacts)
	if p.PathwayID != "" {
		next.PathwayID = p.PathwayID
	}
	if p.StepID != "" {
		next.StepID = p.StepID
	}
	if p.CurrentStep != nil {
		v := *p.CurrentStep
		next.CurrentStep = &v
	}
	next.UpdatedAt = ts

	switch change.Kind {
	case ChangeReset:
		next.Markers = models.StageMarkers{}
	case ChangeAdvance:
		markStage(&next.Markers, to, ts)
	}
	return next, change, nil
}

func markStage(m *models.StageMarkers, s models.Stage, ts int64) {
	switch s {
	case models.StageTested:
		m.TestedAt = ts
	case models.StageSigned:
		m.SignedAt = ts
	case models.StagePublished:
		m.PublishedAt = ts
	}
}

// MergeArtifacts returns current with incoming merged in by id. Existing
// entries keep their position and take the incoming type and path; new ids
// are appended in payload order.
func MergeArtifacts(current, incoming []models.Artifact) []models.Artifact {
	if len(incoming) == 0 {
		return current
	}
	out := append([]models.Artifact(nil), current...)
	index := make(map[string]int, len(out))
	for i, a := range out {
		index[a.ID] = i
	}
	for _, a := range incoming {
		if i, ok := index[a.ID]; ok {
			out[i] = a
			continue
		}
		index[a.ID] = len(out)
		out = append(out, a)
	}
	return out
}

func formatProgress(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
