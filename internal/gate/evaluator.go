// Package gate aggregates named checks into a gate verdict.
package gate

import (
	"sort"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

// Criteria keys written on candidate promotions.
const (
	CriteriaGatePass = "gate_pass"
	CriteriaChecks   = "checks"
)

// Evaluate returns the most conservative result among checks: fail if any
// check failed, else warn if any warned, else pass. An empty list passes.
func Evaluate(checks []models.Check) models.CheckResult {
	verdict := models.ResultPass
	for _, c := range checks {
		if c.Result.Severity() > verdict.Severity() {
			verdict = c.Result
		}
	}
	return verdict
}

// Verdict summarizes one evaluation. Failing and Warning hold check names
// in sorted order.
func Verdict(gate models.Tier, declared models.CheckResult, checks []models.Check) models.GateVerdict {
	v := models.GateVerdict{
		Gate:     gate,
		Status:   Evaluate(checks),
		Declared: declared,
		Checks:   len(checks),
	}
	for _, c := range checks {
		switch c.Result {
		case models.ResultFail:
			v.Failing = append(v.Failing, c.Name)
		case models.ResultWarn:
			v.Warning = append(v.Warning, c.Name)
		}
	}
	sort.Strings(v.Failing)
	sort.Strings(v.Warning)
	return v
}

// Check evaluates p and rejects it when the declared status disagrees with
// the computed one. The computed status is authoritative.
func Check(p models.OrchestrationPayload) (models.GateVerdict, error) {
	v := Verdict(p.Gate, p.Status, p.Checks)
	if v.Status != p.Status {
		return models.GateVerdict{}, models.Reject(models.CodeInconsistentGateStatus, "payload.status",
			"declared %s but checks evaluate to %s", p.Status, v.Status,
		).WithStates(string(v.Status), string(p.Status))
	}
	return v, nil
}

// Candidate returns the promotion a passing gate suggests: from the gate's
// tier to the one above it, justified by the check evidence. It reports
// false for non-passing verdicts and for the gold gate. Nothing is applied;
// the caller decides whether to submit it.
func Candidate(v models.GateVerdict, checks []models.Check) (*models.ProvenancePayload, bool) {
	if v.Status != models.ResultPass {
		return nil, false
	}
	next, ok := v.Gate.Next()
	if !ok {
		return nil, false
	}
	evidence := make(map[string]any, len(checks))
	for _, c := range checks {
		evidence[c.Name] = models.CloneValue(c.Evidence)
	}
	return &models.ProvenancePayload{
		FromTier: v.Gate,
		ToTier:   next,
		Criteria: map[string]any{
			CriteriaGatePass: string(v.Gate),
			CriteriaChecks:   evidence,
		},
	}, true
}
