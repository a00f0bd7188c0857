package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deltaknight858/Eco-sub001/internal/gate"
	"github.com/deltaknight858/Eco-sub001/internal/models"
	"github.com/deltaknight858/Eco-sub001/internal/output"
)

func NewGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Orchestration gate tools",
	}
	cmd.AddCommand(newGateEvalCmd())
	return cmd
}

func newGateEvalCmd() *cobra.Command {
	var (
		file string
		tier string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Compute a gate verdict from a checks array or an orchestration payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return cmdErr(err)
			}
			g := models.Tier(tier)
			if !g.Valid() {
				return cmdErr(fmt.Errorf("invalid --gate %q: bronze|silver|gold", tier))
			}

			p, err := decodeGateInput(data, g)
			if err != nil {
				return cmdErr(err)
			}

			verdict := gate.Verdict(p.Gate, p.Status, p.Checks)
			type resp struct {
				Verdict    models.GateVerdict        `json:"verdict"`
				Consistent bool                      `json:"consistent"`
				Candidate  *models.ProvenancePayload `json:"candidate,omitempty"`
			}
			r := resp{Verdict: verdict, Consistent: p.Status == "" || p.Status == verdict.Status}
			if cand, ok := gate.Candidate(verdict, p.Checks); ok {
				r.Candidate = cand
			}
			return output.PrintSuccess(r)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "Input file (- for stdin)")
	cmd.Flags().StringVar(&tier, "gate", string(models.TierSilver), "Gate tier when the input is a bare checks array: bronze|silver|gold")
	return cmd
}

// decodeGateInput accepts either [check, ...] or {"gate":..,"status":..,"checks":[..]}.
func decodeGateInput(data []byte, fallback models.Tier) (models.OrchestrationPayload, error) {
	var p models.OrchestrationPayload
	if err := json.Unmarshal(data, &p.Checks); err != nil {
		p = models.OrchestrationPayload{}
		if err := json.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("decode gate input: %w", err)
		}
	}
	if p.Gate == "" {
		p.Gate = fallback
	}
	if !p.Gate.Valid() {
		return p, fmt.Errorf("invalid gate %q", p.Gate)
	}
	if p.Status != "" && p.Status.Severity() < 0 {
		return p, fmt.Errorf("invalid status %q", p.Status)
	}
	for i, c := range p.Checks {
		if c.Result.Severity() < 0 {
			return p, fmt.Errorf("checks[%d].result: invalid result %q", i, c.Result)
		}
	}
	return p, nil
}
