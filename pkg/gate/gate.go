// Package gate defines the consistency-gate seam consulted before an
// approval request is queued for a human.
package gate

import (
	"context"
	"fmt"

	"conductor/pkg/contradiction"
	"conductor/pkg/logx"
	"conductor/pkg/phase"
)

// Result is the outcome of one consistency check.
type Result struct {
	Blocked bool
	Reason  string
}

// Gate is the external consistency-check contract (module wiring or static
// structural analysis).
type Gate interface {
	Check(ctx context.Context, code phase.Code, output string) (Result, error)
}

// NopGate passes every check. Used when no analyzer is wired.
type NopGate struct{}

func (NopGate) Check(_ context.Context, _ phase.Code, _ string) (Result, error) {
	return Result{}, nil
}

// ContradictionGate runs the contradiction detector over the Functional
// Architecture proposal and blocks on CRITICAL findings. Other phases pass
// unchecked; their consistency is covered by structural vigilance.
type ContradictionGate struct {
	logger *logx.Logger
}

// NewContradictionGate creates the default static-analysis gate.
func NewContradictionGate() *ContradictionGate {
	return &ContradictionGate{logger: logx.NewLogger("gate")}
}

func (g *ContradictionGate) Check(_ context.Context, code phase.Code, output string) (Result, error) {
	if code != "1A" {
		return Result{}, nil
	}

	findings := contradiction.AnalyzeProposal(output)
	if !contradiction.HasCritical(findings) {
		if len(findings) > 0 {
			g.logger.Warn("phase %s has %d non-critical contradictions", code, len(findings))
		}
		return Result{}, nil
	}

	for i := range findings {
		if findings[i].Severity == contradiction.SeverityCritical {
			reason := fmt.Sprintf("%s: %s", findings[i].Type, findings[i].Description)
			g.logger.Error("phase %s blocked: %s", code, reason)
			return Result{Blocked: true, Reason: reason}, nil
		}
	}
	return Result{}, nil
}
