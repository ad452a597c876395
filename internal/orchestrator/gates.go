package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/processd/internal/contract"
	"github.com/fyrsmithlabs/processd/internal/pattern"
	"github.com/fyrsmithlabs/processd/internal/template"
)

// Violation is a problem a gate found before a run started.
type Violation struct {
	Gate        string            `json:"gate"`
	StepOrder   int               `json:"step_order,omitempty"`
	Description string            `json:"description"`
	Severity    contract.Severity `json:"severity"`
}

// RunRequest is what gates inspect: the pattern and the caller's bags.
type RunRequest struct {
	Pattern pattern.Pattern
	Input   map[string]any
	Context map[string]any
}

// Gate checks a run request before any step executes. Violations of
// severity error or critical block the run.
type Gate interface {
	Name() string
	Check(ctx context.Context, req RunRequest) ([]Violation, error)
}

// CoverageGate warns about steps whose tool has no contract for the
// pattern's process. Such steps run unverified.
type CoverageGate struct {
	contracts *contract.Registry
}

// NewCoverageGate creates a coverage gate.
func NewCoverageGate(contracts *contract.Registry) *CoverageGate {
	return &CoverageGate{contracts: contracts}
}

// Name returns the gate identifier
func (g *CoverageGate) Name() string {
	return "contract-coverage"
}

// Check reports one warning per uncovered step.
func (g *CoverageGate) Check(_ context.Context, req RunRequest) ([]Violation, error) {
	var violations []Violation
	for _, gap := range pattern.Audit(g.contracts, []pattern.Pattern{req.Pattern}) {
		desc := fmt.Sprintf("tool %s has no contract for process %s and will run unverified", gap.Tool, gap.ProcessID)
		if gap.OtherProcess != "" {
			desc = fmt.Sprintf("tool %s is contracted under process %s, not %s", gap.Tool, gap.OtherProcess, gap.ProcessID)
		}
		violations = append(violations, Violation{
			Gate:        g.Name(),
			StepOrder:   gap.StepOrder,
			Description: desc,
			Severity:    contract.SeverityWarning,
		})
	}
	return violations, nil
}

// InputGate warns when a required step references input values the caller
// did not supply. Missing values are not fatal here; the step's own
// preconditions decide.
type InputGate struct{}

// NewInputGate creates an input gate.
func NewInputGate() *InputGate {
	return &InputGate{}
}

// Name returns the gate identifier
func (g *InputGate) Name() string {
	return "input-references"
}

// Check resolves every step's input references against the caller input.
func (g *InputGate) Check(_ context.Context, req RunRequest) ([]Violation, error) {
	scope := template.Bag{"input": req.Input}
	var violations []Violation
	for _, s := range req.Pattern.Steps {
		if s.Optional {
			continue
		}
		_, missing := template.ResolveArgs(s.Args, scope)
		for _, ref := range missing {
			path := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(ref, "{{"), "}}"))
			if !strings.HasPrefix(path, "input.") {
				continue
			}
			violations = append(violations, Violation{
				Gate:        g.Name(),
				StepOrder:   s.Order,
				Description: fmt.Sprintf("step %s references %s, which the input does not provide", s.Key(), path),
				Severity:    contract.SeverityWarning,
			})
		}
	}
	return violations, nil
}

// ContextGate requires keys in the run context, such as a tenant id.
type ContextGate struct {
	required []string
}

// NewContextGate creates a gate requiring each of keys to be non-empty.
func NewContextGate(keys ...string) *ContextGate {
	return &ContextGate{required: keys}
}

// Name returns the gate identifier
func (g *ContextGate) Name() string {
	return "run-context"
}

// Check reports an error for each missing key.
func (g *ContextGate) Check(_ context.Context, req RunRequest) ([]Violation, error) {
	var violations []Violation
	for _, key := range g.required {
		if v, ok := req.Context[key]; ok && !template.IsNull(v) {
			continue
		}
		violations = append(violations, Violation{
			Gate:        g.Name(),
			Description: fmt.Sprintf("run context is missing %q", key),
			Severity:    contract.SeverityError,
		})
	}
	return violations, nil
}

// hasBlockingViolation checks if any violation should block execution
func hasBlockingViolation(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == contract.SeverityError || v.Severity == contract.SeverityCritical {
			return true
		}
	}
	return false
}

// describeViolations creates a summary of violations
func describeViolations(violations []Violation) string {
	var parts []string
	for _, v := range violations {
		parts = append(parts, fmt.Sprintf("[%s] %s", v.Gate, v.Description))
	}
	return strings.Join(parts, "; ")
}
