// Package verifier executes a single tool call under its contract.
//
// For each step the verifier checks preconditions against the resolved
// arguments, invokes the tool, checks postconditions against the result and
// finally runs store assertions directly against the store. Every call yields
// exactly one VerificationResult, which is handed to the configured Recorder.
// Tools without a contract are invoked unverified.
package verifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/processd/internal/contract"
	"github.com/fyrsmithlabs/processd/internal/logging"
	"github.com/fyrsmithlabs/processd/internal/store"
	"github.com/fyrsmithlabs/processd/internal/template"
	"github.com/fyrsmithlabs/processd/internal/tool"
)

// Recorder receives every VerificationResult.
type Recorder interface {
	Record(contract.VerificationResult)
}

// Step identifies the step being executed.
type Step struct {
	Order     int
	Name      string
	Tool      string
	ProcessID string
}

// Outcome is the result of one verified execution.
type Outcome struct {
	Passed bool

	// Result is the tool's output. It is set whenever the tool ran, including
	// when a postcondition or store assertion failed afterwards.
	Result map[string]any

	Verification contract.VerificationResult

	// Err is a *StepError when Passed is false.
	Err error
}

// Verifier runs tools under their contracts.
type Verifier struct {
	contracts *contract.Registry
	invoker   tool.Invoker
	store     store.Store
	recorder  Recorder
	checks    map[string]Check
	logger    *logging.Logger
	now       func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithStore sets the store used by entity_exists conditions and store assertions.
func WithStore(s store.Store) Option {
	return func(v *Verifier) { v.store = s }
}

// WithRecorder sets the recorder that receives every result.
func WithRecorder(r Recorder) Option {
	return func(v *Verifier) { v.recorder = r }
}

// WithCheck registers a custom condition check under name.
func WithCheck(name string, check Check) Option {
	return func(v *Verifier) { v.checks[name] = check }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// New creates a verifier.
func New(contracts *contract.Registry, invoker tool.Invoker, opts ...Option) *Verifier {
	v := &Verifier{
		contracts: contracts,
		invoker:   invoker,
		checks:    make(map[string]Check),
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ExecuteWithVerification runs one step. The returned Outcome always carries
// a VerificationResult; it has already been passed to the Recorder.
func (v *Verifier) ExecuteWithVerification(ctx context.Context, step Step, args map[string]any, ec *template.ExecutionContext) Outcome {
	start := v.now()
	if args == nil {
		args = map[string]any{}
	}

	c := v.contracts.Get(step.Tool)
	vr := contract.VerificationResult{
		StepOrder: step.Order,
		StepName:  step.Name,
		ToolName:  step.Tool,
		ProcessID: step.ProcessID,
		Timestamp: start,
	}
	if c != nil && c.ProcessID != "" {
		vr.ProcessID = c.ProcessID
	}

	out := v.run(ctx, c, step, args, ec, &vr)

	vr.ExecutionTimeMs = v.now().Sub(start).Milliseconds()
	out.Verification = vr
	if v.recorder != nil {
		v.recorder.Record(vr)
	}
	v.log(ctx, vr)
	return out
}

func (v *Verifier) run(ctx context.Context, c *contract.ToolContract, step Step, args map[string]any, ec *template.ExecutionContext, vr *contract.VerificationResult) Outcome {
	if c == nil {
		vr.Unverified = true
		result, err := v.invoker.Invoke(ctx, step.Tool, args)
		if err != nil {
			return v.fail(vr, &StepError{Tool: step.Tool, Phase: contract.PhaseExecution, Err: err}, nil)
		}
		vr.Passed = true
		return Outcome{Passed: true, Result: orEmpty(result)}
	}

	var scope template.Scope = template.Chain{template.Bag{"args": args}, ec}
	in := CheckInput{Args: args, Scope: scope}

	// Preconditions: the schema first, then declared conditions.
	var pre []failure
	if v.contracts.HasSchema(step.Tool) {
		vr.ConditionsChecked++
		if err := v.contracts.ValidateArgs(step.Tool, args); err != nil {
			pre = append(pre, failure{
				cond:   contract.Condition{ID: "args_schema", Type: contract.ConditionArgsSchema},
				detail: err.Error(),
			})
		}
	}
	vr.ConditionsChecked += len(c.Preconditions)
	pre = append(pre, v.evaluate(ctx, c.Preconditions, args, in)...)
	if len(pre) > 0 {
		return v.fail(vr, stepError(step.Tool, contract.PhasePrecondition, pre), nil)
	}

	result, err := v.invoker.Invoke(ctx, step.Tool, args)
	if err != nil {
		return v.fail(vr, &StepError{Tool: step.Tool, Phase: contract.PhaseExecution, Err: err}, nil)
	}
	result = orEmpty(result)

	scope = template.Chain{template.Bag{"args": args, "result": result}, ec}
	in = CheckInput{Args: args, Result: result, Scope: scope}

	vr.ConditionsChecked += len(c.Postconditions)
	if post := v.evaluate(ctx, c.Postconditions, result, in); len(post) > 0 {
		return v.fail(vr, stepError(step.Tool, contract.PhasePostcondition, post), result)
	}

	vr.ConditionsChecked += len(c.DBAssertions)
	if failed := v.assert(ctx, c.DBAssertions, scope); len(failed) > 0 {
		return v.fail(vr, stepError(step.Tool, contract.PhaseDBAssertion, failed), result)
	}

	vr.Passed = true
	return Outcome{Passed: true, Result: result}
}

func (v *Verifier) fail(vr *contract.VerificationResult, se *StepError, result map[string]any) Outcome {
	se.Severity = contract.SeverityFor(se.Phase)
	vr.Passed = false
	vr.Phase = se.Phase
	vr.Severity = se.Severity
	vr.FailedConditions = se.Conditions
	vr.Error = se.Error()
	return Outcome{Passed: false, Result: result, Err: se}
}

func stepError(toolName string, phase contract.Phase, failed []failure) *StepError {
	se := &StepError{Tool: toolName, Phase: phase}
	for _, f := range failed {
		se.Conditions = append(se.Conditions, f.cond)
		se.Details = append(se.Details, f.String())
	}
	return se
}

func (v *Verifier) log(ctx context.Context, vr contract.VerificationResult) {
	fields := []zap.Field{
		zap.String("tool", vr.ToolName),
		zap.Int("step", vr.StepOrder),
		zap.Int("conditions_checked", vr.ConditionsChecked),
		zap.Int64("duration_ms", vr.ExecutionTimeMs),
	}
	switch {
	case vr.Passed && vr.Unverified:
		v.logger.Debug(ctx, "step executed without contract", fields...)
	case vr.Passed:
		v.logger.Debug(ctx, "step verified", fields...)
	default:
		fields = append(fields,
			zap.String("phase", string(vr.Phase)),
			zap.String("severity", string(vr.Severity)),
			zap.Strings("failed_conditions", vr.FailedConditionIDs()),
			zap.String("error", vr.Error),
		)
		v.logger.Warn(ctx, "step verification failed", fields...)
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
