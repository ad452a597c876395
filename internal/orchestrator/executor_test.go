package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/processd/internal/contract"
	"github.com/fyrsmithlabs/processd/internal/logging"
	"github.com/fyrsmithlabs/processd/internal/pattern"
	"github.com/fyrsmithlabs/processd/internal/rollback"
	"github.com/fyrsmithlabs/processd/internal/store"
	"github.com/fyrsmithlabs/processd/internal/telemetry"
	"github.com/fyrsmithlabs/processd/internal/template"
	"github.com/fyrsmithlabs/processd/internal/verifier"
)

// MockStepRunner is a mock implementation of StepRunner
type MockStepRunner struct {
	mock.Mock
}

func (m *MockStepRunner) ExecuteWithVerification(ctx context.Context, step verifier.Step, args map[string]any, ec *template.ExecutionContext) verifier.Outcome {
	a := m.Called(ctx, step, args, ec)
	return a.Get(0).(verifier.Outcome)
}

// MockCompensator is a mock implementation of Compensator
type MockCompensator struct {
	mock.Mock
}

func (m *MockCompensator) Rollback(ctx context.Context, steps []rollback.Step) rollback.Report {
	a := m.Called(ctx, steps)
	return a.Get(0).(rollback.Report)
}

// MockRunRecorder is a mock implementation of RunRecorder
type MockRunRecorder struct {
	mock.Mock
}

func (m *MockRunRecorder) RecordRun(ctx context.Context, s *Summary) error {
	return m.Called(ctx, s).Error(0)
}

func toolStep(name string) interface{} {
	return mock.MatchedBy(func(s verifier.Step) bool { return s.Tool == name })
}

func pass(step int, toolName string, result map[string]any) verifier.Outcome {
	return verifier.Outcome{
		Passed: true,
		Result: result,
		Verification: contract.VerificationResult{
			StepOrder: step, ToolName: toolName, Passed: true,
		},
	}
}

func fail(step int, toolName string, phase contract.Phase, result map[string]any) verifier.Outcome {
	se := &verifier.StepError{Tool: toolName, Phase: phase, Severity: contract.SeverityFor(phase)}
	return verifier.Outcome{
		Passed: false,
		Result: result,
		Err:    se,
		Verification: contract.VerificationResult{
			StepOrder: step, ToolName: toolName, Phase: phase, Severity: se.Severity,
		},
	}
}

func threeSteps() pattern.Pattern {
	return pattern.Pattern{
		ID:        "onboard",
		ProcessID: "lead_intake",
		Steps: []pattern.Step{
			{Order: 1, Tool: "lookup", Optional: true, Args: map[string]any{"email": "{{input.email}}"}},
			{Order: 2, Tool: "create", Args: map[string]any{"email": "{{input.email}}"}},
			{Order: 3, Tool: "score", Args: map[string]any{"id": "{{results.create.id}}"}},
		},
	}
}

func TestNewExecutor(t *testing.T) {
	executor := NewExecutor(&MockStepRunner{}, &MockCompensator{})

	require.NotNil(t, executor)
	assert.NotNil(t, executor.logger)
	assert.NotNil(t, executor.tracer)
	assert.NotNil(t, executor.runsTotal)
}

func TestExecutor_Run_Success(t *testing.T) {
	runner := &MockStepRunner{}
	comp := &MockCompensator{}
	tl := logging.NewTestLogger()
	executor := NewExecutor(runner, comp, WithLogger(tl.Logger))

	var order []string
	record := func(a mock.Arguments) { order = append(order, a.Get(1).(verifier.Step).Tool) }
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("lookup"), mock.Anything, mock.Anything).
		Run(record).Return(pass(1, "lookup", map[string]any{"found": false}))
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("create"), map[string]any{"email": "a@b.c"}, mock.Anything).
		Run(record).Return(pass(2, "create", map[string]any{"id": "C1"}))
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("score"), map[string]any{"id": "C1"}, mock.Anything).
		Run(record).Return(pass(3, "score", map[string]any{"lead_score": 80}))

	summary, err := executor.Run(context.Background(), threeSteps(), map[string]any{"email": "a@b.c"}, nil)

	require.NoError(t, err)
	assert.Equal(t, RunCompleted, summary.Status)
	assert.Equal(t, OutcomeCompleted, summary.Outcome())
	assert.Equal(t, []string{"lookup", "create", "score"}, order, "steps run in ascending order")
	assert.NotEmpty(t, summary.RunID)
	assert.Len(t, summary.Verifications, 3)
	assert.Equal(t, map[string]any{"id": "C1"}, summary.Results["create"])
	assert.Nil(t, summary.Rollback)
	for _, s := range summary.Steps {
		assert.Equal(t, StepSucceeded, s.Status)
	}
	comp.AssertNotCalled(t, "Rollback", mock.Anything, mock.Anything)
	tl.AssertLogged(t, zapcore.InfoLevel, "pattern run finished")
	tl.AssertField(t, "pattern run started", "run.id", summary.RunID)
}

func TestExecutor_Run_CorrelationFields(t *testing.T) {
	runner := &MockStepRunner{}
	tl := logging.NewTestLogger()
	executor := NewExecutor(runner, &MockCompensator{}, WithLogger(tl.Logger))

	runner.On("ExecuteWithVerification", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(pass(0, "any", map[string]any{"id": "X"}))

	_, err := executor.Run(context.Background(), threeSteps(), nil,
		map[string]any{TenantKey: "acme", SessionKey: "sess-7"})
	require.NoError(t, err)
	tl.AssertField(t, "pattern run started", "tenant.id", "acme")
	tl.AssertField(t, "pattern run started", "session.id", "sess-7")
}

func TestExecutor_Run_InvalidPattern(t *testing.T) {
	executor := NewExecutor(&MockStepRunner{}, &MockCompensator{})

	summary, err := executor.Run(context.Background(), pattern.Pattern{ID: "empty"}, nil, nil)

	assert.Nil(t, summary)
	assert.ErrorIs(t, err, pattern.ErrInvalidPattern)
}

func TestExecutor_Run_SkipIf(t *testing.T) {
	runner := &MockStepRunner{}
	executor := NewExecutor(runner, &MockCompensator{})

	p := pattern.Pattern{
		ID: "skip", ProcessID: "p",
		Steps: []pattern.Step{
			{Order: 1, Name: "existing", Tool: "lookup"},
			{Order: 2, Tool: "create", SkipIf: "{{results.existing.found}}"},
			{Order: 3, Tool: "notify", SkipIf: "results.existing?.found != true"},
		},
	}
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("lookup"), mock.Anything, mock.Anything).
		Return(pass(1, "lookup", map[string]any{"found": true}))
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("notify"), mock.Anything, mock.Anything).
		Return(pass(3, "notify", map[string]any{"sent": true}))

	summary, err := executor.Run(context.Background(), p, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, RunCompleted, summary.Status)
	assert.Equal(t, StepSkipped, summary.Steps[1].Status)
	assert.Equal(t, "{{results.existing.found}}", summary.Steps[1].SkipReason)
	assert.Equal(t, StepSucceeded, summary.Steps[2].Status)
	assert.Len(t, summary.Verifications, 2, "skipped steps are not verified")
	runner.AssertNotCalled(t, "ExecuteWithVerification", mock.Anything, toolStep("create"), mock.Anything, mock.Anything)
}

func TestExecutor_Run_SkipIfErrorRunsStep(t *testing.T) {
	runner := &MockStepRunner{}
	tl := logging.NewTestLogger()
	executor := NewExecutor(runner, &MockCompensator{}, WithLogger(tl.Logger))

	p := pattern.Pattern{
		ID: "skip", ProcessID: "p",
		Steps: []pattern.Step{{Order: 1, Tool: "create", SkipIf: "input.count > 3"}},
	}
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("create"), mock.Anything, mock.Anything).
		Return(pass(1, "create", map[string]any{}))

	summary, err := executor.Run(context.Background(), p, map[string]any{"count": "many"}, nil)

	require.NoError(t, err)
	assert.Equal(t, StepSucceeded, summary.Steps[0].Status)
	tl.AssertLogged(t, zapcore.WarnLevel, "skip condition failed to evaluate")
}

func TestExecutor_Run_OptionalFailureContinues(t *testing.T) {
	runner := &MockStepRunner{}
	comp := &MockCompensator{}
	executor := NewExecutor(runner, comp)

	runner.On("ExecuteWithVerification", mock.Anything, toolStep("lookup"), mock.Anything, mock.Anything).
		Return(fail(1, "lookup", contract.PhaseExecution, nil))
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("create"), mock.Anything, mock.Anything).
		Return(pass(2, "create", map[string]any{"id": "C1"}))
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("score"), mock.Anything, mock.Anything).
		Return(pass(3, "score", map[string]any{"lead_score": 80}))

	summary, err := executor.Run(context.Background(), threeSteps(), map[string]any{"email": "a@b.c"}, nil)

	require.NoError(t, err)
	assert.Equal(t, RunCompleted, summary.Status)
	assert.True(t, summary.Degraded)
	assert.Equal(t, OutcomeCompletedWithGaps, summary.Outcome())
	assert.Equal(t, StepFailed, summary.Steps[0].Status)
	_, hasLookup := summary.Results["lookup"]
	assert.False(t, hasLookup, "failed optional step leaves no result")
	assert.Len(t, summary.FailedVerifications(), 1)
	comp.AssertNotCalled(t, "Rollback", mock.Anything, mock.Anything)
}

func TestExecutor_Run_RequiredFailureRollsBack(t *testing.T) {
	runner := &MockStepRunner{}
	comp := &MockCompensator{}
	executor := NewExecutor(runner, comp)

	runner.On("ExecuteWithVerification", mock.Anything, toolStep("lookup"), mock.Anything, mock.Anything).
		Return(pass(1, "lookup", map[string]any{"found": false}))
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("create"), mock.Anything, mock.Anything).
		Return(pass(2, "create", map[string]any{"id": "C1"}))
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("score"), mock.Anything, mock.Anything).
		Return(fail(3, "score", contract.PhasePostcondition, map[string]any{"lead_score": nil}))

	var undone []rollback.Step
	comp.On("Rollback", mock.Anything, mock.Anything).
		Run(func(a mock.Arguments) { undone = a.Get(1).([]rollback.Step) }).
		Return(rollback.Report{Attempts: []rollback.Attempt{
			{StepOrder: 3, Status: rollback.StatusNotRequired},
			{StepOrder: 2, Status: rollback.StatusCompensated},
			{StepOrder: 1, Status: rollback.StatusNotRequired},
		}})

	summary, err := executor.Run(context.Background(), threeSteps(), map[string]any{"email": "a@b.c"}, nil)

	require.NoError(t, err)
	assert.Equal(t, RunRolledBack, summary.Status)
	assert.Equal(t, OutcomeRolledBack, summary.Outcome())
	assert.Equal(t, 3, summary.FailedStep)
	require.Len(t, undone, 3, "completed steps plus the step whose tool ran")
	assert.Equal(t, "create", undone[1].Tool)
	assert.Equal(t, map[string]any{"id": "C1"}, undone[1].Result)
	assert.Equal(t, "score", undone[2].Tool)
	require.NotNil(t, summary.Rollback)
	assert.True(t, summary.Rollback.Complete())
}

func TestExecutor_Run_PreconditionFailureExcludesFailedStep(t *testing.T) {
	runner := &MockStepRunner{}
	comp := &MockCompensator{}
	executor := NewExecutor(runner, comp)

	runner.On("ExecuteWithVerification", mock.Anything, toolStep("lookup"), mock.Anything, mock.Anything).
		Return(pass(1, "lookup", map[string]any{}))
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("create"), mock.Anything, mock.Anything).
		Return(pass(2, "create", map[string]any{"id": "C1"}))
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("score"), mock.Anything, mock.Anything).
		Return(fail(3, "score", contract.PhasePrecondition, nil))

	var undone []rollback.Step
	comp.On("Rollback", mock.Anything, mock.Anything).
		Run(func(a mock.Arguments) { undone = a.Get(1).([]rollback.Step) }).
		Return(rollback.Report{Attempts: []rollback.Attempt{{StepOrder: 2, Status: rollback.StatusCompensated}}})

	summary, err := executor.Run(context.Background(), threeSteps(), nil, nil)

	require.NoError(t, err)
	assert.Equal(t, RunRolledBack, summary.Status)
	require.Len(t, undone, 2)
	assert.Equal(t, []string{"lookup", "create"}, []string{undone[0].Tool, undone[1].Tool})
}

func TestExecutor_Run_FirstRequiredStepFails(t *testing.T) {
	runner := &MockStepRunner{}
	comp := &MockCompensator{}
	executor := NewExecutor(runner, comp)

	p := pattern.Pattern{ID: "one", ProcessID: "p", Steps: []pattern.Step{{Order: 1, Tool: "create"}}}
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("create"), mock.Anything, mock.Anything).
		Return(fail(1, "create", contract.PhaseExecution, nil))

	summary, err := executor.Run(context.Background(), p, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, RunFailed, summary.Status)
	assert.Equal(t, OutcomeFailed, summary.Outcome())
	assert.NotEmpty(t, summary.Error)
	comp.AssertNotCalled(t, "Rollback", mock.Anything, mock.Anything)
}

func TestExecutor_Run_RollbackIncomplete(t *testing.T) {
	runner := &MockStepRunner{}
	comp := &MockCompensator{}
	tl := logging.NewTestLogger()
	executor := NewExecutor(runner, comp, WithLogger(tl.Logger))

	runner.On("ExecuteWithVerification", mock.Anything, toolStep("lookup"), mock.Anything, mock.Anything).
		Return(pass(1, "lookup", map[string]any{}))
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("create"), mock.Anything, mock.Anything).
		Return(pass(2, "create", map[string]any{"id": "C1"}))
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("score"), mock.Anything, mock.Anything).
		Return(fail(3, "score", contract.PhaseExecution, nil))
	comp.On("Rollback", mock.Anything, mock.Anything).Return(rollback.Report{
		Attempts: []rollback.Attempt{{StepOrder: 2, Status: rollback.StatusManual}},
		Failures: []rollback.Failure{{StepOrder: 2, ToolName: "create", Reason: "no rollback tool declared", ManualIntervention: true}},
	})

	summary, err := executor.Run(context.Background(), threeSteps(), nil, nil)

	require.NoError(t, err)
	assert.Equal(t, RunRolledBack, summary.Status)
	assert.Equal(t, OutcomeRollbackIncomplete, summary.Outcome())
	require.Len(t, summary.RollbackFailures, 1)
	assert.True(t, summary.RollbackFailures[0].ManualIntervention)
	tl.AssertLogged(t, zapcore.ErrorLevel, "rollback gap")
}

func TestExecutor_Run_Cancelled(t *testing.T) {
	runner := &MockStepRunner{}
	comp := &MockCompensator{}
	executor := NewExecutor(runner, comp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stepCtxErr error
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("lookup"), mock.Anything, mock.Anything).
		Return(pass(1, "lookup", map[string]any{}))
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("create"), mock.Anything, mock.Anything).
		Run(func(a mock.Arguments) {
			cancel()
			stepCtxErr = a.Get(0).(context.Context).Err()
		}).
		Return(pass(2, "create", map[string]any{"id": "C1"}))

	var rollbackCtxErr error
	comp.On("Rollback", mock.Anything, mock.Anything).
		Run(func(a mock.Arguments) { rollbackCtxErr = a.Get(0).(context.Context).Err() }).
		Return(rollback.Report{Attempts: []rollback.Attempt{{StepOrder: 2, Status: rollback.StatusCompensated}}})

	summary, err := executor.Run(ctx, threeSteps(), nil, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, RunCancelled, summary.Status)
	assert.Equal(t, OutcomeCancelled, summary.Outcome())
	assert.Equal(t, StepPending, summary.Steps[2].Status)
	assert.NoError(t, stepCtxErr, "a running step is not cancelled with the run")
	assert.NoError(t, rollbackCtxErr, "compensation is not cancelled with the run")
	runner.AssertNotCalled(t, "ExecuteWithVerification", mock.Anything, toolStep("score"), mock.Anything, mock.Anything)
}

func TestExecutor_Run_BlockingGate(t *testing.T) {
	runner := &MockStepRunner{}
	executor := NewExecutor(runner, &MockCompensator{})
	executor.RegisterGate(NewContextGate(TenantKey))

	summary, err := executor.Run(context.Background(), threeSteps(), nil, nil)

	assert.ErrorIs(t, err, ErrBlocked)
	require.NotNil(t, summary)
	assert.Equal(t, RunFailed, summary.Status)
	require.Len(t, summary.Violations, 1)
	assert.Equal(t, contract.SeverityError, summary.Violations[0].Severity)
	runner.AssertNotCalled(t, "ExecuteWithVerification", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutor_Run_WarningGateDoesNotBlock(t *testing.T) {
	runner := &MockStepRunner{}
	executor := NewExecutor(runner, &MockCompensator{})
	executor.RegisterGate(NewCoverageGate(contract.NewRegistry()))

	p := pattern.Pattern{ID: "one", ProcessID: "p", Steps: []pattern.Step{{Order: 1, Tool: "create"}}}
	runner.On("ExecuteWithVerification", mock.Anything, toolStep("create"), mock.Anything, mock.Anything).
		Return(pass(1, "create", map[string]any{}))

	summary, err := executor.Run(context.Background(), p, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, RunCompleted, summary.Status)
	require.Len(t, summary.Violations, 1)
	assert.Equal(t, "contract-coverage", summary.Violations[0].Gate)
}

func TestExecutor_Progress(t *testing.T) {
	runner := &MockStepRunner{}
	executor := NewExecutor(runner, &MockCompensator{})

	var mu sync.Mutex
	var snapshots []PlanProgressData
	executor.OnProgress(func(_ context.Context, p PlanProgressData) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, p)
	})

	runner.On("ExecuteWithVerification", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(pass(0, "any", map[string]any{"id": "X"}))

	summary, err := executor.Run(context.Background(), threeSteps(), nil, map[string]any{TenantKey: "acme"})
	require.NoError(t, err)

	require.NotEmpty(t, snapshots)
	first, last := snapshots[0], snapshots[len(snapshots)-1]
	assert.Equal(t, RunRunning, first.Status)
	assert.Equal(t, 0, first.Percentage)
	assert.Equal(t, summary.RunID, last.RunID)
	assert.Equal(t, "acme", last.Tenant)
	assert.Equal(t, RunCompleted, last.Status)
	assert.Equal(t, 100, last.Percentage)
	assert.Equal(t, 3, last.CompletedSteps)
	assert.Zero(t, last.CurrentStep)

	var sawRunning bool
	for _, s := range snapshots {
		if s.CurrentStep == 2 && s.Steps[1].Status == StepRunning {
			sawRunning = true
			assert.Equal(t, 1, s.CompletedSteps)
			assert.Equal(t, 33, s.Percentage)
		}
	}
	assert.True(t, sawRunning)
}

func TestExecutor_Recorder(t *testing.T) {
	runner := &MockStepRunner{}
	rec := &MockRunRecorder{}
	tl := logging.NewTestLogger()
	executor := NewExecutor(runner, &MockCompensator{}, WithRecorder(rec), WithLogger(tl.Logger))

	p := pattern.Pattern{ID: "one", ProcessID: "p", Steps: []pattern.Step{{Order: 1, Tool: "create"}}}
	runner.On("ExecuteWithVerification", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(pass(1, "create", map[string]any{}))
	rec.On("RecordRun", mock.Anything, mock.MatchedBy(func(s *Summary) bool { return s.Status == RunCompleted })).
		Return(errors.New("disk full"))

	summary, err := executor.Run(context.Background(), p, nil, nil)

	require.NoError(t, err, "recorder errors do not fail the run")
	assert.Equal(t, RunCompleted, summary.Status)
	rec.AssertExpectations(t)
	tl.AssertLogged(t, zapcore.WarnLevel, "failed to record run")
}

func TestExecutor_Telemetry(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	runner := &MockStepRunner{}
	executor := NewExecutor(runner, &MockCompensator{},
		WithTracer(tt.Tracer("orchestrator")),
		WithMeter(tt.Meter("orchestrator")),
	)

	p := pattern.Pattern{ID: "one", ProcessID: "p", Steps: []pattern.Step{{Order: 1, Tool: "create"}}}
	runner.On("ExecuteWithVerification", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(pass(1, "create", map[string]any{}))

	_, err := executor.Run(context.Background(), p, nil, nil)
	require.NoError(t, err)

	tt.AssertSpanExists(t, "pattern.run")
	tt.AssertSpanExists(t, "pattern.step")
	tt.AssertSpanAttribute(t, "pattern.run", "processd.pattern_id", "one")
	tt.AssertSpanAttribute(t, "pattern.run", "processd.status", "completed")
	tt.AssertSpanAttribute(t, "pattern.step", "processd.tool", "create")

	assert.True(t, tt.HasMetric("processd.runs"))
	assert.True(t, tt.HasMetric("processd.run.duration"))
}

func TestStoreRecorder(t *testing.T) {
	st := store.NewMemoryStore()
	rec := NewStoreRecorder(st)
	ctx := context.Background()

	s := &Summary{
		RunID: "run-1", PatternID: "onboard", ProcessID: "lead_intake",
		Status: RunRolledBack, FailedStep: 3,
		Steps: []StepRecord{{Order: 1, Name: "create", Tool: "create", Status: StepSucceeded}},
		Rollback: &rollback.Report{
			Failures: []rollback.Failure{{StepOrder: 1, ToolName: "create", Reason: "gone", ManualIntervention: true}},
		},
		RollbackFailures: []rollback.Failure{{StepOrder: 1, ToolName: "create", Reason: "gone", ManualIntervention: true}},
	}
	require.NoError(t, rec.RecordRun(ctx, s))
	require.NoError(t, rec.RecordRun(ctx, &Summary{RunID: "run-2", PatternID: "other", Status: RunCompleted}))

	rows, err := rec.Runs(ctx, "onboard")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "run-1", rows[0][store.IDColumn])
	assert.Equal(t, string(OutcomeRollbackIncomplete), rows[0]["outcome"])
	assert.Equal(t, 3, rows[0]["failed_step"])

	all, err := rec.Runs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	err = rec.RecordRun(ctx, s)
	assert.ErrorIs(t, err, store.ErrDuplicateID)
}

func TestSummary_Outcome(t *testing.T) {
	incomplete := &rollback.Report{Failures: []rollback.Failure{{ToolName: "x"}}}
	tests := []struct {
		name    string
		summary Summary
		want    Outcome
	}{
		{"completed", Summary{Status: RunCompleted}, OutcomeCompleted},
		{"degraded", Summary{Status: RunCompleted, Degraded: true}, OutcomeCompletedWithGaps},
		{"rolled back", Summary{Status: RunRolledBack, Rollback: &rollback.Report{}}, OutcomeRolledBack},
		{"rollback incomplete", Summary{Status: RunRolledBack, Rollback: incomplete}, OutcomeRollbackIncomplete},
		{"cancelled with gaps", Summary{Status: RunCancelled, Rollback: incomplete}, OutcomeRollbackIncomplete},
		{"cancelled", Summary{Status: RunCancelled}, OutcomeCancelled},
		{"failed", Summary{Status: RunFailed}, OutcomeFailed},
		{"running", Summary{Status: RunRunning}, OutcomeInProgress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.summary.Outcome())
		})
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	assert.False(t, RunNotStarted.Terminal())
	assert.False(t, RunRunning.Terminal())
	for _, s := range []RunStatus{RunCompleted, RunFailed, RunRolledBack, RunCancelled} {
		assert.True(t, s.Terminal(), s)
	}
}
