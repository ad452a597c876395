package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/processd/internal/contract"
	"github.com/fyrsmithlabs/processd/internal/logging"
	"github.com/fyrsmithlabs/processd/internal/pattern"
	"github.com/fyrsmithlabs/processd/internal/rollback"
	"github.com/fyrsmithlabs/processd/internal/template"
	"github.com/fyrsmithlabs/processd/internal/verifier"
)

// ErrBlocked is returned when a gate violation stops a run before its first step.
var ErrBlocked = errors.New("run blocked by gate")

// Run context keys copied into log correlation fields.
const (
	TenantKey  = "tenant_id"
	SessionKey = "session_id"
)

const instrumentationName = "github.com/fyrsmithlabs/processd/internal/orchestrator"

// Executor runs patterns. A single Executor is safe for concurrent runs;
// each run owns its ExecutionContext.
type Executor struct {
	runner      StepRunner
	compensator Compensator
	recorder    RunRecorder
	gates       []Gate
	progress    ProgressCallback
	logger      *logging.Logger
	tracer      trace.Tracer
	runsTotal   metric.Int64Counter
	runSeconds  metric.Float64Histogram
	now         func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTracer sets the tracer used for run and step spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithMeter sets the meter used for run counters and durations.
func WithMeter(m metric.Meter) Option {
	return func(e *Executor) {
		if c, err := m.Int64Counter("processd.runs",
			metric.WithDescription("Pattern runs by terminal status"),
			metric.WithUnit("{run}"),
		); err == nil {
			e.runsTotal = c
		}
		if h, err := m.Float64Histogram("processd.run.duration",
			metric.WithDescription("Pattern run duration"),
			metric.WithUnit("s"),
		); err == nil {
			e.runSeconds = h
		}
	}
}

// WithRecorder sets the recorder that receives every finished run.
func WithRecorder(r RunRecorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an executor that runs steps through runner and undoes
// them through compensator.
func NewExecutor(runner StepRunner, compensator Compensator, opts ...Option) *Executor {
	e := &Executor{
		runner:      runner,
		compensator: compensator,
		logger:      logging.NewNop(),
		tracer:      tracenoop.NewTracerProvider().Tracer(instrumentationName),
		now:         time.Now,
	}
	WithMeter(metricnoop.NewMeterProvider().Meter(instrumentationName))(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterGate adds a gate checked before every run.
func (e *Executor) RegisterGate(gate Gate) {
	e.gates = append(e.gates, gate)
}

// OnProgress sets the progress callback
func (e *Executor) OnProgress(callback ProgressCallback) {
	e.progress = callback
}

// run is the mutable state of one pattern run.
type run struct {
	pattern   pattern.Pattern
	request   RunRequest
	summary   *Summary
	ec        *template.ExecutionContext
	tenant    string
	completed []rollback.Step
	current   int
}

// Run executes p with the caller's input and run context.
//
// The returned error is non-nil only when the run could not be carried out
// as requested: the pattern is invalid (nil summary), a gate blocked it, or
// ctx was cancelled. Step failures are reported through the summary.
func (e *Executor) Run(ctx context.Context, p pattern.Pattern, input, runCtx map[string]any) (*Summary, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	start := e.now()
	r := &run{
		pattern: p,
		request: RunRequest{Pattern: p, Input: input, Context: runCtx},
		ec:      template.NewExecutionContext(input, runCtx),
		summary: &Summary{
			RunID:     uuid.NewString(),
			PatternID: p.ID,
			ProcessID: p.ProcessID,
			Status:    RunNotStarted,
			Steps:     make([]StepRecord, len(p.Steps)),
			StartedAt: start,
		},
	}
	for i, s := range p.Steps {
		r.summary.Steps[i] = StepRecord{Order: s.Order, Name: s.Key(), Tool: s.Tool, Optional: s.Optional, Status: StepPending}
	}

	ctx = logging.WithRunID(ctx, r.summary.RunID)
	if tenant, ok := runCtx[TenantKey].(string); ok && logging.ValidateID(tenant, "tenant") == nil {
		r.tenant = tenant
		ctx = logging.WithTenant(ctx, tenant)
	}
	if session, ok := runCtx[SessionKey].(string); ok && logging.ValidateID(session, "session") == nil {
		ctx = logging.WithSessionID(ctx, session)
	}

	ctx, span := e.tracer.Start(ctx, "pattern.run", trace.WithAttributes(
		attribute.String("processd.run_id", r.summary.RunID),
		attribute.String("processd.pattern_id", p.ID),
		attribute.String("processd.process_id", p.ProcessID),
		attribute.Int("processd.steps", len(p.Steps)),
	))
	defer span.End()

	e.logger.Info(ctx, "pattern run started",
		zap.String("pattern", p.ID),
		zap.String("process", p.ProcessID),
		zap.Int("steps", len(p.Steps)),
	)

	runErr := e.execute(ctx, r)
	e.finish(ctx, r, span, runErr)
	return r.summary, runErr
}

func (e *Executor) execute(ctx context.Context, r *run) error {
	violations, err := e.checkGates(ctx, r.request)
	if err != nil {
		r.summary.Status = RunFailed
		return err
	}
	r.summary.Violations = violations
	for _, v := range violations {
		e.logger.Warn(ctx, "gate violation",
			zap.String("gate", v.Gate),
			zap.Int("step", v.StepOrder),
			zap.String("severity", string(v.Severity)),
			zap.String("description", v.Description),
		)
	}
	if hasBlockingViolation(violations) {
		r.summary.Status = RunFailed
		return fmt.Errorf("%w: %s", ErrBlocked, describeViolations(violations))
	}

	r.summary.Status = RunRunning
	e.reportProgress(ctx, r)

	for i, step := range r.pattern.Steps {
		if err := ctx.Err(); err != nil {
			e.logger.Warn(ctx, "pattern run cancelled", zap.Int("before_step", step.Order), zap.Error(err))
			e.compensate(ctx, r, r.completed)
			r.summary.Status = RunCancelled
			return err
		}

		r.current = i
		rec := &r.summary.Steps[i]
		rec.StartedAt = e.now()

		if step.SkipIf != "" {
			skip, err := template.EvalBool(step.SkipIf, r.ec)
			if err != nil {
				e.logger.Warn(ctx, "skip condition failed to evaluate; running step",
					zap.Int("step", step.Order),
					zap.String("skip_if", step.SkipIf),
					zap.Error(err),
				)
			} else if skip {
				rec.Status = StepSkipped
				rec.SkipReason = step.SkipIf
				rec.CompletedAt = e.now()
				e.logger.Debug(ctx, "step skipped", zap.Int("step", step.Order), zap.String("tool", step.Tool))
				e.reportProgress(ctx, r)
				continue
			}
		}

		args, missing := template.ResolveArgs(step.Args, r.ec)
		rec.Args = args
		rec.Unresolved = missing
		if len(missing) > 0 {
			e.logger.Debug(ctx, "step arguments unresolved",
				zap.Int("step", step.Order),
				zap.Strings("placeholders", missing),
			)
		}
		rec.Status = StepRunning
		e.reportProgress(ctx, r)

		out := e.runStep(ctx, r, step, args)
		vr := out.Verification
		rec.Verification = &vr
		rec.CompletedAt = e.now()
		r.summary.Verifications = append(r.summary.Verifications, vr)

		if out.Passed {
			rec.Status = StepSucceeded
			rec.Result = out.Result
			r.ec.SetResult(step.Key(), out.Result)
			r.completed = append(r.completed, rollback.Step{
				Order: step.Order, Name: step.Key(), Tool: step.Tool, Args: args, Result: out.Result,
			})
			e.reportProgress(ctx, r)
			continue
		}

		rec.Status = StepFailed
		if out.Err != nil {
			rec.Error = out.Err.Error()
		}

		if step.Optional {
			r.summary.Degraded = true
			e.logger.Warn(ctx, "optional step failed; continuing",
				zap.Int("step", step.Order),
				zap.String("tool", step.Tool),
				zap.String("phase", string(vr.Phase)),
			)
			e.reportProgress(ctx, r)
			continue
		}

		e.logger.Error(ctx, "required step failed; rolling back",
			zap.Int("step", step.Order),
			zap.String("tool", step.Tool),
			zap.String("phase", string(vr.Phase)),
			zap.String("severity", string(vr.Severity)),
			zap.Strings("failed_conditions", vr.FailedConditionIDs()),
		)
		r.summary.FailedStep = step.Order
		r.summary.Error = rec.Error

		undo := r.completed
		if vr.Phase == contract.PhasePostcondition || vr.Phase == contract.PhaseDBAssertion {
			// The tool ran, so its own effect is compensated first.
			undo = append(undo, rollback.Step{
				Order: step.Order, Name: step.Key(), Tool: step.Tool, Args: args, Result: out.Result,
			})
		}
		if report := e.compensate(ctx, r, undo); undoneSomething(report) {
			r.summary.Status = RunRolledBack
		} else {
			r.summary.Status = RunFailed
		}
		return nil
	}

	r.summary.Status = RunCompleted
	return nil
}

// runStep runs one verified step. Cancellation is honoured between steps
// only, so a step that has started always runs to a verdict.
func (e *Executor) runStep(ctx context.Context, r *run, step pattern.Step, args map[string]any) verifier.Outcome {
	ctx, span := e.tracer.Start(context.WithoutCancel(ctx), "pattern.step", trace.WithAttributes(
		attribute.Int("processd.step.order", step.Order),
		attribute.String("processd.step.name", step.Key()),
		attribute.String("processd.tool", step.Tool),
		attribute.Bool("processd.step.optional", step.Optional),
	))
	defer span.End()

	out := e.runner.ExecuteWithVerification(ctx, verifier.Step{
		Order:     step.Order,
		Name:      step.Key(),
		Tool:      step.Tool,
		ProcessID: r.pattern.ProcessID,
	}, args, r.ec)

	span.SetAttributes(attribute.Bool("processd.step.passed", out.Passed))
	if !out.Passed {
		span.SetAttributes(attribute.String("processd.step.phase", string(out.Verification.Phase)))
		if out.Err != nil {
			span.RecordError(out.Err)
		}
		span.SetStatus(codes.Error, "step failed")
	}
	return out
}

// compensate rolls back steps. Compensation runs even when ctx is
// cancelled; the run's values are kept for logging.
func (e *Executor) compensate(ctx context.Context, r *run, steps []rollback.Step) *rollback.Report {
	if len(steps) == 0 {
		return nil
	}
	ctx, span := e.tracer.Start(context.WithoutCancel(ctx), "pattern.rollback",
		trace.WithAttributes(attribute.Int("processd.rollback.steps", len(steps))))
	defer span.End()

	report := e.compensator.Rollback(ctx, steps)
	r.summary.Rollback = &report
	r.summary.RollbackFailures = report.Failures
	span.SetAttributes(
		attribute.Int("processd.rollback.compensated", report.Compensated()),
		attribute.Int("processd.rollback.failures", len(report.Failures)),
	)
	if !report.Complete() {
		span.SetStatus(codes.Error, "rollback incomplete")
		for _, f := range report.Failures {
			e.logger.Error(ctx, "rollback gap",
				zap.Int("step", f.StepOrder),
				zap.String("tool", f.ToolName),
				zap.String("rollback_tool", f.RollbackTool),
				zap.Bool("manual_intervention", f.ManualIntervention),
				zap.String("reason", f.Reason),
			)
		}
	}
	return &report
}

// undoneSomething reports whether rollback had any side effect to deal with.
func undoneSomething(report *rollback.Report) bool {
	if report == nil {
		return false
	}
	for _, a := range report.Attempts {
		if a.Status != rollback.StatusNotRequired {
			return true
		}
	}
	return false
}

func (e *Executor) finish(ctx context.Context, r *run, span trace.Span, runErr error) {
	s := r.summary
	s.Results = r.ec.Results()
	s.CompletedAt = e.now()
	s.DurationMs = s.CompletedAt.Sub(s.StartedAt).Milliseconds()
	if runErr != nil && s.Error == "" {
		s.Error = runErr.Error()
	}

	attrs := metric.WithAttributes(
		attribute.String("pattern", s.PatternID),
		attribute.String("status", string(s.Status)),
		attribute.String("outcome", string(s.Outcome())),
	)
	e.runsTotal.Add(ctx, 1, attrs)
	e.runSeconds.Record(ctx, s.CompletedAt.Sub(s.StartedAt).Seconds(), attrs)

	span.SetAttributes(
		attribute.String("processd.status", string(s.Status)),
		attribute.String("processd.outcome", string(s.Outcome())),
	)
	if s.Status != RunCompleted {
		span.SetStatus(codes.Error, string(s.Outcome()))
	}

	fields := []zap.Field{
		zap.String("pattern", s.PatternID),
		zap.String("status", string(s.Status)),
		zap.String("outcome", string(s.Outcome())),
		zap.Int64("duration_ms", s.DurationMs),
	}
	switch s.Status {
	case RunCompleted:
		if len(r.pattern.SuccessMetrics) > 0 {
			fields = append(fields, zap.Strings("success_metrics", r.pattern.SuccessMetrics))
		}
		e.logger.Info(ctx, "pattern run finished", fields...)
	default:
		fields = append(fields, zap.Int("failed_step", s.FailedStep), zap.Int("rollback_failures", len(s.RollbackFailures)))
		e.logger.Warn(ctx, "pattern run finished", fields...)
	}

	if e.recorder != nil {
		if err := e.recorder.RecordRun(context.WithoutCancel(ctx), s); err != nil {
			e.logger.Warn(ctx, "failed to record run", zap.Error(err))
		}
	}
	e.reportProgress(ctx, r)
}

// checkGates runs all gates and returns violations
func (e *Executor) checkGates(ctx context.Context, req RunRequest) ([]Violation, error) {
	var all []Violation
	for _, gate := range e.gates {
		violations, err := gate.Check(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("gate %s check failed: %w", gate.Name(), err)
		}
		all = append(all, violations...)
	}
	return all, nil
}

// reportProgress sends a snapshot to the callback
func (e *Executor) reportProgress(ctx context.Context, r *run) {
	if e.progress == nil {
		return
	}
	e.progress(ctx, r.snapshot())
}

func (r *run) snapshot() PlanProgressData {
	s := r.summary
	p := PlanProgressData{
		RunID:      s.RunID,
		PatternID:  s.PatternID,
		ProcessID:  s.ProcessID,
		Tenant:     r.tenant,
		Status:     s.Status,
		TotalSteps: len(s.Steps),
		Steps:      make([]StepProgress, len(s.Steps)),
	}
	for i, rec := range s.Steps {
		p.Steps[i] = StepProgress{Order: rec.Order, Name: rec.Name, Tool: rec.Tool, Status: rec.Status}
		if rec.Status.done() {
			p.CompletedSteps++
		}
	}
	if !s.Status.Terminal() && s.Status != RunNotStarted && len(s.Steps) > 0 {
		p.CurrentStep = s.Steps[r.current].Order
	}
	if p.TotalSteps > 0 {
		p.Percentage = p.CompletedSteps * 100 / p.TotalSteps
	}
	return p
}
