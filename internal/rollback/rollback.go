// Package rollback compensates completed steps when a pattern run fails.
//
// Steps are undone most recent first. Each step's contract names the
// compensating tool and its argument templates, which resolve against the
// step's original result and arguments. A step whose contract declares no
// compensating tool, or that has no contract at all, is reported as needing
// manual intervention. One failed compensation never stops the others.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/processd/internal/contract"
	"github.com/fyrsmithlabs/processd/internal/logging"
	"github.com/fyrsmithlabs/processd/internal/template"
	"github.com/fyrsmithlabs/processd/internal/tool"
)

// Step is a completed step that may need compensation.
type Step struct {
	Order  int            `json:"order"`
	Name   string         `json:"name"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// Status is the outcome of compensating one step.
type Status string

const (
	// StatusCompensated means the rollback tool ran successfully.
	StatusCompensated Status = "compensated"

	// StatusFailed means the rollback tool was called and failed, or its
	// arguments could not be resolved.
	StatusFailed Status = "failed"

	// StatusManual means no automatic compensation exists for the step.
	StatusManual Status = "manual"

	// StatusNotRequired means the tool has no side effects to undo.
	StatusNotRequired Status = "not_required"
)

// Attempt records what happened to one step during rollback.
type Attempt struct {
	StepOrder    int            `json:"step_order"`
	StepName     string         `json:"step_name"`
	ToolName     string         `json:"tool_name"`
	RollbackTool string         `json:"rollback_tool,omitempty"`
	Args         map[string]any `json:"args,omitempty"`
	Status       Status         `json:"status"`
	Tries        int            `json:"tries,omitempty"`
	Error        string         `json:"error,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
}

// Failure is a step whose effects may remain after rollback.
type Failure struct {
	StepOrder    int    `json:"step_order"`
	ToolName     string `json:"tool_name"`
	RollbackTool string `json:"rollback_tool,omitempty"`
	Reason       string `json:"reason"`

	// ManualIntervention is true when no compensating tool exists, as opposed
	// to one that exists but failed.
	ManualIntervention bool `json:"manual_intervention"`
}

// Report is the outcome of one rollback.
type Report struct {
	Attempts []Attempt `json:"attempts"`
	Failures []Failure `json:"failures,omitempty"`
}

// Complete reports whether every step with side effects was compensated.
func (r Report) Complete() bool {
	return len(r.Failures) == 0
}

// Compensated returns the number of successfully compensated steps.
func (r Report) Compensated() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Status == StatusCompensated {
			n++
		}
	}
	return n
}

// ManualGaps returns the failures that need manual intervention.
func (r Report) ManualGaps() []Failure {
	var out []Failure
	for _, f := range r.Failures {
		if f.ManualIntervention {
			out = append(out, f)
		}
	}
	return out
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a compensation error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Coordinator runs compensations.
type Coordinator struct {
	contracts *contract.Registry
	invoker   tool.Invoker
	policy    RetryPolicy
	limiter   *rate.Limiter
	logger    *logging.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetryPolicy sets the retry policy for failed compensations.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Coordinator) {
		p.ApplyDefaults()
		c.policy = p
	}
}

// WithRateLimiter paces compensating calls.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *Coordinator) { c.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a coordinator. By default each compensation is
// tried once and calls are not rate limited.
func NewCoordinator(contracts *contract.Registry, invoker tool.Invoker, opts ...Option) *Coordinator {
	c := &Coordinator{
		contracts: contracts,
		invoker:   invoker,
		policy:    DefaultRetryPolicy(),
		logger:    logging.NewNop(),
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rollback compensates steps in descending order regardless of the order
// they are passed in. Compensations are invoked directly; they are not
// verified against any contract.
func (c *Coordinator) Rollback(ctx context.Context, steps []Step) Report {
	ordered := make([]Step, len(steps))
	copy(ordered, steps)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order > ordered[j].Order })

	report := Report{Attempts: make([]Attempt, 0, len(ordered))}
	for _, s := range ordered {
		attempt, failure := c.compensate(ctx, s)
		report.Attempts = append(report.Attempts, attempt)
		if failure != nil {
			report.Failures = append(report.Failures, *failure)
		}
	}

	if report.Complete() {
		c.logger.Info(ctx, "rollback complete", zap.Int("compensated", report.Compensated()))
	} else {
		c.logger.Warn(ctx, "rollback incomplete",
			zap.Int("compensated", report.Compensated()),
			zap.Int("failures", len(report.Failures)),
			zap.Int("manual_gaps", len(report.ManualGaps())),
		)
	}
	return report
}

func (c *Coordinator) compensate(ctx context.Context, s Step) (Attempt, *Failure) {
	start := c.now()
	a := Attempt{StepOrder: s.Order, StepName: s.Name, ToolName: s.Tool}
	done := func(status Status, reason string) Attempt {
		a.Status = status
		a.Error = reason
		a.DurationMs = c.now().Sub(start).Milliseconds()
		return a
	}

	ct := c.contracts.Get(s.Tool)
	if ct == nil {
		reason := "tool ran without a contract; effects unknown"
		c.logger.Warn(ctx, "manual intervention required", zap.String("tool", s.Tool), zap.String("reason", reason))
		return done(StatusManual, reason), &Failure{StepOrder: s.Order, ToolName: s.Tool, Reason: reason, ManualIntervention: true}
	}
	if !ct.HasSideEffects() {
		return done(StatusNotRequired, ""), nil
	}
	if !ct.Reversible() {
		reason := "no rollback tool declared"
		c.logger.Warn(ctx, "manual intervention required", zap.String("tool", s.Tool), zap.String("reason", reason))
		return done(StatusManual, reason), &Failure{StepOrder: s.Order, ToolName: s.Tool, Reason: reason, ManualIntervention: true}
	}

	a.RollbackTool = ct.RollbackTool
	args, missing := template.ResolveArgs(ct.RollbackArgs, template.Bag{"result": s.Result, "args": s.Args})
	a.Args = args
	if len(missing) > 0 {
		reason := fmt.Sprintf("unresolved rollback args %v", missing)
		c.logger.Error(ctx, "rollback args unresolved", zap.String("tool", s.Tool), zap.Strings("missing", missing))
		return done(StatusFailed, reason), &Failure{StepOrder: s.Order, ToolName: s.Tool, RollbackTool: ct.RollbackTool, Reason: reason}
	}

	tries, err := c.invoke(ctx, ct.RollbackTool, args)
	a.Tries = tries
	if err != nil {
		c.logger.Error(ctx, "compensation failed",
			zap.String("tool", s.Tool),
			zap.String("rollback_tool", ct.RollbackTool),
			zap.Int("tries", tries),
			zap.Error(err),
		)
		return done(StatusFailed, err.Error()), &Failure{StepOrder: s.Order, ToolName: s.Tool, RollbackTool: ct.RollbackTool, Reason: err.Error()}
	}
	c.logger.Info(ctx, "step compensated",
		zap.String("tool", s.Tool),
		zap.String("rollback_tool", ct.RollbackTool),
		zap.Int("step", s.Order),
	)
	return done(StatusCompensated, ""), nil
}

// invoke calls the rollback tool, retrying per policy.
func (c *Coordinator) invoke(ctx context.Context, name string, args map[string]any) (int, error) {
	backoff := c.policy.InitialBackoff
	var lastErr error
	for try := 1; try <= c.policy.MaxAttempts; try++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return try - 1, fmt.Errorf("rate limit wait: %w", err)
			}
		}
		_, err := c.invoker.Invoke(ctx, name, args)
		if err == nil {
			return try, nil
		}
		lastErr = err
		if IsPermanent(err) || try == c.policy.MaxAttempts {
			return try, lastErr
		}

		c.logger.Debug(ctx, "retrying compensation",
			zap.String("rollback_tool", name),
			zap.Int("try", try),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := c.sleep(ctx, backoff); err != nil {
			return try, fmt.Errorf("%w (retry aborted: %v)", lastErr, err)
		}
		backoff = c.policy.next(backoff)
	}
	return c.policy.MaxAttempts, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
