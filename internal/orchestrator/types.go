package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/processd/internal/contract"
	"github.com/fyrsmithlabs/processd/internal/rollback"
	"github.com/fyrsmithlabs/processd/internal/template"
	"github.com/fyrsmithlabs/processd/internal/verifier"
)

// RunStatus is the state of a pattern run.
type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunRolledBack RunStatus = "rolled_back"
	RunCancelled  RunStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunRolledBack, RunCancelled:
		return true
	}
	return false
}

// StepStatus is the state of one step within a run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

func (s StepStatus) done() bool {
	return s == StepSucceeded || s == StepFailed || s == StepSkipped
}

// Outcome is the caller-facing classification of a finished run.
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeCompletedWithGaps  Outcome = "completed_with_gaps"
	OutcomeRolledBack         Outcome = "rolled_back"
	OutcomeRollbackIncomplete Outcome = "rollback_incomplete"
	OutcomeFailed             Outcome = "failed"
	OutcomeCancelled          Outcome = "cancelled"
	OutcomeInProgress         Outcome = "in_progress"
)

// StepRecord captures what happened to one step.
type StepRecord struct {
	Order    int        `json:"order"`
	Name     string     `json:"name"`
	Tool     string     `json:"tool"`
	Optional bool       `json:"optional,omitempty"`
	Status   StepStatus `json:"status"`

	Args   map[string]any `json:"args,omitempty"`
	Result map[string]any `json:"result,omitempty"`

	// Unresolved lists placeholders in the step arguments that had no value.
	Unresolved []string `json:"unresolved,omitempty"`

	Verification *contract.VerificationResult `json:"verification,omitempty"`
	Error        string                       `json:"error,omitempty"`
	SkipReason   string                       `json:"skip_reason,omitempty"`

	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Summary is the result of a pattern run.
type Summary struct {
	RunID     string    `json:"run_id"`
	PatternID string    `json:"pattern_id"`
	ProcessID string    `json:"process_id"`
	Status    RunStatus `json:"status"`

	// Degraded is set when an optional step failed and the run continued.
	Degraded bool `json:"degraded,omitempty"`

	// FailedStep is the order of the required step that stopped the run.
	FailedStep int `json:"failed_step,omitempty"`

	Steps         []StepRecord                  `json:"steps"`
	Results       map[string]any                `json:"results"`
	Verifications []contract.VerificationResult `json:"verifications"`
	Violations    []Violation                   `json:"violations,omitempty"`

	Rollback         *rollback.Report   `json:"rollback,omitempty"`
	RollbackFailures []rollback.Failure `json:"rollback_failures,omitempty"`

	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// Outcome classifies the run for callers. An incomplete rollback outranks
// every other classification because it needs manual action.
func (s *Summary) Outcome() Outcome {
	if s.Rollback != nil && !s.Rollback.Complete() {
		return OutcomeRollbackIncomplete
	}
	switch s.Status {
	case RunCompleted:
		if s.Degraded {
			return OutcomeCompletedWithGaps
		}
		return OutcomeCompleted
	case RunRolledBack:
		return OutcomeRolledBack
	case RunFailed:
		return OutcomeFailed
	case RunCancelled:
		return OutcomeCancelled
	}
	return OutcomeInProgress
}

// Step returns the record for the step stored under name, if any.
func (s *Summary) Step(name string) (StepRecord, bool) {
	for _, r := range s.Steps {
		if r.Name == name {
			return r, true
		}
	}
	return StepRecord{}, false
}

// FailedVerifications returns the verification results that did not pass.
func (s *Summary) FailedVerifications() []contract.VerificationResult {
	var out []contract.VerificationResult
	for _, v := range s.Verifications {
		if !v.Passed {
			out = append(out, v)
		}
	}
	return out
}

// StepProgress is one row of a progress snapshot.
type StepProgress struct {
	Order  int        `json:"order"`
	Name   string     `json:"name"`
	Tool   string     `json:"tool"`
	Status StepStatus `json:"status"`
}

// PlanProgressData is a point-in-time view of a run for progress displays.
type PlanProgressData struct {
	RunID          string         `json:"run_id"`
	PatternID      string         `json:"pattern_id"`
	ProcessID      string         `json:"process_id"`
	Tenant         string         `json:"tenant,omitempty"`
	Status         RunStatus      `json:"status"`
	CurrentStep    int            `json:"current_step,omitempty"`
	TotalSteps     int            `json:"total_steps"`
	CompletedSteps int            `json:"completed_steps"`
	Percentage     int            `json:"percentage"`
	Steps          []StepProgress `json:"steps"`
}

// ProgressCallback receives a snapshot after every state change of a run.
type ProgressCallback func(ctx context.Context, progress PlanProgressData)

// StepRunner executes one step under its contract.
type StepRunner interface {
	ExecuteWithVerification(ctx context.Context, step verifier.Step, args map[string]any, ec *template.ExecutionContext) verifier.Outcome
}

// Compensator undoes completed steps.
type Compensator interface {
	Rollback(ctx context.Context, steps []rollback.Step) rollback.Report
}

// RunRecorder keeps a record of finished runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, summary *Summary) error
}
