package verifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/processd/internal/contract"
)

// Sentinel errors matched by StepError.Is according to the failure phase.
var (
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrExecutionFailed     = errors.New("tool execution failed")
	ErrPostconditionFailed = errors.New("postcondition failed")
	ErrAssertionFailed     = errors.New("store assertion failed")
)

// StepError describes why a step did not pass verification.
type StepError struct {
	Tool       string
	Phase      contract.Phase
	Severity   contract.Severity
	Conditions []contract.Condition
	Details    []string
	Err        error
}

func (e *StepError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Tool, phaseSentinel(e.Phase))
	if len(e.Conditions) > 0 {
		ids := make([]string, 0, len(e.Conditions))
		for _, c := range e.Conditions {
			ids = append(ids, c.ID)
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(ids, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else if len(e.Details) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Details, "; "))
	}
	return b.String()
}

func (e *StepError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's phase.
func (e *StepError) Is(target error) bool {
	return target == phaseSentinel(e.Phase)
}

func phaseSentinel(p contract.Phase) error {
	switch p {
	case contract.PhasePrecondition:
		return ErrPreconditionFailed
	case contract.PhasePostcondition:
		return ErrPostconditionFailed
	case contract.PhaseDBAssertion:
		return ErrAssertionFailed
	}
	return ErrExecutionFailed
}
