// Package contract defines tool contracts: the declared preconditions,
// postconditions, store assertions and compensating action of a tool.
//
// Contracts are registered once at startup and treated as immutable
// afterwards. The Registry indexes them by tool name and by process.
package contract

import (
	"fmt"
	"time"
)

// ConditionType identifies how a Condition is evaluated.
type ConditionType string

const (
	// ConditionFieldNotNull passes when the field resolves to a non-null, non-empty value.
	ConditionFieldNotNull ConditionType = "field_not_null"

	// ConditionFieldEquals passes when the field equals Value, or the value Ref resolves to.
	ConditionFieldEquals ConditionType = "field_equals"

	// ConditionEntityExists passes when the store holds a row whose Match column
	// equals the field's value.
	ConditionEntityExists ConditionType = "entity_exists"

	// ConditionCustom delegates to a named check registered with the verifier.
	ConditionCustom ConditionType = "custom"

	// ConditionArgsSchema is the implicit precondition derived from ToolContract.ArgsSchema.
	ConditionArgsSchema ConditionType = "args_schema"

	// ConditionStoreAssertion marks a failed StoreAssertion in a VerificationResult.
	ConditionStoreAssertion ConditionType = "store_assertion"
)

// Declarable reports whether t may appear in a contract definition.
// The args_schema and store_assertion types are synthesized by the verifier.
func (t ConditionType) Declarable() bool {
	switch t {
	case ConditionFieldNotNull, ConditionFieldEquals, ConditionEntityExists, ConditionCustom:
		return true
	}
	return false
}

// Condition is a single named check evaluated against tool arguments
// (preconditions) or the tool result (postconditions).
type Condition struct {
	ID          string        `yaml:"id" json:"id"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Type        ConditionType `yaml:"type" json:"type"`

	// Field is a dotted path into the arguments or result.
	Field string `yaml:"field,omitempty" json:"field,omitempty"`

	// Value is the literal expected by field_equals.
	Value any `yaml:"value,omitempty" json:"value,omitempty"`

	// Ref is a placeholder resolved against the execution context; when set
	// it overrides Value for field_equals.
	Ref string `yaml:"ref,omitempty" json:"ref,omitempty"`

	// Table and Match configure entity_exists. Match defaults to "id".
	Table string `yaml:"table,omitempty" json:"table,omitempty"`
	Match string `yaml:"match,omitempty" json:"match,omitempty"`

	// Check names the custom check for ConditionCustom.
	Check string `yaml:"check,omitempty" json:"check,omitempty"`
}

// Query selects rows for a StoreAssertion. Where values may contain
// placeholders over the result and args scopes.
type Query struct {
	Where  map[string]any `yaml:"where,omitempty" json:"where,omitempty"`
	Filter string         `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// Expectation describes what a StoreAssertion query must return.
// With every field unset the assertion expects at least one row.
type Expectation struct {
	Exists   *bool  `yaml:"exists,omitempty" json:"exists,omitempty"`
	Count    *int   `yaml:"count,omitempty" json:"count,omitempty"`
	MinCount *int   `yaml:"min_count,omitempty" json:"min_count,omitempty"`
	Field    string `yaml:"field,omitempty" json:"field,omitempty"`
	Equals   any    `yaml:"equals,omitempty" json:"equals,omitempty"`
}

// StoreAssertion is a check executed directly against the backing store
// after a tool returns, independent of what the tool reported.
type StoreAssertion struct {
	ID          string      `yaml:"id" json:"id"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Table       string      `yaml:"table" json:"table"`
	Query       Query       `yaml:"query" json:"query"`
	Expect      Expectation `yaml:"expect" json:"expect"`
}

// ToolContract is the declared behavior of one tool.
type ToolContract struct {
	ToolName    string `yaml:"tool" json:"tool_name"`
	ProcessID   string `yaml:"process" json:"process_id"`
	SubStepID   string `yaml:"sub_step,omitempty" json:"sub_step_id,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// SideEffects defaults to true. Tools without side effects are never
	// compensated and never reported as manual rollback gaps.
	SideEffects *bool `yaml:"side_effects,omitempty" json:"side_effects,omitempty"`

	// ArgsSchema is an optional JSON Schema document for the tool arguments.
	ArgsSchema map[string]any `yaml:"args_schema,omitempty" json:"args_schema,omitempty"`

	Preconditions  []Condition      `yaml:"preconditions,omitempty" json:"preconditions,omitempty"`
	Postconditions []Condition      `yaml:"postconditions,omitempty" json:"postconditions,omitempty"`
	DBAssertions   []StoreAssertion `yaml:"db_assertions,omitempty" json:"db_assertions,omitempty"`

	RollbackTool string         `yaml:"rollback_tool,omitempty" json:"rollback_tool,omitempty"`
	RollbackArgs map[string]any `yaml:"rollback_args,omitempty" json:"rollback_args,omitempty"`
}

// HasSideEffects reports whether the tool mutates external state.
func (c *ToolContract) HasSideEffects() bool {
	return c.SideEffects == nil || *c.SideEffects
}

// Reversible reports whether the contract declares a compensating tool.
func (c *ToolContract) Reversible() bool {
	return c.RollbackTool != ""
}

// Validate checks the contract is well formed.
func (c *ToolContract) Validate() error {
	if c.ToolName == "" {
		return fmt.Errorf("%w: tool name is required", ErrInvalidContract)
	}
	if c.RollbackTool == c.ToolName {
		return fmt.Errorf("%w: %s cannot roll itself back", ErrInvalidContract, c.ToolName)
	}
	if len(c.RollbackArgs) > 0 && c.RollbackTool == "" {
		return fmt.Errorf("%w: %s declares rollback args without a rollback tool", ErrInvalidContract, c.ToolName)
	}

	seen := make(map[string]struct{})
	check := func(kind string, conds []Condition) error {
		for _, cond := range conds {
			if cond.ID == "" {
				return fmt.Errorf("%w: %s has a %s without an id", ErrInvalidContract, c.ToolName, kind)
			}
			if _, dup := seen[cond.ID]; dup {
				return fmt.Errorf("%w: %s repeats condition id %q", ErrInvalidContract, c.ToolName, cond.ID)
			}
			seen[cond.ID] = struct{}{}
			if !cond.Type.Declarable() {
				return fmt.Errorf("%w: %s condition %q has unknown type %q", ErrInvalidContract, c.ToolName, cond.ID, cond.Type)
			}
			switch cond.Type {
			case ConditionFieldNotNull, ConditionFieldEquals:
				if cond.Field == "" {
					return fmt.Errorf("%w: %s condition %q needs a field", ErrInvalidContract, c.ToolName, cond.ID)
				}
			case ConditionEntityExists:
				if cond.Table == "" || cond.Field == "" {
					return fmt.Errorf("%w: %s condition %q needs a table and field", ErrInvalidContract, c.ToolName, cond.ID)
				}
			case ConditionCustom:
				if cond.Check == "" {
					return fmt.Errorf("%w: %s condition %q needs a check name", ErrInvalidContract, c.ToolName, cond.ID)
				}
			}
		}
		return nil
	}
	if err := check("precondition", c.Preconditions); err != nil {
		return err
	}
	if err := check("postcondition", c.Postconditions); err != nil {
		return err
	}
	for _, a := range c.DBAssertions {
		if a.ID == "" || a.Table == "" {
			return fmt.Errorf("%w: %s has a store assertion without id or table", ErrInvalidContract, c.ToolName)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("%w: %s repeats condition id %q", ErrInvalidContract, c.ToolName, a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

// Phase is the verification stage in which a step failed.
type Phase string

const (
	PhasePrecondition  Phase = "precondition"
	PhaseExecution     Phase = "execution"
	PhasePostcondition Phase = "postcondition"
	PhaseDBAssertion   Phase = "db_assertion"
)

// Severity grades a verification failure.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// SeverityFor returns the severity attached to failures in phase.
// Precondition failures happen before any side effect; every later phase
// may have left partial state behind.
func SeverityFor(phase Phase) Severity {
	switch phase {
	case PhasePrecondition:
		return SeverityWarning
	case PhaseExecution, PhasePostcondition, PhaseDBAssertion:
		return SeverityCritical
	}
	return SeverityError
}

// VerificationResult is the outcome of executing one step under its contract.
type VerificationResult struct {
	StepOrder         int         `json:"step_order"`
	StepName          string      `json:"step_name"`
	ToolName          string      `json:"tool_name"`
	ProcessID         string      `json:"process_id"`
	Passed            bool        `json:"passed"`
	Phase             Phase       `json:"phase,omitempty"`
	Severity          Severity    `json:"severity,omitempty"`
	FailedConditions  []Condition `json:"failed_conditions,omitempty"`
	ConditionsChecked int         `json:"conditions_checked"`
	Unverified        bool        `json:"unverified,omitempty"`
	ExecutionTimeMs   int64       `json:"execution_time_ms"`
	Error             string      `json:"error,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
}

// FailedConditionIDs returns the ids of the failed conditions.
func (r VerificationResult) FailedConditionIDs() []string {
	ids := make([]string, 0, len(r.FailedConditions))
	for _, c := range r.FailedConditions {
		ids = append(ids, c.ID)
	}
	return ids
}
