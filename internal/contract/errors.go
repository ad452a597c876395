package contract

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidContract is returned when a contract definition is malformed.
	ErrInvalidContract = errors.New("invalid contract")

	// ErrRollbackHasContract is returned when a rollback tool has its own contract.
	ErrRollbackHasContract = errors.New("rollback tool has its own contract")
)

// DuplicateToolError is returned when a contract is registered twice for the same tool.
type DuplicateToolError struct {
	ToolName string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("contract already registered for tool %q", e.ToolName)
}

// SchemaError reports arguments that do not satisfy a contract's ArgsSchema.
type SchemaError struct {
	ToolName string
	Causes   []string
}

func (e *SchemaError) Error() string {
	if len(e.Causes) == 0 {
		return fmt.Sprintf("arguments for %s do not match schema", e.ToolName)
	}
	return fmt.Sprintf("arguments for %s do not match schema: %s", e.ToolName, e.Causes[0])
}
