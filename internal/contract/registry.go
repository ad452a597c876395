package contract

import (
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type entry struct {
	contract ToolContract
	schema   *jsonschema.Schema
}

// Registry holds tool contracts indexed by tool name and process.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]*entry
	byProcess map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		contracts: make(map[string]*entry),
		byProcess: make(map[string][]string),
	}
}

// Register adds a contract. Registering a second contract for the same tool
// returns a *DuplicateToolError.
func (r *Registry) Register(c ToolContract) error {
	if err := c.Validate(); err != nil {
		return err
	}

	var sch *jsonschema.Schema
	if len(c.ArgsSchema) > 0 {
		compiled, err := compileSchema(c.ToolName, c.ArgsSchema)
		if err != nil {
			return err
		}
		sch = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.contracts[c.ToolName]; exists {
		return &DuplicateToolError{ToolName: c.ToolName}
	}
	r.contracts[c.ToolName] = &entry{contract: c, schema: sch}
	r.byProcess[c.ProcessID] = append(r.byProcess[c.ProcessID], c.ToolName)
	return nil
}

// Get returns a copy of the contract for toolName, or nil if none is registered.
func (r *Registry) Get(toolName string) *ToolContract {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.contracts[toolName]
	if !ok {
		return nil
	}
	c := e.contract
	return &c
}

// ListByProcess returns the contracts registered for processID in
// registration order.
func (r *Registry) ListByProcess(processID string) []ToolContract {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.byProcess[processID]
	out := make([]ToolContract, 0, len(names))
	for _, name := range names {
		out = append(out, r.contracts[name].contract)
	}
	return out
}

// Tools returns the names of all tools with a contract, sorted.
func (r *Registry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered contracts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contracts)
}

// ValidateArgs checks args against the tool's ArgsSchema. Tools without a
// contract or without a schema always pass.
func (r *Registry) ValidateArgs(toolName string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.contracts[toolName]
	r.mu.RUnlock()

	if !ok || e.schema == nil {
		return nil
	}
	return validateSchema(toolName, e.schema, args)
}

// HasSchema reports whether the tool's contract declares an ArgsSchema.
func (r *Registry) HasSchema(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.contracts[toolName]
	return ok && e.schema != nil
}

// Check verifies registry-wide invariants that cannot be checked one
// contract at a time: a rollback tool must not carry a contract of its own.
func (r *Registry) Check() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rb := r.contracts[name].contract.RollbackTool
		if rb == "" {
			continue
		}
		if _, ok := r.contracts[rb]; ok {
			return fmt.Errorf("%w: %s (used to roll back %s)", ErrRollbackHasContract, rb, name)
		}
	}
	return nil
}
