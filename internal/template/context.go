package template

import "sync"

// Scope exposes named value trees to placeholder resolution.
type Scope interface {
	Lookup(name string) (any, bool)
}

// ExecutionContext is the mutable state of one pattern run: the caller's
// input, per-step results keyed by step name, and ambient context such as
// tenant or user.
type ExecutionContext struct {
	mu      sync.RWMutex
	input   map[string]any
	results map[string]any
	context map[string]any
}

// NewExecutionContext creates an execution context. Nil maps are replaced
// with empty ones.
func NewExecutionContext(input, context map[string]any) *ExecutionContext {
	if input == nil {
		input = map[string]any{}
	}
	if context == nil {
		context = map[string]any{}
	}
	return &ExecutionContext{
		input:   input,
		results: map[string]any{},
		context: context,
	}
}

// Lookup implements Scope for the input, results and context scopes.
func (e *ExecutionContext) Lookup(name string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch name {
	case "input":
		return e.input, true
	case "results":
		return e.results, true
	case "context":
		return e.context, true
	}
	return nil, false
}

// SetResult stores the result of a completed step.
func (e *ExecutionContext) SetResult(key string, result any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[key] = result
}

// Result returns the stored result for key.
func (e *ExecutionContext) Result(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.results[key]
	return v, ok
}

// Results returns a shallow copy of the results scope.
func (e *ExecutionContext) Results() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.results))
	for k, v := range e.results {
		out[k] = v
	}
	return out
}

// Context returns the value of a context key.
func (e *ExecutionContext) Context(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.context[key]
	return v, ok
}

// Env returns the scopes as an expression environment.
func (e *ExecutionContext) Env() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return map[string]any{
		"input":   e.input,
		"results": e.results,
		"context": e.context,
	}
}

// Bag is a Scope over a fixed set of named values, such as the result and
// args scopes available to rollback arguments.
type Bag map[string]any

// Lookup implements Scope.
func (b Bag) Lookup(name string) (any, bool) {
	v, ok := b[name]
	return v, ok
}

// Chain is a Scope that consults each scope in order.
type Chain []Scope

// Lookup implements Scope.
func (c Chain) Lookup(name string) (any, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(name); ok {
			return v, true
		}
	}
	return nil, false
}

// envOf builds an expression environment from any Scope.
func envOf(scope Scope) map[string]any {
	if ec, ok := scope.(*ExecutionContext); ok {
		return ec.Env()
	}
	env := map[string]any{}
	for _, name := range []string{"input", "results", "context", "result", "args", "row"} {
		if v, ok := scope.Lookup(name); ok {
			env[name] = v
		}
	}
	return env
}
