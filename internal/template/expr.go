package template

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var programs sync.Map // string -> *vm.Program

// EvalBool evaluates a skip condition. A condition that is exactly one
// placeholder is judged by the truthiness of the referenced value, with a
// missing value counting as false. Anything else is an expression over the
// input, results and context scopes; placeholders inside it are replaced by
// the bare path they name.
func EvalBool(condition string, scope Scope) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return false, nil
	}
	if inner, ok := wholePlaceholder(condition); ok {
		v, found := Resolve(inner, scope)
		return found && Truthy(v), nil
	}

	source := placeholderRe.ReplaceAllString(condition, "($1)")
	program, err := compileBool(source)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, envOf(scope))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", condition, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: result is %T, not bool", condition, out)
	}
	return b, nil
}

// CompileBool checks that a condition accepted by EvalBool compiles.
func CompileBool(condition string) error {
	condition = strings.TrimSpace(condition)
	if condition == "" || IsPlaceholder(condition) {
		return nil
	}
	_, err := compileBool(placeholderRe.ReplaceAllString(condition, "($1)"))
	return err
}

func compileBool(source string) (*vm.Program, error) {
	if p, ok := programs.Load(source); ok {
		return p.(*vm.Program), nil
	}
	program, err := expr.Compile(source, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", source, err)
	}
	programs.Store(source, program)
	return program, nil
}
