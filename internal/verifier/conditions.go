package verifier

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/processd/internal/contract"
	"github.com/fyrsmithlabs/processd/internal/store"
	"github.com/fyrsmithlabs/processd/internal/template"
)

// CheckInput is what a custom check sees.
type CheckInput struct {
	Condition contract.Condition

	// Target is the map the condition applies to: the arguments for a
	// precondition, the result for a postcondition.
	Target map[string]any

	Args   map[string]any
	Result map[string]any
	Scope  template.Scope
}

// Check is a named custom condition. A nil error passes.
type Check func(ctx context.Context, in CheckInput) error

type failure struct {
	cond   contract.Condition
	detail string
}

func (f failure) String() string {
	return f.cond.ID + ": " + f.detail
}

// evaluate runs every condition and returns the failures. All conditions
// are evaluated even after the first failure so results report all of them.
func (v *Verifier) evaluate(ctx context.Context, conds []contract.Condition, target map[string]any, in CheckInput) []failure {
	var failed []failure
	for _, cond := range conds {
		if detail, ok := v.evaluateOne(ctx, cond, target, in); !ok {
			failed = append(failed, failure{cond: cond, detail: detail})
		}
	}
	return failed
}

func (v *Verifier) evaluateOne(ctx context.Context, cond contract.Condition, target map[string]any, in CheckInput) (string, bool) {
	switch cond.Type {
	case contract.ConditionFieldNotNull:
		val, found := template.Walk(target, cond.Field)
		if !found || template.IsNull(val) {
			return fmt.Sprintf("field %q is missing or empty", cond.Field), false
		}
		return "", true

	case contract.ConditionFieldEquals:
		val, found := template.Walk(target, cond.Field)
		if !found {
			return fmt.Sprintf("field %q is missing", cond.Field), false
		}
		want := cond.Value
		if cond.Ref != "" {
			ref, ok := template.Resolve(cond.Ref, in.Scope)
			if !ok {
				return fmt.Sprintf("reference %s did not resolve", cond.Ref), false
			}
			want = ref
		}
		if !template.Equal(val, want) {
			return fmt.Sprintf("field %q is %v, want %v", cond.Field, val, want), false
		}
		return "", true

	case contract.ConditionEntityExists:
		if v.store == nil {
			return "no store configured", false
		}
		val, found := template.Walk(target, cond.Field)
		if !found || template.IsNull(val) {
			return fmt.Sprintf("field %q is missing or empty", cond.Field), false
		}
		match := cond.Match
		if match == "" {
			match = store.IDColumn
		}
		rows, err := v.store.Query(ctx, cond.Table, store.Predicate{Where: map[string]any{match: val}})
		if err != nil {
			return fmt.Sprintf("query %s: %v", cond.Table, err), false
		}
		if len(rows) == 0 {
			return fmt.Sprintf("no %s row with %s=%v", cond.Table, match, val), false
		}
		return "", true

	case contract.ConditionCustom:
		check, ok := v.checks[cond.Check]
		if !ok {
			return fmt.Sprintf("custom check %q is not registered", cond.Check), false
		}
		in.Condition = cond
		in.Target = target
		if err := check(ctx, in); err != nil {
			return err.Error(), false
		}
		return "", true
	}
	return fmt.Sprintf("unsupported condition type %q", cond.Type), false
}

// assert runs the store assertions against the store. Where values and the
// expected field value are resolved against the result, args and execution
// context.
func (v *Verifier) assert(ctx context.Context, assertions []contract.StoreAssertion, scope template.Scope) []failure {
	var failed []failure
	for _, a := range assertions {
		cond := contract.Condition{
			ID:          a.ID,
			Description: a.Description,
			Type:        contract.ConditionStoreAssertion,
			Table:       a.Table,
		}
		if detail, ok := v.assertOne(ctx, a, scope); !ok {
			failed = append(failed, failure{cond: cond, detail: detail})
		}
	}
	return failed
}

func (v *Verifier) assertOne(ctx context.Context, a contract.StoreAssertion, scope template.Scope) (string, bool) {
	if v.store == nil {
		return "no store configured", false
	}

	where, missing := template.ResolveArgs(a.Query.Where, scope)
	if len(missing) > 0 {
		return fmt.Sprintf("unresolved query values %v", missing), false
	}
	rows, err := v.store.Query(ctx, a.Table, store.Predicate{Where: where, Filter: a.Query.Filter})
	if err != nil {
		return fmt.Sprintf("query %s: %v", a.Table, err), false
	}

	exp := a.Expect
	n := len(rows)
	switch {
	case exp.Exists != nil && *exp.Exists != (n > 0):
		if *exp.Exists {
			return fmt.Sprintf("expected a %s row, found none", a.Table), false
		}
		return fmt.Sprintf("expected no %s rows, found %d", a.Table, n), false
	case exp.Count != nil && n != *exp.Count:
		return fmt.Sprintf("expected %d %s rows, found %d", *exp.Count, a.Table, n), false
	case exp.MinCount != nil && n < *exp.MinCount:
		return fmt.Sprintf("expected at least %d %s rows, found %d", *exp.MinCount, a.Table, n), false
	case exp.Exists == nil && exp.Count == nil && exp.MinCount == nil && n == 0:
		return fmt.Sprintf("expected a %s row, found none", a.Table), false
	}

	if exp.Field == "" {
		return "", true
	}
	want := exp.Equals
	if s, ok := want.(string); ok {
		resolved, missing := template.ResolveAll(s, scope)
		if len(missing) > 0 {
			return fmt.Sprintf("unresolved expected value %v", missing), false
		}
		want = resolved
	}
	for _, row := range rows {
		got, found := template.Walk(row, exp.Field)
		if !found || !template.Equal(got, want) {
			return fmt.Sprintf("%s.%s is %v, want %v", a.Table, exp.Field, got, want), false
		}
	}
	return "", true
}
