package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext() *ExecutionContext {
	ec := NewExecutionContext(
		map[string]any{"email": "ada@example.com", "name": "Ada", "tags": []any{"vip", "beta"}},
		map[string]any{"tenant_id": "acme"},
	)
	ec.SetResult("new_customer", map[string]any{"id": "C1", "score": 42})
	return ec
}

func TestResolve(t *testing.T) {
	ec := newTestContext()

	tests := []struct {
		name  string
		ref   string
		want  any
		found bool
	}{
		{"braced result", "{{results.new_customer.id}}", "C1", true},
		{"bare path", "results.new_customer.id", "C1", true},
		{"spaces inside braces", "{{ input.email }}", "ada@example.com", true},
		{"context scope", "{{context.tenant_id}}", "acme", true},
		{"typed value kept", "{{results.new_customer.score}}", 42, true},
		{"array index", "{{input.tags.1}}", "beta", true},
		{"whole scope", "{{input}}", ec.Env()["input"], true},
		{"missing step", "{{results.other.id}}", nil, false},
		{"missing field", "{{results.new_customer.phone}}", nil, false},
		{"unknown scope", "{{session.user}}", nil, false},
		{"index out of range", "{{input.tags.5}}", nil, false},
		{"empty", "{{}}", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := Resolve(tt.ref, ec)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_PathThroughScalarFails(t *testing.T) {
	ec := newTestContext()
	_, found := Resolve("{{input.email.domain}}", ec)
	assert.False(t, found)
}

func TestResolveArgs(t *testing.T) {
	ec := newTestContext()

	args := map[string]any{
		"customer_id":  "{{results.new_customer.id}}",
		"score":        "{{results.new_customer.score}}",
		"greeting":     "Hello {{input.name}} from {{context.tenant_id}}",
		"service_type": "{{input.service_type}}",
		"literal":      7,
		"nested": map[string]any{
			"email": "{{input.email}}",
			"list":  []any{"{{input.name}}", "{{input.missing}}"},
		},
	}

	out, missing := ResolveArgs(args, ec)

	assert.Equal(t, "C1", out["customer_id"])
	assert.Equal(t, 42, out["score"])
	assert.Equal(t, "Hello Ada from acme", out["greeting"])
	assert.Equal(t, 7, out["literal"])

	_, present := out["service_type"]
	assert.False(t, present, "unresolved whole placeholders are omitted")

	nested := out["nested"].(map[string]any)
	assert.Equal(t, "ada@example.com", nested["email"])
	assert.Equal(t, []any{"Ada", nil}, nested["list"])

	assert.ElementsMatch(t, []string{"{{input.service_type}}", "{{input.missing}}"}, missing)

	// Source args are untouched.
	assert.Equal(t, "{{results.new_customer.id}}", args["customer_id"])
}

func TestResolveString_Missing(t *testing.T) {
	ec := newTestContext()
	out, missing := ResolveString("id={{results.x.id}};", ec)
	assert.Equal(t, "id=;", out)
	assert.Equal(t, []string{"{{results.x.id}}"}, missing)
}

func TestResolveAll_ChainScope(t *testing.T) {
	ec := newTestContext()
	scope := Chain{Bag{"result": map[string]any{"id": "R9"}, "args": map[string]any{"email": "x@y"}}, ec}

	out, missing := ResolveAll(map[string]any{
		"id":     "{{result.id}}",
		"email":  "{{args.email}}",
		"tenant": "{{context.tenant_id}}",
	}, scope)
	require.Empty(t, missing)
	assert.Equal(t, map[string]any{"id": "R9", "email": "x@y", "tenant": "acme"}, out)
}

func TestEvalBool(t *testing.T) {
	ec := newTestContext()
	ec.SetResult("search", map[string]any{"found": true, "count": 2})

	tests := []struct {
		name      string
		condition string
		want      bool
		wantErr   bool
	}{
		{"empty never skips", "", false, false},
		{"truthy placeholder", "{{results.search.found}}", true, false},
		{"missing placeholder is false", "{{results.nothing.found}}", false, false},
		{"empty string placeholder", "{{input.blank}}", false, false},
		{"expression with placeholder", "{{results.search.count}} > 1", true, false},
		{"negated placeholder", "!{{results.search.found}}", false, false},
		{"bare expression", "context.tenant_id == 'acme'", true, false},
		{"bare expression false", "input.name == 'Grace'", false, false},
		{"not a bool", "input.name", false, true},
		{"syntax error", "input.name ==", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalBool(tt.condition, ec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValues(t *testing.T) {
	assert.True(t, IsNull(nil))
	assert.True(t, IsNull("  "))
	assert.True(t, IsNull(map[string]any(nil)))
	assert.False(t, IsNull(0))
	assert.False(t, IsNull(false))

	assert.True(t, Equal(1, 1.0))
	assert.True(t, Equal(int64(3), float64(3)))
	assert.True(t, Equal("C1", "C1"))
	assert.False(t, Equal("C1", "C2"))
	assert.False(t, Equal(nil, ""))
	assert.True(t, Equal(nil, nil))

	assert.False(t, Truthy("false"))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy([]any{}))
	assert.True(t, Truthy("yes"))
	assert.True(t, Truthy(3))
}

func TestExecutionContext_ResultsCopy(t *testing.T) {
	ec := newTestContext()
	snapshot := ec.Results()
	snapshot["injected"] = true

	_, ok := ec.Result("injected")
	assert.False(t, ok)
}
