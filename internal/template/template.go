// Package template resolves {{scope.path}} placeholders against an
// execution context.
//
// A string that is exactly one placeholder resolves to the referenced value
// with its type preserved. Placeholders embedded in longer strings are
// interpolated as text. Unresolvable placeholders never fail resolution;
// they are reported to the caller instead.
package template

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// IsPlaceholder reports whether s is exactly one placeholder.
func IsPlaceholder(s string) bool {
	_, ok := wholePlaceholder(s)
	return ok
}

func wholePlaceholder(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	loc := placeholderRe.FindStringSubmatchIndex(trimmed)
	if loc == nil || loc[0] != 0 || loc[1] != len(trimmed) {
		return "", false
	}
	return trimmed[loc[2]:loc[3]], true
}

// Resolve looks up a single reference. The reference may be written with or
// without braces: "{{results.create_customer.id}}" and
// "results.create_customer.id" are equivalent. The second return value is
// false when any segment of the path is missing.
func Resolve(ref string, scope Scope) (any, bool) {
	path := ref
	if inner, ok := wholePlaceholder(ref); ok {
		path = inner
	}
	path = strings.TrimSpace(path)
	if path == "" || scope == nil {
		return nil, false
	}

	head, rest, _ := strings.Cut(path, ".")
	root, ok := scope.Lookup(head)
	if !ok {
		return nil, false
	}
	if rest == "" {
		return root, true
	}
	return Walk(root, rest)
}

// Walk follows a dotted path through nested maps and slices. Numeric
// segments index into slices.
func Walk(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(cur any, seg string) (any, bool) {
	switch c := cur.(type) {
	case nil:
		return nil, false
	case map[string]any:
		v, ok := c[seg]
		return v, ok
	case map[string]string:
		v, ok := c[seg]
		return v, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	}

	rv := reflect.ValueOf(cur)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	}
	return nil, false
}

// ResolveString interpolates every placeholder in s. Unresolved
// placeholders become empty strings and are returned as the second value.
// A string that is exactly one placeholder is interpolated as text too; use
// ResolveAll to keep the value's type.
func ResolveString(s string, scope Scope) (string, []string) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		v, ok := Resolve(m, scope)
		if !ok {
			missing = append(missing, m)
			return ""
		}
		return Stringify(v)
	})
	return out, missing
}

// ResolveAll resolves every string in a tree of maps and slices. Map
// entries whose value is a single unresolved placeholder are omitted, so
// absent inputs look absent to downstream checks. Unresolved expressions
// are returned in the order they were found.
func ResolveAll(tree any, scope Scope) (any, []string) {
	var missing []string
	out := resolveNode(tree, scope, &missing)
	return out, missing
}

// ResolveArgs is ResolveAll for an argument map.
func ResolveArgs(args map[string]any, scope Scope) (map[string]any, []string) {
	if args == nil {
		return map[string]any{}, nil
	}
	var missing []string
	out := resolveMap(args, scope, &missing)
	return out, missing
}

func resolveNode(node any, scope Scope, missing *[]string) any {
	switch n := node.(type) {
	case string:
		v, _ := resolveValue(n, scope, missing)
		return v
	case map[string]any:
		return resolveMap(n, scope, missing)
	case map[string]string:
		m := make(map[string]any, len(n))
		for k, v := range n {
			m[k] = v
		}
		return resolveMap(m, scope, missing)
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = resolveNode(v, scope, missing)
		}
		return out
	}
	return node
}

func resolveMap(m map[string]any, scope Scope, missing *[]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			resolved, found := resolveValue(s, scope, missing)
			if !found {
				continue
			}
			out[k] = resolved
			continue
		}
		out[k] = resolveNode(v, scope, missing)
	}
	return out
}

// resolveValue resolves one string. found is false only when s is a single
// placeholder that could not be resolved.
func resolveValue(s string, scope Scope, missing *[]string) (any, bool) {
	if inner, ok := wholePlaceholder(s); ok {
		v, found := Resolve(inner, scope)
		if !found {
			*missing = append(*missing, strings.TrimSpace(s))
			return nil, false
		}
		return v, true
	}
	if !strings.Contains(s, "{{") {
		return s, true
	}
	out, miss := ResolveString(s, scope)
	*missing = append(*missing, miss...)
	return out, true
}

// Stringify renders a resolved value for interpolation into text.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}
