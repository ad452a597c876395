package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compileSchema compiles a contract's ArgsSchema. The document is round
// tripped through JSON so YAML-decoded integers reach the compiler as numbers
// it understands.
func compileSchema(toolName string, doc map[string]any) (*jsonschema.Schema, error) {
	normalized, err := normalizeJSON(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s args schema: %v", ErrInvalidContract, toolName, err)
	}

	url := "contract://" + toolName + "/args.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, normalized); err != nil {
		return nil, fmt.Errorf("%w: %s args schema: %v", ErrInvalidContract, toolName, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s args schema: %v", ErrInvalidContract, toolName, err)
	}
	return sch, nil
}

func validateSchema(toolName string, sch *jsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	doc, err := normalizeJSON(args)
	if err != nil {
		return &SchemaError{ToolName: toolName, Causes: []string{err.Error()}}
	}
	err = sch.Validate(doc)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &SchemaError{ToolName: toolName, Causes: []string{err.Error()}}
	}
	var causes []string
	for _, leaf := range flatten(ve) {
		path := "/" + strings.Join(leaf.InstanceLocation, "/")
		causes = append(causes, fmt.Sprintf("%s: %v", path, leaf.ErrorKind))
	}
	return &SchemaError{ToolName: toolName, Causes: causes}
}

func flatten(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var flat []*jsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flatten(cause)...)
	}
	return flat
}

func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
