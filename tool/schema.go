package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents an argument schema violation.
type ValidationError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Message)
}

// compileSchema compiles a tool's parameter schema. The schema map is
// round-tripped through JSON so it only contains JSON-native values.
func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if len(params) == 0 {
		params = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", name, err)
	}

	url := name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema for %s: %w", name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	return schema, nil
}

// normalizeArguments converts args into the JSON value model: a plain map
// with float64 numbers and []any arrays for the tool, and the validator's own
// decoding (json.Number) for schema checks. A nil map becomes an empty object.
func normalizeArguments(args map[string]any) (map[string]any, any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, nil, err
	}
	var plain map[string]any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, err
	}
	return plain, inst, nil
}

// validateArguments checks args against schema and returns the normalized
// arguments the tool is called with.
func validateArguments(tool string, schema *jsonschema.Schema, args map[string]any) (map[string]any, error) {
	plain, inst, err := normalizeArguments(args)
	if err != nil {
		return nil, &ValidationError{Tool: tool, Message: fmt.Sprintf("arguments are not JSON: %v", err)}
	}
	if err := schema.Validate(inst); err != nil {
		return nil, &ValidationError{Tool: tool, Message: describeValidation(err)}
	}
	return plain, nil
}

// describeValidation flattens a jsonschema error into a single line that is
// short enough to show to a model. The first line of the library's message
// only names the schema URL and is dropped.
func describeValidation(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	if len(lines) > 1 {
		lines = lines[1:]
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "-"))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "; ")
}
