// Package schema validates raw tool-use payloads against the JSON Schema
// bytes carried in a tool's TypeSpec. It catches payloads that are valid
// JSON but violate the tool's declared shape (missing required fields,
// wrong enum values, out-of-range numbers). The payload stays raw JSON;
// this package does not decode it into a typed value.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentcore-dev/runtime/tools"
)

// ValidationError reports that a tool payload failed JSON Schema validation.
// Its Issues field (also returned by FieldIssues) carries one
// tools.FieldIssue per failing leaf of the schema error tree.
type ValidationError struct {
	Tool   tools.Ident
	Issues []tools.FieldIssue
	cause  error
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("schema: %s: %v", e.Tool, e.cause)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "schema: %s: %d issue(s)", e.Tool, len(e.Issues))
	for _, iss := range e.Issues {
		fmt.Fprintf(&b, "; %s: %s", iss.Field, iss.Constraint)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.cause }

// FieldIssues returns the per-field validation issues (the Issues field).
func (e *ValidationError) FieldIssues() []tools.FieldIssue { return e.Issues }

// Validator compiles and caches JSON Schemas declared on tool specs.
// A Validator is safe for concurrent use.
type Validator struct {
	mu       sync.RWMutex
	compiled map[tools.Ident]*jsonschema.Schema
}

// NewValidator returns an empty Validator. Schemas are compiled lazily on
// first use and cached for the lifetime of the Validator.
func NewValidator() *Validator {
	return &Validator{compiled: make(map[tools.Ident]*jsonschema.Schema)}
}

// ValidatePayload validates raw (the tool-use arguments reported by the
// model) against spec.Payload.Schema. A spec with no schema bytes is
// considered unconstrained and always validates. On failure the returned
// error is a *ValidationError.
func (v *Validator) ValidatePayload(spec tools.ToolSpec, raw json.RawMessage) error {
	if len(spec.Payload.Schema) == 0 {
		return nil
	}
	compiled, err := v.compile(spec)
	if err != nil {
		return &ValidationError{Tool: spec.Name, cause: fmt.Errorf("compile schema: %w", err)}
	}

	var instance any
	if len(raw) == 0 {
		instance = map[string]any{}
	} else if err := json.Unmarshal(raw, &instance); err != nil {
		return &ValidationError{Tool: spec.Name, cause: fmt.Errorf("unmarshal payload: %w", err)}
	}

	if err := compiled.Validate(instance); err != nil {
		return &ValidationError{Tool: spec.Name, Issues: flatten(err), cause: err}
	}
	return nil
}

func (v *Validator) compile(spec tools.ToolSpec) (*jsonschema.Schema, error) {
	v.mu.RLock()
	if s, ok := v.compiled[spec.Name]; ok {
		v.mu.RUnlock()
		return s, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.compiled[spec.Name]; ok {
		return s, nil
	}

	var schemaDoc any
	if err := json.Unmarshal(spec.Payload.Schema, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema json: %w", err)
	}

	resource := string(spec.Name) + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resource, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return nil, err
	}
	v.compiled[spec.Name] = compiled
	return compiled, nil
}

// flatten walks a jsonschema validation error tree into leaf field issues.
// It deliberately stays shallow on the jsonschema.ValidationError shape,
// relying only on InstanceLocation and Causes, since those are the stable
// parts of the v6 API across schema keyword types.
func flatten(err error) []tools.FieldIssue {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil
	}
	var issues []tools.FieldIssue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := strings.Join(e.InstanceLocation, ".")
			if field == "" {
				field = "$"
			}
			issues = append(issues, tools.FieldIssue{
				Field:      field,
				Constraint: tools.ConstraintInvalidType,
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return issues
}
