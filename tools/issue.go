package tools

// IssueConstraint names the JSON Schema constraint a field failed.
// agent/schema.flatten walks a jsonschema.ValidationError tree into leaf
// FieldIssue values and assigns ConstraintInvalidType to every leaf; it does
// not produce the other constraints or fill Allowed, MinLen, MaxLen, Pattern
// or Format.
type IssueConstraint string

const (
	ConstraintMissingField   IssueConstraint = "missing_field"
	ConstraintInvalidEnum    IssueConstraint = "invalid_enum_value"
	ConstraintInvalidFormat  IssueConstraint = "invalid_format"
	ConstraintInvalidPattern IssueConstraint = "invalid_pattern"
	ConstraintInvalidRange   IssueConstraint = "invalid_range"
	ConstraintInvalidLength  IssueConstraint = "invalid_length"
	ConstraintInvalidType    IssueConstraint = "invalid_field_type"
)

// FieldIssue is one field-level validation failure within a tool payload.
// A ValidationError carries these so a caller can surface per-field retry
// hints to the model instead of just the first schema error encountered.
type FieldIssue struct {
	// Field is the JSON Pointer-style path to the offending value within
	// the payload (e.g. "$.items.0.id"), or "$" for a root-level failure.
	Field      string
	Constraint IssueConstraint
	// Allowed, when Constraint is ConstraintInvalidEnum, lists the schema's
	// permitted values. Left nil for constraints it does not apply to.
	Allowed []string
	// MinLen/MaxLen, when Constraint is ConstraintInvalidLength, carry the
	// schema's declared bound that the value violated.
	MinLen *int
	MaxLen *int
	// Pattern, when Constraint is ConstraintInvalidPattern, is the regular
	// expression the value failed to match.
	Pattern string
	// Format, when Constraint is ConstraintInvalidFormat, names the JSON
	// Schema format keyword (e.g. "date-time", "uuid") the value failed.
	Format string
}
