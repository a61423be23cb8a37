package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validation rules reported in ValidationError.Rule.
const (
	RuleEmptyName     = "empty_name"
	RuleDuplicateName = "duplicate_name"
	RuleInvalidType   = "invalid_type"
	RuleNotObject     = "not_object"
	RuleMissingRoot   = "missing_root_keyword"
	RuleInvalidSchema = "invalid_json_schema"
)

type ValidationError struct {
	Rule  string
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	switch e.Rule {
	case RuleEmptyName:
		return "schema field names must not be empty"
	case RuleDuplicateName:
		return fmt.Sprintf("duplicate schema field name %q", e.Field)
	case RuleInvalidType:
		return fmt.Sprintf("field %q has unsupported type; use string, number or boolean", e.Field)
	case RuleNotObject:
		return "schema must be a JSON object"
	case RuleMissingRoot:
		return "schema must contain 'type', 'properties', or '$defs'"
	default:
		if e.Err != nil {
			return fmt.Sprintf("invalid JSON schema: %v", e.Err)
		}
		return "invalid JSON schema"
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks a field list before it is saved or sent for extraction.
// Names must be non-empty and unique (case-sensitive).
func Validate(fields []models.Field) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return &ValidationError{Rule: RuleEmptyName}
		}
		if _, dup := seen[f.Name]; dup {
			return &ValidationError{Rule: RuleDuplicateName, Field: f.Name}
		}
		seen[f.Name] = struct{}{}
		if f.Type != "" && !f.Type.Valid() {
			return &ValidationError{Rule: RuleInvalidType, Field: f.Name}
		}
	}
	return nil
}

// ValidateDocument checks an uploaded schema document: a JSON object carrying at
// least one of type, properties or $defs that compiles as JSON Schema.
func ValidateDocument(raw json.RawMessage) error {
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return &ValidationError{Rule: RuleNotObject, Err: err}
	}
	m, ok := root.(map[string]any)
	if !ok {
		return &ValidationError{Rule: RuleNotObject}
	}
	_, hasType := m["type"]
	_, hasProps := m["properties"]
	_, hasDefs := m["$defs"]
	if !hasType && !hasProps && !hasDefs {
		return &ValidationError{Rule: RuleMissingRoot}
	}

	if _, err := compile(raw); err != nil {
		return &ValidationError{Rule: RuleInvalidSchema, Err: err}
	}
	return nil
}

func compile(raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
}

// ValidateExtraction checks an extraction payload against the schema it was produced with.
func ValidateExtraction(raw json.RawMessage, payload any) error {
	s, err := compile(raw)
	if err != nil {
		return err
	}
	if err := s.Validate(payload); err != nil {
		return fmt.Errorf("extraction does not match schema: %w", err)
	}
	return nil
}
