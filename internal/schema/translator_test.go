package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/google/go-cmp/cmp"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		fields []models.Field
	}{
		{
			name:   "empty",
			fields: []models.Field{},
		},
		{
			name: "mixed types keep order",
			fields: []models.Field{
				{Name: "zeta", Type: models.FieldTypeString, Description: "last letter first"},
				{Name: "amount", Type: models.FieldTypeNumber, Required: true},
				{Name: "cleared", Type: models.FieldTypeBoolean, Description: "posted to the ledger"},
				{Name: "alpha", Type: models.FieldTypeString, Required: true},
			},
		},
		{
			name:   "defaults",
			fields: DefaultFields(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ToExtractionSchema(tt.fields)
			if err != nil {
				t.Fatalf("ToExtractionSchema returned error: %v", err)
			}

			got, usedDefaults := FromExtractionSchema(doc)
			if usedDefaults {
				t.Fatalf("FromExtractionSchema fell back to defaults for %s", doc)
			}
			if diff := cmp.Diff(tt.fields, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToExtractionSchemaShape(t *testing.T) {
	doc, err := ToExtractionSchema([]models.Field{
		{Name: "b", Type: models.FieldTypeNumber},
		{Name: "a", Type: models.FieldTypeBoolean},
	})
	if err != nil {
		t.Fatalf("ToExtractionSchema returned error: %v", err)
	}

	want := `{"type":"object","properties":{"transactions":{"type":"array","description":"List of individual transaction records from the statement tables.","items":{"type":"object","properties":{"b":{"type":"number","description":"","default":0},"a":{"type":"boolean","description":"","default":false}}}}},"required":["transactions"]}`
	if string(doc) != want {
		t.Errorf("unexpected document\n got: %s\nwant: %s", doc, want)
	}
}

func TestToExtractionSchemaDeterministic(t *testing.T) {
	fields := DefaultFields()
	first, _ := ToExtractionSchema(fields)
	for i := 0; i < 20; i++ {
		next, _ := ToExtractionSchema(fields)
		if string(next) != string(first) {
			t.Fatalf("output changed between calls:\n%s\n%s", first, next)
		}
	}
}

func TestFromExtractionSchemaDefaultDocument(t *testing.T) {
	fields, usedDefaults := FromExtractionSchema(Default())
	if usedDefaults {
		t.Fatal("default document should resolve through $defs without falling back")
	}

	var names []string
	for _, f := range fields {
		names = append(names, f.Name)
	}
	want := []string{"date", "amount", "credit_amount", "debit_amount", "raw_amount", "type_indicator", "balance", "remarks", "transactionId"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("field names mismatch (-want +got):\n%s", diff)
	}
	for _, f := range fields {
		if f.Type != models.FieldTypeString {
			t.Errorf("field %q: got type %q, want string", f.Name, f.Type)
		}
	}
}

func TestFromExtractionSchemaFallback(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"type":`},
		{"array root", `[1,2]`},
		{"no properties", `{"type":"object"}`},
		{"no array property", `{"properties":{"name":{"type":"string"}}}`},
		{"array without items", `{"properties":{"transactions":{"type":"array"}}}`},
		{"dangling ref", `{"properties":{"transactions":{"type":"array","items":{"$ref":"#/$defs/Missing"}}}}`},
		{"trailing brace", `{"properties":{"transactions":{"type":"array","items":{"type":"object","properties":{"date":{"type":"string"}}}}}}}`},
		{"trailing value", `{"properties":{"transactions":{"type":"array","items":{"type":"object","properties":{"date":{"type":"string"}}}}}} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, usedDefaults := FromExtractionSchema(json.RawMessage(tt.doc))
			if !usedDefaults {
				t.Fatalf("expected fallback for %s", tt.doc)
			}
			if diff := cmp.Diff(DefaultFields(), fields); diff != "" {
				t.Errorf("fallback fields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFromExtractionSchemaLenientProperties(t *testing.T) {
	doc := `{"properties":{"rows":{"type":"array","items":{"properties":{
		"when":{"type":"date"},
		"count":{"type":"integer","description":"n"},
		"note":{}
	},"required":["count"]}}}}`

	got, usedDefaults := FromExtractionSchema(json.RawMessage(doc))
	if usedDefaults {
		t.Fatal("unexpected fallback")
	}
	want := []models.Field{
		{Name: "when", Type: models.FieldTypeString},
		{Name: "count", Type: models.FieldTypeNumber, Description: "n", Required: true},
		{Name: "note", Type: models.FieldTypeString},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		fields   []models.Field
		wantRule string
		wantName string
	}{
		{
			name:   "valid",
			fields: DefaultFields(),
		},
		{
			name:     "empty name",
			fields:   []models.Field{{Name: "date"}, {Name: ""}},
			wantRule: RuleEmptyName,
		},
		{
			name:     "duplicate name",
			fields:   []models.Field{{Name: "date"}, {Name: "amount"}, {Name: "date"}},
			wantRule: RuleDuplicateName,
			wantName: "date",
		},
		{
			name:   "names are case sensitive",
			fields: []models.Field{{Name: "Date"}, {Name: "date"}},
		},
		{
			name:     "unsupported type",
			fields:   []models.Field{{Name: "when", Type: "date"}},
			wantRule: RuleInvalidType,
			wantName: "when",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.fields)
			if tt.wantRule == "" {
				if err != nil {
					t.Fatalf("Validate returned error: %v", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Rule != tt.wantRule {
				t.Errorf("rule: got %q, want %q", verr.Rule, tt.wantRule)
			}
			if verr.Field != tt.wantName {
				t.Errorf("field: got %q, want %q", verr.Field, tt.wantName)
			}
		})
	}
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantRule string
	}{
		{"default", string(Default()), ""},
		{"only defs", `{"$defs":{"X":{"type":"string"}}}`, ""},
		{"not an object", `["type"]`, RuleNotObject},
		{"missing root keyword", `{"title":"nothing"}`, RuleMissingRoot},
		{"bad type keyword", `{"type":12}`, RuleInvalidSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(json.RawMessage(tt.doc))
			if tt.wantRule == "" {
				if err != nil {
					t.Fatalf("ValidateDocument returned error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Rule != tt.wantRule {
				t.Fatalf("got %v, want rule %q", err, tt.wantRule)
			}
		})
	}
}

func TestValidateExtraction(t *testing.T) {
	doc, _ := ToExtractionSchema([]models.Field{{Name: "amount", Type: models.FieldTypeNumber, Required: true}})

	ok := map[string]any{"transactions": []any{map[string]any{"amount": 12.5}}}
	if err := ValidateExtraction(doc, ok); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}

	bad := map[string]any{"transactions": []any{map[string]any{"amount": "twelve"}}}
	if err := ValidateExtraction(doc, bad); err == nil {
		t.Error("expected mismatched payload to be rejected")
	}
}
