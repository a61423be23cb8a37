package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
)

// CollectionProperty is the array property that holds extracted rows.
const CollectionProperty = "transactions"

const collectionDescription = "List of individual transaction records from the statement tables."

// ToExtractionSchema builds the extraction document for an ordered field list.
// Properties are written in field order.
func ToExtractionSchema(fields []models.Field) (json.RawMessage, error) {
	props := make(object, 0, len(fields))
	var required []string

	for _, f := range fields {
		t := f.Type
		if !t.Valid() {
			t = models.FieldTypeString
		}
		props = append(props, member{Key: f.Name, Value: object{
			{Key: "type", Value: string(t)},
			{Key: "description", Value: f.Description},
			{Key: "default", Value: zeroValue(t)},
		}})
		if f.Required {
			required = append(required, f.Name)
		}
	}

	items := object{
		{Key: "type", Value: "object"},
		{Key: "properties", Value: props},
	}
	if len(required) > 0 {
		items = append(items, member{Key: "required", Value: required})
	}

	doc := object{
		{Key: "type", Value: "object"},
		{Key: "properties", Value: object{
			{Key: CollectionProperty, Value: object{
				{Key: "type", Value: "array"},
				{Key: "description", Value: collectionDescription},
				{Key: "items", Value: items},
			}},
		}},
		{Key: "required", Value: []string{CollectionProperty}},
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extraction schema: %w", err)
	}
	return b, nil
}

func zeroValue(t models.FieldType) any {
	switch t {
	case models.FieldTypeNumber:
		return 0
	case models.FieldTypeBoolean:
		return false
	default:
		return ""
	}
}

// FromExtractionSchema recovers the field list from an extraction document.
// When the row shape cannot be located it returns DefaultFields and usedDefaults=true.
func FromExtractionSchema(raw json.RawMessage) (fields []models.Field, usedDefaults bool) {
	v, err := decodeOrdered(raw)
	if err != nil {
		return DefaultFields(), true
	}
	root, ok := v.(object)
	if !ok {
		return DefaultFields(), true
	}

	items, ok := locateItems(root)
	if !ok {
		return DefaultFields(), true
	}
	props, ok := items.getObject("properties")
	if !ok {
		return DefaultFields(), true
	}

	required := make(map[string]bool)
	if list, ok := items.get("required"); ok {
		if arr, ok := list.([]any); ok {
			for _, r := range arr {
				if name, ok := r.(string); ok {
					required[name] = true
				}
			}
		}
	}

	fields = make([]models.Field, 0, len(props))
	for _, p := range props {
		spec, _ := p.Value.(object)
		fields = append(fields, models.Field{
			Name:        p.Key,
			Type:        fieldType(spec),
			Description: spec.getString("description"),
			Required:    required[p.Key],
		})
	}
	return fields, false
}

// locateItems finds the row object of the collection array, inline or through a local $ref.
func locateItems(root object) (object, bool) {
	props, ok := root.getObject("properties")
	if !ok {
		return nil, false
	}

	arr, ok := props.getObject(CollectionProperty)
	if !ok {
		for _, p := range props {
			candidate, isObj := p.Value.(object)
			if isObj && candidate.getString("type") == "array" {
				arr, ok = candidate, true
				break
			}
		}
	}
	if !ok {
		return nil, false
	}

	items, ok := arr.getObject("items")
	if !ok {
		return nil, false
	}
	if ref := items.getString("$ref"); ref != "" {
		return resolveRef(root, ref)
	}
	return items, true
}

func resolveRef(root object, ref string) (object, bool) {
	for _, prefix := range []string{"#/$defs/", "#/definitions/"} {
		if !strings.HasPrefix(ref, prefix) {
			continue
		}
		defs, ok := root.getObject(strings.TrimSuffix(strings.TrimPrefix(prefix, "#/"), "/"))
		if !ok {
			return nil, false
		}
		return defs.getObject(strings.TrimPrefix(ref, prefix))
	}
	return nil, false
}

// fieldType reads the declared type. Optional types in the anyOf form produced by
// model generators resolve to their first non-null member.
func fieldType(spec object) models.FieldType {
	t := spec.getString("type")
	if t == "" {
		if alts, ok := spec.get("anyOf"); ok {
			if arr, ok := alts.([]any); ok {
				for _, a := range arr {
					alt, _ := a.(object)
					if at := alt.getString("type"); at != "" && at != "null" {
						t = at
						break
					}
				}
			}
		}
	}

	switch t {
	case "number", "integer":
		return models.FieldTypeNumber
	case "boolean":
		return models.FieldTypeBoolean
	default:
		return models.FieldTypeString
	}
}

// FieldNames lists the property names of the row object, or nil when the shape is not found.
func FieldNames(raw json.RawMessage) []string {
	fields, usedDefaults := FromExtractionSchema(raw)
	if usedDefaults {
		return nil
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
