package models

import "encoding/json"

type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeString, FieldTypeNumber, FieldTypeBoolean:
		return true
	}
	return false
}

// Field is one user-editable column of an extraction schema.
type Field struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
}

type SchemaResponse struct {
	Schema   json.RawMessage `json:"schema"`
	IsCustom bool            `json:"is_custom"`
	Message  string          `json:"message"`
}

type SchemaUpdateRequest struct {
	Schema json.RawMessage `json:"schema"`
}

type MessageResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename,omitempty"`
}
