package models

import "encoding/json"

// Status is the processing state of a single document.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusParsing    Status = "parsing"
	StatusParsed     Status = "parsed"
	StatusExtracting Status = "extracting"
	StatusExtracted  Status = "extracted"
	StatusError      Status = "error"
)

// Transient reports whether the status only exists while an operation is in flight.
func (s Status) Transient() bool {
	return s == StatusParsing || s == StatusExtracting
}

// Progress phases written by the server while an operation runs.
const (
	PhaseParsing    = "Parsing"
	PhaseExtracting = "Extracting"
)

// ProgressStatus is the payload of the status endpoint. A nil Phase means nothing is running.
type ProgressStatus struct {
	Phase    *string `json:"phase"`
	Message  string  `json:"message"`
	Progress int     `json:"progress"`
}

func IdleProgress() *ProgressStatus {
	return &ProgressStatus{Phase: nil, Message: "Not processing", Progress: 0}
}

type ExtractRequest struct {
	// Schema, when set, is used for this extraction only and is not persisted.
	Schema json.RawMessage `json:"schema,omitempty"`
}

type ExtractionResult struct {
	Message           string             `json:"message"`
	OutputFile        string             `json:"output_file"`
	TransactionsCount int                `json:"transactions_count"`
	UsedCustomSchema  bool               `json:"used_custom_schema"`
	CSVContent        string             `json:"csv_content"`
	UnresolvedAmounts []UnresolvedAmount `json:"unresolved_amounts,omitempty"`
}

// UnresolvedAmount reports an extracted row whose amount could not be
// normalized. The row is exported with an empty amount.
type UnresolvedAmount struct {
	Row     int    `json:"row"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

type ProcessingMetadata struct {
	ChunksCount int  `json:"chunks_count"`
	HasMarkdown bool `json:"has_markdown"`
}

// ProcessResponse is returned by the combined parse-then-extract endpoint.
type ProcessResponse struct {
	Message            string             `json:"message"`
	OutputFile         string             `json:"output_file"`
	TransactionsCount  int                `json:"transactions_count"`
	UsedCachedParse    bool               `json:"used_cached_parse"`
	PagesProcessed     int                `json:"pages_processed"`
	ProcessingMetadata ProcessingMetadata `json:"processing_metadata"`
	UnresolvedAmounts  []UnresolvedAmount `json:"unresolved_amounts,omitempty"`
}
