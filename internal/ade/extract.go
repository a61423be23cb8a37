package ade

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Extract runs schema-driven extraction over markdown and returns the extracted
// object. Responses wrapped in an "extraction" key are unwrapped.
func (c *client) Extract(ctx context.Context, markdown string, schema json.RawMessage) (map[string]any, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()

	req, err := c.newMultipart(ctx, "/v1/ade/extract",
		map[string]string{"schema": string(schema), "model": c.extractModel},
		formFile{field: "markdown", filename: "document.md", data: []byte(markdown)},
	)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := c.do(req, &raw); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	out := Unwrap(raw)
	c.logger.Debug("ade.extract.ok", "markdown_bytes", len(markdown), "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// Unwrap returns the payload under "extraction" when present.
func Unwrap(resp map[string]any) map[string]any {
	if inner, ok := resp["extraction"].(map[string]any); ok {
		return inner
	}
	return resp
}

// Rows returns the list stored under the collection key, skipping non-object items.
func Rows(extraction map[string]any, key string) []map[string]any {
	list, _ := extraction[key].([]any)
	rows := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if row, ok := item.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows
}
