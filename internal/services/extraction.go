package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/BerylCAtieno/statement-extraction-api/internal/ade"
	"github.com/BerylCAtieno/statement-extraction-api/internal/amount"
	"github.com/BerylCAtieno/statement-extraction-api/internal/export"
	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/schema"
	"github.com/BerylCAtieno/statement-extraction-api/internal/storage"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
	"golang.org/x/sync/errgroup"
)

// schemaPlan is the schema an extraction runs with. custom is the document
// columns are derived from; nil means the default column set.
type schemaPlan struct {
	doc    json.RawMessage
	custom json.RawMessage
}

func (p *schemaPlan) usedCustom() bool {
	return p.custom != nil
}

// checkSchema rejects documents that cannot be stored or sent for extraction.
func (s *processingService) checkSchema(doc json.RawMessage) error {
	err := schema.ValidateDocument(doc)
	if err == nil {
		fields, usedDefaults := schema.FromExtractionSchema(doc)
		if !usedDefaults {
			err = schema.Validate(fields)
		}
	}

	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return utils.NewBadRequestError(verr.Error())
	}
	return err
}

func (s *processingService) selectSchema(ctx context.Context, key models.DocumentKey, useCustom bool, override json.RawMessage) (*schemaPlan, error) {
	if override != nil {
		return &schemaPlan{doc: override, custom: override}, nil
	}
	if !useCustom {
		return &schemaPlan{doc: schema.Default()}, nil
	}

	custom, err := s.artifacts.GetSchema(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return &schemaPlan{doc: schema.Default()}, nil
	}
	if err != nil {
		s.logger.Error("Failed to read custom schema", "error", err, "document", key.String())
		return nil, utils.NewInternalError("Failed to read custom schema")
	}

	if _, usedDefaults := schema.FromExtractionSchema(custom); usedDefaults {
		s.logger.Warn("process.schema.unreadable", "document", key.String())
	}
	return &schemaPlan{doc: custom, custom: custom}, nil
}

// extract runs schema extraction over every chunk of a parse artifact and
// writes the CSV and XLSX outputs. The caller holds the lock.
func (s *processingService) extract(ctx context.Context, key models.DocumentKey, parsed *models.ParseArtifact, plan *schemaPlan) (*models.ExtractionResult, error) {
	start := time.Now()
	report := s.report(ctx, key, models.PhaseExtracting)
	report(10, "Loading parsed data...")

	units := extractionUnits(parsed)
	if len(units) == 0 {
		return nil, utils.NewBadRequestError("Parsed document has no content to extract")
	}

	report(40, fmt.Sprintf("Extracting transactions from %d chunks...", len(units)))
	s.logger.Info("process.extract.start",
		"document", key.String(),
		"chunks", len(units),
		"custom_schema", plan.usedCustom(),
		"workers", s.workers,
	)

	results := make([][]map[string]any, len(units))
	failures := make([]error, len(units))
	var done atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, md := range units {
		i, md := i, md
		g.Go(func() error {
			extraction, err := s.remote.Extract(ctx, md, plan.doc)
			if err != nil {
				failures[i] = err
				s.logger.Warn("process.extract.chunk_failed", "document", key.String(), "chunk", i, "error", err)
			} else {
				if verr := schema.ValidateExtraction(plan.doc, extraction); verr != nil {
					s.logger.Warn("process.extract.schema_mismatch", "document", key.String(), "chunk", i, "error", verr)
				}
				results[i] = collectionRows(extraction)
			}

			n := done.Add(1)
			report(40+int(n)*35/len(units), fmt.Sprintf("Extracted %d of %d chunks", n, len(units)))
			return nil
		})
	}
	_ = g.Wait()

	var rows []map[string]any
	failed := 0
	for i := range units {
		if failures[i] != nil {
			failed++
			continue
		}
		rows = append(rows, results[i]...)
	}
	if failed == len(units) {
		s.logger.Error("process.extract.failed", "document", key.String(), "elapsed_ms", time.Since(start).Milliseconds())
		return nil, remoteFailure("Extraction", firstError(failures))
	}

	columns := export.Columns(plan.custom)
	rows, unresolved := s.normalizeAmounts(key, rows, columns)

	report(80, "Generating CSV...")
	table := export.BuildTable(rows, columns)
	csvData, err := table.CSV()
	if err != nil {
		s.logger.Error("Failed to render CSV", "error", err, "document", key.String())
		return nil, utils.NewInternalError("Failed to generate CSV")
	}
	xlsxData, err := table.XLSX()
	if err != nil {
		s.logger.Error("Failed to render XLSX", "error", err, "document", key.String())
		return nil, utils.NewInternalError("Failed to generate spreadsheet")
	}

	report(95, "Saving results...")
	if err := s.artifacts.SaveProcessed(ctx, key, csvData, xlsxData); err != nil {
		s.logger.Error("Failed to save processed output", "error", err, "document", key.String())
		return nil, utils.NewInternalError("Failed to save processed output")
	}

	s.logger.Info("process.extract.ok",
		"document", key.String(),
		"rows", len(rows),
		"failed_chunks", failed,
		"unresolved_amounts", len(unresolved),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	message := "Data extracted successfully"
	if len(unresolved) > 0 {
		message = fmt.Sprintf("Data extracted with %d unresolved amounts", len(unresolved))
	}
	return &models.ExtractionResult{
		Message:           message,
		OutputFile:        key.Filename + ".csv",
		TransactionsCount: len(rows),
		UsedCustomSchema:  plan.usedCustom(),
		CSVContent:        string(csvData),
		UnresolvedAmounts: unresolved,
	}, nil
}

// normalizeAmounts canonicalizes the amount column. Rows that fail keep an
// empty amount and are listed in the returned report, indexed in export order.
func (s *processingService) normalizeAmounts(key models.DocumentKey, rows []map[string]any, columns []string) ([]map[string]any, []models.UnresolvedAmount) {
	hasAmount := false
	for _, c := range columns {
		if c == amount.KeyAmount {
			hasAmount = true
			break
		}
	}
	if !hasAmount {
		return rows, nil
	}

	out := make([]map[string]any, len(rows))
	var unresolved []models.UnresolvedAmount
	for i, row := range rows {
		normalized, err := amount.NormalizeRow(row)
		if err != nil {
			s.logger.Warn("process.extract.amount_unresolved", "document", key.String(), "row", i, "error", err)
			unresolved = append(unresolved, models.UnresolvedAmount{
				Row:     i,
				Rule:    amount.Rule(err),
				Message: err.Error(),
			})
		}
		out[i] = normalized
	}
	return out, unresolved
}

// extractionUnits returns the markdown sent for extraction, one entry per
// non-empty chunk, or the whole document when there are no chunks.
func extractionUnits(parsed *models.ParseArtifact) []string {
	var units []string
	for _, c := range parsed.Chunks {
		if c.Markdown != "" {
			units = append(units, c.Markdown)
		}
	}
	if len(units) == 0 && parsed.HasMarkdown() {
		units = append(units, parsed.Markdown)
	}
	return units
}

// collectionRows finds the row list in an extraction. The transactions key is
// preferred; otherwise the first array property by name is used.
func collectionRows(extraction map[string]any) []map[string]any {
	if _, ok := extraction[schema.CollectionProperty]; ok {
		return ade.Rows(extraction, schema.CollectionProperty)
	}

	keys := make([]string, 0, len(extraction))
	for k, v := range extraction {
		if _, ok := v.([]any); ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	return ade.Rows(extraction, keys[0])
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *processingService) GetSchema(ctx context.Context, key models.DocumentKey) (*models.SchemaResponse, error) {
	if err := s.requireDocument(ctx, key); err != nil {
		return nil, err
	}

	custom, err := s.artifacts.GetSchema(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return &models.SchemaResponse{
			Schema:   schema.Default(),
			IsCustom: false,
			Message:  "Using default extraction schema",
		}, nil
	}
	if err != nil {
		s.logger.Error("Failed to read custom schema", "error", err, "document", key.String())
		return nil, utils.NewInternalError("Failed to read custom schema")
	}

	return &models.SchemaResponse{
		Schema:   custom,
		IsCustom: true,
		Message:  "Custom schema found for this file",
	}, nil
}

func (s *processingService) PutSchema(ctx context.Context, key models.DocumentKey, doc json.RawMessage) (*models.MessageResponse, error) {
	if err := s.requireDocument(ctx, key); err != nil {
		return nil, err
	}
	if len(doc) == 0 {
		return nil, utils.NewBadRequestError("Schema is required")
	}
	if err := s.checkSchema(doc); err != nil {
		return nil, err
	}

	if err := s.artifacts.SaveSchema(ctx, key, doc); err != nil {
		s.logger.Error("Failed to save custom schema", "error", err, "document", key.String())
		return nil, utils.NewInternalError("Failed to save schema")
	}

	s.logger.Info("process.schema.saved", "document", key.String())
	return &models.MessageResponse{Message: "Schema updated successfully", Filename: key.Filename}, nil
}

func (s *processingService) DeleteSchema(ctx context.Context, key models.DocumentKey) (*models.MessageResponse, error) {
	if err := s.requireDocument(ctx, key); err != nil {
		return nil, err
	}

	deleted, err := s.artifacts.DeleteSchema(ctx, key)
	if err != nil {
		s.logger.Error("Failed to delete custom schema", "error", err, "document", key.String())
		return nil, utils.NewInternalError("Failed to delete schema")
	}
	if !deleted {
		return &models.MessageResponse{Message: "No custom schema found to delete", Filename: key.Filename}, nil
	}
	return &models.MessageResponse{Message: "Custom schema deleted successfully", Filename: key.Filename}, nil
}
