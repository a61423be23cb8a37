package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BerylCAtieno/statement-extraction-api/internal/ade"
	"github.com/BerylCAtieno/statement-extraction-api/internal/config"
	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/progress"
	"github.com/BerylCAtieno/statement-extraction-api/internal/repository"
	"github.com/BerylCAtieno/statement-extraction-api/internal/schema"
	"github.com/BerylCAtieno/statement-extraction-api/internal/storage"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
)

// Download formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

type ProcessingService interface {
	Parse(ctx context.Context, key models.DocumentKey, force bool) (*models.ParseResponse, error)
	Extract(ctx context.Context, key models.DocumentKey, useCustomSchema bool, override json.RawMessage) (*models.ExtractionResult, error)
	Process(ctx context.Context, key models.DocumentKey, force bool) (*models.ProcessResponse, error)

	GetSchema(ctx context.Context, key models.DocumentKey) (*models.SchemaResponse, error)
	PutSchema(ctx context.Context, key models.DocumentKey, doc json.RawMessage) (*models.MessageResponse, error)
	DeleteSchema(ctx context.Context, key models.DocumentKey) (*models.MessageResponse, error)

	Status(ctx context.Context, key models.DocumentKey) (*models.ProgressStatus, error)
	Metadata(ctx context.Context, key models.DocumentKey) (*models.MetadataResponse, error)
	Markdown(ctx context.Context, key models.DocumentKey) (string, error)
	Download(ctx context.Context, key models.DocumentKey, format string) (*Download, error)
}

type Download struct {
	Filename    string
	ContentType string
	Data        []byte
}

type processingService struct {
	docs      repository.DocumentRepository
	artifacts *storage.Artifacts
	remote    ade.Service
	tracker   progress.Tracker
	locks     *Locks
	workers   int
	logger    *utils.Logger
}

func NewProcessingService(
	docs repository.DocumentRepository,
	artifacts *storage.Artifacts,
	remote ade.Service,
	tracker progress.Tracker,
	locks *Locks,
	cfg *config.Config,
	logger *utils.Logger,
) ProcessingService {
	workers := cfg.ExtractWorkers
	if workers <= 0 {
		workers = 4
	}
	return &processingService{
		docs:      docs,
		artifacts: artifacts,
		remote:    remote,
		tracker:   tracker,
		locks:     locks,
		workers:   workers,
		logger:    logger,
	}
}

func (s *processingService) requireDocument(ctx context.Context, key models.DocumentKey) error {
	doc, err := s.docs.Get(ctx, key.Folder, key.Filename)
	if err != nil {
		s.logger.Error("Failed to get document", "error", err, "document", key.String())
		return utils.NewInternalError("Failed to retrieve document")
	}
	if doc == nil {
		return utils.NewNotFoundError("File not found")
	}
	return nil
}

// acquire claims the document for op; the returned func releases it and clears progress.
func (s *processingService) acquire(key models.DocumentKey, op string) (func(), error) {
	if running, ok := s.locks.TryAcquire(key, op); !ok {
		return nil, utils.NewConflictError(fmt.Sprintf("A %s operation is already running for this document", running))
	}
	return func() {
		if err := s.tracker.Clear(context.Background(), key); err != nil {
			s.logger.Warn("Failed to clear progress", "error", err, "document", key.String())
		}
		s.locks.Release(key)
	}, nil
}

func (s *processingService) report(ctx context.Context, key models.DocumentKey, phase string) func(int, string) {
	return func(pct int, msg string) {
		if err := s.tracker.Update(ctx, key, phase, msg, pct); err != nil {
			s.logger.Warn("Failed to update progress", "error", err, "document", key.String())
		}
	}
}

// remoteFailure maps an error from the extraction service to an HTTP error.
func remoteFailure(op string, err error) error {
	if errors.Is(err, ade.ErrTimeout) {
		return utils.NewGatewayTimeoutError(fmt.Sprintf("%s timed out; please retry", op), err)
	}
	return utils.NewBadGatewayError(fmt.Sprintf("%s failed: %v", op, err), err)
}

// loadParsed returns the cached parse artifact, or nil when none exists.
func (s *processingService) loadParsed(ctx context.Context, key models.DocumentKey) (*models.ParseArtifact, error) {
	parsed, err := s.artifacts.GetParsed(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("Failed to read parsed output", "error", err, "document", key.String())
		return nil, utils.NewInternalError("Failed to read parsed output")
	}
	return parsed, nil
}

// Parse returns the cached artifact summary unless force is set or no cache exists.
func (s *processingService) Parse(ctx context.Context, key models.DocumentKey, force bool) (*models.ParseResponse, error) {
	if err := s.requireDocument(ctx, key); err != nil {
		return nil, err
	}

	if !force {
		cached, err := s.loadParsed(ctx, key)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			s.logger.Info("process.parse.cache_hit", "document", key.String(), "chunks", len(cached.Chunks))
			return cached.Summary(key.Filename, true), nil
		}
	}

	release, err := s.acquire(key, "parse")
	if err != nil {
		return nil, err
	}
	defer release()
	// The client may disconnect; the result is still cached for the next call.
	ctx = context.WithoutCancel(ctx)

	parsed, err := s.parse(ctx, key)
	if err != nil {
		return nil, err
	}
	return parsed.Summary(key.Filename, false), nil
}

// parse runs the remote parse and replaces the cache. The caller holds the lock.
func (s *processingService) parse(ctx context.Context, key models.DocumentKey) (*models.ParseArtifact, error) {
	start := time.Now()
	report := s.report(ctx, key, models.PhaseParsing)
	report(10, "Reading and converting document...")

	data, err := s.artifacts.GetUpload(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, utils.NewNotFoundError("Uploaded file not found")
	}
	if err != nil {
		s.logger.Error("Failed to read upload", "error", err, "document", key.String())
		return nil, utils.NewInternalError("Failed to read uploaded file")
	}

	s.logger.Info("process.parse.start", "document", key.String(), "size_bytes", len(data))
	parsed, err := s.remote.Parse(ctx, key.Filename, data, report)
	if err != nil {
		s.logger.Error("process.parse.failed", "document", key.String(), "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, remoteFailure("Parse", err)
	}

	report(95, "Saving parsed output...")
	if err := s.artifacts.SaveParsed(ctx, key, parsed); err != nil {
		s.logger.Error("Failed to save parsed output", "error", err, "document", key.String())
		return nil, utils.NewInternalError("Failed to save parsed output")
	}

	s.logger.Info("process.parse.ok",
		"document", key.String(),
		"chunks", len(parsed.Chunks),
		"pages", parsed.PagesCount(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return parsed, nil
}

// Extract reads only the parse cache; it never parses. override, when set, is
// used for this call without being persisted.
func (s *processingService) Extract(ctx context.Context, key models.DocumentKey, useCustomSchema bool, override json.RawMessage) (*models.ExtractionResult, error) {
	if err := s.requireDocument(ctx, key); err != nil {
		return nil, err
	}
	if override != nil {
		if err := s.checkSchema(override); err != nil {
			return nil, err
		}
	}

	parsed, err := s.loadParsed(ctx, key)
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, utils.NewNotFoundError("Parsed data not found. Please parse the file first using POST /parse")
	}

	plan, err := s.selectSchema(ctx, key, useCustomSchema, override)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(key, "extract")
	if err != nil {
		return nil, err
	}
	defer release()

	return s.extract(context.WithoutCancel(ctx), key, parsed, plan)
}

// Process is the combined endpoint: parse (cached unless forced) then extract
// with the default schema, under a single lock.
func (s *processingService) Process(ctx context.Context, key models.DocumentKey, force bool) (*models.ProcessResponse, error) {
	if err := s.requireDocument(ctx, key); err != nil {
		return nil, err
	}

	release, err := s.acquire(key, "process")
	if err != nil {
		return nil, err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	var parsed *models.ParseArtifact
	usedCache := false
	if !force {
		if parsed, err = s.loadParsed(ctx, key); err != nil {
			return nil, err
		}
		if parsed != nil {
			usedCache = true
			s.report(ctx, key, models.PhaseParsing)(50, "Using cached parse (faster!)")
		}
	}
	if parsed == nil {
		if parsed, err = s.parse(ctx, key); err != nil {
			return nil, err
		}
	}

	result, err := s.extract(ctx, key, parsed, &schemaPlan{doc: schema.Default()})
	if err != nil {
		return nil, err
	}

	return &models.ProcessResponse{
		Message:           "File processed successfully",
		OutputFile:        result.OutputFile,
		TransactionsCount: result.TransactionsCount,
		UsedCachedParse:   usedCache,
		PagesProcessed:    len(parsed.Chunks),
		ProcessingMetadata: models.ProcessingMetadata{
			ChunksCount: len(parsed.Chunks),
			HasMarkdown: parsed.HasMarkdown(),
		},
		UnresolvedAmounts: result.UnresolvedAmounts,
	}, nil
}

func (s *processingService) Status(ctx context.Context, key models.DocumentKey) (*models.ProgressStatus, error) {
	st, err := s.tracker.Get(ctx, key)
	if err != nil {
		s.logger.Error("Failed to read progress", "error", err, "document", key.String())
		return nil, utils.NewInternalError("Failed to read processing status")
	}
	if st == nil {
		return models.IdleProgress(), nil
	}
	return st, nil
}

func (s *processingService) Metadata(ctx context.Context, key models.DocumentKey) (*models.MetadataResponse, error) {
	parsed, err := s.loadParsed(ctx, key)
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, utils.NewNotFoundError("Parsed data not found. Please process the file first.")
	}
	return parsed.Metadata(key.Filename), nil
}

func (s *processingService) Markdown(ctx context.Context, key models.DocumentKey) (string, error) {
	parsed, err := s.loadParsed(ctx, key)
	if err != nil {
		return "", err
	}
	if parsed == nil || !parsed.HasMarkdown() {
		return "", utils.NewNotFoundError("Markdown content not found. Please process the file first.")
	}
	return parsed.Markdown, nil
}

func (s *processingService) Download(ctx context.Context, key models.DocumentKey, format string) (*Download, error) {
	var (
		data        []byte
		err         error
		contentType string
	)
	switch format {
	case "", FormatCSV:
		format = FormatCSV
		contentType = "text/csv"
		data, err = s.artifacts.GetCSV(ctx, key)
	case FormatXLSX:
		contentType = storage.ContentTypeXLSX
		data, err = s.artifacts.GetXLSX(ctx, key)
	default:
		return nil, utils.NewBadRequestError(fmt.Sprintf("Unsupported format %q; use csv or xlsx", format))
	}

	if errors.Is(err, storage.ErrNotFound) {
		return nil, utils.NewNotFoundError("Processed file not found. Please extract the file first.")
	}
	if err != nil {
		s.logger.Error("Failed to read processed file", "error", err, "document", key.String())
		return nil, utils.NewInternalError("Failed to read processed file")
	}

	return &Download{
		Filename:    fmt.Sprintf("%s.%s", key.Filename, format),
		ContentType: contentType,
		Data:        data,
	}, nil
}
