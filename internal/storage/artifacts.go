package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BerylCAtieno/statement-extraction-api/internal/grounding"
	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
)

const (
	contentTypeJSON = "application/json"
	contentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Artifacts reads and writes the per-document artifacts on top of a Storage.
// Every write replaces the whole object.
type Artifacts struct {
	store Storage
}

func NewArtifacts(store Storage) *Artifacts {
	return &Artifacts{store: store}
}

func (a *Artifacts) SaveUpload(ctx context.Context, k models.DocumentKey, data []byte, contentType string) error {
	return a.store.Upload(ctx, UploadKey(k), data, contentType)
}

func (a *Artifacts) GetUpload(ctx context.Context, k models.DocumentKey) ([]byte, error) {
	return a.store.Download(ctx, UploadKey(k))
}

// GetParsed returns the cached parse artifact, or ErrNotFound.
func (a *Artifacts) GetParsed(ctx context.Context, k models.DocumentKey) (*models.ParseArtifact, error) {
	data, err := a.store.Download(ctx, ParsedKey(k))
	if err != nil {
		return nil, err
	}
	var p models.ParseArtifact
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode parsed output for %s: %w", k, err)
	}
	if err := grounding.ValidateChunks(p.Chunks); err != nil {
		return nil, fmt.Errorf("parsed output for %s: %w", k, err)
	}
	return &p, nil
}

func (a *Artifacts) SaveParsed(ctx context.Context, k models.DocumentKey, p *models.ParseArtifact) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode parsed output: %w", err)
	}
	return a.store.Upload(ctx, ParsedKey(k), data, contentTypeJSON)
}

// GetSchema returns the custom schema document, or ErrNotFound.
func (a *Artifacts) GetSchema(ctx context.Context, k models.DocumentKey) (json.RawMessage, error) {
	data, err := a.store.Download(ctx, SchemaKey(k))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (a *Artifacts) SaveSchema(ctx context.Context, k models.DocumentKey, doc json.RawMessage) error {
	return a.store.Upload(ctx, SchemaKey(k), doc, contentTypeJSON)
}

// DeleteSchema removes the custom schema and reports whether one existed.
func (a *Artifacts) DeleteSchema(ctx context.Context, k models.DocumentKey) (bool, error) {
	exists, err := a.store.Exists(ctx, SchemaKey(k))
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	if err := a.store.Delete(ctx, SchemaKey(k)); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Artifacts) SaveProcessed(ctx context.Context, k models.DocumentKey, csv, xlsx []byte) error {
	if err := a.store.Upload(ctx, CSVKey(k), csv, contentTypeCSV); err != nil {
		return err
	}
	if xlsx == nil {
		return nil
	}
	return a.store.Upload(ctx, XLSXKey(k), xlsx, ContentTypeXLSX)
}

func (a *Artifacts) GetCSV(ctx context.Context, k models.DocumentKey) ([]byte, error) {
	return a.store.Download(ctx, CSVKey(k))
}

func (a *Artifacts) GetXLSX(ctx context.Context, k models.DocumentKey) ([]byte, error) {
	return a.store.Download(ctx, XLSXKey(k))
}

// HasProcessed reports whether an extraction result has been stored.
func (a *Artifacts) HasProcessed(ctx context.Context, k models.DocumentKey) (bool, error) {
	return a.store.Exists(ctx, CSVKey(k))
}

// DeleteDocument removes the upload and every derived artifact. All deletes are
// attempted; the joined error reports the ones that failed.
func (a *Artifacts) DeleteDocument(ctx context.Context, k models.DocumentKey) error {
	var errs []error
	for _, key := range append([]string{UploadKey(k)}, DerivedKeys(k)...) {
		if err := a.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
