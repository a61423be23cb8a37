package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/jmoiron/sqlx"
)

type DocumentRepository interface {
	Upsert(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, folderID, filename string) (*models.Document, error)
	ListByFolder(ctx context.Context, folderID string) ([]models.Document, error)
	Delete(ctx context.Context, folderID, filename string) error
}

type documentRepository struct {
	db *sqlx.DB
}

func NewDocumentRepository(db *sqlx.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Upsert registers an upload; re-uploading the same filename replaces the row.
func (r *documentRepository) Upsert(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, folder_id, filename, file_size, content_type, page_count, storage_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (folder_id, filename) DO UPDATE SET
			file_size = excluded.file_size,
			content_type = excluded.content_type,
			page_count = excluded.page_count,
			storage_key = excluded.storage_key,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		doc.ID,
		doc.FolderID,
		doc.Filename,
		doc.FileSize,
		doc.ContentType,
		doc.PageCount,
		doc.StorageKey,
		doc.CreatedAt,
		doc.UpdatedAt,
	)

	return err
}

// Get returns nil, nil when the document is not registered.
func (r *documentRepository) Get(ctx context.Context, folderID, filename string) (*models.Document, error) {
	var doc models.Document

	query := `
		SELECT id, folder_id, filename, file_size, content_type, page_count, storage_key, created_at, updated_at
		FROM documents
		WHERE folder_id = $1 AND filename = $2
	`

	err := r.db.GetContext(ctx, &doc, query, folderID, filename)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &doc, nil
}

func (r *documentRepository) ListByFolder(ctx context.Context, folderID string) ([]models.Document, error) {
	query := `
		SELECT id, folder_id, filename, file_size, content_type, page_count, storage_key, created_at, updated_at
		FROM documents
		WHERE folder_id = $1
		ORDER BY filename
	`

	docs := []models.Document{}
	if err := r.db.SelectContext(ctx, &docs, query, folderID); err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepository) Delete(ctx context.Context, folderID, filename string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE folder_id = $1 AND filename = $2`, folderID, filename)
	return err
}
