package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/jmoiron/sqlx"
)

type FolderRepository interface {
	Create(ctx context.Context, folder *models.Folder) error
	GetByID(ctx context.Context, id string) (*models.Folder, error)
	List(ctx context.Context) ([]FolderWithCount, error)
	Delete(ctx context.Context, id string) error
}

type FolderWithCount struct {
	models.Folder
	FileCount int `db:"file_count"`
}

type folderRepository struct {
	db *sqlx.DB
}

func NewFolderRepository(db *sqlx.DB) FolderRepository {
	return &folderRepository{db: db}
}

func (r *folderRepository) Create(ctx context.Context, folder *models.Folder) error {
	query := `
		INSERT INTO folders (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query,
		folder.ID,
		folder.Name,
		folder.CreatedAt,
		folder.UpdatedAt,
	)

	return err
}

// GetByID returns nil, nil when the folder does not exist.
func (r *folderRepository) GetByID(ctx context.Context, id string) (*models.Folder, error) {
	var folder models.Folder

	query := `
		SELECT id, name, created_at, updated_at
		FROM folders
		WHERE id = $1
	`

	err := r.db.GetContext(ctx, &folder, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &folder, nil
}

func (r *folderRepository) List(ctx context.Context) ([]FolderWithCount, error) {
	query := `
		SELECT f.id, f.name, f.created_at, f.updated_at, COUNT(d.id) AS file_count
		FROM folders f
		LEFT JOIN documents d ON d.folder_id = f.id
		GROUP BY f.id, f.name, f.created_at, f.updated_at
		ORDER BY f.created_at, f.id
	`

	folders := []FolderWithCount{}
	if err := r.db.SelectContext(ctx, &folders, query); err != nil {
		return nil, err
	}
	return folders, nil
}

// Delete removes the folder and its document rows.
func (r *folderRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE folder_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id = $1`, id); err != nil {
		return err
	}

	return tx.Commit()
}
