package models

import (
	"time"
)

type Folder struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Folder status values reported by the API.
const (
	FolderStatusEmpty    = "EMPTY"
	FolderStatusHasFiles = "HAS_FILES"
)

type FolderResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	FileCount int    `json:"fileCount"`
}

type FolderDetails struct {
	FolderResponse
	Files []string `json:"files"`
}

type CreateFolderRequest struct {
	Name string `json:"name"`
}

// Document is the registry row for an uploaded statement. Derived artifacts
// live in blob storage under keys computed from (FolderID, Filename).
type Document struct {
	ID          string    `json:"id" db:"id"`
	FolderID    string    `json:"folder_id" db:"folder_id"`
	Filename    string    `json:"filename" db:"filename"`
	FileSize    int64     `json:"file_size" db:"file_size"`
	ContentType string    `json:"content_type" db:"content_type"`
	PageCount   int       `json:"page_count" db:"page_count"`
	StorageKey  string    `json:"storage_key" db:"storage_key"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

func (d *Document) Key() DocumentKey {
	return DocumentKey{Folder: d.FolderID, Filename: d.Filename}
}

type UploadRequest struct {
	File        []byte
	Filename    string
	ContentType string
}

type UploadResponse struct {
	Message string   `json:"message"`
	Files   []string `json:"files"`
	Failed  []string `json:"failed,omitempty"`
}
