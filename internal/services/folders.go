package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/BerylCAtieno/statement-extraction-api/internal/extractor"
	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/progress"
	"github.com/BerylCAtieno/statement-extraction-api/internal/repository"
	"github.com/BerylCAtieno/statement-extraction-api/internal/storage"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
)

type FolderService interface {
	CreateFolder(ctx context.Context, name string) (*models.FolderResponse, error)
	ListFolders(ctx context.Context) ([]models.FolderResponse, error)
	GetFolder(ctx context.Context, id string) (*models.FolderDetails, error)
	DeleteFolder(ctx context.Context, id string) error
	UploadFiles(ctx context.Context, folderID string, files []*models.UploadRequest) (*models.UploadResponse, error)
	GetFile(ctx context.Context, folderID, filename string) ([]byte, string, error)
	DeleteFile(ctx context.Context, folderID, filename string) error
}

type folderService struct {
	folders   repository.FolderRepository
	docs      repository.DocumentRepository
	artifacts *storage.Artifacts
	tracker   progress.Tracker
	locks     *Locks
	logger    *utils.Logger
}

func NewFolderService(
	folders repository.FolderRepository,
	docs repository.DocumentRepository,
	artifacts *storage.Artifacts,
	tracker progress.Tracker,
	locks *Locks,
	logger *utils.Logger,
) FolderService {
	return &folderService{
		folders:   folders,
		docs:      docs,
		artifacts: artifacts,
		tracker:   tracker,
		locks:     locks,
		logger:    logger,
	}
}

func folderStatus(count int) string {
	if count > 0 {
		return models.FolderStatusHasFiles
	}
	return models.FolderStatusEmpty
}

func (s *folderService) CreateFolder(ctx context.Context, name string) (*models.FolderResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, utils.NewBadRequestError("Folder name is required")
	}

	now := time.Now().UTC()
	folder := &models.Folder{
		ID:        utils.GenerateID(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.folders.Create(ctx, folder); err != nil {
		s.logger.Error("Failed to create folder", "error", err, "name", name)
		return nil, utils.NewInternalError("Failed to create folder")
	}

	s.logger.Info("folder.created", "id", folder.ID, "name", name)
	return &models.FolderResponse{ID: folder.ID, Name: folder.Name, Status: models.FolderStatusEmpty}, nil
}

func (s *folderService) ListFolders(ctx context.Context) ([]models.FolderResponse, error) {
	rows, err := s.folders.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list folders", "error", err)
		return nil, utils.NewInternalError("Failed to list folders")
	}

	out := make([]models.FolderResponse, 0, len(rows))
	for _, f := range rows {
		out = append(out, models.FolderResponse{
			ID:        f.ID,
			Name:      f.Name,
			Status:    folderStatus(f.FileCount),
			FileCount: f.FileCount,
		})
	}
	return out, nil
}

func (s *folderService) requireFolder(ctx context.Context, id string) (*models.Folder, error) {
	folder, err := s.folders.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get folder", "error", err, "id", id)
		return nil, utils.NewInternalError("Failed to retrieve folder")
	}
	if folder == nil {
		return nil, utils.NewNotFoundError("Folder not found")
	}
	return folder, nil
}

func (s *folderService) GetFolder(ctx context.Context, id string) (*models.FolderDetails, error) {
	folder, err := s.requireFolder(ctx, id)
	if err != nil {
		return nil, err
	}

	docs, err := s.docs.ListByFolder(ctx, id)
	if err != nil {
		s.logger.Error("Failed to list files", "error", err, "folder_id", id)
		return nil, utils.NewInternalError("Failed to list files")
	}

	files := make([]string, 0, len(docs))
	for _, d := range docs {
		files = append(files, d.Filename)
	}

	return &models.FolderDetails{
		FolderResponse: models.FolderResponse{
			ID:        folder.ID,
			Name:      folder.Name,
			Status:    folderStatus(len(files)),
			FileCount: len(files),
		},
		Files: files,
	}, nil
}

func (s *folderService) DeleteFolder(ctx context.Context, id string) error {
	if _, err := s.requireFolder(ctx, id); err != nil {
		return err
	}

	docs, err := s.docs.ListByFolder(ctx, id)
	if err != nil {
		s.logger.Error("Failed to list files", "error", err, "folder_id", id)
		return utils.NewInternalError("Failed to delete folder")
	}
	for _, d := range docs {
		if op, busy := s.locks.Running(d.Key()); busy {
			return utils.NewConflictError(fmt.Sprintf("Cannot delete folder while %s is running on %s", op, d.Filename))
		}
	}

	for _, d := range docs {
		s.removeArtifacts(ctx, d.Key())
	}
	if err := s.folders.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete folder", "error", err, "id", id)
		return utils.NewInternalError("Failed to delete folder")
	}

	s.logger.Info("folder.deleted", "id", id, "files", len(docs))
	return nil
}

// UploadFiles stores each PDF and registers it. Files that fail are reported
// without aborting the rest.
func (s *folderService) UploadFiles(ctx context.Context, folderID string, files []*models.UploadRequest) (*models.UploadResponse, error) {
	if _, err := s.requireFolder(ctx, folderID); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, utils.NewBadRequestError("No files provided")
	}

	resp := &models.UploadResponse{Files: []string{}}
	for _, f := range files {
		if err := s.uploadOne(ctx, folderID, f); err != nil {
			s.logger.Warn("folder.upload.failed", "folder_id", folderID, "filename", f.Filename, "error", err)
			resp.Failed = append(resp.Failed, f.Filename)
			continue
		}
		resp.Files = append(resp.Files, f.Filename)
	}

	if len(resp.Files) == 0 {
		return nil, utils.NewBadRequestError("No valid PDF files were uploaded")
	}
	resp.Message = fmt.Sprintf("Successfully uploaded %d files", len(resp.Files))
	return resp, nil
}

func (s *folderService) uploadOne(ctx context.Context, folderID string, f *models.UploadRequest) error {
	name := path.Base(strings.ReplaceAll(f.Filename, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return fmt.Errorf("invalid filename %q", f.Filename)
	}
	f.Filename = name

	info, err := extractor.InspectPDF(f.File)
	if err != nil {
		return err
	}

	key := models.DocumentKey{Folder: folderID, Filename: name}
	if op, ok := s.locks.TryAcquire(key, "upload"); !ok {
		return fmt.Errorf("%s is running on this document", op)
	}
	defer s.locks.Release(key)

	if err := s.artifacts.SaveUpload(ctx, key, f.File, "application/pdf"); err != nil {
		return err
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:          utils.GenerateID(),
		FolderID:    folderID,
		Filename:    name,
		FileSize:    int64(len(f.File)),
		ContentType: "application/pdf",
		PageCount:   info.Pages,
		StorageKey:  storage.UploadKey(key),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.docs.Upsert(ctx, doc); err != nil {
		_ = s.artifacts.DeleteDocument(ctx, key)
		return fmt.Errorf("failed to register document: %w", err)
	}

	s.logger.Info("folder.upload.ok",
		"folder_id", folderID,
		"filename", name,
		"pages", info.Pages,
		"has_text", info.HasText,
	)
	return nil
}

func (s *folderService) GetFile(ctx context.Context, folderID, filename string) ([]byte, string, error) {
	if _, err := s.requireFolder(ctx, folderID); err != nil {
		return nil, "", err
	}
	data, err := s.artifacts.GetUpload(ctx, models.DocumentKey{Folder: folderID, Filename: filename})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", utils.NewNotFoundError("File not found")
	}
	if err != nil {
		s.logger.Error("Failed to read file", "error", err, "folder_id", folderID, "filename", filename)
		return nil, "", utils.NewInternalError("Failed to retrieve file")
	}

	contentType := "application/octet-stream"
	if strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		contentType = "application/pdf"
	}
	return data, contentType, nil
}

func (s *folderService) DeleteFile(ctx context.Context, folderID, filename string) error {
	if _, err := s.requireFolder(ctx, folderID); err != nil {
		return err
	}
	doc, err := s.docs.Get(ctx, folderID, filename)
	if err != nil {
		s.logger.Error("Failed to get document", "error", err, "folder_id", folderID, "filename", filename)
		return utils.NewInternalError("Failed to delete file")
	}
	if doc == nil {
		return utils.NewNotFoundError("File not found")
	}

	key := doc.Key()
	if op, ok := s.locks.TryAcquire(key, "delete"); !ok {
		return utils.NewConflictError(fmt.Sprintf("Cannot delete file while %s is running", op))
	}
	defer s.locks.Release(key)

	s.removeArtifacts(ctx, key)
	if err := s.docs.Delete(ctx, folderID, filename); err != nil {
		s.logger.Error("Failed to delete document", "error", err, "folder_id", folderID, "filename", filename)
		return utils.NewInternalError("Failed to delete file")
	}

	s.logger.Info("folder.file.deleted", "folder_id", folderID, "filename", filename)
	return nil
}

// removeArtifacts deletes the upload and everything derived from it. Failures
// are logged; the registry row is still removed so the file disappears.
func (s *folderService) removeArtifacts(ctx context.Context, key models.DocumentKey) {
	if err := s.artifacts.DeleteDocument(ctx, key); err != nil {
		s.logger.Error("Failed to delete document artifacts", "error", err, "document", key.String())
	}
	if err := s.tracker.Clear(ctx, key); err != nil {
		s.logger.Warn("Failed to clear progress", "error", err, "document", key.String())
	}
}
