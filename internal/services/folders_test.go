package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
)

func TestFolderLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.folders.CreateFolder(ctx, "   "); statusOf(t, err) != http.StatusBadRequest {
		t.Errorf("blank folder name should be rejected, got %v", err)
	}
	empty, err := env.folders.CreateFolder(ctx, "Empty")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}

	list, err := env.folders.ListFolders(ctx)
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	statuses := map[string]string{}
	for _, f := range list {
		statuses[f.Name] = f.Status
	}
	if statuses["May 2024"] != models.FolderStatusHasFiles || statuses["Empty"] != models.FolderStatusEmpty {
		t.Errorf("folder statuses = %v", statuses)
	}

	details, err := env.folders.GetFolder(ctx, env.key.Folder)
	if err != nil {
		t.Fatalf("GetFolder: %v", err)
	}
	if details.FileCount != 1 || details.Files[0] != "statement.pdf" {
		t.Errorf("GetFolder = %+v", details)
	}

	if err := env.folders.DeleteFolder(ctx, empty.ID); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	if _, err := env.folders.GetFolder(ctx, empty.ID); statusOf(t, err) != http.StatusNotFound {
		t.Errorf("deleted folder should 404, got %v", err)
	}
}

func TestUploadReportsRejectedFiles(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	resp, err := env.folders.UploadFiles(ctx, env.key.Folder, []*models.UploadRequest{
		{File: buildPDF("page"), Filename: "../../june.pdf"},
		{File: []byte("date,amount\n"), Filename: "june.csv"},
	})
	if err != nil {
		t.Fatalf("UploadFiles: %v", err)
	}
	if len(resp.Files) != 1 || resp.Files[0] != "june.pdf" {
		t.Errorf("uploaded = %v, want [june.pdf]", resp.Files)
	}
	if len(resp.Failed) != 1 || resp.Failed[0] != "june.csv" {
		t.Errorf("failed = %v, want [june.csv]", resp.Failed)
	}

	_, err = env.folders.UploadFiles(ctx, env.key.Folder, []*models.UploadRequest{
		{File: []byte("not a pdf"), Filename: "bad.pdf"},
	})
	if statusOf(t, err) != http.StatusBadRequest {
		t.Errorf("all-invalid upload should be 400, got %v", err)
	}
	if _, err := env.folders.UploadFiles(ctx, "missing", nil); statusOf(t, err) != http.StatusNotFound {
		t.Errorf("upload into unknown folder should 404, got %v", err)
	}
}

func TestDeleteFileRemovesDerivedArtifacts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.processing.Process(ctx, env.key, false); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := env.folders.DeleteFile(ctx, env.key.Folder, env.key.Filename); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	if _, _, err := env.folders.GetFile(ctx, env.key.Folder, env.key.Filename); statusOf(t, err) != http.StatusNotFound {
		t.Errorf("upload should be gone, got %v", err)
	}
	if _, err := env.processing.Download(ctx, env.key, FormatCSV); statusOf(t, err) != http.StatusNotFound {
		t.Errorf("csv should be gone, got %v", err)
	}
	if _, err := env.processing.Metadata(ctx, env.key); statusOf(t, err) != http.StatusNotFound {
		t.Errorf("parse cache should be gone, got %v", err)
	}
	if err := env.folders.DeleteFile(ctx, env.key.Folder, env.key.Filename); statusOf(t, err) != http.StatusNotFound {
		t.Errorf("second delete should 404, got %v", err)
	}
}
