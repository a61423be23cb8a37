package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/BerylCAtieno/statement-extraction-api/internal/ade"
	"github.com/BerylCAtieno/statement-extraction-api/internal/config"
	"github.com/BerylCAtieno/statement-extraction-api/internal/db"
	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/progress"
	"github.com/BerylCAtieno/statement-extraction-api/internal/repository"
	"github.com/BerylCAtieno/statement-extraction-api/internal/storage"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
)

// fakeRemote stands in for the extraction service. Each chunk's markdown is
// looked up in rows to build the extraction response.
type fakeRemote struct {
	mu           sync.Mutex
	parseCalls   int
	extractCalls int

	artifact   *models.ParseArtifact
	rows       map[string][]any
	parseErr   error
	extractErr error
	// hold, when set, blocks Parse until closed.
	hold chan struct{}
}

func (f *fakeRemote) Parse(ctx context.Context, filename string, document []byte, progress ade.ProgressFunc) (*models.ParseArtifact, error) {
	f.mu.Lock()
	f.parseCalls++
	hold := f.hold
	f.mu.Unlock()

	if hold != nil {
		<-hold
	}
	progress(50, "Parsing...")
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	copied := *f.artifact
	return &copied, nil
}

func (f *fakeRemote) Extract(ctx context.Context, markdown string, schema json.RawMessage) (map[string]any, error) {
	f.mu.Lock()
	f.extractCalls++
	f.mu.Unlock()

	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return map[string]any{"transactions": f.rows[markdown]}, nil
}

func (f *fakeRemote) calls() (parse, extract int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parseCalls, f.extractCalls
}

func statementArtifact() *models.ParseArtifact {
	page := func(n int) *int { return &n }
	return &models.ParseArtifact{
		Markdown: "# Statement\n\nchunk-a\n\nchunk-b",
		Chunks: []models.Chunk{
			{ID: "a", Type: "table", Markdown: "chunk-a", PageNumber: page(0)},
			{ID: "b", Type: "table", Markdown: "chunk-b", PageNumber: page(1)},
			{ID: "c", Type: "marginalia", Markdown: "", PageNumber: page(1)},
		},
	}
}

func statementRows() map[string][]any {
	return map[string][]any{
		"chunk-a": {
			map[string]any{"date": "2024-05-01", "transactionId": "T1", "remarks": "Salary", "credit_amount": "1,200.50"},
			map[string]any{"date": "2024-05-02", "transactionId": "T2", "remarks": "Rent", "raw_amount": "800.00", "type_indicator": "DR"},
		},
		"chunk-b": {
			map[string]any{"date": "2024-05-03", "transactionId": "T3", "remarks": "Coffee", "debit_amount": "(4.50)", "balance": 396},
		},
	}
}

type testEnv struct {
	remote     *fakeRemote
	locks      *Locks
	tracker    progress.Tracker
	folders    FolderService
	processing ProcessingService
	key        models.DocumentKey
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "db", "migrations")
}

// newTestEnv wires the services over sqlite and local storage and registers
// one document, statement.pdf, in a fresh folder.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	database, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.RunMigrations(database, migrationsDir()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	env := &testEnv{
		remote:  &fakeRemote{artifact: statementArtifact(), rows: statementRows()},
		locks:   NewLocks(),
		tracker: progress.NewMemoryTracker(),
	}
	logger := utils.NewNopLogger()
	artifacts := storage.NewArtifacts(store)
	folderRepo := repository.NewFolderRepository(database)
	docRepo := repository.NewDocumentRepository(database)

	env.folders = NewFolderService(folderRepo, docRepo, artifacts, env.tracker, env.locks, logger)
	env.processing = NewProcessingService(docRepo, artifacts, env.remote, env.tracker, env.locks, &config.Config{ExtractWorkers: 2}, logger)

	folder, err := env.folders.CreateFolder(ctx, "May 2024")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	_, err = env.folders.UploadFiles(ctx, folder.ID, []*models.UploadRequest{
		{File: buildPDF("Opening balance 100.00"), Filename: "statement.pdf", ContentType: "application/pdf"},
	})
	if err != nil {
		t.Fatalf("UploadFiles: %v", err)
	}
	env.key = models.DocumentKey{Folder: folder.ID, Filename: "statement.pdf"}
	return env
}

// buildPDF writes a minimal single-page PDF with a valid cross-reference table.
func buildPDF(text string) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj("<< /Type /Pages /Kids [4 0 R] /Count 1 >>")
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents 5 0 R >>")
	stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var appErr *utils.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *utils.AppError, got %T: %v", err, err)
	}
	return appErr.StatusCode
}
