package progress

import (
	"context"
	"testing"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
)

func TestMemoryTracker(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	key := models.DocumentKey{Folder: "f", Filename: "a.pdf"}
	other := models.DocumentKey{Folder: "f", Filename: "b.pdf"}

	if s, _ := tr.Get(ctx, key); s != nil {
		t.Fatalf("expected nothing tracked, got %+v", s)
	}

	_ = tr.Update(ctx, key, models.PhaseParsing, "Reading", 250)
	s, err := tr.Get(ctx, key)
	if err != nil || s == nil {
		t.Fatalf("Get = (%v, %v)", s, err)
	}
	if s.Phase == nil || *s.Phase != models.PhaseParsing {
		t.Errorf("phase = %v", s.Phase)
	}
	if s.Progress != 100 {
		t.Errorf("progress should be capped at 100, got %d", s.Progress)
	}
	if s, _ := tr.Get(ctx, other); s != nil {
		t.Errorf("progress leaked to another document: %+v", s)
	}

	_ = tr.Clear(ctx, key)
	if s, _ := tr.Get(ctx, key); s != nil {
		t.Errorf("expected cleared entry, got %+v", s)
	}
}
