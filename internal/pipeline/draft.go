package pipeline

import (
	"slices"
	"sync"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
)

// SchemaDraft holds the field list being edited for one document next to the
// last persisted version.
type SchemaDraft struct {
	mu     sync.Mutex
	saved  []models.Field
	fields []models.Field
	custom bool
	// fallback is set when the stored custom schema could not be read and the
	// default fields were substituted.
	fallback bool
}

func NewSchemaDraft(saved []models.Field, custom bool) *SchemaDraft {
	return &SchemaDraft{
		saved:  slices.Clone(saved),
		fields: slices.Clone(saved),
		custom: custom,
	}
}

func (d *SchemaDraft) Fields() []models.Field {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.fields)
}

func (d *SchemaDraft) SetFields(fields []models.Field) {
	d.mu.Lock()
	d.fields = slices.Clone(fields)
	d.mu.Unlock()
}

func (d *SchemaDraft) AddField(f models.Field) {
	d.mu.Lock()
	d.fields = append(d.fields, f)
	d.mu.Unlock()
}

// RemoveField drops the first field named name and reports whether one existed.
func (d *SchemaDraft) RemoveField(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := slices.IndexFunc(d.fields, func(f models.Field) bool { return f.Name == name })
	if i < 0 {
		return false
	}
	d.fields = slices.Delete(d.fields, i, i+1)
	return true
}

// Dirty reports whether the draft differs from the persisted schema.
func (d *SchemaDraft) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !slices.Equal(d.saved, d.fields)
}

// Custom reports whether the persisted schema is a per-document custom schema.
func (d *SchemaDraft) Custom() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.custom
}

func (d *SchemaDraft) Fallback() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fallback
}

// MarkSaved records the current fields as the persisted custom schema.
func (d *SchemaDraft) MarkSaved() {
	d.mu.Lock()
	d.saved = slices.Clone(d.fields)
	d.custom = true
	d.fallback = false
	d.mu.Unlock()
}

// Discard drops unsaved edits.
func (d *SchemaDraft) Discard() {
	d.mu.Lock()
	d.fields = slices.Clone(d.saved)
	d.mu.Unlock()
}
