package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/schema"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
	"github.com/google/go-cmp/cmp"
)

var testKey = models.DocumentKey{Folder: "f1", Filename: "may.pdf"}

// fakeRemote records calls and keeps a minimal server-side view of artifacts.
type fakeRemote struct {
	mu        sync.Mutex
	calls     []string
	parsed    bool
	extracted bool
	custom    json.RawMessage
	// lastOverride and lastUseCustom capture the latest Extract arguments.
	lastOverride  json.RawMessage
	lastUseCustom bool

	parseErr   error
	extractErr error
	putErr     error
	// extractGate, when set, blocks Extract until closed.
	extractGate chan struct{}
	status      []models.ProgressStatus
}

func (f *fakeRemote) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeRemote) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeRemote) Parse(ctx context.Context, key models.DocumentKey, force bool) (*models.ParseResponse, error) {
	f.record("parse")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	used := f.parsed && !force
	f.parsed = true
	return &models.ParseResponse{ChunksCount: 2, UsedCache: used}, nil
}

func (f *fakeRemote) Extract(ctx context.Context, key models.DocumentKey, useCustom bool, override json.RawMessage) (*models.ExtractionResult, error) {
	f.record("extract")
	f.mu.Lock()
	gate := f.extractGate
	f.lastOverride, f.lastUseCustom = override, useCustom
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.parsed {
		return nil, ErrRejected
	}
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	f.extracted = true
	return &models.ExtractionResult{TransactionsCount: 3, UsedCustomSchema: useCustom || override != nil}, nil
}

func (f *fakeRemote) GetSchema(ctx context.Context, key models.DocumentKey) (*models.SchemaResponse, error) {
	f.record("get_schema")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.custom != nil {
		return &models.SchemaResponse{Schema: f.custom, IsCustom: true}, nil
	}
	return &models.SchemaResponse{Schema: schema.Default()}, nil
}

func (f *fakeRemote) PutSchema(ctx context.Context, key models.DocumentKey, doc json.RawMessage) error {
	f.record("put_schema")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.custom = doc
	return nil
}

func (f *fakeRemote) DeleteSchema(ctx context.Context, key models.DocumentKey) error {
	f.record("delete_schema")
	f.mu.Lock()
	f.custom = nil
	f.mu.Unlock()
	return nil
}

func (f *fakeRemote) GetStatus(ctx context.Context, key models.DocumentKey) (*models.ProgressStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.status) == 0 {
		return models.IdleProgress(), nil
	}
	st := f.status[0]
	f.status = f.status[1:]
	return &st, nil
}

func (f *fakeRemote) Artifacts(ctx context.Context, key models.DocumentKey) (Artifacts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Artifacts{Parsed: f.parsed, Extracted: f.extracted}, nil
}

func newOrchestrator(remote *fakeRemote) *Orchestrator {
	o := NewOrchestrator(remote, NewMachine(), utils.NewNopLogger())
	o.SetPollInterval(time.Millisecond)
	return o
}

func TestMachineTransitions(t *testing.T) {
	m := NewMachine()
	if got := m.Entry(testKey).Status; got != models.StatusIdle {
		t.Fatalf("initial status = %s, want idle", got)
	}

	parse, err := m.BeginParse(testKey)
	if err != nil {
		t.Fatalf("BeginParse: %v", err)
	}
	if _, err := m.BeginExtract(testKey); !errors.Is(err, ErrBusy) {
		t.Errorf("BeginExtract during parse = %v, want ErrBusy", err)
	}
	m.Complete(parse)
	if got := m.Entry(testKey).Status; got != models.StatusParsed {
		t.Fatalf("after parse = %s, want parsed", got)
	}

	extract, _ := m.BeginExtract(testKey)
	m.Complete(extract)
	if got := m.Entry(testKey).Status; got != models.StatusExtracted {
		t.Fatalf("after extract = %s, want extracted", got)
	}

	failed, _ := m.BeginExtract(testKey)
	m.Fail(failed, errors.New("remote down"))
	e := m.Entry(testKey)
	if e.Status != models.StatusError || e.FailedOp != OpExtract {
		t.Fatalf("after failure = %+v", e)
	}
	// Error is kept until retry even though artifacts exist.
	if got := m.Derive(testKey, Artifacts{Parsed: true, Extracted: true}).Status; got != models.StatusError {
		t.Errorf("Derive cleared the error: %s", got)
	}

	retry, err := m.Retry(testKey)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retry.Op != OpExtract || m.Entry(testKey).Status != models.StatusExtracting {
		t.Errorf("retry = %+v, status %s", retry, m.Entry(testKey).Status)
	}
	if !m.Complete(retry) {
		t.Errorf("retry ticket should be current")
	}
	if m.Complete(failed) {
		t.Errorf("an old ticket must not apply")
	}
}

func TestMachineDerive(t *testing.T) {
	tests := []struct {
		artifacts Artifacts
		want      models.Status
	}{
		{Artifacts{}, models.StatusIdle},
		{Artifacts{Parsed: true}, models.StatusParsed},
		{Artifacts{Parsed: true, Extracted: true}, models.StatusExtracted},
	}
	for _, tt := range tests {
		m := NewMachine()
		if got := m.Derive(testKey, tt.artifacts).Status; got != tt.want {
			t.Errorf("Derive(%+v) = %s, want %s", tt.artifacts, got, tt.want)
		}
	}

	m := NewMachine()
	ticket, _ := m.BeginParse(testKey)
	if got := m.Derive(testKey, Artifacts{}).Status; got != models.StatusParsing {
		t.Errorf("Derive during parse = %s, want parsing", got)
	}
	m.Leave(testKey)
	if m.Complete(ticket) {
		t.Errorf("completion after Leave should be discarded")
	}
	if got := m.Entry(testKey).Status; got != models.StatusIdle {
		t.Errorf("status after Leave = %s, want idle", got)
	}
}

func TestMachineAbortRestoresState(t *testing.T) {
	m := NewMachine()
	p, _ := m.BeginParse(testKey)
	m.Fail(p, errors.New("boom"))

	retry, _ := m.Retry(testKey)
	m.Abort(retry)
	e := m.Entry(testKey)
	if e.Status != models.StatusError || e.FailedOp != OpParse || e.Err == nil {
		t.Errorf("after abort = %+v, want the failed parse restored", e)
	}
}

func TestFailedExtractKeepsParseAndRetries(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{}
	o := newOrchestrator(remote)

	if _, err := o.Parse(ctx, testKey, false); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	remote.extractErr = errors.New("extraction service unavailable")
	if _, err := o.Extract(ctx, testKey, ResolutionNone); err == nil {
		t.Fatal("expected extract failure")
	}
	if got := o.Entry(testKey).Status; got != models.StatusError {
		t.Fatalf("status = %s, want error", got)
	}
	if a, _ := remote.Artifacts(ctx, testKey); !a.Parsed {
		t.Errorf("parse artifact should survive a failed extract")
	}

	if _, err := o.RetryParse(ctx, testKey); err == nil {
		t.Error("RetryParse after a failed extract should be refused")
	}

	remote.mu.Lock()
	remote.extractErr = nil
	remote.mu.Unlock()
	result, err := o.RetryExtract(ctx, testKey)
	if err != nil {
		t.Fatalf("RetryExtract: %v", err)
	}
	if result == nil || result.TransactionsCount != 3 {
		t.Errorf("retried result = %+v, want 3 transactions", result)
	}
	if got := o.Entry(testKey).Status; got != models.StatusExtracted {
		t.Errorf("status after retry = %s, want extracted", got)
	}
	if n := remote.count("parse"); n != 1 {
		t.Errorf("parse calls = %d, want 1", n)
	}
	if _, err := o.RetryExtract(ctx, testKey); err == nil {
		t.Error("nothing should be left to retry after success")
	}
}

func TestFailedParseRetries(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{parseErr: errors.New("parse service unavailable")}
	o := newOrchestrator(remote)

	if _, err := o.Parse(ctx, testKey, false); err == nil {
		t.Fatal("expected parse failure")
	}
	e := o.Entry(testKey)
	if e.Status != models.StatusError || e.FailedOp != OpParse {
		t.Fatalf("entry = %+v, want failed parse", e)
	}

	remote.mu.Lock()
	remote.parseErr = nil
	remote.mu.Unlock()
	resp, err := o.RetryParse(ctx, testKey)
	if err != nil {
		t.Fatalf("RetryParse: %v", err)
	}
	if resp == nil || resp.ChunksCount != 2 {
		t.Errorf("retried result = %+v, want 2 chunks", resp)
	}
	if got := o.Entry(testKey).Status; got != models.StatusParsed {
		t.Errorf("status after retry = %s, want parsed", got)
	}
}

func TestReextractDoesNotParse(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{}
	o := newOrchestrator(remote)

	if _, err := o.Parse(ctx, testKey, false); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := o.Extract(ctx, testKey, ResolutionNone); err != nil {
			t.Fatalf("Extract #%d: %v", i+1, err)
		}
	}
	if n := remote.count("parse"); n != 1 {
		t.Errorf("parse calls = %d, want 1", n)
	}
	if n := remote.count("extract"); n != 3 {
		t.Errorf("extract calls = %d, want 3", n)
	}
}

func TestExtractWithUnsavedChanges(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*fakeRemote, *Orchestrator) {
		t.Helper()
		remote := &fakeRemote{parsed: true}
		o := newOrchestrator(remote)
		draft, err := o.Draft(ctx, testKey)
		if err != nil {
			t.Fatalf("Draft: %v", err)
		}
		draft.AddField(models.Field{Name: "category", Type: models.FieldTypeString})
		return remote, o
	}

	t.Run("no resolution blocks", func(t *testing.T) {
		remote, o := setup(t)
		_, err := o.Extract(ctx, testKey, ResolutionNone)
		var unsaved *UnsavedChangesError
		if !errors.As(err, &unsaved) {
			t.Fatalf("err = %v, want UnsavedChangesError", err)
		}
		want := []Resolution{ResolutionCancel, ResolutionUseUnsaved, ResolutionSaveAndExtract}
		if diff := cmp.Diff(want, unsaved.Options); diff != "" {
			t.Errorf("options (-want +got):\n%s", diff)
		}
		if n := remote.count("extract"); n != 0 {
			t.Errorf("extract called %d times before a resolution", n)
		}
		if got := o.Entry(testKey).Status; got.Transient() {
			t.Errorf("status = %s, want no operation started", got)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		remote, o := setup(t)
		res, err := o.Extract(ctx, testKey, ResolutionCancel)
		if res != nil || err != nil {
			t.Errorf("cancel = %v, %v; want no action", res, err)
		}
		if remote.count("extract")+remote.count("put_schema") != 0 {
			t.Errorf("cancel made remote calls: %v", remote.calls)
		}
	})

	t.Run("use unsaved", func(t *testing.T) {
		remote, o := setup(t)
		if _, err := o.Extract(ctx, testKey, ResolutionUseUnsaved); err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if remote.count("put_schema") != 0 {
			t.Errorf("unsaved schema was persisted")
		}
		names := schema.FieldNames(remote.lastOverride)
		if len(names) == 0 || names[len(names)-1] != "category" {
			t.Errorf("override fields = %v", names)
		}
		draft, _ := o.Draft(ctx, testKey)
		if !draft.Dirty() {
			t.Errorf("draft should still be dirty")
		}
	})

	t.Run("save and extract", func(t *testing.T) {
		remote, o := setup(t)
		if _, err := o.Extract(ctx, testKey, ResolutionSaveAndExtract); err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if remote.count("put_schema") != 1 || !remote.lastUseCustom || remote.lastOverride != nil {
			t.Errorf("calls = %v, useCustom = %v", remote.calls, remote.lastUseCustom)
		}
		draft, _ := o.Draft(ctx, testKey)
		if draft.Dirty() || !draft.Custom() {
			t.Errorf("draft after save: dirty=%v custom=%v", draft.Dirty(), draft.Custom())
		}
	})

	t.Run("invalid draft never reaches the server", func(t *testing.T) {
		remote, o := setup(t)
		draft, _ := o.Draft(ctx, testKey)
		draft.AddField(models.Field{Name: "category", Type: models.FieldTypeString})

		for _, res := range []Resolution{ResolutionUseUnsaved, ResolutionSaveAndExtract} {
			_, err := o.Extract(ctx, testKey, res)
			var verr *schema.ValidationError
			if !errors.As(err, &verr) || verr.Rule != schema.RuleDuplicateName {
				t.Errorf("%s: err = %v, want duplicate name", res, err)
			}
		}
		if remote.count("extract")+remote.count("put_schema") != 0 {
			t.Errorf("remote calls = %v", remote.calls)
		}
	})
}

func TestConcurrentOperationsAndLeave(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{parsed: true, extractGate: make(chan struct{})}
	phase := models.PhaseExtracting
	remote.status = []models.ProgressStatus{{Phase: &phase, Message: "Extracting", Progress: 40}}
	o := newOrchestrator(remote)
	if _, err := o.Draft(ctx, testKey); err != nil {
		t.Fatalf("Draft: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.Extract(ctx, testKey, ResolutionNone)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for o.Entry(testKey).Progress == nil {
		if time.Now().After(deadline) {
			t.Fatal("progress was never recorded")
		}
		time.Sleep(time.Millisecond)
	}
	if got := o.Entry(testKey).Progress.Progress; got != 40 {
		t.Errorf("progress = %d, want 40", got)
	}

	if _, err := o.Parse(ctx, testKey, true); !errors.Is(err, ErrBusy) {
		t.Errorf("parse during extract = %v, want ErrBusy", err)
	}

	o.Leave(testKey)
	close(remote.extractGate)
	if err := <-done; !errors.Is(err, ErrStale) {
		t.Errorf("late result = %v, want ErrStale", err)
	}
	if got := o.Entry(testKey).Status; got != models.StatusIdle {
		t.Errorf("status after leaving = %s, want idle until reopened", got)
	}

	e, err := o.Open(ctx, testKey)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if e.Status != models.StatusExtracted {
		t.Errorf("reopened status = %s, want extracted", e.Status)
	}
}

func TestBusyExtractDoesNotSaveSchema(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{parsed: true, extractGate: make(chan struct{})}
	o := newOrchestrator(remote)
	draft, err := o.Draft(ctx, testKey)
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.Extract(ctx, testKey, ResolutionNone)
		done <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for o.Entry(testKey).Status != models.StatusExtracting {
		if time.Now().After(deadline) {
			t.Fatal("first extraction never started")
		}
		time.Sleep(time.Millisecond)
	}

	draft.AddField(models.Field{Name: "category", Type: models.FieldTypeString})
	if _, err := o.Extract(ctx, testKey, ResolutionSaveAndExtract); !errors.Is(err, ErrBusy) {
		t.Errorf("second extract = %v, want ErrBusy", err)
	}
	if n := remote.count("put_schema"); n != 0 {
		t.Errorf("put_schema calls = %d while busy, want 0", n)
	}
	if !draft.Dirty() {
		t.Error("draft should still hold the unsaved edit")
	}

	close(remote.extractGate)
	if err := <-done; err != nil {
		t.Fatalf("first extract: %v", err)
	}
}

func TestFailedSaveReleasesExtract(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{parsed: true, putErr: errors.New("storage unavailable")}
	o := newOrchestrator(remote)
	if _, err := o.Open(ctx, testKey); err != nil {
		t.Fatalf("Open: %v", err)
	}
	draft, err := o.Draft(ctx, testKey)
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	draft.AddField(models.Field{Name: "category", Type: models.FieldTypeString})

	if _, err := o.Extract(ctx, testKey, ResolutionSaveAndExtract); err == nil {
		t.Fatal("expected save failure")
	}
	if n := remote.count("extract"); n != 0 {
		t.Errorf("extract calls = %d after a failed save, want 0", n)
	}
	if got := o.Entry(testKey).Status; got != models.StatusParsed {
		t.Errorf("status = %s, want parsed restored", got)
	}
	if !draft.Dirty() {
		t.Error("draft should still be dirty")
	}

	remote.mu.Lock()
	remote.putErr = nil
	remote.mu.Unlock()
	if _, err := o.Extract(ctx, testKey, ResolutionSaveAndExtract); err != nil {
		t.Fatalf("Extract after save recovers: %v", err)
	}
}

func TestRejectedExtractDoesNotFail(t *testing.T) {
	remote := &fakeRemote{}
	o := newOrchestrator(remote)

	_, err := o.Extract(context.Background(), testKey, ResolutionNone)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if got := o.Entry(testKey).Status; got != models.StatusIdle {
		t.Errorf("status = %s, want idle", got)
	}
}

func TestSchemaDraftDirty(t *testing.T) {
	d := NewSchemaDraft(schema.DefaultFields(), false)
	if d.Dirty() {
		t.Fatal("fresh draft should be clean")
	}
	d.AddField(models.Field{Name: "memo"})
	if !d.Dirty() {
		t.Fatal("added field should make the draft dirty")
	}
	if !d.RemoveField("memo") || d.Dirty() {
		t.Errorf("removing the added field should restore a clean draft")
	}
	d.SetFields(nil)
	d.Discard()
	if d.Dirty() || len(d.Fields()) != 5 {
		t.Errorf("Discard should restore the saved fields, got %v", d.Fields())
	}
}

func TestParseResolution(t *testing.T) {
	for _, r := range []Resolution{ResolutionNone, ResolutionCancel, ResolutionUseUnsaved, ResolutionSaveAndExtract} {
		got, err := ParseResolution(r.String())
		if err != nil || got != r {
			t.Errorf("ParseResolution(%q) = %v, %v", r.String(), got, err)
		}
	}
	if _, err := ParseResolution("later"); err == nil {
		t.Errorf("expected an error for an unknown resolution")
	}
}
