package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/schema"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
)

// Remote is the processing API the orchestrator drives.
type Remote interface {
	Parse(ctx context.Context, key models.DocumentKey, force bool) (*models.ParseResponse, error)
	Extract(ctx context.Context, key models.DocumentKey, useCustomSchema bool, override json.RawMessage) (*models.ExtractionResult, error)
	GetSchema(ctx context.Context, key models.DocumentKey) (*models.SchemaResponse, error)
	PutSchema(ctx context.Context, key models.DocumentKey, doc json.RawMessage) error
	DeleteSchema(ctx context.Context, key models.DocumentKey) error
	GetStatus(ctx context.Context, key models.DocumentKey) (*models.ProgressStatus, error)
	Artifacts(ctx context.Context, key models.DocumentKey) (Artifacts, error)
}

// Resolution is the caller's choice when extracting with unsaved schema edits.
type Resolution int

const (
	ResolutionNone Resolution = iota
	// ResolutionCancel does nothing.
	ResolutionCancel
	// ResolutionUseUnsaved extracts with the draft without persisting it.
	ResolutionUseUnsaved
	// ResolutionSaveAndExtract persists the draft, then extracts with it.
	ResolutionSaveAndExtract
)

func (r Resolution) String() string {
	switch r {
	case ResolutionCancel:
		return "cancel"
	case ResolutionUseUnsaved:
		return "unsaved"
	case ResolutionSaveAndExtract:
		return "save"
	}
	return "none"
}

// ParseResolution reads the names produced by String.
func ParseResolution(s string) (Resolution, error) {
	for _, r := range []Resolution{ResolutionNone, ResolutionCancel, ResolutionUseUnsaved, ResolutionSaveAndExtract} {
		if r.String() == s {
			return r, nil
		}
	}
	return ResolutionNone, fmt.Errorf("unknown resolution %q", s)
}

// UnsavedChangesError is returned by Extract when the schema draft is dirty
// and no resolution was given. Nothing was sent to the server.
type UnsavedChangesError struct {
	Key     models.DocumentKey
	Options []Resolution
}

func (e *UnsavedChangesError) Error() string {
	return fmt.Sprintf("schema for %s has unsaved changes: choose %s, %s or %s",
		e.Key, e.Options[0], e.Options[1], e.Options[2])
}

type Orchestrator struct {
	remote  Remote
	machine *Machine
	poller  *Poller
	logger  *utils.Logger

	mu     sync.Mutex
	drafts map[models.DocumentKey]*SchemaDraft
	// retries holds the request to repeat for documents in error.
	retries map[models.DocumentKey]attempt
}

// attempt is one remote request. Its result is returned to whoever runs it,
// including a later retry.
type attempt func(context.Context) (any, error)

func NewOrchestrator(remote Remote, machine *Machine, logger *utils.Logger) *Orchestrator {
	return &Orchestrator{
		remote:  remote,
		machine: machine,
		poller:  &Poller{Interval: DefaultPollInterval, Status: remote.GetStatus, Logger: logger},
		logger:  logger,
		drafts:  make(map[models.DocumentKey]*SchemaDraft),
		retries: make(map[models.DocumentKey]attempt),
	}
}

// SetPollInterval overrides the progress polling interval.
func (o *Orchestrator) SetPollInterval(d time.Duration) {
	o.poller.Interval = d
}

func (o *Orchestrator) Entry(key models.DocumentKey) Entry {
	return o.machine.Entry(key)
}

// Open derives the document's status from the artifacts that exist on the server.
func (o *Orchestrator) Open(ctx context.Context, key models.DocumentKey) (Entry, error) {
	a, err := o.remote.Artifacts(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	return o.machine.Derive(key, a), nil
}

// Leave stops tracking the document. Responses still in flight are discarded.
func (o *Orchestrator) Leave(key models.DocumentKey) {
	o.mu.Lock()
	delete(o.drafts, key)
	delete(o.retries, key)
	o.mu.Unlock()
	o.machine.Leave(key)
}

// Parse runs a parse unless the server already holds one and force is false;
// the server answers from its cache in that case.
func (o *Orchestrator) Parse(ctx context.Context, key models.DocumentKey, force bool) (*models.ParseResponse, error) {
	t, err := o.machine.BeginParse(key)
	if err != nil {
		return nil, err
	}

	v, err := o.run(ctx, t, func(ctx context.Context) (any, error) {
		return o.remote.Parse(ctx, key, force)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ParseResponse), nil
}

// Extract runs an extraction from the cached parse. With unsaved schema edits
// it requires a resolution; otherwise the persisted schema is used.
func (o *Orchestrator) Extract(ctx context.Context, key models.DocumentKey, res Resolution) (*models.ExtractionResult, error) {
	draft, err := o.Draft(ctx, key)
	if err != nil {
		return nil, err
	}

	useCustom := draft.Custom()
	var override, save json.RawMessage
	if draft.Dirty() {
		switch res {
		case ResolutionCancel:
			return nil, nil
		case ResolutionUseUnsaved:
			if override, err = o.draftDocument(draft); err != nil {
				return nil, err
			}
			useCustom = false
		case ResolutionSaveAndExtract:
			if save, err = o.draftDocument(draft); err != nil {
				return nil, err
			}
			useCustom = true
		default:
			return nil, &UnsavedChangesError{
				Key:     key,
				Options: []Resolution{ResolutionCancel, ResolutionUseUnsaved, ResolutionSaveAndExtract},
			}
		}
	}

	// The draft is only persisted once the extraction has been claimed.
	t, err := o.machine.BeginExtract(key)
	if err != nil {
		return nil, err
	}
	if save != nil {
		if err := o.remote.PutSchema(ctx, key, save); err != nil {
			o.machine.Abort(t)
			return nil, err
		}
		draft.MarkSaved()
	}

	v, err := o.run(ctx, t, func(ctx context.Context) (any, error) {
		return o.remote.Extract(ctx, key, useCustom, override)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ExtractionResult), nil
}

// RetryParse repeats the parse that left the document in error.
func (o *Orchestrator) RetryParse(ctx context.Context, key models.DocumentKey) (*models.ParseResponse, error) {
	v, err := o.retry(ctx, key, OpParse)
	if err != nil {
		return nil, err
	}
	return v.(*models.ParseResponse), nil
}

// RetryExtract repeats the extraction that left the document in error, with
// the same schema choice as the failed request.
func (o *Orchestrator) RetryExtract(ctx context.Context, key models.DocumentKey) (*models.ExtractionResult, error) {
	v, err := o.retry(ctx, key, OpExtract)
	if err != nil {
		return nil, err
	}
	return v.(*models.ExtractionResult), nil
}

func (o *Orchestrator) retry(ctx context.Context, key models.DocumentKey, op Operation) (any, error) {
	o.mu.Lock()
	fn := o.retries[key]
	o.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("nothing to retry for %s", key)
	}
	if failed := o.machine.Entry(key).FailedOp; failed != op {
		return nil, fmt.Errorf("%s failed on %q, not %q", key, failed, op)
	}

	t, err := o.machine.Retry(key)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, t, fn)
}

// run executes fn for t while polling progress, then applies the outcome to
// the machine unless the document was left in the meantime.
func (o *Orchestrator) run(ctx context.Context, t Ticket, fn attempt) (any, error) {
	pollCtx, stopPolling := context.WithCancel(ctx)
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		o.poller.Run(pollCtx, t.Key, func(st models.ProgressStatus) {
			o.machine.Progress(t, st)
		})
	}()

	v, err := fn(ctx)
	stopPolling()
	<-polled

	switch {
	case err == nil:
		if !o.machine.Complete(t) {
			return nil, ErrStale
		}
		o.mu.Lock()
		delete(o.retries, t.Key)
		o.mu.Unlock()
		o.logger.Info("pipeline.op.ok", "document", t.Key.String(), "op", string(t.Op))
		return v, nil

	case errors.Is(err, ErrBusy), errors.Is(err, ErrRejected):
		if !o.machine.Abort(t) {
			return nil, ErrStale
		}
		return nil, err

	default:
		if !o.machine.Fail(t, err) {
			return nil, ErrStale
		}
		o.mu.Lock()
		o.retries[t.Key] = fn
		o.mu.Unlock()
		o.logger.Warn("pipeline.op.failed", "document", t.Key.String(), "op", string(t.Op), "error", err)
		return nil, err
	}
}

// Draft returns the schema draft for key, loading the persisted schema on first use.
func (o *Orchestrator) Draft(ctx context.Context, key models.DocumentKey) (*SchemaDraft, error) {
	o.mu.Lock()
	draft, ok := o.drafts[key]
	o.mu.Unlock()
	if ok {
		return draft, nil
	}
	return o.ReloadSchema(ctx, key)
}

// ReloadSchema replaces the draft with the persisted schema, dropping edits.
func (o *Orchestrator) ReloadSchema(ctx context.Context, key models.DocumentKey) (*SchemaDraft, error) {
	resp, err := o.remote.GetSchema(ctx, key)
	if err != nil {
		return nil, err
	}

	fields, usedDefaults := schema.FromExtractionSchema(resp.Schema)
	draft := NewSchemaDraft(fields, resp.IsCustom)
	if usedDefaults && resp.IsCustom {
		draft.fallback = true
		o.logger.Warn("pipeline.schema.fallback", "document", key.String())
	}

	o.mu.Lock()
	o.drafts[key] = draft
	o.mu.Unlock()
	return draft, nil
}

func (o *Orchestrator) draftDocument(draft *SchemaDraft) (json.RawMessage, error) {
	fields := draft.Fields()
	if err := schema.Validate(fields); err != nil {
		return nil, err
	}
	return schema.ToExtractionSchema(fields)
}

// SaveSchema validates and persists the draft. Invalid drafts never reach the server.
func (o *Orchestrator) SaveSchema(ctx context.Context, key models.DocumentKey) error {
	draft, err := o.Draft(ctx, key)
	if err != nil {
		return err
	}
	doc, err := o.draftDocument(draft)
	if err != nil {
		return err
	}
	if err := o.remote.PutSchema(ctx, key, doc); err != nil {
		return err
	}
	draft.MarkSaved()
	return nil
}

// RevertSchema deletes the custom schema and reloads the default.
func (o *Orchestrator) RevertSchema(ctx context.Context, key models.DocumentKey) (*SchemaDraft, error) {
	if err := o.remote.DeleteSchema(ctx, key); err != nil {
		return nil, err
	}
	return o.ReloadSchema(ctx, key)
}
