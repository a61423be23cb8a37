// Package pipeline drives documents through parse and extract against the
// processing API and keeps the per-document review state.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
)

type Operation string

const (
	OpParse   Operation = "parse"
	OpExtract Operation = "extract"
)

var (
	// ErrBusy is returned when an operation is already in flight for the document.
	ErrBusy = errors.New("an operation is already running for this document")
	// ErrStale is returned when a response arrives after the caller left the document.
	ErrStale = errors.New("response discarded: document is no longer active")
	// ErrTimeout marks a parse or extract that ran out of time.
	ErrTimeout = errors.New("operation timed out")
	// ErrRejected marks a request the server refused before doing any work.
	ErrRejected = errors.New("request rejected")
)

// Artifacts records which server-side artifacts exist for a document.
type Artifacts struct {
	Parsed    bool
	Extracted bool
}

// Entry is a snapshot of one document's processing state.
type Entry struct {
	Status models.Status
	// FailedOp is the operation to retry while Status is error.
	FailedOp Operation
	Err      error
	Progress *models.ProgressStatus
}

// Ticket identifies one in-flight operation. Results reported with a ticket
// that no longer matches the document's entry are dropped.
type Ticket struct {
	Key models.DocumentKey
	Op  Operation
	id  uint64
}

type entry struct {
	Entry
	// prev is restored by Abort.
	prev   Entry
	ticket uint64
}

// Machine holds the processing state of every document the caller has opened.
type Machine struct {
	mu      sync.Mutex
	seq     uint64
	entries map[models.DocumentKey]*entry
}

func NewMachine() *Machine {
	return &Machine{entries: make(map[models.DocumentKey]*entry)}
}

// get returns the entry for key, creating an idle one. Callers hold mu.
func (m *Machine) get(key models.DocumentKey) *entry {
	e, ok := m.entries[key]
	if !ok {
		e = &entry{Entry: Entry{Status: models.StatusIdle}}
		m.entries[key] = e
	}
	return e
}

func (m *Machine) Entry(key models.DocumentKey) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(key).Entry
	if e.Progress != nil {
		p := *e.Progress
		e.Progress = &p
	}
	return e
}

func (m *Machine) BeginParse(key models.DocumentKey) (Ticket, error) {
	return m.begin(key, OpParse)
}

// BeginExtract is allowed from idle as well; the server rejects it when no
// parse artifact exists.
func (m *Machine) BeginExtract(key models.DocumentKey) (Ticket, error) {
	return m.begin(key, OpExtract)
}

func transientFor(op Operation) models.Status {
	if op == OpParse {
		return models.StatusParsing
	}
	return models.StatusExtracting
}

func (m *Machine) begin(key models.DocumentKey, op Operation) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e.Status.Transient() {
		return Ticket{}, ErrBusy
	}
	return m.start(key, e, op), nil
}

// start moves e into op's transient state. Callers hold mu.
func (m *Machine) start(key models.DocumentKey, e *entry, op Operation) Ticket {
	m.seq++
	e.prev = e.Entry
	e.ticket = m.seq
	e.Status = transientFor(op)
	e.FailedOp = ""
	e.Err = nil
	e.Progress = nil
	return Ticket{Key: key, Op: op, id: m.seq}
}

// current returns the entry t still owns. Callers hold mu.
func (m *Machine) current(t Ticket) *entry {
	e, ok := m.entries[t.Key]
	if !ok || e.ticket != t.id || !e.Status.Transient() {
		return nil
	}
	return e
}

// Complete moves parsing to parsed and extracting to extracted. It reports
// false when the ticket is stale.
func (m *Machine) Complete(t Ticket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.current(t)
	if e == nil {
		return false
	}
	if t.Op == OpParse {
		e.Status = models.StatusParsed
	} else {
		e.Status = models.StatusExtracted
	}
	e.Progress = nil
	return true
}

// Fail records a remote failure. Artifacts are not touched; Retry re-enters t.Op.
func (m *Machine) Fail(t Ticket, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.current(t)
	if e == nil {
		return false
	}
	e.Status = models.StatusError
	e.FailedOp = t.Op
	e.Err = err
	e.Progress = nil
	return true
}

// Abort returns the document to the state it had before t began. It is used
// when the server refused the request without running it.
func (m *Machine) Abort(t Ticket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.current(t)
	if e == nil {
		return false
	}
	e.Entry = e.prev
	return true
}

// Retry re-enters the operation that failed.
func (m *Machine) Retry(key models.DocumentKey) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e.Status != models.StatusError {
		return Ticket{}, fmt.Errorf("nothing to retry: document is %s", e.Status)
	}
	return m.start(key, e, e.FailedOp), nil
}

// Progress stores the latest poll payload for t.
func (m *Machine) Progress(t Ticket, st models.ProgressStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.current(t)
	if e == nil {
		return false
	}
	e.Progress = &st
	return true
}

// Derive sets the status from artifact presence. Documents mid-operation or in
// error keep their state.
func (m *Machine) Derive(key models.DocumentKey, a Artifacts) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e.Status.Transient() || e.Status == models.StatusError {
		return e.Entry
	}
	switch {
	case a.Extracted:
		e.Status = models.StatusExtracted
	case a.Parsed:
		e.Status = models.StatusParsed
	default:
		e.Status = models.StatusIdle
	}
	return e.Entry
}

// Leave drops the document's state; results of operations still in flight are
// discarded when they arrive.
func (m *Machine) Leave(key models.DocumentKey) {
	m.Forget(key)
}

// Forget removes the document, e.g. after it was deleted.
func (m *Machine) Forget(key models.DocumentKey) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}
