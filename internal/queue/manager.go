// Package queue implements the pending-operation queue manager: it
// enqueues, coalesces, and folds remote mutations against the local
// store, and owns idempotency-key assignment.
//
// The manager guarantees that the queue length is bounded by the number
// of distinct tasks with outstanding intent, never by the number of
// edits made: repeated intents for the same target collapse into one
// queued operation.
package queue

import (
	"log"
	"os"
	"time"

	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"
)

// Manager mutates the store's operation queue. All external mutation
// requests route through its enqueue methods; collaborators never write
// operations directly.
type Manager struct {
	store  *store.Store
	logger *log.Logger
	now    func() time.Time
}

// New creates a queue manager over the given store.
// If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Manager{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the manager's time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// EnqueueCreate allocates a temporary id, writes an optimistic task
// record, and appends a create operation. Returns the temporary id the
// caller can use until the remote assigns a canonical one.
func (m *Manager) EnqueueCreate(content, projectID, dueDate string, isCompleted bool) string {
	now := m.now()
	localID := task.NewTempID()
	dueDate = task.NormalizeDueDate(dueDate)

	m.store.PutTask(&task.Task{
		ID:          localID,
		Content:     content,
		IsCompleted: isCompleted,
		ProjectID:   projectID,
		DueDate:     dueDate,
		Source:      task.SourceLocal,
		UpdatedAt:   now,
	})

	op := task.NewOperation(task.OpCreate, localID, now)
	op.Content = content
	op.ProjectID = projectID
	op.DueDate = dueDate
	op.IsCompleted = isCompleted
	m.store.AppendOp(op)

	m.logger.Printf("Queued create %s (%q)", localID, content)
	return localID
}

// EnqueueUpdate queues a content/due-date rewrite for the task. A
// previously queued update for the same target is replaced rather than
// duplicated (last write wins); if the target is an unflushed local
// create, the new values fold into the pending create instead.
func (m *Manager) EnqueueUpdate(id, content, dueDate string) {
	if id == "" {
		return
	}
	canonical := m.store.Resolve(id)
	dueDate = task.NormalizeDueDate(dueDate)

	if t, ok := m.store.Task(canonical); ok {
		t.Content = content
		t.DueDate = dueDate
		t.Source = task.SourceLocal
		t.UpdatedAt = m.now()
		m.store.MarkDirty()
	}

	if create, ok := m.pendingCreate(canonical); ok {
		create.Content = content
		create.DueDate = dueDate
		m.store.MarkDirty()
		m.logger.Printf("Folded update into pending create %s", canonical)
		return
	}

	if op, ok := m.store.OpFor(task.OpUpdate, canonical); ok {
		op.Content = content
		op.DueDate = dueDate
		op.Refresh(m.now())
		m.store.MarkDirty()
		m.logger.Printf("Coalesced update for %s", canonical)
		return
	}

	op := task.NewOperation(task.OpUpdate, canonical, m.now())
	op.Content = content
	op.DueDate = dueDate
	m.store.AppendOp(op)
	m.logger.Printf("Queued update for %s", canonical)
}

// EnqueueMove queues a project reassignment, with the same coalescing
// and create-folding rules as EnqueueUpdate.
func (m *Manager) EnqueueMove(id, projectID string) {
	if id == "" {
		return
	}
	canonical := m.store.Resolve(id)

	if t, ok := m.store.Task(canonical); ok {
		t.ProjectID = projectID
		t.Source = task.SourceLocal
		t.UpdatedAt = m.now()
		m.store.MarkDirty()
	}

	if create, ok := m.pendingCreate(canonical); ok {
		create.ProjectID = projectID
		m.store.MarkDirty()
		m.logger.Printf("Folded move into pending create %s", canonical)
		return
	}

	if op, ok := m.store.OpFor(task.OpMove, canonical); ok {
		op.ProjectID = projectID
		op.Refresh(m.now())
		m.store.MarkDirty()
		m.logger.Printf("Coalesced move for %s", canonical)
		return
	}

	op := task.NewOperation(task.OpMove, canonical, m.now())
	op.ProjectID = projectID
	m.store.AppendOp(op)
	m.logger.Printf("Queued move for %s", canonical)
}

// EnqueueClose queues a completion for the task.
func (m *Manager) EnqueueClose(id string) {
	m.enqueueToggle(id, task.OpClose)
}

// EnqueueReopen queues an un-completion for the task.
func (m *Manager) EnqueueReopen(id string) {
	m.enqueueToggle(id, task.OpReopen)
}

// enqueueToggle handles close and reopen. The two are mutually
// exclusive states, so at most one completion-toggle op is queued per
// target: a newer toggle replaces the older one.
func (m *Manager) enqueueToggle(id string, kind task.OpKind) {
	if id == "" {
		return
	}
	canonical := m.store.Resolve(id)
	completed := kind == task.OpClose

	if t, ok := m.store.Task(canonical); ok {
		t.IsCompleted = completed
		t.Source = task.SourceLocal
		t.UpdatedAt = m.now()
		m.store.MarkDirty()
	}

	// A task that hasn't been created remotely cannot be independently
	// toggled remotely; fold the flag into the pending create.
	if create, ok := m.pendingCreate(canonical); ok {
		create.IsCompleted = completed
		m.store.MarkDirty()
		m.logger.Printf("Folded %s into pending create %s", kind, canonical)
		return
	}

	if op, ok := m.store.ToggleOpFor(canonical); ok {
		op.Kind = kind
		op.Refresh(m.now())
		m.store.MarkDirty()
		m.logger.Printf("Coalesced completion toggle for %s into %s", canonical, kind)
		return
	}

	m.store.AppendOp(task.NewOperation(kind, canonical, m.now()))
	m.logger.Printf("Queued %s for %s", kind, canonical)
}

// pendingCreate returns the unflushed create op for a still-temporary
// id, if one exists.
func (m *Manager) pendingCreate(canonical string) (*task.Operation, bool) {
	if !task.IsTempID(canonical) {
		return nil, false
	}
	return m.store.OpFor(task.OpCreate, canonical)
}
