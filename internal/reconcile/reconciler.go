// Package reconcile decides which side wins when local text edits and
// remote changes touch the same task. It keeps a shadow signature per
// task id as the three-way baseline: a field differs from the shadow on
// exactly the side that changed it.
package reconcile

import (
	"log"
	"os"

	"github.com/taskmirror/taskmirror/internal/queue"
	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"
)

// Reconciler translates observed text-side task state into queued
// operations (upward direction) and gates remote write-backs into the
// text (downward direction).
type Reconciler struct {
	store  *store.Store
	queue  *queue.Manager
	logger *log.Logger
}

// New creates a reconciler over the given store and queue manager.
// If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, qm *queue.Manager, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Reconciler{store: st, queue: qm, logger: logger}
}

// ObserveLine digests the current text-side signature of a known task.
//
// The first observation of an id seeds its shadow and queues nothing:
// without a baseline there is no way to tell a local edit from state
// that was already synchronized. After that, any field that differs
// from the shadow is treated as a local edit, queued, and the shadow
// advances to the observed signature.
func (r *Reconciler) ObserveLine(id string, live task.Signature) {
	if id == "" {
		return
	}
	canonical := r.store.Resolve(id)

	shadow, ok := r.store.Shadow(canonical)
	if !ok {
		r.store.SetShadow(canonical, live)
		r.logger.Printf("Seeded shadow for %s", canonical)
		return
	}
	if live.Equal(shadow) {
		return
	}

	if live.Content != shadow.Content || live.DueDate != shadow.DueDate {
		r.queue.EnqueueUpdate(canonical, live.Content, live.DueDate)
	}
	// A move is only queued toward a resolved project; a line whose
	// project tag failed to resolve must not strand the task in the
	// inbox.
	if live.ProjectID != "" && live.ProjectID != shadow.ProjectID {
		r.queue.EnqueueMove(canonical, live.ProjectID)
	}
	if live.IsCompleted != shadow.IsCompleted {
		if live.IsCompleted {
			r.queue.EnqueueClose(canonical)
		} else {
			r.queue.EnqueueReopen(canonical)
		}
	}

	r.store.SetShadow(canonical, live)
}

// CreateFromText queues a create for a task that appeared in the text
// with no id, and seeds its shadow so subsequent observations of the
// same line queue nothing. Returns the temporary id to write back into
// the text.
func (r *Reconciler) CreateFromText(sig task.Signature) string {
	localID := r.queue.EnqueueCreate(sig.Content, sig.ProjectID, sig.DueDate, sig.IsCompleted)
	r.store.SetShadow(localID, sig)
	return localID
}

// ShouldApplyRemote reports whether remote state for the task may be
// written into the text. A remote value only wins when the text side
// has nothing in flight: no pending operations for the id, and the
// text's live signature still matches the shadow baseline. Otherwise
// the local edit is preserved and the remote value waits for the queue
// to drain.
func (r *Reconciler) ShouldApplyRemote(id string, live task.Signature) bool {
	canonical := r.store.Resolve(id)
	if r.store.HasPendingOps(canonical) {
		return false
	}
	shadow, ok := r.store.Shadow(canonical)
	if !ok {
		// Never observed in the text; nothing local to clobber.
		return true
	}
	return live.Equal(shadow)
}

// RemoteApplied advances the shadow after a remote value has been
// written into the text, so the next ObserveLine sees the write-back
// as already-synchronized state rather than a local edit.
func (r *Reconciler) RemoteApplied(id string, sig task.Signature) {
	r.store.SetShadow(r.store.Resolve(id), sig)
}

// Forget drops the shadow for a task that no longer appears anywhere,
// such as one tombstoned by the remote and removed from the text.
func (r *Reconciler) Forget(id string) {
	r.store.RemoveShadow(r.store.Resolve(id))
}
