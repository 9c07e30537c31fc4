package store

import (
	"github.com/taskmirror/taskmirror/internal/task"
)

// Queue container accessors. Coalescing policy lives in
// internal/queue; the store only guarantees ordered, invariant-safe
// access to the underlying slice.

// Ops returns the queued operations in submission order.
func (s *Store) Ops() []*task.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Operation, len(s.queue))
	copy(out, s.queue)
	return out
}

// QueueLen returns the number of queued operations.
func (s *Store) QueueLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queue)
}

// AppendOp adds an operation to the end of the queue.
func (s *Store) AppendOp(op *task.Operation) {
	if op == nil || op.OpID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, op)
	s.dirty = true
}

// RemoveOp deletes the operation with the given idempotency key,
// preserving the order of the rest. Returns false if no such op exists.
func (s *Store) RemoveOp(opID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, op := range s.queue {
		if op.OpID == opID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.dirty = true
			return true
		}
	}
	return false
}

// OpFor returns the queued operation of the given kind targeting the
// given canonical id, if one exists.
func (s *Store) OpFor(kind task.OpKind, id string) (*task.Operation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	canonical := s.resolveLocked(id)
	for _, op := range s.queue {
		if op.Kind == kind && op.TargetID == canonical {
			return op, true
		}
	}
	return nil, false
}

// ToggleOpFor returns the queued completion-toggle operation (close or
// reopen) for the given canonical id, if one exists. At most one can
// be queued at a time.
func (s *Store) ToggleOpFor(id string) (*task.Operation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	canonical := s.resolveLocked(id)
	for _, op := range s.queue {
		if op.Kind.IsToggle() && op.TargetID == canonical {
			return op, true
		}
	}
	return nil, false
}

// HasPendingOps reports whether any queued operation targets the id.
// Used by the pull path so that unflushed local intent is not
// overwritten by a remote item, and by the reconciler's safe
// write-back rule.
func (s *Store) HasPendingOps(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	canonical := s.resolveLocked(id)
	for _, op := range s.queue {
		if op.TargetID == canonical {
			return true
		}
	}
	return false
}

// PurgeOpsFor removes every queued operation targeting the id. Called
// when the remote reports the task deleted; mutating a deleted resource
// would retry forever. Returns the number of operations dropped.
func (s *Store) PurgeOpsFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	canonical := s.resolveLocked(id)
	kept := s.queue[:0]
	removed := 0
	for _, op := range s.queue {
		if op.TargetID == canonical {
			removed++
			continue
		}
		kept = append(kept, op)
	}
	s.queue = kept
	if removed > 0 {
		s.dirty = true
	}
	return removed
}

// ClearQueue drops every queued operation. This is the data-loss-aware
// maintenance escape hatch; callers must confirm with the user first.
func (s *Store) ClearQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	s.queue = nil
	if n > 0 {
		s.dirty = true
	}
	return n
}
