package store

import (
	"time"

	"github.com/taskmirror/taskmirror/internal/task"
)

// SnapshotVersion is the schema version written with new snapshots.
// Loaders must accept older (or unversioned, i.e. version 0) snapshots
// and default any absent container to empty rather than rejecting.
const SnapshotVersion = 2

// Snapshot is the serializable image of the whole store. It is what
// the persistence layer writes and reads; the store itself never does
// I/O.
type Snapshot struct {
	Version  int                       `json:"version"`
	Cursor   string                    `json:"cursor,omitempty"`
	Tasks    []*task.Task              `json:"tasks,omitempty"`
	Projects []*task.Project           `json:"projects,omitempty"`
	Aliases  map[string]string         `json:"aliases,omitempty"`
	Ops      []*task.Operation         `json:"ops,omitempty"`
	Shadows  map[string]task.Signature `json:"shadows,omitempty"`
	Filters  map[string]FilterEntry    `json:"filters,omitempty"`
	Status   SyncStatus                `json:"status"`
}

// Snapshot captures the current state for persistence.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Version: SnapshotVersion,
		Cursor:  s.cursor,
		Aliases: make(map[string]string, len(s.aliases)),
		Shadows: make(map[string]task.Signature, len(s.shadows)),
		Filters: make(map[string]FilterEntry, len(s.filters)),
		Status:  s.status,
	}
	for _, t := range s.tasks {
		cp := *t
		snap.Tasks = append(snap.Tasks, &cp)
	}
	for _, p := range s.projects {
		cp := *p
		snap.Projects = append(snap.Projects, &cp)
	}
	for from, to := range s.aliases {
		snap.Aliases[from] = to
	}
	for _, op := range s.queue {
		cp := *op
		snap.Ops = append(snap.Ops, &cp)
	}
	for id, sig := range s.shadows {
		snap.Shadows[id] = sig
	}
	for expr, entry := range s.filters {
		snap.Filters[expr] = FilterEntry{
			IDs:      append([]string(nil), entry.IDs...),
			LastUsed: entry.LastUsed,
		}
	}
	return snap
}

// Restore replaces the store contents with a snapshot. Missing or nil
// containers (older snapshots, partial upgrades) default to empty; a
// snapshot is never rejected for what it lacks. The store comes back
// clean: restoring is the host loading persisted state, not a
// mutation.
func (s *Store) Restore(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = make(map[string]*task.Task)
	s.projects = make(map[string]*task.Project)
	s.aliases = make(map[string]string)
	s.shadows = make(map[string]task.Signature)
	s.filters = make(map[string]*FilterEntry)
	s.queue = nil
	s.cursor = ""
	s.status = SyncStatus{}
	s.dirty = false

	if snap == nil {
		return
	}

	s.cursor = snap.Cursor
	s.status = snap.Status
	for _, t := range snap.Tasks {
		if t == nil || t.ID == "" {
			continue
		}
		cp := *t
		s.tasks[cp.ID] = &cp
	}
	for _, p := range snap.Projects {
		if p == nil || p.ID == "" {
			continue
		}
		cp := *p
		s.projects[cp.ID] = &cp
	}
	for from, to := range snap.Aliases {
		if from == "" || to == "" {
			continue
		}
		s.aliases[from] = to
	}
	for _, op := range snap.Ops {
		if op == nil || op.OpID == "" || op.TargetID == "" {
			continue
		}
		cp := *op
		if cp.QueuedAt.IsZero() {
			cp.QueuedAt = time.Now()
		}
		s.queue = append(s.queue, &cp)
	}
	for id, sig := range snap.Shadows {
		if id == "" {
			continue
		}
		s.shadows[id] = sig
	}
	for expr, entry := range snap.Filters {
		if expr == "" {
			continue
		}
		s.filters[expr] = &FilterEntry{
			IDs:      append([]string(nil), entry.IDs...),
			LastUsed: entry.LastUsed,
		}
	}
}
