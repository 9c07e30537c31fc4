// Package store implements the local state store: the single source of
// truth for cached tasks and projects, the pending-operation queue,
// identifier aliases, per-task shadow signatures, and the filter result
// cache.
//
// The store performs no I/O. Every mutation preserves the package
// invariants (one record per canonical id, flattened aliases, bounded
// queue) and records a dirty flag that asks the host to persist a
// snapshot. Persistence lives in internal/db.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/taskmirror/taskmirror/internal/task"
)

// SyncStatus is diagnostic bookkeeping about recent sync cycles.
// It is not authoritative data.
type SyncStatus struct {
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitempty"`
}

// Store holds all cached sync state in memory.
type Store struct {
	mu sync.RWMutex

	tasks    map[string]*task.Task
	projects map[string]*task.Project
	aliases  map[string]string // temporary id -> canonical remote id
	queue    []*task.Operation
	shadows  map[string]task.Signature
	filters  map[string]*FilterEntry

	status SyncStatus
	cursor string

	dirty bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tasks:    make(map[string]*task.Task),
		projects: make(map[string]*task.Project),
		aliases:  make(map[string]string),
		shadows:  make(map[string]task.Signature),
		filters:  make(map[string]*FilterEntry),
	}
}

// Dirty reports whether the store has unsaved mutations.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// MarkDirty records that in-memory state diverged from the last
// persisted snapshot. Mutators call this internally; hosts that mutate
// records they obtained by pointer must call it themselves.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// MarkClean is called by the host after persisting a snapshot.
func (s *Store) MarkClean() {
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
}

// Resolve follows the alias map from a possibly temporary id to the
// canonical id. Aliases are flattened on insertion, so a single lookup
// suffices; Resolve never chains.
func (s *Store) Resolve(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(id)
}

func (s *Store) resolveLocked(id string) string {
	if canonical, ok := s.aliases[id]; ok {
		return canonical
	}
	return id
}

// AddAlias records temporary id -> canonical id. Insertion flattens:
// if the canonical id is itself aliased the final target is stored, and
// any existing entries pointing at the temporary id are repointed, so
// no chains ever form.
func (s *Store) AddAlias(tempID, canonicalID string) {
	if tempID == "" || canonicalID == "" || tempID == canonicalID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addAliasLocked(tempID, canonicalID)
	s.dirty = true
}

// addAliasLocked writes the flattened alias and returns the final
// canonical id. Caller holds s.mu.
func (s *Store) addAliasLocked(tempID, canonicalID string) string {
	canonical := s.resolveLocked(canonicalID)
	s.aliases[tempID] = canonical
	for from, to := range s.aliases {
		if to == tempID {
			s.aliases[from] = canonical
		}
	}
	return canonical
}

// Aliases returns a copy of the alias map.
func (s *Store) Aliases() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.aliases))
	for k, v := range s.aliases {
		out[k] = v
	}
	return out
}

// PruneAliases drops alias entries where neither side of the mapping is
// referenced by any task, queue entry, filter cache list, or shadow.
// Returns the number of entries removed.
func (s *Store) PruneAliases() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	referenced := make(map[string]bool)
	for id := range s.tasks {
		referenced[id] = true
	}
	for id := range s.shadows {
		referenced[id] = true
	}
	for _, op := range s.queue {
		referenced[op.TargetID] = true
	}
	for _, entry := range s.filters {
		for _, id := range entry.IDs {
			referenced[id] = true
		}
	}

	removed := 0
	for from, to := range s.aliases {
		if !referenced[from] && !referenced[to] {
			delete(s.aliases, from)
			removed++
		}
	}
	if removed > 0 {
		s.dirty = true
	}
	return removed
}

// Task looks up a task by id, resolving aliases first.
func (s *Store) Task(id string) (*task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[s.resolveLocked(id)]
	return t, ok
}

// Tasks returns all cached tasks ordered by id.
func (s *Store) Tasks() []*task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StaleTasks returns tasks last confirmed by a remote pull before
// cutoff, ordered by id. A task no remote pull has mentioned for a long
// time was likely deleted remotely without a tombstone reaching us;
// these are surfaced as diagnostics rather than removed, since a scoped
// filter pull legitimately skips tasks outside its result set.
func (s *Store) StaleTasks(cutoff time.Time) []*task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.IsDeleted || t.Source != task.SourceRemote {
			continue
		}
		if t.LastRemoteSeenAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TaskCount returns the number of cached tasks.
func (s *Store) TaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// PutTask inserts or replaces a task keyed by its canonical id.
func (s *Store) PutTask(t *task.Task) {
	if t == nil || t.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.resolveLocked(t.ID)
	s.tasks[t.ID] = t
	s.dirty = true
}

// RemoveTask deletes a task record (resolving aliases first).
func (s *Store) RemoveTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	canonical := s.resolveLocked(id)
	if _, ok := s.tasks[canonical]; ok {
		delete(s.tasks, canonical)
		s.dirty = true
	}
}

// Project looks up a project by id.
func (s *Store) Project(id string) (*task.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	return p, ok
}

// Projects returns all cached projects ordered by name.
func (s *Store) Projects() []*task.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ProjectIDByName returns the id of the project with the given name.
func (s *Store) ProjectIDByName(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.projects {
		if p.Name == name {
			return p.ID, true
		}
	}
	return "", false
}

// PutProject inserts or replaces a project.
func (s *Store) PutProject(p *task.Project) {
	if p == nil || p.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
	s.dirty = true
}

// RemoveProject deletes a project record.
func (s *Store) RemoveProject(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; ok {
		delete(s.projects, id)
		s.dirty = true
	}
}

// Shadow returns the last mutually agreed signature for a task.
func (s *Store) Shadow(id string) (task.Signature, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.shadows[s.resolveLocked(id)]
	return sig, ok
}

// SetShadow records the agreed baseline signature for a task.
func (s *Store) SetShadow(id string, sig task.Signature) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shadows[s.resolveLocked(id)] = sig
	s.dirty = true
}

// RemoveShadow drops the baseline signature for a task.
func (s *Store) RemoveShadow(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	canonical := s.resolveLocked(id)
	if _, ok := s.shadows[canonical]; ok {
		delete(s.shadows, canonical)
		s.dirty = true
	}
}

// ShadowCount returns the number of stored shadows.
func (s *Store) ShadowCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shadows)
}

// ApplyRemap retires a temporary id in favor of its canonical remote
// id: the alias is written, the task record and shadow are relocated,
// queued operations and cached filter results are rewritten. After the
// call no container is keyed by the temporary id.
func (s *Store) ApplyRemap(tempID, canonicalID string) {
	if tempID == "" || canonicalID == "" || tempID == canonicalID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical := s.addAliasLocked(tempID, canonicalID)

	if t, ok := s.tasks[tempID]; ok {
		delete(s.tasks, tempID)
		t.ID = canonical
		s.tasks[canonical] = t
	}

	if sig, ok := s.shadows[tempID]; ok {
		delete(s.shadows, tempID)
		s.shadows[canonical] = sig
	}

	for _, op := range s.queue {
		if op.TargetID == tempID {
			op.TargetID = canonical
		}
	}

	for _, entry := range s.filters {
		for i, id := range entry.IDs {
			if id == tempID {
				entry.IDs[i] = canonical
			}
		}
	}

	s.dirty = true
}

// Cursor returns the incremental sync cursor.
func (s *Store) Cursor() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// SetCursor records a new incremental sync cursor.
func (s *Store) SetCursor(cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor != cursor {
		s.cursor = cursor
		s.dirty = true
	}
}

// Status returns the diagnostic sync status.
func (s *Store) Status() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// RecordSyncAttempt notes that a sync cycle started.
func (s *Store) RecordSyncAttempt(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastAttemptAt = now
	s.dirty = true
}

// RecordSyncSuccess notes that a sync cycle completed and clears the
// persistent error message.
func (s *Store) RecordSyncSuccess(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastSuccessAt = now
	s.status.LastError = ""
	s.dirty = true
}

// RecordSyncError notes a failed sync cycle.
func (s *Store) RecordSyncError(err error, now time.Time) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = err.Error()
	s.status.LastErrorAt = now
	s.dirty = true
}
