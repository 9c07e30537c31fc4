// Package task provides the data structures shared by the taskmirror
// sync engine: cached task and project records, line signatures, and
// the pending-operation queue entries.
package task

import (
	"strings"
	"time"
)

// Source records which side performed the last write to a record.
type Source string

const (
	// SourceLocal marks a record last written by a local edit.
	SourceLocal Source = "local"
	// SourceRemote marks a record last written by a remote pull.
	SourceRemote Source = "remote"
)

// DueDateLayout is the calendar-date format used throughout the engine.
// Due dates carry no time component.
const DueDateLayout = "2006-01-02"

// Task is the cached representation of a single remote task.
//
// The ID is the canonical identifier the record is stored under: either
// a remote-assigned numeric id, or a locally generated temporary id
// (see NewTempID) while the create is still pending. Exactly one Task
// exists per canonical id; temporary ids are retired once aliased.
type Task struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	IsCompleted bool   `json:"is_completed"`
	ProjectID   string `json:"project_id,omitempty"`
	DueDate     string `json:"due_date,omitempty"` // YYYY-MM-DD, no time component
	IsRecurring bool   `json:"is_recurring,omitempty"`
	IsDeleted   bool   `json:"is_deleted,omitempty"`

	// Source is the provenance of the last write (local edit or remote pull).
	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`

	// LastRemoteSeenAt is the last time a remote pull confirmed this task
	// still exists. Used to detect silent remote deletion.
	LastRemoteSeenAt time.Time `json:"last_remote_seen_at,omitempty"`
}

// Signature returns the task's comparable line signature.
func (t *Task) Signature() Signature {
	return Signature{
		Content:     t.Content,
		IsCompleted: t.IsCompleted,
		ProjectID:   t.ProjectID,
		DueDate:     t.DueDate,
	}
}

// ApplySignature overwrites the signature-carried fields of the task.
func (t *Task) ApplySignature(sig Signature) {
	t.Content = sig.Content
	t.IsCompleted = sig.IsCompleted
	t.ProjectID = sig.ProjectID
	t.DueDate = sig.DueDate
}

// Project is the cached representation of a remote project.
// Projects are never partially synced; a remote snapshot always
// replaces the whole record.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeDueDate coerces a due-date string to the canonical
// YYYY-MM-DD form. Invalid or empty input yields the empty string
// rather than an error; a malformed date must never abort a sync cycle.
func NormalizeDueDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Accept full timestamps from the wire and truncate to the date.
	if len(s) > len(DueDateLayout) {
		s = s[:len(DueDateLayout)]
	}
	d, err := time.Parse(DueDateLayout, s)
	if err != nil {
		return ""
	}
	return d.Format(DueDateLayout)
}
