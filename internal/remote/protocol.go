// Package remote speaks the incremental synchronization protocol to
// the remote task service: cursor-based delta pulls, batched idempotent
// command pushes, and folding responses (including temporary-id
// remapping) back into the local store.
package remote

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Resource kinds a pull request can ask for.
const (
	ResourceProjects = "projects"
	ResourceItems    = "items"
)

// InitialCursor is the wildcard cursor requesting a full snapshot.
const InitialCursor = "*"

// Command types understood by the remote service.
const (
	CmdItemAdd        = "item_add"
	CmdItemUpdate     = "item_update"
	CmdItemMove       = "item_move"
	CmdItemComplete   = "item_complete"
	CmdItemUncomplete = "item_uncomplete"
)

// Request is one round-trip to the service: a cursor pull, a command
// push, or both in the same request.
type Request struct {
	Cursor        string    `json:"cursor,omitempty"`
	ResourceKinds []string  `json:"resource_kinds,omitempty"`
	Filter        string    `json:"filter,omitempty"`
	Commands      []Command `json:"commands,omitempty"`
}

// Command is one batched idempotent mutation. IdempotencyKey is the
// queued operation's OpID; resubmitting the same key after a timeout
// cannot double-apply the effect.
type Command struct {
	Type           string      `json:"type"`
	IdempotencyKey string      `json:"idempotency_key"`
	TempID         string      `json:"temp_id,omitempty"`
	Args           CommandArgs `json:"args"`
}

// CommandArgs carries the operation-specific payload.
type CommandArgs struct {
	ID        string `json:"id,omitempty"`
	Content   string `json:"content,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	DueDate   string `json:"due_date,omitempty"`
}

// Response is what the service returns: a new cursor plus only the
// entities changed since the submitted cursor (or a full snapshot when
// the cursor was the wildcard), and, for any commands in the same
// request, the temp-id mapping and per-command statuses.
type Response struct {
	NewCursor     string                   `json:"new_cursor"`
	FullSync      bool                     `json:"full_sync,omitempty"`
	Projects      []Project                `json:"projects,omitempty"`
	Items         []Item                   `json:"items,omitempty"`
	TempIDMapping map[string]string        `json:"temp_id_mapping,omitempty"`
	CommandStatus map[string]CommandStatus `json:"command_status,omitempty"`
}

// Project is a project entity on the wire.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDeleted bool   `json:"is_deleted,omitempty"`
}

// Item is a task entity on the wire.
type Item struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	ProjectID   string `json:"project_id,omitempty"`
	IsCompleted bool   `json:"is_completed,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	IsRecurring bool   `json:"is_recurring,omitempty"`
	IsDeleted   bool   `json:"is_deleted,omitempty"`
}

// CommandStatus is the fate of one submitted command. On the wire it
// is either the literal string "ok" or an error object; each command's
// fate is independent of the rest of the batch.
type CommandStatus struct {
	OK        bool
	Error     string
	ErrorCode int
}

// NotFound reports whether the command failed because its target no
// longer exists remotely. Such operations are dropped, not retried.
func (cs CommandStatus) NotFound() bool {
	return cs.ErrorCode == http.StatusNotFound
}

// UnmarshalJSON accepts both the "ok" shorthand and the error object.
func (cs *CommandStatus) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		cs.OK = strings.EqualFold(s, "ok")
		return nil
	}
	var obj struct {
		Error     string `json:"error"`
		ErrorCode int    `json:"error_code"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	cs.Error = obj.Error
	cs.ErrorCode = obj.ErrorCode
	return nil
}

// MarshalJSON writes the same wire forms UnmarshalJSON accepts.
func (cs CommandStatus) MarshalJSON() ([]byte, error) {
	if cs.OK {
		return json.Marshal("ok")
	}
	return json.Marshal(struct {
		Error     string `json:"error"`
		ErrorCode int    `json:"error_code"`
	}{cs.Error, cs.ErrorCode})
}
