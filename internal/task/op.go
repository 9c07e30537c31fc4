package task

import (
	"time"

	"github.com/google/uuid"
)

// OpKind identifies the variant of a queued sync operation.
type OpKind string

const (
	// OpCreate creates a new task remotely. TargetID holds the
	// temporary local id until the remote assigns a canonical one.
	OpCreate OpKind = "create"
	// OpUpdate rewrites a task's content and due date.
	OpUpdate OpKind = "update"
	// OpMove reassigns a task to a different project.
	OpMove OpKind = "move"
	// OpClose marks a task completed.
	OpClose OpKind = "close"
	// OpReopen marks a completed task open again.
	OpReopen OpKind = "reopen"
)

// IsToggle reports whether the kind is one of the two mutually
// exclusive completion-state operations.
func (k OpKind) IsToggle() bool {
	return k == OpClose || k == OpReopen
}

// Operation is one entry of the durable pending-operation queue: a
// remote mutation the local side still owes the service.
//
// OpID is the idempotency key submitted with the translated remote
// command. It stays stable across retries of the same intent, so a
// retransmission after a partial failure cannot double-apply. When an
// op's payload is replaced by a newer intent (coalescing), it gets a
// fresh OpID and its retry state resets.
type Operation struct {
	OpID string `json:"op_id"`
	Kind OpKind `json:"kind"`

	// TargetID is the canonical id the operation applies to. For
	// creates this is the temporary local id.
	TargetID string `json:"target_id"`

	// Payload. Which fields are meaningful depends on Kind.
	Content     string `json:"content,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	IsCompleted bool   `json:"is_completed,omitempty"`

	QueuedAt    time.Time `json:"queued_at"`
	Attempts    int       `json:"attempts,omitempty"`
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// NewOperation allocates an operation with a fresh idempotency key.
func NewOperation(kind OpKind, targetID string, now time.Time) *Operation {
	return &Operation{
		OpID:     uuid.NewString(),
		Kind:     kind,
		TargetID: targetID,
		QueuedAt: now,
	}
}

// Refresh gives the operation a new idempotency key and clears its
// retry state. Called when a newer intent replaces the payload.
func (op *Operation) Refresh(now time.Time) {
	op.OpID = uuid.NewString()
	op.QueuedAt = now
	op.Attempts = 0
	op.NextRetryAt = time.Time{}
	op.LastError = ""
}

// Eligible reports whether the operation is outside its retry backoff
// window at the given instant.
func (op *Operation) Eligible(now time.Time) bool {
	return op.NextRetryAt.IsZero() || !now.Before(op.NextRetryAt)
}

// maxRetryDelay caps the exponential backoff.
const maxRetryDelay = 30 * time.Minute

// RetryDelay returns the backoff delay after the given number of
// consecutive failures: 2s * 2^(attempts-1), capped at 30 minutes.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := 2 * time.Second
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// RecordFailure increments the attempt counter, records the error, and
// schedules the next retry with capped exponential backoff.
func (op *Operation) RecordFailure(errMsg string, now time.Time) {
	op.Attempts++
	op.LastError = errMsg
	op.NextRetryAt = now.Add(RetryDelay(op.Attempts))
}
