package remote

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/taskmirror/taskmirror/internal/queue"
	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"
)

// Notifier receives the "identifiers remapped" notification so that
// collaborators binding text lines to ids can rewrite them.
type Notifier interface {
	Remapped(tempID, canonicalID string)
}

// Adapter folds remote responses into the local store and translates
// queued operations into remote commands.
type Adapter struct {
	svc      Service
	store    *store.Store
	queue    *queue.Manager
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
}

// NewAdapter creates a sync adapter. notifier may be nil; logger nil
// defaults to a stderr logger.
func NewAdapter(svc Service, st *store.Store, qm *queue.Manager, notifier Notifier, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Adapter{
		svc:      svc,
		store:    st,
		queue:    qm,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the adapter's time source. Tests only.
func (a *Adapter) SetClock(now func() time.Time) {
	a.now = now
}

// RefreshProjects pulls the full project snapshot. Projects are never
// partially synced: the snapshot replaces the cached set wholesale.
// The item cursor is left untouched.
func (a *Adapter) RefreshProjects(ctx context.Context) error {
	resp, err := a.svc.Sync(ctx, &Request{
		Cursor:        InitialCursor,
		ResourceKinds: []string{ResourceProjects},
	})
	if err != nil {
		return fmt.Errorf("failed to refresh projects: %w", err)
	}
	a.applyProjects(resp.Projects, true)
	return nil
}

// PullDeltas pulls everything changed since the stored cursor and
// folds it into the store, then advances the cursor.
func (a *Adapter) PullDeltas(ctx context.Context) error {
	resp, err := a.svc.Sync(ctx, &Request{
		Cursor:        a.cursor(),
		ResourceKinds: []string{ResourceProjects, ResourceItems},
	})
	if err != nil {
		return fmt.Errorf("failed to pull deltas: %w", err)
	}
	a.applyProjects(resp.Projects, resp.FullSync)
	a.applyItems(resp.Items)
	if resp.NewCursor != "" {
		a.store.SetCursor(resp.NewCursor)
	}
	return nil
}

// PullFilter pulls the items matching one filter expression, upserts
// them, and records the ordered result ids in the filter cache. Filter
// queries are snapshots, not deltas; the cursor is not advanced.
func (a *Adapter) PullFilter(ctx context.Context, expr string) error {
	resp, err := a.svc.Sync(ctx, &Request{
		ResourceKinds: []string{ResourceItems},
		Filter:        expr,
	})
	if err != nil {
		return fmt.Errorf("failed to pull filter %q: %w", expr, err)
	}
	a.applyItems(resp.Items)

	ids := make([]string, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.ID == "" || it.IsDeleted {
			continue
		}
		ids = append(ids, a.store.Resolve(it.ID))
	}
	a.store.SetFilterResults(expr, ids, a.now())
	return nil
}

// FlushQueue submits every queued operation that is outside its retry
// backoff window as one batch of idempotent commands, then settles each
// operation's fate from the per-command status map.
//
// Close/reopen success is provisional: the toggle is only dequeued once
// the response's item list shows the matching completion state,
// otherwise it stays queued for the next cycle.
func (a *Adapter) FlushQueue(ctx context.Context) error {
	now := a.now()
	var eligible []*task.Operation
	for _, op := range a.store.Ops() {
		if op.Eligible(now) {
			eligible = append(eligible, op)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	commands := make([]Command, 0, len(eligible))
	for _, op := range eligible {
		commands = append(commands, a.translate(op))
	}

	resp, err := a.svc.Sync(ctx, &Request{
		Cursor:        a.cursor(),
		ResourceKinds: []string{ResourceItems},
		Commands:      commands,
	})
	if err != nil {
		// Transport failure: every submitted operation backs off
		// individually; nothing is lost.
		for _, op := range eligible {
			op.RecordFailure(err.Error(), now)
		}
		a.store.MarkDirty()
		return fmt.Errorf("failed to flush queue: %w", err)
	}

	a.applyMappings(resp.TempIDMapping)

	// Completion states reflected in this same response, used to
	// confirm close/reopen commands.
	confirmed := make(map[string]bool, len(resp.Items))
	for _, it := range resp.Items {
		if it.ID != "" && !it.IsDeleted {
			confirmed[it.ID] = it.IsCompleted
		}
	}

	for _, op := range eligible {
		status, ok := resp.CommandStatus[op.OpID]
		switch {
		case !ok:
			op.RecordFailure("no status returned for command", now)

		case status.OK:
			a.settleSuccess(op, confirmed, now)

		case status.NotFound():
			// Stale reference: the target is gone remotely. Drop the
			// operation rather than retrying forever.
			a.logger.Printf("Dropping %s for %s: target gone remotely", op.Kind, op.TargetID)
			a.store.RemoveOp(op.OpID)

		default:
			op.RecordFailure(status.Error, now)
		}
	}
	a.store.MarkDirty()

	a.applyItems(resp.Items)
	if resp.NewCursor != "" {
		a.store.SetCursor(resp.NewCursor)
	}
	return nil
}

// settleSuccess dequeues a confirmed operation. Completion toggles need
// the response item list to agree before they are considered done; a
// confirmed create that was marked complete at creation time gets a
// separate close command queued, since a remote create cannot
// atomically also be completed.
func (a *Adapter) settleSuccess(op *task.Operation, confirmed map[string]bool, now time.Time) {
	if op.Kind.IsToggle() {
		id := a.store.Resolve(op.TargetID)
		want := op.Kind == task.OpClose
		got, seen := confirmed[id]
		if !seen || got != want {
			op.RecordFailure("completion state not yet confirmed by service", now)
			return
		}
		a.store.RemoveOp(op.OpID)
		return
	}

	a.store.RemoveOp(op.OpID)
	if op.Kind == task.OpCreate && op.IsCompleted {
		// TargetID was rewritten to the canonical id by applyMappings.
		a.queue.EnqueueClose(op.TargetID)
		a.logger.Printf("Queued follow-up close for %s (created completed)", op.TargetID)
	}
}

// translate turns a queued operation into a remote command tagged with
// the operation's idempotency key. Target ids resolve through the
// alias map at translation time.
func (a *Adapter) translate(op *task.Operation) Command {
	id := a.store.Resolve(op.TargetID)
	cmd := Command{IdempotencyKey: op.OpID}

	switch op.Kind {
	case task.OpCreate:
		cmd.Type = CmdItemAdd
		cmd.TempID = op.TargetID
		cmd.Args = CommandArgs{
			Content:   op.Content,
			ProjectID: op.ProjectID,
			DueDate:   op.DueDate,
		}
	case task.OpUpdate:
		cmd.Type = CmdItemUpdate
		cmd.Args = CommandArgs{ID: id, Content: op.Content, DueDate: op.DueDate}
	case task.OpMove:
		cmd.Type = CmdItemMove
		cmd.Args = CommandArgs{ID: id, ProjectID: op.ProjectID}
	case task.OpClose:
		cmd.Type = CmdItemComplete
		cmd.Args = CommandArgs{ID: id}
	case task.OpReopen:
		cmd.Type = CmdItemUncomplete
		cmd.Args = CommandArgs{ID: id}
	}
	return cmd
}

// applyMappings retires temporary ids via the store and notifies
// collaborators that bind text lines to ids.
func (a *Adapter) applyMappings(mapping map[string]string) {
	for tempID, canonicalID := range mapping {
		if tempID == "" || canonicalID == "" {
			continue
		}
		a.store.ApplyRemap(tempID, canonicalID)
		a.logger.Printf("Remapped %s -> %s", tempID, canonicalID)
		if a.notifier != nil {
			a.notifier.Remapped(tempID, canonicalID)
		}
	}
}

// applyProjects folds a remote project list into the store. A snapshot
// replaces the cached set wholesale; a delta upserts and removes by
// deletion flag.
func (a *Adapter) applyProjects(projects []Project, snapshot bool) {
	now := a.now()
	seen := make(map[string]bool, len(projects))

	for _, p := range projects {
		if p.ID == "" {
			continue
		}
		seen[p.ID] = true
		if p.IsDeleted {
			a.store.RemoveProject(p.ID)
			continue
		}
		a.store.PutProject(&task.Project{ID: p.ID, Name: p.Name, UpdatedAt: now})
	}

	if snapshot {
		for _, existing := range a.store.Projects() {
			if !seen[existing.ID] {
				a.store.RemoveProject(existing.ID)
			}
		}
	}
}

// applyItems upserts remote items into the store.
//
// An item with no local counterpart is inserted with source=remote. An
// item whose id has a pending queued operation is not overwritten,
// since local intent wins until flushed, but its last-remote-seen timestamp
// is still refreshed. A tombstone marks the record deleted and purges
// any queued operations referencing it.
func (a *Adapter) applyItems(items []Item) {
	now := a.now()
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		canonical := a.store.Resolve(it.ID)

		if it.IsDeleted {
			if n := a.store.PurgeOpsFor(canonical); n > 0 {
				a.logger.Printf("Dropped %d queued op(s) for remotely deleted task %s", n, canonical)
			}
			if t, ok := a.store.Task(canonical); ok {
				t.IsDeleted = true
				t.Source = task.SourceRemote
				t.UpdatedAt = now
				a.store.MarkDirty()
			}
			continue
		}

		existing, ok := a.store.Task(canonical)
		if ok && a.store.HasPendingOps(canonical) {
			existing.LastRemoteSeenAt = now
			a.store.MarkDirty()
			continue
		}

		t := existing
		if t == nil {
			t = &task.Task{ID: canonical}
		}
		t.Content = it.Content
		t.IsCompleted = it.IsCompleted
		t.ProjectID = it.ProjectID
		t.DueDate = task.NormalizeDueDate(it.DueDate)
		t.IsRecurring = it.IsRecurring
		t.IsDeleted = false
		t.Source = task.SourceRemote
		t.UpdatedAt = now
		t.LastRemoteSeenAt = now
		a.store.PutTask(t)
	}
}

func (a *Adapter) cursor() string {
	if c := a.store.Cursor(); c != "" {
		return c
	}
	return InitialCursor
}
