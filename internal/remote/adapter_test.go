package remote_test

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/taskmirror/taskmirror/internal/queue"
	"github.com/taskmirror/taskmirror/internal/remote"
	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"
	"github.com/taskmirror/taskmirror/internal/testutil"
)

type remapRecorder struct {
	remaps [][2]string
}

func (r *remapRecorder) Remapped(tempID, canonicalID string) {
	r.remaps = append(r.remaps, [2]string{tempID, canonicalID})
}

func newTestAdapter(t *testing.T) (*remote.Adapter, *store.Store, *queue.Manager, *testutil.FakeRemote, *remapRecorder) {
	t.Helper()
	st := store.New()
	logger := log.New(os.Stderr, "[test] ", 0)
	qm := queue.New(st, logger)
	fake := testutil.NewFakeRemote()
	rec := &remapRecorder{}
	return remote.NewAdapter(fake, st, qm, rec, logger), st, qm, fake, rec
}

func TestFlushCreateAppliesMapping(t *testing.T) {
	a, st, qm, _, rec := newTestAdapter(t)
	ctx := context.Background()

	localID := qm.EnqueueCreate("Buy milk", "", "", false)
	if err := a.FlushQueue(ctx); err != nil {
		t.Fatalf("FlushQueue failed: %v", err)
	}

	if st.QueueLen() != 0 {
		t.Fatalf("queue length = %d after flush, want 0", st.QueueLen())
	}
	canonical := st.Resolve(localID)
	if task.IsTempID(canonical) {
		t.Fatalf("temp id %s not remapped", localID)
	}
	tk, ok := st.Task(canonical)
	if !ok || tk.Content != "Buy milk" || tk.IsCompleted {
		t.Errorf("task after flush = %+v", tk)
	}
	if len(rec.remaps) != 1 || rec.remaps[0][0] != localID {
		t.Errorf("remap notification = %v", rec.remaps)
	}
}

func TestFlushIdempotentRetry(t *testing.T) {
	a, st, qm, fake, _ := newTestAdapter(t)
	ctx := context.Background()

	remoteID := fake.AddItem("existing", "")
	if err := a.PullDeltas(ctx); err != nil {
		t.Fatalf("PullDeltas failed: %v", err)
	}

	qm.EnqueueUpdate(remoteID, "changed", "")
	op := st.Ops()[0]

	if err := a.FlushQueue(ctx); err != nil {
		t.Fatalf("FlushQueue failed: %v", err)
	}
	if fake.Applied[op.OpID] != 1 {
		t.Fatalf("command applied %d times, want 1", fake.Applied[op.OpID])
	}

	// Replay the identical command (retry after a lost response).
	_, err := fake.Sync(ctx, &remote.Request{
		Commands: []remote.Command{{
			Type:           remote.CmdItemUpdate,
			IdempotencyKey: op.OpID,
			Args:           remote.CommandArgs{ID: remoteID, Content: "changed"},
		}},
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if fake.Applied[op.OpID] != 1 {
		t.Errorf("retried command applied %d times, want 1 (dedup by idempotency key)", fake.Applied[op.OpID])
	}
}

func TestFlushFailureBacksOff(t *testing.T) {
	a, st, qm, fake, _ := newTestAdapter(t)
	ctx := context.Background()

	fake.TransportErr = errors.New("connection refused")
	qm.EnqueueCreate("offline task", "", "", false)

	if err := a.FlushQueue(ctx); err == nil {
		t.Fatal("FlushQueue should report the transport failure")
	}

	ops := st.Ops()
	if len(ops) != 1 {
		t.Fatalf("op dropped on transport failure")
	}
	if ops[0].Attempts != 1 || ops[0].NextRetryAt.IsZero() {
		t.Errorf("retry state not recorded: %+v", ops[0])
	}
	if ops[0].LastError == "" {
		t.Error("last error not recorded")
	}

	// While inside the backoff window the op must not be resubmitted.
	fake.TransportErr = nil
	if err := a.FlushQueue(ctx); err != nil {
		t.Fatalf("FlushQueue failed: %v", err)
	}
	if st.QueueLen() != 1 {
		t.Error("op inside backoff window was flushed")
	}
}

func TestFlushPartialBatchFailure(t *testing.T) {
	a, st, qm, fake, _ := newTestAdapter(t)
	ctx := context.Background()

	id := fake.AddItem("good", "")
	if err := a.PullDeltas(ctx); err != nil {
		t.Fatalf("PullDeltas failed: %v", err)
	}

	qm.EnqueueUpdate(id, "good updated", "")
	qm.EnqueueMove(id, "nonexistent-project")
	fake.FailByType[remote.CmdItemMove] = remote.CommandStatus{Error: "rate limited", ErrorCode: 429}

	if err := a.FlushQueue(ctx); err != nil {
		t.Fatalf("FlushQueue failed: %v", err)
	}

	// The update succeeded and left the queue; the move failed and
	// stayed with retry state. One command's fate never blocks another.
	ops := st.Ops()
	if len(ops) != 1 {
		t.Fatalf("queue = %+v, want only the failed move", ops)
	}
	if ops[0].Kind != task.OpMove || ops[0].Attempts != 1 {
		t.Errorf("failed op = %+v", ops[0])
	}
}

func TestFlushStaleReferenceDropped(t *testing.T) {
	a, st, qm, fake, _ := newTestAdapter(t)
	ctx := context.Background()

	id := fake.AddItem("doomed", "")
	if err := a.PullDeltas(ctx); err != nil {
		t.Fatalf("PullDeltas failed: %v", err)
	}
	fake.DeleteItem(id)

	// Update something the remote has deleted: dropped, not retried.
	qm.EnqueueUpdate(id, "too late", "")
	if err := a.FlushQueue(ctx); err != nil {
		t.Fatalf("FlushQueue failed: %v", err)
	}
	if st.HasPendingOps(id) {
		t.Error("op against deleted item should be dropped")
	}
}

func TestCloseConfirmationProvisional(t *testing.T) {
	a, st, qm, fake, _ := newTestAdapter(t)
	ctx := context.Background()

	id := fake.AddItem("to close", "")
	if err := a.PullDeltas(ctx); err != nil {
		t.Fatalf("PullDeltas failed: %v", err)
	}

	qm.EnqueueClose(id)

	// The service accepts the completion but the response omits the
	// item, so the op must stay queued for re-verification.
	fake.SuppressEcho = true
	if err := a.FlushQueue(ctx); err != nil {
		t.Fatalf("FlushQueue failed: %v", err)
	}
	ops := st.Ops()
	if len(ops) != 1 || ops[0].Kind != task.OpClose {
		t.Fatalf("provisional close should stay queued, got %+v", ops)
	}
	if ops[0].NextRetryAt.IsZero() {
		t.Error("unconfirmed close should schedule a retry")
	}

	// Next cycle the echo shows the completed state and the op clears.
	fake.SuppressEcho = false
	ops[0].NextRetryAt = time.Time{} // force eligibility
	st.MarkDirty()
	if err := a.FlushQueue(ctx); err != nil {
		t.Fatalf("second FlushQueue failed: %v", err)
	}
	if st.QueueLen() != 0 {
		t.Errorf("queue length = %d after confirmation, want 0", st.QueueLen())
	}
	tk, _ := st.Task(id)
	if !tk.IsCompleted {
		t.Error("task not completed after confirmed close")
	}
}

func TestCreateCompletedNeedsSecondCommand(t *testing.T) {
	a, st, qm, fake, _ := newTestAdapter(t)
	ctx := context.Background()

	localID := qm.EnqueueCreate("done already", "", "", true)
	if err := a.FlushQueue(ctx); err != nil {
		t.Fatalf("FlushQueue failed: %v", err)
	}

	// The create confirmed; a separate close command must now be queued
	// for the canonical id.
	canonical := st.Resolve(localID)
	ops := st.Ops()
	if len(ops) != 1 || ops[0].Kind != task.OpClose || ops[0].TargetID != canonical {
		t.Fatalf("queue after create flush = %+v, want close for %s", ops, canonical)
	}

	if err := a.FlushQueue(ctx); err != nil {
		t.Fatalf("second FlushQueue failed: %v", err)
	}
	if st.QueueLen() != 0 {
		t.Fatalf("queue length = %d, want 0", st.QueueLen())
	}
	it, _ := fake.Item(canonical)
	if !it.IsCompleted {
		t.Error("remote item not completed by the follow-up command")
	}
}

func TestApplyItemsPendingOpWins(t *testing.T) {
	a, st, qm, fake, _ := newTestAdapter(t)
	ctx := context.Background()

	id := fake.AddItem("remote text", "")
	if err := a.PullDeltas(ctx); err != nil {
		t.Fatalf("PullDeltas failed: %v", err)
	}

	// Local edit queued but unflushed; a concurrent remote change must
	// not overwrite it, though the seen-timestamp still refreshes.
	qm.EnqueueUpdate(id, "local intent", "")
	before, _ := st.Task(id)
	seenBefore := before.LastRemoteSeenAt

	fake.SetCompleted(id, true)
	if err := a.PullDeltas(ctx); err != nil {
		t.Fatalf("PullDeltas failed: %v", err)
	}

	tk, _ := st.Task(id)
	if tk.Content != "local intent" {
		t.Errorf("pending local intent overwritten: %q", tk.Content)
	}
	if !tk.LastRemoteSeenAt.After(seenBefore) && !tk.LastRemoteSeenAt.Equal(seenBefore) {
		t.Error("last-remote-seen timestamp not refreshed")
	}
}

func TestApplyItemsTombstonePurgesOps(t *testing.T) {
	a, st, qm, fake, _ := newTestAdapter(t)
	ctx := context.Background()

	id := fake.AddItem("short lived", "")
	if err := a.PullDeltas(ctx); err != nil {
		t.Fatalf("PullDeltas failed: %v", err)
	}

	qm.EnqueueClose(id)
	fake.DeleteItem(id)
	if err := a.PullDeltas(ctx); err != nil {
		t.Fatalf("PullDeltas failed: %v", err)
	}

	if st.HasPendingOps(id) {
		t.Error("queued ops for a remotely deleted task must be purged")
	}
	tk, ok := st.Task(id)
	if !ok || !tk.IsDeleted {
		t.Errorf("tombstone not applied: %+v", tk)
	}
}

func TestRefreshProjectsSnapshotReplaces(t *testing.T) {
	a, st, _, fake, _ := newTestAdapter(t)
	ctx := context.Background()

	st.PutProject(&task.Project{ID: "stale", Name: "Gone"})
	fake.AddProject("7", "Groceries")

	if err := a.RefreshProjects(ctx); err != nil {
		t.Fatalf("RefreshProjects failed: %v", err)
	}

	if _, ok := st.Project("stale"); ok {
		t.Error("stale project survived a full snapshot refresh")
	}
	if p, ok := st.Project("7"); !ok || p.Name != "Groceries" {
		t.Errorf("project not applied: %+v", p)
	}
}

func TestPullFilterCachesOrderedIDs(t *testing.T) {
	a, st, _, fake, _ := newTestAdapter(t)
	ctx := context.Background()

	a1 := fake.AddItem("first", "")
	a2 := fake.AddItem("second", "")

	if err := a.PullFilter(ctx, "today | overdue"); err != nil {
		t.Fatalf("PullFilter failed: %v", err)
	}

	ids, ok := st.FilterResults("today | overdue", time.Now())
	if !ok {
		t.Fatal("filter results not cached")
	}
	if len(ids) != 2 || ids[0] != a1 || ids[1] != a2 {
		t.Errorf("cached ids = %v, want [%s %s]", ids, a1, a2)
	}
	if st.Cursor() != "" {
		t.Error("filter pull must not advance the delta cursor")
	}
}

func TestPullDeltasAdvancesCursor(t *testing.T) {
	a, st, _, fake, _ := newTestAdapter(t)
	ctx := context.Background()

	fake.AddItem("one", "")
	if err := a.PullDeltas(ctx); err != nil {
		t.Fatalf("PullDeltas failed: %v", err)
	}
	first := st.Cursor()
	if first == "" {
		t.Fatal("cursor not stored")
	}

	fake.AddItem("two", "")
	if err := a.PullDeltas(ctx); err != nil {
		t.Fatalf("PullDeltas failed: %v", err)
	}
	if st.Cursor() == first {
		t.Error("cursor did not advance after new remote changes")
	}
	if st.TaskCount() != 2 {
		t.Errorf("task count = %d, want 2", st.TaskCount())
	}
}
