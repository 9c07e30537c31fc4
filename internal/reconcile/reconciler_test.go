package reconcile

import (
	"io"
	"log"
	"testing"

	"github.com/taskmirror/taskmirror/internal/queue"
	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"
)

func newTestReconciler() (*Reconciler, *store.Store) {
	st := store.New()
	qm := queue.New(st, log.New(io.Discard, "", 0))
	return New(st, qm, log.New(io.Discard, "", 0)), st
}

func TestFirstObservationSeedsShadow(t *testing.T) {
	r, st := newTestReconciler()
	sig := task.Signature{Content: "Buy milk", ProjectID: "7"}

	r.ObserveLine("42", sig)

	if st.QueueLen() != 0 {
		t.Fatalf("first observation queued %d ops, want 0", st.QueueLen())
	}
	shadow, ok := st.Shadow("42")
	if !ok {
		t.Fatal("shadow not seeded")
	}
	if !shadow.Equal(sig) {
		t.Errorf("shadow = %+v, want %+v", shadow, sig)
	}
}

func TestUnchangedLineQueuesNothing(t *testing.T) {
	r, st := newTestReconciler()
	sig := task.Signature{Content: "Buy milk"}

	r.ObserveLine("42", sig)
	r.ObserveLine("42", sig)
	r.ObserveLine("42", sig)

	if st.QueueLen() != 0 {
		t.Fatalf("re-observing an unchanged line queued %d ops", st.QueueLen())
	}
}

func TestContentEditQueuesUpdate(t *testing.T) {
	r, st := newTestReconciler()
	r.ObserveLine("42", task.Signature{Content: "Buy milk"})

	edited := task.Signature{Content: "Buy oat milk"}
	r.ObserveLine("42", edited)

	op, ok := st.OpFor(task.OpUpdate, "42")
	if !ok {
		t.Fatal("no update queued for edited content")
	}
	if op.Content != "Buy oat milk" {
		t.Errorf("queued content = %q", op.Content)
	}
	shadow, _ := st.Shadow("42")
	if !shadow.Equal(edited) {
		t.Errorf("shadow did not advance: %+v", shadow)
	}
}

func TestMultiFieldEditQueuesEachKind(t *testing.T) {
	r, st := newTestReconciler()
	r.ObserveLine("42", task.Signature{Content: "Buy milk", ProjectID: "7"})

	r.ObserveLine("42", task.Signature{
		Content:     "Buy milk today",
		ProjectID:   "9",
		IsCompleted: true,
	})

	if _, ok := st.OpFor(task.OpUpdate, "42"); !ok {
		t.Error("content change not queued as update")
	}
	if _, ok := st.OpFor(task.OpMove, "42"); !ok {
		t.Error("project change not queued as move")
	}
	if _, ok := st.OpFor(task.OpClose, "42"); !ok {
		t.Error("completion change not queued as close")
	}
}

func TestCompletionToggleDirection(t *testing.T) {
	r, st := newTestReconciler()
	r.ObserveLine("42", task.Signature{Content: "Buy milk", IsCompleted: true})

	r.ObserveLine("42", task.Signature{Content: "Buy milk", IsCompleted: false})

	if _, ok := st.OpFor(task.OpReopen, "42"); !ok {
		t.Fatal("unchecking a completed line did not queue a reopen")
	}
}

func TestCreateFromTextSeedsShadow(t *testing.T) {
	r, st := newTestReconciler()
	sig := task.Signature{Content: "New idea", DueDate: "2026-09-01"}

	localID := r.CreateFromText(sig)

	if !task.IsTempID(localID) {
		t.Fatalf("CreateFromText returned %q, want a temporary id", localID)
	}
	if _, ok := st.OpFor(task.OpCreate, localID); !ok {
		t.Fatal("no create op queued")
	}
	shadow, ok := st.Shadow(localID)
	if !ok || !shadow.Equal(sig) {
		t.Errorf("shadow for new line = %+v, ok=%v", shadow, ok)
	}

	// The line re-observed with its fresh id must queue nothing more.
	r.ObserveLine(localID, sig)
	if st.QueueLen() != 1 {
		t.Errorf("queue grew to %d after re-observing new line", st.QueueLen())
	}
}

func TestShouldApplyRemoteSuppressedByPendingOps(t *testing.T) {
	r, st := newTestReconciler()
	r.ObserveLine("42", task.Signature{Content: "Buy milk"})
	r.ObserveLine("42", task.Signature{Content: "Buy oat milk"})

	if st.QueueLen() == 0 {
		t.Fatal("expected a pending op")
	}
	if r.ShouldApplyRemote("42", task.Signature{Content: "Buy oat milk"}) {
		t.Error("remote allowed to overwrite a task with pending ops")
	}
}

func TestShouldApplyRemoteSuppressedByDivergedText(t *testing.T) {
	r, _ := newTestReconciler()
	r.ObserveLine("42", task.Signature{Content: "Buy milk"})

	// The text diverged from the shadow but its edit has not been
	// observed yet. The remote must not clobber it.
	if r.ShouldApplyRemote("42", task.Signature{Content: "Buy milk, urgently"}) {
		t.Error("remote allowed to overwrite unobserved local edit")
	}

	if !r.ShouldApplyRemote("42", task.Signature{Content: "Buy milk"}) {
		t.Error("remote blocked although text matches the shadow")
	}
}

func TestShouldApplyRemoteForUnseenID(t *testing.T) {
	r, _ := newTestReconciler()
	if !r.ShouldApplyRemote("99", task.Signature{}) {
		t.Error("remote blocked for an id the text never held")
	}
}

func TestRemoteAppliedAdvancesShadow(t *testing.T) {
	r, st := newTestReconciler()
	r.ObserveLine("42", task.Signature{Content: "Buy milk"})

	remote := task.Signature{Content: "Buy milk", IsCompleted: true}
	r.RemoteApplied("42", remote)

	// The write-back must not bounce as a local edit.
	r.ObserveLine("42", remote)
	if st.QueueLen() != 0 {
		t.Fatalf("write-back echoed as %d local ops", st.QueueLen())
	}
}

func TestObserveLineResolvesAliases(t *testing.T) {
	r, st := newTestReconciler()
	sig := task.Signature{Content: "Buy milk"}
	localID := r.CreateFromText(sig)

	st.ApplyRemap(localID, "42")

	r.ObserveLine(localID, task.Signature{Content: "Buy oat milk"})

	shadow, ok := st.Shadow("42")
	if !ok {
		t.Fatal("shadow not found under canonical id")
	}
	if shadow.Content != "Buy oat milk" {
		t.Errorf("shadow content = %q", shadow.Content)
	}
	if n := st.ShadowCount(); n != 1 {
		t.Errorf("shadow count = %d, want 1", n)
	}
	if _, ok := st.Snapshot().Shadows[localID]; ok {
		t.Error("shadow still keyed by temporary id after remap")
	}
}

func TestForgetDropsShadow(t *testing.T) {
	r, st := newTestReconciler()
	r.ObserveLine("42", task.Signature{Content: "Buy milk"})

	r.Forget("42")

	if _, ok := st.Shadow("42"); ok {
		t.Error("shadow survives Forget")
	}
}
