package textfile

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taskmirror/taskmirror/internal/queue"
	"github.com/taskmirror/taskmirror/internal/reconcile"
	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"
)

type docHarness struct {
	doc   *Document
	store *store.Store
	queue *queue.Manager
	path  string
}

func newDocHarness(t *testing.T, content string) *docHarness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.md")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	st := store.New()
	logger := log.New(io.Discard, "", 0)
	qm := queue.New(st, logger)
	rec := reconcile.New(st, qm, logger)
	return &docHarness{
		doc:   NewDocument(path, st, rec, logger),
		store: st,
		queue: qm,
		path:  path,
	}
}

func (h *docHarness) contents(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(h.path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestScanAnchorsNewLines(t *testing.T) {
	h := newDocHarness(t, "# Today\n- [ ] Buy milk\nnotes\n")

	if err := h.doc.Scan(); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if h.store.QueueLen() != 1 {
		t.Fatalf("queue length = %d, want 1 create", h.store.QueueLen())
	}
	ops := h.store.Ops()
	if ops[0].Kind != task.OpCreate || ops[0].Content != "Buy milk" {
		t.Errorf("queued op = %+v", ops[0])
	}

	got := h.contents(t)
	if !strings.Contains(got, "^"+task.TempIDPrefix) {
		t.Errorf("new line not anchored with a temp id:\n%s", got)
	}
	if !strings.Contains(got, "# Today") || !strings.Contains(got, "notes") {
		t.Errorf("non-task lines disturbed:\n%s", got)
	}

	// A second scan of the now-anchored file must queue nothing new.
	if err := h.doc.Scan(); err != nil {
		t.Fatalf("second Scan failed: %v", err)
	}
	if h.store.QueueLen() != 1 {
		t.Errorf("second scan grew the queue to %d", h.store.QueueLen())
	}
}

func TestScanDetectsEdit(t *testing.T) {
	h := newDocHarness(t, "- [ ] Buy milk ^42\n")

	// First scan seeds the shadow.
	if err := h.doc.Scan(); err != nil {
		t.Fatal(err)
	}
	if h.store.QueueLen() != 0 {
		t.Fatalf("baseline scan queued %d ops", h.store.QueueLen())
	}

	if err := os.WriteFile(h.path, []byte("- [x] Buy oat milk ^42\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := h.doc.Scan(); err != nil {
		t.Fatal(err)
	}

	if _, ok := h.store.OpFor(task.OpUpdate, "42"); !ok {
		t.Error("content edit not queued as update")
	}
	if _, ok := h.store.OpFor(task.OpClose, "42"); !ok {
		t.Error("checkbox toggle not queued as close")
	}
}

func TestApplyRemoteWritesBack(t *testing.T) {
	h := newDocHarness(t, "- [ ] Buy milk ^42\n")
	if err := h.doc.Scan(); err != nil {
		t.Fatal(err)
	}

	h.store.PutProject(&task.Project{ID: "7", Name: "Groceries", UpdatedAt: time.Now()})
	h.store.PutTask(&task.Task{
		ID:        "42",
		Content:   "Buy oat milk",
		ProjectID: "7",
		DueDate:   "2026-09-01",
		Source:    task.SourceRemote,
		UpdatedAt: time.Now(),
	})

	if err := h.doc.ApplyRemote(); err != nil {
		t.Fatalf("ApplyRemote failed: %v", err)
	}

	got := h.contents(t)
	want := "- [ ] Buy oat milk 📅2026-09-01 #Groceries ^42\n"
	if got != want {
		t.Errorf("file = %q, want %q", got, want)
	}

	// The write-back must not bounce as a local edit on the next scan.
	if err := h.doc.Scan(); err != nil {
		t.Fatal(err)
	}
	if h.store.QueueLen() != 0 {
		t.Errorf("write-back echoed as %d queued ops", h.store.QueueLen())
	}
}

func TestApplyRemotePreservesLocalEdit(t *testing.T) {
	h := newDocHarness(t, "- [ ] Buy milk ^42\n")
	if err := h.doc.Scan(); err != nil {
		t.Fatal(err)
	}

	// The user edits the line; the edit has not been scanned, so no op
	// is queued, but the live text no longer matches the shadow.
	if err := os.WriteFile(h.path, []byte("- [ ] Buy milk, urgently ^42\n"), 0644); err != nil {
		t.Fatal(err)
	}

	h.store.PutTask(&task.Task{
		ID: "42", Content: "Buy almond milk", Source: task.SourceRemote, UpdatedAt: time.Now(),
	})

	if err := h.doc.ApplyRemote(); err != nil {
		t.Fatal(err)
	}
	if got := h.contents(t); !strings.Contains(got, "Buy milk, urgently") {
		t.Errorf("remote clobbered an unsynced local edit:\n%s", got)
	}
}

func TestApplyRemoteDropsDeleted(t *testing.T) {
	h := newDocHarness(t, "- [ ] Buy milk ^42\n- [ ] Walk dog ^43\n")
	if err := h.doc.Scan(); err != nil {
		t.Fatal(err)
	}

	h.store.PutTask(&task.Task{ID: "42", Content: "Buy milk", IsDeleted: true, Source: task.SourceRemote, UpdatedAt: time.Now()})
	h.store.PutTask(&task.Task{ID: "43", Content: "Walk dog", Source: task.SourceRemote, UpdatedAt: time.Now()})

	if err := h.doc.ApplyRemote(); err != nil {
		t.Fatal(err)
	}
	got := h.contents(t)
	if strings.Contains(got, "Buy milk") {
		t.Errorf("deleted task's line survived:\n%s", got)
	}
	if !strings.Contains(got, "Walk dog") {
		t.Errorf("live task's line removed:\n%s", got)
	}
	if _, ok := h.store.Shadow("42"); ok {
		t.Error("shadow for deleted task not forgotten")
	}
}

func TestRemappedRewritesAnchor(t *testing.T) {
	h := newDocHarness(t, "- [ ] Buy milk\n")
	if err := h.doc.Scan(); err != nil {
		t.Fatal(err)
	}

	ops := h.store.Ops()
	if len(ops) != 1 {
		t.Fatal("expected one create op")
	}
	tempID := ops[0].TargetID

	h.store.ApplyRemap(tempID, "42")
	h.doc.Remapped(tempID, "42")

	got := h.contents(t)
	if !strings.Contains(got, "^42") || strings.Contains(got, tempID) {
		t.Errorf("anchor not rewritten:\n%s", got)
	}

	// The rewritten line must still map to the same shadow.
	if err := h.doc.Scan(); err != nil {
		t.Fatal(err)
	}
	if n := h.store.QueueLen(); n != 1 {
		t.Errorf("rescan after remap queued extra ops: %d", n)
	}
}

func TestScanMissingFile(t *testing.T) {
	h := newDocHarness(t, "")
	if err := os.Remove(h.path); err != nil {
		t.Fatal(err)
	}
	if err := h.doc.Scan(); err != nil {
		t.Errorf("Scan of missing file errored: %v", err)
	}
	if err := h.doc.ApplyRemote(); err != nil {
		t.Errorf("ApplyRemote on missing file errored: %v", err)
	}
}
