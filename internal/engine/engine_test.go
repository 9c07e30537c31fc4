package engine_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/taskmirror/taskmirror/internal/engine"
	"github.com/taskmirror/taskmirror/internal/queue"
	"github.com/taskmirror/taskmirror/internal/remote"
	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"
	"github.com/taskmirror/taskmirror/internal/testutil"
)

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type harness struct {
	store  *store.Store
	queue  *queue.Manager
	fake   *testutil.FakeRemote
	engine *engine.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.New()
	qm := queue.New(st, discard())
	fake := testutil.NewFakeRemote()
	emitter := &engine.Emitter{}
	adapter := remote.NewAdapter(fake, st, qm, emitter, discard())
	eng := engine.New(st, adapter, nil, emitter, engine.Options{}, discard())
	return &harness{store: st, queue: qm, fake: fake, engine: eng}
}

type recordingObserver struct {
	mu       sync.Mutex
	remaps   [][2]string
	refreshn int
}

func (o *recordingObserver) Remapped(tempID, canonicalID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.remaps = append(o.remaps, [2]string{tempID, canonicalID})
}

func (o *recordingObserver) Refresh() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshn++
}

func (o *recordingObserver) refreshCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.refreshn
}

func TestSyncCycleEndToEnd(t *testing.T) {
	h := newHarness(t)
	obs := &recordingObserver{}
	h.engine.Emitter().Subscribe(obs)

	localID := h.queue.EnqueueCreate("Buy milk", "", "", false)

	if err := h.engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	if h.store.QueueLen() != 0 {
		t.Fatalf("queue not drained: %d ops left", h.store.QueueLen())
	}
	canonical := h.store.Resolve(localID)
	if task.IsTempID(canonical) {
		t.Fatalf("id %s never remapped", localID)
	}
	got, ok := h.store.Task(canonical)
	if !ok || got.Content != "Buy milk" || got.IsCompleted {
		t.Fatalf("task after sync = %+v, ok=%v", got, ok)
	}

	h.queue.EnqueueClose(canonical)
	if err := h.engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("second SyncNow failed: %v", err)
	}
	if h.store.QueueLen() != 0 {
		t.Fatalf("close not flushed: %d ops left", h.store.QueueLen())
	}
	got, _ = h.store.Task(canonical)
	if !got.IsCompleted {
		t.Fatal("task not completed after close flush")
	}

	obs.mu.Lock()
	remaps := len(obs.remaps)
	obs.mu.Unlock()
	if remaps != 1 {
		t.Errorf("observer saw %d remaps, want 1", remaps)
	}
	if obs.refreshCount() < 2 {
		t.Errorf("observer saw %d refreshes, want at least 2", obs.refreshCount())
	}
}

func TestSyncNowRecordsStatus(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	status := h.engine.Status()
	if status.Sync.LastSuccessAt.IsZero() {
		t.Error("last success not recorded")
	}
	if status.Sync.LastError != "" {
		t.Errorf("unexpected last error %q", status.Sync.LastError)
	}
	if status.State != engine.Idle {
		t.Errorf("state = %v, want idle", status.State)
	}

	h.fake.TransportErr = context.DeadlineExceeded
	if err := h.engine.SyncNow(context.Background()); err == nil {
		t.Fatal("expected transport failure")
	}
	status = h.engine.Status()
	if status.Sync.LastError == "" {
		t.Error("transport failure not recorded in status")
	}
}

func TestSingleFlight(t *testing.T) {
	h := newHarness(t)

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	h.fake.Gate = func() {
		once.Do(func() { close(entered) })
		<-release
	}

	errs := make(chan error, 2)
	go func() { errs <- h.engine.SyncNow(context.Background()) }()
	<-entered

	// The second caller must not start a parallel cycle; it awaits the
	// in-flight one.
	go func() { errs <- h.engine.SyncNow(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	if got := h.fake.SyncCalls(); got != 1 {
		t.Fatalf("second SyncNow started a parallel cycle: %d remote calls in flight", got)
	}
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("SyncNow returned %v", err)
		}
	}
}

func TestPendingFilterCoalesces(t *testing.T) {
	h := newHarness(t)
	h.fake.AddItem("Stocked", "")

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	h.fake.Gate = func() {
		once.Do(func() { close(entered) })
		<-release
	}

	done := make(chan error, 1)
	go func() { done <- h.engine.SyncNow(context.Background()) }()
	<-entered

	// Two filter requests while Running: only the last one may run, and
	// only once.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); h.engine.SyncFilterNow(context.Background(), "today") }()
	go func() { defer wg.Done(); h.engine.SyncFilterNow(context.Background(), "overdue") }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("SyncNow returned %v", err)
	}
	wg.Wait()

	if got := h.engine.Status().State; got != engine.Idle {
		t.Fatalf("state after drain = %v, want idle", got)
	}

	filters := h.store.FilterExpressions()
	if len(filters) != 1 {
		t.Fatalf("filter cache holds %v, want exactly one pending filter result", filters)
	}
	if filters[0] != "today" && filters[0] != "overdue" {
		t.Fatalf("unexpected filter %q", filters[0])
	}
}

func TestPruneCachesEvicts(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.store.SetFilterResults("stale", []string{"1"}, now.Add(-40*24*time.Hour))
	h.store.SetFilterResults("fresh", []string{"2"}, now)

	removed := h.engine.PruneCaches()
	if removed != 1 {
		t.Fatalf("PruneCaches removed %d, want 1", removed)
	}
	if _, ok := h.store.FilterResults("fresh", now); !ok {
		t.Error("fresh filter evicted")
	}
	if _, ok := h.store.FilterResults("stale", now); ok {
		t.Error("stale filter survived")
	}
}

func TestPersisterCalledWhenDirty(t *testing.T) {
	st := store.New()
	qm := queue.New(st, discard())
	fake := testutil.NewFakeRemote()
	emitter := &engine.Emitter{}
	adapter := remote.NewAdapter(fake, st, qm, emitter, discard())

	var saved int
	p := persistFunc(func(snap *store.Snapshot) error {
		saved++
		if snap == nil {
			t.Error("nil snapshot passed to persister")
		}
		return nil
	})
	eng := engine.New(st, adapter, p, emitter, engine.Options{}, discard())

	qm.EnqueueCreate("Buy milk", "", "", false)
	if err := eng.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if saved == 0 {
		t.Fatal("persister never invoked for dirty store")
	}
	if st.Dirty() {
		t.Error("store still dirty after successful save")
	}
}

type persistFunc func(*store.Snapshot) error

func (f persistFunc) Save(snap *store.Snapshot) error { return f(snap) }
