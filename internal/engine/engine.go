// Package engine sequences sync cycles. The orchestrator guarantees
// single-flight execution: at most one cycle runs at a time, a second
// request awaits the in-flight cycle, and at most one filter-scoped
// follow-up cycle is kept pending (last request wins).
package engine

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/taskmirror/taskmirror/internal/remote"
	"github.com/taskmirror/taskmirror/internal/store"
)

// State reports whether a sync cycle is in flight.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Persister saves store snapshots between cycles. It is typically
// backed by the SQLite state database.
type Persister interface {
	Save(*store.Snapshot) error
}

// Options tunes cache maintenance.
type Options struct {
	// FilterRetention drops filter result sets not used within this
	// window. Zero means 30 days.
	FilterRetention time.Duration

	// MaxFilters bounds the filter cache size; least-recently-used
	// entries beyond it are evicted. Zero means 20.
	MaxFilters int

	// PruneInterval is the minimum gap between opportunistic prunes.
	// Zero means 12 hours.
	PruneInterval time.Duration
}

func (o *Options) fill() {
	if o.FilterRetention == 0 {
		o.FilterRetention = 30 * 24 * time.Hour
	}
	if o.MaxFilters == 0 {
		o.MaxFilters = 20
	}
	if o.PruneInterval == 0 {
		o.PruneInterval = 12 * time.Hour
	}
}

// Engine drives the remote sync adapter through complete cycles and
// owns sync-status bookkeeping, persistence, and cache maintenance.
type Engine struct {
	store     *store.Store
	adapter   *remote.Adapter
	persister Persister
	emitter   *Emitter
	opts      Options
	logger    *log.Logger
	now       func() time.Time

	mu            sync.Mutex
	state         State
	done          chan struct{} // closed when the in-flight cycle (and any follow-up) ends
	lastErr       error
	pendingFilter string
	pendingSet    bool
	lastPrune     time.Time
}

// New creates an engine. persister may be nil (no durability); logger
// nil defaults to a stderr logger.
func New(st *store.Store, adapter *remote.Adapter, persister Persister, emitter *Emitter, opts Options, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if emitter == nil {
		emitter = &Emitter{}
	}
	opts.fill()
	return &Engine{
		store:     st,
		adapter:   adapter,
		persister: persister,
		emitter:   emitter,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the engine's time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Emitter returns the engine's event emitter for observer
// registration.
func (e *Engine) Emitter() *Emitter {
	return e.emitter
}

// SyncNow runs one full sync cycle, or, if a cycle is already in
// flight, awaits its completion and returns its result.
func (e *Engine) SyncNow(ctx context.Context) error {
	return e.request(ctx, "")
}

// SyncFilterNow runs one sync cycle scoped to the given filter
// expression. If a cycle is already running, the filter is recorded as
// pending and exactly one follow-up cycle runs when the current one
// finishes; repeated calls while Running replace the pending filter
// rather than queueing.
func (e *Engine) SyncFilterNow(ctx context.Context, filter string) error {
	return e.request(ctx, filter)
}

func (e *Engine) request(ctx context.Context, filter string) error {
	e.mu.Lock()
	if e.state == Running {
		if filter != "" {
			e.pendingFilter = filter
			e.pendingSet = true
			e.logger.Printf("Sync in flight; filter %q pending", filter)
		}
		done := e.done
		e.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		e.mu.Lock()
		err := e.lastErr
		e.mu.Unlock()
		return err
	}

	e.state = Running
	e.done = make(chan struct{})
	e.mu.Unlock()

	err := e.cycle(ctx, filter)

	// Drain at most the single pending filter request recorded while
	// this cycle ran; a last-wins slot, not a queue.
	for {
		e.mu.Lock()
		if !e.pendingSet {
			e.state = Idle
			e.lastErr = err
			close(e.done)
			e.mu.Unlock()
			return err
		}
		next := e.pendingFilter
		e.pendingSet = false
		e.pendingFilter = ""
		e.mu.Unlock()

		err = e.cycle(ctx, next)
	}
}

// cycle executes one sync pass: refresh projects, flush the queue,
// pull deltas (or one filter's results), prune, persist, notify.
func (e *Engine) cycle(ctx context.Context, filter string) error {
	start := e.now()
	e.store.RecordSyncAttempt(start)
	e.logger.Printf("Sync cycle starting (filter=%q)", filter)

	err := e.runSteps(ctx, filter)
	now := e.now()
	if err != nil {
		e.store.RecordSyncError(err, now)
		e.logger.Printf("Sync cycle failed: %v", err)
	} else {
		e.store.RecordSyncSuccess(now)
		e.logger.Printf("Sync cycle finished in %s", now.Sub(start).Round(time.Millisecond))
	}

	e.maybePrune(now, false)
	e.persist()
	e.emitter.Refresh()
	return err
}

func (e *Engine) runSteps(ctx context.Context, filter string) error {
	if err := e.adapter.RefreshProjects(ctx); err != nil {
		return err
	}
	if err := e.adapter.FlushQueue(ctx); err != nil {
		return err
	}
	if filter != "" {
		return e.adapter.PullFilter(ctx, filter)
	}
	return e.adapter.PullDeltas(ctx)
}

// PruneCaches runs cache maintenance immediately, regardless of the
// opportunistic interval. Returns the number of entries removed.
func (e *Engine) PruneCaches() int {
	return e.prune(e.now())
}

func (e *Engine) maybePrune(now time.Time, force bool) {
	e.mu.Lock()
	due := force || e.lastPrune.IsZero() || now.Sub(e.lastPrune) >= e.opts.PruneInterval
	e.mu.Unlock()
	if due {
		e.prune(now)
	}
}

func (e *Engine) prune(now time.Time) int {
	removed := e.store.PruneFilterCache(e.opts.FilterRetention, e.opts.MaxFilters, now)
	removed += e.store.PruneAliases()
	e.mu.Lock()
	e.lastPrune = now
	e.mu.Unlock()
	if removed > 0 {
		e.logger.Printf("Pruned %d cache entries", removed)
	}
	return removed
}

func (e *Engine) persist() {
	if e.persister == nil || !e.store.Dirty() {
		return
	}
	if err := e.persister.Save(e.store.Snapshot()); err != nil {
		e.logger.Printf("Failed to persist state: %v", err)
		return
	}
	e.store.MarkClean()
}

// Status summarizes engine and store state for diagnostic surfaces.
type Status struct {
	State       State
	QueueDepth  int
	Tasks       int
	Projects    int
	FilterCache int
	Cursor      string
	Sync        store.SyncStatus
}

// Status returns a point-in-time diagnostic snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	return Status{
		State:       state,
		QueueDepth:  e.store.QueueLen(),
		Tasks:       e.store.TaskCount(),
		Projects:    len(e.store.Projects()),
		FilterCache: e.store.FilterCacheSize(),
		Cursor:      e.store.Cursor(),
		Sync:        e.store.Status(),
	}
}
