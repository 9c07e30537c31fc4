package textfile

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the task file for edits and rescans it after a
// debounce interval, so a burst of editor saves coalesces into one
// scan. It watches the containing directory, not the file itself,
// because editors that save via rename would otherwise detach the
// watch.
type Watcher struct {
	doc      *Document
	debounce time.Duration
	logger   *log.Logger

	// OnScan, if set, runs after each successful rescan. The daemon
	// uses it to trigger a sync cycle.
	OnScan func()

	watcher   *fsnotify.Watcher
	pending   map[string]time.Time
	pendingMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for the document. debounce <= 0
// defaults to 500ms. If logger is nil, a default logger writing to
// stderr is used.
func NewWatcher(doc *Document, debounce time.Duration, logger *log.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[textfile] ", log.LstdFlags)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		doc:      doc,
		debounce: debounce,
		logger:   logger,
		watcher:  fsw,
		pending:  make(map[string]time.Time),
	}, nil
}

// Start watches the document's directory and blocks until ctx is
// cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.doc.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.logger.Printf("Watching %s", w.doc.Path())

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.watchEvents(ctx)
	go w.processPending(ctx)

	<-ctx.Done()
	return w.Stop()
}

// Stop shuts the watcher down and waits for its goroutines.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	if err := w.watcher.Close(); err != nil {
		w.logger.Printf("Error closing watcher: %v", err)
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) watchEvents(ctx context.Context) {
	defer w.wg.Done()

	target := filepath.Clean(w.doc.Path())
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			w.pendingMu.Lock()
			w.pending[event.Name] = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) processPending(ctx context.Context) {
	defer w.wg.Done()

	tick := w.debounce / 4
	if tick <= 0 {
		tick = w.debounce
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.takeSettled() {
				w.rescan()
			}
		}
	}
}

// takeSettled reports whether a pending change has been quiet for the
// whole debounce window, clearing it if so.
func (w *Watcher) takeSettled() bool {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	now := time.Now()
	settled := false
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			delete(w.pending, path)
			settled = true
		}
	}
	return settled
}

func (w *Watcher) rescan() {
	if err := w.doc.Scan(); err != nil {
		w.logger.Printf("Rescan failed: %v", err)
		return
	}
	if w.OnScan != nil {
		w.OnScan()
	}
}
