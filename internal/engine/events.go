package engine

import "sync"

// Observer receives engine events. Rendering collaborators implement
// it to learn when ids change or the cached view may be stale.
type Observer interface {
	// Remapped fires when a temporary id has been replaced by a
	// canonical remote id, so text referencing the old id can be
	// rewritten.
	Remapped(tempID, canonicalID string)

	// Refresh fires after a sync cycle that may have changed cached
	// state; observers should re-read the store.
	Refresh()
}

// Emitter fans engine events out to registered observers. It satisfies
// the remote adapter's notifier interface so remap events flow through
// without the adapter knowing about observers.
type Emitter struct {
	mu        sync.Mutex
	observers []Observer
}

// Subscribe registers an observer. Observers are invoked synchronously
// in registration order and must not block.
func (e *Emitter) Subscribe(obs Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, obs)
}

func (e *Emitter) snapshot() []Observer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Observer, len(e.observers))
	copy(out, e.observers)
	return out
}

// Remapped forwards an id remap to every observer.
func (e *Emitter) Remapped(tempID, canonicalID string) {
	for _, obs := range e.snapshot() {
		obs.Remapped(tempID, canonicalID)
	}
}

// Refresh tells every observer the cached view may have changed.
func (e *Emitter) Refresh() {
	for _, obs := range e.snapshot() {
		obs.Refresh()
	}
}
