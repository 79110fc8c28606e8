package device

import (
	"sync"

	"github.com/ethan/bambu-lan-gateway/pkg/state"
)

// StatusWatch holds the latest PrinterState snapshot and lets any number
// of readers wait for the next change, mirroring the "last write wins,
// missed intermediates are fine" semantics a watch channel gives: a slow
// reader that misses several updates still converges on Get() returning
// the current value.
type StatusWatch struct {
	mu     sync.RWMutex
	value  state.PrinterState
	notify chan struct{}
}

// NewStatusWatch returns a watch seeded with an empty snapshot.
func NewStatusWatch() *StatusWatch {
	return &StatusWatch{notify: make(chan struct{})}
}

// Get returns the current snapshot and a channel that closes the moment
// a newer snapshot is published — callers select on it to wait for the
// next change without polling.
func (w *StatusWatch) Get() (state.PrinterState, <-chan struct{}) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.value, w.notify
}

// Set publishes a new snapshot and wakes every waiter blocked on the
// previous notify channel.
func (w *StatusWatch) Set(v state.PrinterState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.value = v
	close(w.notify)
	w.notify = make(chan struct{})
}
