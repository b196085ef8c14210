package transport

import (
	"context"
	"sync"
)

// InFlightRegistry tracks in-flight batches for explicit cancellation.
// A handle may have several batches running at once, so each Register
// returns a token identifying that batch; Cancel aborts every batch
// registered under the handle, while Remove retires exactly one.
//
// All methods are safe for concurrent use.
type InFlightRegistry struct {
	mu      sync.Mutex
	next    uint64
	entries map[string]map[uint64]context.CancelFunc
}

// NewInFlightRegistry creates a new empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		entries: make(map[string]map[uint64]context.CancelFunc),
	}
}

// Register adds an in-flight batch under the handle and returns the
// token to pass to Remove when the batch finishes.
func (r *InFlightRegistry) Register(handle string, cancel context.CancelFunc) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	batches := r.entries[handle]
	if batches == nil {
		batches = make(map[uint64]context.CancelFunc)
		r.entries[handle] = batches
	}
	batches[r.next] = cancel
	return r.next
}

// Cancel aborts every batch currently running against the handle's
// session. Returns true if at least one batch was cancelled.
func (r *InFlightRegistry) Cancel(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	batches := r.entries[handle]
	if len(batches) == 0 {
		return false
	}
	for _, cancel := range batches {
		cancel()
	}
	delete(r.entries, handle)
	return true
}

// Remove retires one completed batch without cancelling it. Other
// batches registered under the same handle are unaffected.
func (r *InFlightRegistry) Remove(handle string, token uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batches := r.entries[handle]
	delete(batches, token)
	if len(batches) == 0 {
		delete(r.entries, handle)
	}
}
