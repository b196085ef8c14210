package session

import (
	"context"
	"sort"
	"sync"

	"github.com/sandpit-dev/sandpit/pkg/api"
	"github.com/sandpit-dev/sandpit/pkg/provider"
)

// Registry maps caller-chosen logical names to handles so that multiple
// transports (HTTP, MCP) can drive the same sessions. Handles are created
// lazily and cheaply; the expensive remote open stays lazy inside the
// handle.
type Registry struct {
	provider provider.Provider
	defaults Config

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates a registry whose handles share one provider and a
// common default configuration.
func NewRegistry(p provider.Provider, defaults Config) *Registry {
	return &Registry{
		provider: p,
		defaults: defaults,
		handles:  make(map[string]*Handle),
	}
}

// Handle returns the handle for name, creating it on first use. The same
// name always yields the same handle for the registry's lifetime, so a
// closed handle stays reusable under its name.
func (r *Registry) Handle(name string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[name]; ok {
		return h
	}
	h := New(r.provider, r.defaults)
	h.name = name
	r.handles[name] = h
	return h
}

// RunBatch executes one batch against the named handle's session.
func (r *Registry) RunBatch(ctx context.Context, name string, req *api.BatchRequest) (*api.BatchResult, error) {
	return r.Handle(name).Run(ctx, req)
}

// SetTimeout updates the idle timeout of the named handle's session.
func (r *Registry) SetTimeout(ctx context.Context, name string, seconds int) (*api.TimeoutResult, error) {
	return r.Handle(name).SetIdleTimeout(ctx, seconds)
}

// CloseSession tears down the named handle's session. The handle stays
// registered and reusable.
func (r *Registry) CloseSession(ctx context.Context, name string) error {
	return r.Handle(name).Close(ctx)
}

// Names returns the registered handle names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every handle's session. Used at gateway shutdown so no
// remote sessions leak past process exit.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Close(ctx)
	}
}
