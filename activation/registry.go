package activation

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Registry maps module IDs to providers. Readers see an immutable snapshot;
// Register and Reload swap in a new one atomically.
type Registry struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[snapshot]
}

type snapshot struct {
	version   uint64
	providers map[string]Provider
}

// NewRegistry creates a registry holding providers.
func NewRegistry(providers map[string]Provider) *Registry {
	r := &Registry{}
	r.current.Store(&snapshot{version: 1, providers: copyProviders(providers)})
	return r
}

// Resolve returns the provider for moduleID.
func (r *Registry) Resolve(moduleID string) (Provider, error) {
	p, ok := r.current.Load().providers[moduleID]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

// Register adds or replaces one provider.
func (r *Registry) Register(moduleID string, p Provider) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	next := copyProviders(cur.providers)
	next[moduleID] = p
	r.current.Store(&snapshot{version: cur.version + 1, providers: next})
	return cur.version + 1
}

// Reload replaces the whole provider set and returns the new version.
// In-flight activations keep the provider they already resolved.
func (r *Registry) Reload(providers map[string]Provider) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := r.current.Load().version + 1
	r.current.Store(&snapshot{version: v, providers: copyProviders(providers)})
	return v
}

// Version returns the current snapshot version.
func (r *Registry) Version() uint64 {
	return r.current.Load().version
}

// Modules returns the registered module IDs in sorted order.
func (r *Registry) Modules() []string {
	snap := r.current.Load()
	out := make([]string, 0, len(snap.providers))
	for k := range snap.providers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyProviders(in map[string]Provider) map[string]Provider {
	out := make(map[string]Provider, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
