// Package discovery implements the container-discovery registry: a
// ref-counted name→addresses map kept current by a container runtime's
// event stream.
package discovery

import (
	"strings"
	"sync"
)

// regEntry is one name's registration: how many containers currently
// publish it, and the union of their addresses.
type regEntry struct {
	count int
	addrs map[string]struct{}
}

// Registry is a mutex-guarded name→{ref-count, addresses} map.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*regEntry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*regEntry)}
}

// Add registers name as pointing at addrs, incrementing its reference count
// and unioning in the new addresses.
func (r *Registry) Add(name string, addrs []string) {
	key := NormalizeName(name)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &regEntry{addrs: make(map[string]struct{}, len(addrs))}
		r.entries[key] = e
	}

	e.count++
	for _, a := range addrs {
		if a != "" {
			e.addrs[a] = struct{}{}
		}
	}
}

// Remove decrements name's reference count and deletes it entirely once the
// count reaches zero.
func (r *Registry) Remove(name string) {
	key := NormalizeName(name)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return
	}

	e.count--
	if e.count <= 0 {
		delete(r.entries, key)
	}
}

// Rename atomically moves every registration under oldName to newName,
// preserving reference counts and addresses.
func (r *Registry) Rename(oldName, newName string) {
	oldKey := NormalizeName(oldName)
	newKey := NormalizeName(newName)
	if oldKey == "" || newKey == "" || oldKey == newKey {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.entries[oldKey]
	if !ok {
		return
	}

	delete(r.entries, oldKey)

	if existing, has := r.entries[newKey]; has {
		existing.count += old.count
		for a := range old.addrs {
			existing.addrs[a] = struct{}{}
		}

		return
	}

	r.entries[newKey] = old
}

// Lookup returns the deduplicated address set registered for name, matching
// by full normalized-name equality as used by A/ANY queries.
func (r *Registry) Lookup(name string) (addrs []string, ok bool) {
	key := NormalizeName(name)
	if key == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || len(e.addrs) == 0 {
		return nil, false
	}

	out := make([]string, 0, len(e.addrs))
	for a := range e.addrs {
		out = append(out, a)
	}

	return out, true
}

// NormalizeName lower-cases name and strips any trailing dot, the
// normalization used for registry keys.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
