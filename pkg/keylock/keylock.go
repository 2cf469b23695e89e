// Package keylock serializes work per string key: at most one holder may own
// a given key at a time, while different keys proceed in parallel.
//
// The delivery engine uses one key per webhook id, which makes every queue
// mutation and metadata update for a webhook strictly ordered without any
// coordination inside the domain code itself.
package keylock

import "sync"

// Registry hands out per-key mutexes on demand. Entries are reference
// counted and removed once the last holder releases the key, so the registry
// does not grow with the total number of keys ever seen.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty lock registry.
func New() *Registry {
	return &Registry{locks: make(map[string]*lockEntry)}
}

// Lock blocks until the key is exclusively held and returns the release
// function. The release function must be called exactly once.
func (r *Registry) Lock(key string) (unlock func()) {
	r.mu.Lock()
	entry, ok := r.locks[key]
	if !ok {
		entry = &lockEntry{}
		r.locks[key] = entry
	}
	entry.refs++
	r.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			r.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(r.locks, key)
			}
			r.mu.Unlock()
		})
	}
}

// Len reports how many keys are currently held or contended. Exposed for
// tests and diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
