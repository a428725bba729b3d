// Package registry implements an owning graph with back-references:
// an HPT node names its owning address space via a stable, non-owning
// identity handle rather than a raw pointer, so the HPT can never
// extend an address space's lifetime and a stale handle fails loudly
// instead of dereferencing freed memory. Registry is generic so
// vmspace can register *vmspace.Space values without hpt (or registry
// itself) importing vmspace and creating a cycle.
package registry

import "sync"

// ID is a stable, opaque handle into a Registry. The zero ID is never
// issued and can be used as a "no owner" sentinel.
type ID uint64

// Registry hands out IDs for values of type T and lets the HPT (or
// anything else that only needs identity, not the value) look them
// back up without holding a pointer.
type Registry[T any] struct {
	mu   sync.Mutex
	next ID
	live map[ID]T
}

// New returns an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{next: 1, live: make(map[ID]T)}
}

// Register assigns a fresh ID to v and returns it.
func (r *Registry[T]) Register(v T) ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.live[id] = v
	return id
}

// Lookup returns the value registered under id, if it is still live.
func (r *Registry[T]) Lookup(id ID) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.live[id]
	return v, ok
}

// Unregister removes id, the handle-side counterpart of destroying
// the owning value. After this call, Lookup(id) reports !ok and any
// HPT node still naming id is a detectable bug rather than a
// use-after-free.
func (r *Registry[T]) Unregister(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, id)
}
