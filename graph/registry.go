// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"fmt"
	"sync"
)

// Registry holds node declarations in registration order. Registration
// order is the tie-break for topological sorting, so a deterministic build
// replays identically from the same registration sequence.
type Registry struct {
	mu    sync.RWMutex
	order []string
	decls map[string]Declaration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decls: make(map[string]Declaration)}
}

// Register adds a declaration. A second declaration under an existing name
// is rejected with a DuplicateNameError and the first registration is kept.
func (r *Registry) Register(d Declaration) error {
	if d.Name == "" {
		return fmt.Errorf("graph: register: empty node name")
	}
	if d.Node == nil {
		return fmt.Errorf("graph: register %q: nil node", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decls[d.Name]; ok {
		return &DuplicateNameError{Name: d.Name}
	}
	r.decls[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Unregister removes a declaration by name. Removing an unknown name is a
// no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decls[name]; !ok {
		return
	}
	delete(r.decls, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Lookup returns the declaration registered under name.
func (r *Registry) Lookup(name string) (Declaration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decls[name]
	return d, ok
}

// Names returns the registered node names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ActiveSet returns the names of declarations accepted by keep, in
// registration order. A nil predicate keeps every declaration.
func (r *Registry) ActiveSet(keep func(Declaration) bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, n := range r.order {
		if keep == nil || keep(r.decls[n]) {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// snapshot copies the declarations in registration order for compilation.
func (r *Registry) snapshot() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Declaration, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.decls[n])
	}
	return out
}
