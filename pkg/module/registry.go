package module

import (
	"fmt"
	"sync"
)

// Registry holds the installed game modules, keyed by module id and by
// transport namespace (one channel group per module).
type Registry struct {
	mu          sync.RWMutex
	byID        map[string]GameModule
	byNamespace map[string]GameModule
}

func NewRegistry() *Registry {
	return &Registry{
		byID:        make(map[string]GameModule),
		byNamespace: make(map[string]GameModule),
	}
}

// Register installs a module. Duplicate ids or namespaces are programmer
// error and panic at startup.
func (r *Registry) Register(m GameModule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[m.ID()]; exists {
		panic(fmt.Sprintf("game module already registered: %s", m.ID()))
	}
	if _, exists := r.byNamespace[m.Namespace()]; exists {
		panic(fmt.Sprintf("game module namespace already taken: %s", m.Namespace()))
	}
	r.byID[m.ID()] = m
	r.byNamespace[m.Namespace()] = m
}

func (r *Registry) Get(id string) (GameModule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	return m, ok
}

func (r *Registry) ByNamespace(ns string) (GameModule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byNamespace[ns]
	return m, ok
}

// IDs lists installed module ids for the health endpoint.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}
