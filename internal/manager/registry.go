package manager

import "sync"

// Registry is the single source of truth for what is currently running.
// It is a guarded map with no business logic; all mutation flows through
// the reconciler.
type Registry struct {
	mu    sync.RWMutex
	procs map[Key]*ManagedProcess
}

// NewRegistry creates an empty process registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[Key]*ManagedProcess)}
}

// Get returns the process for key, if present.
func (r *Registry) Get(key Key) (*ManagedProcess, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[key]
	return p, ok
}

// Put records a process under its key, replacing any previous entry.
func (r *Registry) Put(key Key, p *ManagedProcess) {
	r.mu.Lock()
	r.procs[key] = p
	r.mu.Unlock()
}

// Remove deletes the entry for key.
func (r *Registry) Remove(key Key) {
	r.mu.Lock()
	delete(r.procs, key)
	r.mu.Unlock()
}

// Len returns the number of registered processes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.procs)
}

// Snapshot returns a point-in-time copy of the key map so that diff and
// status work never holds the registry locked.
func (r *Registry) Snapshot() map[Key]*ManagedProcess {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Key]*ManagedProcess, len(r.procs))
	for k, p := range r.procs {
		out[k] = p
	}
	return out
}
