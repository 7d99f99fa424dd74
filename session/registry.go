package session

import (
	"sync"

	"github.com/onnwee/clip-surge/backend/telemetry"
)

// Registry tracks live engines by session id.
type Registry struct {
	mu      sync.Mutex
	engines map[string]*Engine
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

// Add registers an engine under its session id.
func (r *Registry) Add(e *Engine) {
	r.mu.Lock()
	r.engines[e.Session().ID()] = e
	r.mu.Unlock()
	telemetry.SetActiveSessions(r.ActiveCount())
}

// Get returns the engine for a session id, or nil.
func (r *Registry) Get(sessionID string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engines[sessionID]
}

// Remove drops a session from the registry.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	delete(r.engines, sessionID)
	r.mu.Unlock()
	telemetry.SetActiveSessions(r.ActiveCount())
}

// List returns every registered engine.
func (r *Registry) List() []*Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	return out
}

// ActiveCount returns the number of sessions currently in the active state.
func (r *Registry) ActiveCount() int {
	n := 0
	for _, e := range r.List() {
		if e.Session().Status() == StatusActive {
			n++
		}
	}
	return n
}
