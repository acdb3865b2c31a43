package tour

import "sync"

// presenceTracker holds the ephemeral mapping from connection identity to
// the scene that client is currently viewing. Entries live only as long as
// the connection and are never persisted with the tour.
type presenceTracker struct {
	mu      sync.RWMutex
	entries map[string]string
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{entries: make(map[string]string)}
}

// Set records the scene a client is viewing.
func (p *presenceTracker) Set(id, scene string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[id] = scene
}

// Clear removes a client's presence entry.
func (p *presenceTracker) Clear(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, id)
}

// Snapshot returns a copy of the current presence map.
func (p *presenceTracker) Snapshot() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.entries))
	for id, scene := range p.entries {
		out[id] = scene
	}
	return out
}
