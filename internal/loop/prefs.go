package loop

import "sync"

// Preferences holds the user-preferred temperature per room. Setters may be
// called from any goroutine at any time; the snapshot builder takes one
// atomic copy per cycle.
type Preferences struct {
	mu    sync.RWMutex
	temps map[string]float64
}

// NewPreferences copies the given room temperatures into a new preference
// set.
func NewPreferences(temps map[string]float64) *Preferences {
	p := &Preferences{temps: make(map[string]float64, len(temps))}
	for room, t := range temps {
		p.temps[room] = t
	}
	return p
}

// Set stores the preferred temperature for a room.
func (p *Preferences) Set(room string, tempC float64) {
	p.mu.Lock()
	p.temps[room] = tempC
	p.mu.Unlock()
}

// Get returns the preferred temperature for a room.
func (p *Preferences) Get(room string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.temps[room]
	return t, ok
}

// Snapshot returns a copy of all preferences as of the call.
func (p *Preferences) Snapshot() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.temps))
	for room, t := range p.temps {
		out[room] = t
	}
	return out
}
