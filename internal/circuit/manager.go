package circuit

import "sync"

// Manager keeps independently-configured breakers, one per logical
// resource. Breakers never share state; the manager only owns lookup.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewManager creates a manager whose breakers default to config.
func NewManager(config Config) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   config,
	}
}

// Get returns the breaker for name, creating it on first use.
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	if b, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return b
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, m.config)
	m.breakers[name] = b
	return b
}

// Snapshots returns the current snapshot of every managed breaker.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshots := make(map[string]Snapshot, len(m.breakers))
	for name, b := range m.breakers {
		snapshots[name] = b.Snapshot()
	}
	return snapshots
}

// ResetAll resets every managed breaker to closed.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	for _, b := range breakers {
		b.Reset()
	}
}
