// puzzle/manager.go
package puzzle

import (
	"sync"
)

// Definition is the ordered step list of one room's chain.
type Definition struct {
	Room  string
	Steps []string
}

// DefaultDefinitions is the chain layout of the installation.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Room: "kitchen", Steps: []string{"stove", "fridge", "greenhouse"}},
		{Room: "bedroom", Steps: []string{"nightstand", "mattress", "door"}},
		{Room: "bathroom", Steps: []string{"mirror", "shower", "fan"}},
		{Room: "livingroom", Steps: []string{"tv", "plant", "airconditioner"}},
	}
}

// Manager owns one chain per (session, room). Chains are created lazily on
// first access with the room's configured definition.
type Manager struct {
	definitions map[string][]string

	mutex  sync.RWMutex
	chains map[int64]map[string]*Chain
}

func NewManager(definitions []Definition) *Manager {
	defs := make(map[string][]string, len(definitions))
	for _, d := range definitions {
		defs[d.Room] = d.Steps
	}
	return &Manager{
		definitions: defs,
		chains:      make(map[int64]map[string]*Chain),
	}
}

// Chain returns the chain for (sessionID, room), creating it on first use.
func (m *Manager) Chain(sessionID int64, room string) (*Chain, error) {
	m.mutex.RLock()
	if chain, exists := m.chains[sessionID][room]; exists {
		m.mutex.RUnlock()
		return chain, nil
	}
	m.mutex.RUnlock()

	steps, exists := m.definitions[room]
	if !exists {
		return nil, ErrUnknownRoom
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.chains[sessionID] == nil {
		m.chains[sessionID] = make(map[string]*Chain)
	}
	if chain, exists := m.chains[sessionID][room]; exists {
		return chain, nil
	}
	chain := NewChain(room, steps)
	m.chains[sessionID][room] = chain
	return chain, nil
}

// Rooms returns the configured room names.
func (m *Manager) Rooms() []string {
	rooms := make([]string, 0, len(m.definitions))
	for room := range m.definitions {
		rooms = append(rooms, room)
	}
	return rooms
}

// ResetSession resets every chain of a session back to its initial state.
func (m *Manager) ResetSession(sessionID int64) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, chain := range m.chains[sessionID] {
		chain.Reset()
	}
}

// Provider adapts one room's chains to the aggregator's room oracle
// contract: a boolean "is this room complete" per session.
type Provider struct {
	room    string
	manager *Manager
}

func (m *Manager) Provider(room string) *Provider {
	return &Provider{room: room, manager: m}
}

// IsComplete reports the live completion of the room for a session. A
// session that never touched the room simply has an initial chain.
func (p *Provider) IsComplete(sessionID int64) (bool, error) {
	chain, err := p.manager.Chain(sessionID, p.room)
	if err != nil {
		return false, err
	}
	return chain.IsComplete(), nil
}
