package sessions

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Manager is a process-local registry of live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Handle
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Handle)}
}

// Create registers a new session bound to sink and returns it.
func (m *Manager) Create(transport string, sink MessageSink) *Handle {
	h := NewHandle(uuid.NewString(), transport, sink)
	m.mu.Lock()
	m.sessions[h.id] = h
	m.mu.Unlock()
	return h
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*Handle, error) {
	m.mu.RLock()
	h, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return h, nil
}

// Delete removes and closes the session. It reports whether it was present.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	h, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		h.Close()
	}
	return ok
}

// Range calls fn for each live session until fn returns false.
func (m *Manager) Range(fn func(*Handle) bool) {
	m.mu.RLock()
	snapshot := make([]*Handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		snapshot = append(snapshot, h)
	}
	m.mu.RUnlock()
	for _, h := range snapshot {
		if !fn(h) {
			return
		}
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes and forgets every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Handle)
	m.mu.Unlock()
	for _, h := range all {
		h.Close()
	}
}
