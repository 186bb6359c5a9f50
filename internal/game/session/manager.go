package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cory-johannsen/relay/internal/protocol"
)

// Session is one connected client's state.
type Session struct {
	// ID is the unique connection identifier.
	ID string
	// Name is a debug label for logs; starts as ID and follows the display label.
	Name string
	// RemoteAddr is the peer address reported by the transport.
	RemoteAddr string
	// ConnectedAt is when the connection was accepted.
	ConnectedAt time.Time
	// DisplayInfo is the public (id, label) tuple; nil until the client sets it.
	DisplayInfo *protocol.DisplayInfo
	// UserInfo is an opaque client payload kept on the server only.
	UserInfo json.RawMessage
	// RoomID is the room the session last created or joined.
	RoomID string
	// Outbox queues frames for this session's connection.
	Outbox *Outbox
}

// Manager indexes connected sessions by id.
// All methods are safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session Manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// Add registers a new session.
//
// Precondition: id must be non-empty; outbox must be non-nil.
// Postcondition: Returns the created Session, or an error if the id is already
// registered or the outbox is closed or belongs to another id.
func (m *Manager) Add(id, remoteAddr string, outbox *Outbox) (*Session, error) {
	if outbox.ID() != id {
		return nil, fmt.Errorf("session %q: outbox belongs to %q", id, outbox.ID())
	}
	if outbox.IsClosed() {
		return nil, fmt.Errorf("session %q: %w", id, ErrOutboxClosed)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("session %q already connected", id)
	}

	sess := &Session{
		ID:          id,
		Name:        id,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		Outbox:      outbox,
	}
	m.sessions[id] = sess
	return sess, nil
}

// Remove unregisters a session and closes its outbox.
//
// Postcondition: The session is no longer tracked. Returns an error if not found.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[id]
	if !exists {
		return fmt.Errorf("session %q not found", id)
	}
	sess.Outbox.Close()
	delete(m.sessions, id)
	return nil
}

// Get returns the session for the given id.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// IDs returns every registered session id, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of connected sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every outbox and forgets all sessions.
//
// Postcondition: Count() == 0.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		sess.Outbox.Close()
		delete(m.sessions, id)
	}
}
