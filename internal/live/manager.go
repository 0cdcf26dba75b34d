// Package live serves the websocket turn channel: one connection per user and
// session, processing frames strictly in order.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks the active connection for each (user, session).
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnManager creates an empty manager.
func NewConnManager() *ConnManager {
	return &ConnManager{active: make(map[string]map[string]*websocket.Conn)}
}

// Active returns the connection for a user and session, or nil.
func (m *ConnManager) Active(userID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[userID][sessionID]
}

// Register makes conn the active connection, closing any older one it replaces.
func (m *ConnManager) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	sessions, ok := m.active[userID]
	if !ok {
		sessions = make(map[string]*websocket.Conn)
		m.active[userID] = sessions
	}
	existing := sessions[sessionID]
	sessions[sessionID] = conn
	m.mu.Unlock()

	// The close handshake can take seconds; it must not hold the lock.
	if existing != nil && existing != conn {
		_ = existing.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
	}
	slog.Info("Live connection registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the active one.
func (m *ConnManager) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok || sessions[sessionID] != conn {
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(m.active, userID)
	}
	slog.Info("Live connection unregistered", "user_id", userID, "session_id", sessionID)
}

// CloseUser closes every connection a user holds.
func (m *ConnManager) CloseUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sid, conn := range m.active[userID] {
		_ = conn.Close(websocket.StatusNormalClosure, "closed by server")
		slog.Info("Live connection closed", "user_id", userID, "session_id", sid)
	}
	delete(m.active, userID)
}

// CloseAll closes every connection. Used during shutdown.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sessions := range m.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
	m.active = make(map[string]map[string]*websocket.Conn)
}

// Len returns the number of active connections.
func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
