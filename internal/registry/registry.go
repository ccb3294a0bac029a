// Package registry implements the connection registry: the single
// process-wide piece of mutable state tracking which agents currently hold
// an open channel.
//
// At most one Connection exists per agent_id at any time. Registering a
// second connection for an already-connected agent closes and evicts the
// first ("replace-on-reconnect") rather than rejecting the new one.
package registry

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/morioust/clawcierge/internal/logger"
)

// replacedCloseMessage is sent to an evicted connection before it is closed.
var replacedCloseMessage = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Replaced by new connection")

// Connection wraps a single agent's WebSocket with the bookkeeping the
// registry and the channel handler need to share safely.
type Connection struct {
	AgentID string
	Conn    *websocket.Conn

	// Send is a buffered channel of outbound frames; the channel handler's
	// writePump is the sole reader and sole writer to Conn, preserving
	// single-writer-per-socket discipline.
	Send chan []byte

	mu            sync.RWMutex
	lastHeartbeat time.Time
}

// NewConnection wraps conn for agentID with a buffered send channel.
func NewConnection(agentID string, conn *websocket.Conn) *Connection {
	return &Connection{
		AgentID:       agentID,
		Conn:          conn,
		Send:          make(chan []byte, 64),
		lastHeartbeat: time.Now(),
	}
}

// Touch records a heartbeat at now.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

// LastHeartbeat returns the time of the most recent heartbeat.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeat
}

// Registry is the in-memory map of agent_id -> Connection. It is the only
// process-wide mutable state in the system; everything else durable lives
// in the persistent store.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{connections: make(map[string]*Connection)}
}

// Register installs conn as the agent's active connection. If the agent
// already has one, the old connection is sent a close frame and closed
// before being evicted — the new connection always wins.
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	existing, ok := r.connections[conn.AgentID]
	r.connections[conn.AgentID] = conn
	r.mu.Unlock()

	if ok {
		logger.Channel().Info().Str("agent_id", conn.AgentID).Msg("replacing existing connection")
		_ = existing.Conn.WriteControl(websocket.CloseMessage, replacedCloseMessage, time.Now().Add(time.Second))
		existing.Conn.Close()
	}
}

// Remove evicts the agent's connection if conn is still the one on file.
// Passing the specific Connection pointer avoids a race where a newer
// connection's teardown accidentally removes itself.
func (r *Registry) Remove(agentID string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.connections[agentID]; ok && current == conn {
		delete(r.connections, agentID)
	}
}

// Get returns the agent's current connection, or nil if not connected.
func (r *Registry) Get(agentID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connections[agentID]
}

// IsConnected reports whether the agent currently has an open connection.
func (r *Registry) IsConnected(agentID string) bool {
	return r.Get(agentID) != nil
}

// Send enqueues message on the agent's connection. Returns false if the
// agent is not connected or its send buffer is full (a stalled or dead
// peer). On a full buffer Send itself evicts the entry and closes the
// socket; callers treat either false case as "not connected".
func (r *Registry) Send(agentID string, message []byte) bool {
	conn := r.Get(agentID)
	if conn == nil {
		return false
	}

	select {
	case conn.Send <- message:
		return true
	default:
		logger.Channel().Warn().Str("agent_id", agentID).Msg("send buffer full, evicting connection")
		r.Remove(agentID, conn)
		conn.Conn.Close()
		return false
	}
}

// Disconnect forcibly closes the agent's current connection, if any. Used
// by the operator-only admin surface when an agent is deleted.
func (r *Registry) Disconnect(agentID string) {
	conn := r.Get(agentID)
	if conn == nil {
		return
	}
	r.Remove(agentID, conn)
	_ = conn.Conn.WriteControl(websocket.CloseMessage, replacedCloseMessage, time.Now().Add(time.Second))
	conn.Conn.Close()
}

// UpdateHeartbeat records a heartbeat for the agent's current connection.
// No-op if the agent is not connected.
func (r *Registry) UpdateHeartbeat(agentID string) {
	if conn := r.Get(agentID); conn != nil {
		conn.Touch()
	}
}

// Count returns the number of currently registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
