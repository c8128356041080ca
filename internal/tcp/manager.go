package tcp

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionInfo is a read-only view of one live connection.
type ConnectionInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	StartedAt  time.Time `json:"started_at"`
}

type ConnectionManager struct {
	clients map[string]*Connection
	// map of every connection currently running a script
	// key: connection ID, value: Connection pointer
	mu       sync.RWMutex // guards clients and peak
	peak     int          // highest len(clients) seen so far
	accepted atomic.Int64 // total connections ever registered
	logger   *slog.Logger // structured logger, tagged by the server
}

func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		clients: make(map[string]*Connection),
		logger:  logger,
	}
}

// AddConnection registers a freshly accepted connection.
func (m *ConnectionManager) AddConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c // add the new connection to the map by its ID
	if len(m.clients) > m.peak {
		m.peak = len(m.clients)
	}
	m.accepted.Add(1)
	m.logger.Info("connection_added",
		"connection_id", c.ID,
		"remote_addr", c.RemoteAddr(),
		"active", len(m.clients),
	)
}

// RemoveConnection unregisters a finished connection.
func (m *ConnectionManager) RemoveConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, c.ID) // remove the connection from the map by its ID
	m.logger.Info("connection_removed",
		"connection_id", c.ID,
		"active", len(m.clients),
	)
}

// CloseAllConnections force-closes every registered socket. The connection
// goroutines notice on their next read or write and unregister themselves.
func (m *ConnectionManager) CloseAllConnections() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, c := range m.clients {
		c.Close() // removal happens in the connection goroutine
		m.logger.Warn("connection_force_closed", "connection_id", id)
	}
}

// ActiveCount returns the number of registered connections.
func (m *ConnectionManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Peak returns the highest number of simultaneously registered connections.
func (m *ConnectionManager) Peak() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peak
}

// Accepted returns how many connections were registered in total.
func (m *ConnectionManager) Accepted() int64 {
	return m.accepted.Load()
}

// Snapshot lists live connections, oldest first.
func (m *ConnectionManager) Snapshot() []ConnectionInfo {
	m.mu.RLock()
	infos := make([]ConnectionInfo, 0, len(m.clients))
	for _, c := range m.clients {
		infos = append(infos, ConnectionInfo{ID: c.ID, RemoteAddr: c.RemoteAddr(), StartedAt: c.StartedAt})
	}
	m.mu.RUnlock() // sort outside the lock

	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}
