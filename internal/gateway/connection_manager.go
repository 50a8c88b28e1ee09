package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MessageHandler is invoked for every inbound client message, on the
// connection's read goroutine. DisconnectHandler runs once when a
// connection's read loop ends for any reason.
type MessageHandler func(conn *Connection, message []byte)
type DisconnectHandler func(conn *Connection)

// ConnectionManager owns every live WebSocket connection, grouped into
// per-room pools for snapshot fan-out.
type ConnectionManager struct {
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	onMessage    MessageHandler
	onDisconnect DisconnectHandler

	broadcastCh chan broadcastMessage
}

// Connection represents one client's WebSocket connection. RoomID is
// the room this connection has joined, or empty; it is only touched
// from the connection's own read goroutine.
type Connection struct {
	ID      string
	RoomID  string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	roomID string
	data   []byte
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a WebSocket connection manager. The
// handlers route inbound traffic and disconnects to the room engine.
func NewConnectionManager(config ConnectionConfig, onMessage MessageHandler, onDisconnect DisconnectHandler) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:       config,
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
		broadcastCh:  make(chan broadcastMessage, 1000),
	}
}

// Start drains the broadcast channel until the context is cancelled.
// A single drain loop keeps fan-out fully serialized, so snapshots
// reach a room's members in the order their mutations were applied.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection
// and starts its read and write pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return err
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Msg("WebSocket connection established")

	return nil
}

// JoinRoom moves a connection into a room's fan-out pool. A connection
// belongs to at most one pool, so any previous membership is dropped
// first.
func (cm *ConnectionManager) JoinRoom(conn *Connection, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn.RoomID != "" && conn.RoomID != roomID {
		cm.removeFromPoolLocked(conn, conn.RoomID)
	}
	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", roomID).
		Int("total_connections", len(cm.roomConnections[roomID])).
		Msg("connection joined room pool")
}

// LeaveRoom removes a connection from its room's fan-out pool.
func (cm *ConnectionManager) LeaveRoom(conn *Connection, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.removeFromPoolLocked(conn, roomID)
}

func (cm *ConnectionManager) removeFromPoolLocked(conn *Connection, roomID string) {
	if connections, exists := cm.roomConnections[roomID]; exists {
		delete(connections, conn)
		if len(connections) == 0 {
			delete(cm.roomConnections, roomID)
		}
	}
}

// Broadcast enqueues already-marshaled bytes for fan-out to every
// member of a room. Callers marshal the snapshot at mutation time, so
// a broadcast can never leak state from a later mutation.
func (cm *ConnectionManager) Broadcast(roomID string, data []byte) {
	select {
	case cm.broadcastCh <- broadcastMessage{roomID: roomID, data: data}:
	default:
		log.Warn().Str("room_id", roomID).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.roomID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot the pool so the lock is not held while sending
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- message.data:
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("room_id", message.roomID).
				Msg("connection send buffer full, closing connection")
			cm.LeaveRoom(conn, message.roomID)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("room_id", message.roomID).
		Int("connections", len(targets)).
		Msg("room snapshot broadcasted")
}

// Stats returns statistics about active connections per room.
func (cm *ConnectionManager) Stats() (total int, roomCounts map[string]int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	roomCounts = make(map[string]int)
	for roomID, connections := range cm.roomConnections {
		roomCounts[roomID] = len(connections)
		total += len(connections)
	}
	return total, roomCounts
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection and
// routes them to the message handler. When the loop ends the
// disconnect handler runs exactly once.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.onDisconnect(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.Manager.onMessage(c, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
