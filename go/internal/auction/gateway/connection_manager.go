package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/bidhouse/go/internal/auth"
	"github.com/rs/zerolog/log"
)

// MessageHandler processes inbound client messages. Calls for one connection
// are sequential.
type MessageHandler interface {
	HandleMessage(ctx context.Context, c *Connection, msg InboundMessage)
}

// ConnectionManager manages WebSocket connections and their room subscriptions
type ConnectionManager struct {
	connections map[*Connection]bool
	rooms       map[string]map[*Connection]bool
	mu          sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Single FIFO queue so every subscriber sees events in enqueue order
	broadcastCh chan BroadcastMessage

	handler MessageHandler
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID        string
	Principal auth.Principal
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	rooms map[string]bool

	// Connection metadata
	ConnectedAt time.Time
	LastPing    time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is one queued delivery. Exactly one of Room or Target is set.
type BroadcastMessage struct {
	Room    string
	Target  *Connection
	Exclude *Connection
	Event   *Event
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		BroadcastBuffer: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, handler MessageHandler) *ConnectionManager {
	def := DefaultConnectionConfig()
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = def.SendBufferSize
	}
	if config.BroadcastBuffer <= 0 {
		config.BroadcastBuffer = def.BroadcastBuffer
	}
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		rooms:       make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, config.BroadcastBuffer),
		handler:     handler,
	}
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an authenticated HTTP request to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, principal auth.Principal) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := &Connection{
		ID:          uuid.New().String(),
		Principal:   principal,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		rooms:       make(map[string]bool),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Int64("user_id", principal.UserID).
		Str("role", string(principal.Role)).
		Msg("WebSocket connection established")

	return connection, nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn] = true
}

// unregisterConnection removes a connection and all its subscriptions
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.connections[conn] {
		return
	}
	delete(cm.connections, conn)
	for room := range conn.rooms {
		cm.leaveLocked(conn, room)
	}
	close(conn.Send)
	conn.cancel()

	log.Info().
		Str("connection_id", conn.ID).
		Int64("user_id", conn.Principal.UserID).
		Msg("connection unregistered")
}

// Join subscribes a connection to a room.
func (cm *ConnectionManager) Join(conn *Connection, room string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.connections[conn] {
		return
	}
	if cm.rooms[room] == nil {
		cm.rooms[room] = make(map[*Connection]bool)
	}
	cm.rooms[room][conn] = true
	conn.rooms[room] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room", room).
		Int("members", len(cm.rooms[room])).
		Msg("joined room")
}

// Leave unsubscribes a connection from a room.
func (cm *ConnectionManager) Leave(conn *Connection, room string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.leaveLocked(conn, room)
}

func (cm *ConnectionManager) leaveLocked(conn *Connection, room string) {
	delete(conn.rooms, room)
	if members, ok := cm.rooms[room]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(cm.rooms, room)
		}
	}
}

// InRoom reports whether the connection is subscribed to room.
func (cm *ConnectionManager) InRoom(conn *Connection, room string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return conn.rooms[room]
}

// BroadcastToRoom queues an event for every member of room.
func (cm *ConnectionManager) BroadcastToRoom(room string, event *Event) {
	cm.enqueue(BroadcastMessage{Room: room, Event: event})
}

// BroadcastToRoomExcept queues an event for every member of room but one.
func (cm *ConnectionManager) BroadcastToRoomExcept(room string, exclude *Connection, event *Event) {
	cm.enqueue(BroadcastMessage{Room: room, Exclude: exclude, Event: event})
}

// SendTo queues an event for a single connection, ordered with room broadcasts.
func (cm *ConnectionManager) SendTo(conn *Connection, event *Event) {
	cm.enqueue(BroadcastMessage{Target: conn, Event: event})
}

func (cm *ConnectionManager) enqueue(msg BroadcastMessage) {
	select {
	case cm.broadcastCh <- msg:
	default:
		log.Warn().
			Str("room", msg.Room).
			Str("event_type", string(msg.Event.Type)).
			Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	var targets []*Connection

	cm.mu.RLock()
	if message.Target != nil {
		if cm.connections[message.Target] {
			targets = append(targets, message.Target)
		}
	} else {
		for conn := range cm.rooms[message.Room] {
			if conn != message.Exclude {
				targets = append(targets, conn)
			}
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	// Marshal the event once
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		cm.deliver(conn, eventData)
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room", message.Room).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// deliver never blocks; a connection whose buffer is full is closed.
func (cm *ConnectionManager) deliver(conn *Connection, data []byte) {
	cm.mu.RLock()
	alive := cm.connections[conn]
	if alive {
		select {
		case conn.Send <- data:
			cm.mu.RUnlock()
			return
		default:
		}
	}
	cm.mu.RUnlock()

	if alive {
		log.Warn().
			Str("connection_id", conn.ID).
			Int64("user_id", conn.Principal.UserID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		cm.unregisterConnection(c)
		c.Conn.Close()
	}
}

// ConnectionStats is a snapshot of connection counts
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections: len(cm.connections),
		ActiveRooms:      len(cm.rooms),
		RoomConnections:  make(map[string]int, len(cm.rooms)),
	}
	for room, members := range cm.rooms {
		stats.RoomConnections[room] = len(members)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
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
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads client messages and hands them to the message handler
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
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

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage decodes the envelope and dispatches it
func (c *Connection) handleClientMessage(message []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.Type == "" {
		log.Debug().
			Str("connection_id", c.ID).
			Int64("user_id", c.Principal.UserID).
			Msg("received malformed client message")
		if ev, err := NewEvent(EventError, ErrorPayload{Message: "Invalid message format", Kind: "ValidationError"}); err == nil {
			c.Manager.SendTo(c, ev)
		}
		return
	}
	if c.Manager.handler != nil {
		c.Manager.handler.HandleMessage(c.ctx, c, msg)
	}
}
