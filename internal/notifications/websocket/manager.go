package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 64

	MessageTypePresence = "presence"
	MessageTypeStatus   = "status"
)

var (
	ErrUserNotConnected = errors.New("user not connected")
	ErrManagerClosed    = errors.New("websocket manager closed")
)

// Message is the JSON frame exchanged with clients
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Target    string                 `json:"target,omitempty"`
}

// Manager handles WebSocket connections and message routing
type Manager struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
	count    atomic.Int64
	once     sync.Once
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID           string
	UserID       string
	Conn         *websocket.Conn
	Send         chan Message
	ConnectedAt  time.Time
	LastActivity time.Time
	UserAgent    string
	IPAddress    string
	mu           sync.Mutex
}

type delivery struct {
	userID string
	conn   *Connection
	msg    Message
	result chan int
}

// Hub owns the connection set; only its goroutine mutates it or closes Send channels
type Hub struct {
	connections map[*Connection]bool
	deliver     chan delivery
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
	done        chan struct{}
}

// NewManager creates a new WebSocket manager and starts its hub
func NewManager(logger *zap.Logger, allowedOrigins []string) *Manager {
	hub := &Hub{
		connections: make(map[*Connection]bool),
		deliver:     make(chan delivery, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	m := &Manager{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
	go m.run()
	return m
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// HandleConnection upgrades the request and binds the socket to an authenticated user
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:           uuid.New().String(),
		UserID:       userID,
		Conn:         conn,
		Send:         make(chan Message, sendBuffer),
		ConnectedAt:  now,
		LastActivity: now,
		UserAgent:    r.Header.Get("User-Agent"),
		IPAddress:    r.RemoteAddr,
	}

	select {
	case m.hub.register <- connection:
	case <-m.hub.done:
		conn.Close()
		return nil, ErrManagerClosed
	}

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// readPump reads client frames until the socket fails
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		select {
		case m.hub.unregister <- conn:
		case <-m.hub.done:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(maxMessageSize)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("WebSocket read failed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}

		conn.mu.Lock()
		conn.LastActivity = time.Now()
		conn.mu.Unlock()

		m.handleMessage(conn, &msg)
	}
}

// writePump writes queued messages and keeps the socket alive with pings
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) handleMessage(conn *Connection, msg *Message) {
	switch msg.Type {
	case MessageTypePresence:
		m.enqueue(delivery{conn: conn, msg: Message{
			Type:      MessageTypeStatus,
			Data:      map[string]interface{}{"status": "connected", "connection_id": conn.ID},
			Timestamp: time.Now(),
			Target:    conn.UserID,
		}})
	default:
		m.logger.Debug("Ignoring client message", zap.String("type", msg.Type))
	}
}

func (m *Manager) enqueue(d delivery) bool {
	select {
	case m.hub.deliver <- d:
		return true
	case <-m.hub.done:
		return false
	}
}

func (m *Manager) run() {
	h := m.hub
	defer close(h.done)
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true
			m.count.Add(1)
			m.logger.Debug("Connection registered", zap.String("connection_id", conn.ID), zap.String("user_id", conn.UserID))

		case conn := <-h.unregister:
			m.drop(conn)

		case d := <-h.deliver:
			sent := 0
			for conn := range h.connections {
				if (d.conn != nil && conn != d.conn) || (d.conn == nil && conn.UserID != d.userID) {
					continue
				}
				select {
				case conn.Send <- d.msg:
					sent++
				default:
					// slow consumer
					m.drop(conn)
				}
			}
			if d.result != nil {
				d.result <- sent
			}

		case <-h.stop:
			for conn := range h.connections {
				m.drop(conn)
			}
			return
		}
	}
}

func (m *Manager) drop(conn *Connection) {
	if _, ok := m.hub.connections[conn]; !ok {
		return
	}
	delete(m.hub.connections, conn)
	close(conn.Send)
	m.count.Add(-1)
	m.logger.Debug("Connection unregistered", zap.String("connection_id", conn.ID), zap.String("user_id", conn.UserID))
}

// SendToUser queues a message on every connection of the user and reports how many received it
func (m *Manager) SendToUser(userID string, message Message) (int, error) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	message.Target = userID

	d := delivery{userID: userID, msg: message, result: make(chan int, 1)}
	if !m.enqueue(d) {
		return 0, ErrManagerClosed
	}
	select {
	case n := <-d.result:
		if n == 0 {
			return 0, ErrUserNotConnected
		}
		return n, nil
	case <-m.hub.done:
		return 0, ErrManagerClosed
	}
}

// GetConnectionCount returns the number of active connections
func (m *Manager) GetConnectionCount() int {
	return int(m.count.Load())
}

// Close closes all connections and stops the hub
func (m *Manager) Close() {
	m.once.Do(func() {
		close(m.hub.stop)
		<-m.hub.done
	})
}
