package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
	"carbon-scribe/marketplace/marketplace-backend/internal/notifications"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Message is the frame written to clients
type Message struct {
	Type      string               `json:"type"`
	Event     *notifications.Event `json:"event,omitempty"`
	Data      map[string]any       `json:"data,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// clientMessage is what clients may send: project subscriptions
type clientMessage struct {
	Type       string   `json:"type"`
	ProjectIDs []string `json:"projectIds"`
}

// ProjectAccess reports whether actor may follow every order event of a project
type ProjectAccess func(ctx context.Context, actor auth.Actor, projectID string) bool

// Connection is one live client
type Connection struct {
	ID         string
	Actor      auth.Actor
	conn       *websocket.Conn
	send       chan Message
	mu         sync.Mutex
	projectIDs map[string]bool
	closeOnce  sync.Once
}

func (c *Connection) subscribed(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectIDs[projectID]
}

func (c *Connection) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Manager tracks live order-event connections and implements notifications.Notifier
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	access      ProjectAccess
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// NewManager creates a new WebSocket manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		connections: make(map[string]*Connection),
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (m *Manager) Name() string { return "websocket" }

// SetProjectAccess installs the check for project subscriptions. Until one is
// set only admins may subscribe.
func (m *Manager) SetProjectAccess(access ProjectAccess) {
	m.mu.Lock()
	m.access = access
	m.mu.Unlock()
}

// RegisterRoutes registers the live event endpoint on an authenticated group
func (m *Manager) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws/orders", m.serve)
}

func (m *Manager) serve(c *gin.Context) {
	if _, err := m.HandleConnection(c.Writer, c.Request, auth.ActorFrom(c)); err != nil {
		m.logger.Warn("WebSocket upgrade failed", zap.Error(err))
	}
}

// HandleConnection upgrades the request and starts the read and write pumps
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, actor auth.Actor) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:         uuid.New().String(),
		Actor:      actor,
		conn:       conn,
		send:       make(chan Message, sendBuffer),
		projectIDs: make(map[string]bool),
	}

	m.mu.Lock()
	m.connections[connection.ID] = connection
	m.mu.Unlock()

	connection.send <- Message{
		Type:      "connected",
		Data:      map[string]any{"connectionId": connection.ID},
		Timestamp: time.Now().UTC(),
	}

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

func (m *Manager) unregister(conn *Connection) {
	m.mu.Lock()
	if _, ok := m.connections[conn.ID]; ok {
		delete(m.connections, conn.ID)
		conn.close()
	}
	m.mu.Unlock()
}

func (m *Manager) readPump(conn *Connection) {
	defer func() {
		m.unregister(conn)
		conn.conn.Close()
	}()

	conn.conn.SetReadLimit(4096)
	conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("WebSocket closed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}
		if msg.Type == "subscribe" {
			m.subscribe(conn, msg.ProjectIDs)
		}
	}
}

func (m *Manager) subscribe(conn *Connection, projectIDs []string) {
	m.mu.RLock()
	access := m.access
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	var denied []string
	for _, id := range projectIDs {
		if conn.Actor.IsPrivileged() || (access != nil && access(ctx, conn.Actor, id)) {
			conn.mu.Lock()
			conn.projectIDs[id] = true
			conn.mu.Unlock()
			continue
		}
		denied = append(denied, id)
	}
	if len(denied) == 0 {
		return
	}
	m.logger.Debug("Project subscription denied",
		zap.String("connection_id", conn.ID),
		zap.String("user_id", conn.Actor.UserID),
		zap.Strings("project_ids", denied),
	)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.connections[conn.ID]; !ok {
		return
	}
	select {
	case conn.send <- Message{
		Type:      "subscription_denied",
		Data:      map[string]any{"projectIds": denied},
		Timestamp: time.Now().UTC(),
	}:
	default:
	}
}

func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Notify delivers the event to admins, listed recipients and project subscribers.
// Slow consumers are skipped rather than blocking the publisher.
func (m *Manager) Notify(_ context.Context, event notifications.Event) error {
	recipients := make(map[string]bool, len(event.Recipients))
	for _, r := range event.Recipients {
		recipients[r] = true
	}
	msg := Message{Type: "event", Event: &event, Timestamp: time.Now().UTC()}

	m.mu.RLock()
	defer m.mu.RUnlock()

	dropped := 0
	for _, conn := range m.connections {
		if !conn.Actor.IsPrivileged() && !recipients[conn.Actor.UserID] &&
			(event.ProjectID == "" || !conn.subscribed(event.ProjectID)) {
			continue
		}
		select {
		case conn.send <- msg:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%d connection buffers full", dropped)
	}
	return nil
}

// ConnectionCount returns the number of live connections
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Close disconnects every client
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.connections {
		conn.close()
		conn.conn.Close()
		delete(m.connections, id)
	}
}
