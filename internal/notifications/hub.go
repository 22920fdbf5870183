package notifications

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	sendBufferSize = 16
)

// client is one open websocket connection. All writes to the conn happen in
// its writePump goroutine; everyone else hands messages over the send channel.
type client struct {
	conn *websocket.Conn
	send chan *Notification
}

// Hub tracks open websocket connections per user and fans notifications out
// to them. Delivery is best effort; the database row is the durable copy.
type Hub struct {
	mu       sync.RWMutex
	clients  map[uuid.UUID]map[*client]bool
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy is enforced by the CORS middleware upstream
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Subscribe upgrades the request and keeps the connection registered until
// the peer goes away.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, userID uuid.UUID) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{conn: conn, send: make(chan *Notification, sendBufferSize)}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]bool)
	}
	h.clients[userID][c] = true
	h.mu.Unlock()

	h.logger.Debug("websocket subscribed", zap.String("user_id", userID.String()))
	go h.writePump(userID, c)
	go h.readPump(userID, c)
	return nil
}

// writePump owns the write side of the conn: outbound notifications and
// keepalive pings both go through here, never concurrently.
func (h *Hub) writePump(userID uuid.UUID, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(userID, c)
	}()

	for {
		select {
		case notification, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(notification); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the conn so pongs and close frames are processed; the first
// read error unregisters the client.
func (h *Hub) readPump(userID uuid.UUID, c *client) {
	defer h.drop(userID, c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// drop unregisters the client and closes its send channel exactly once. Both
// pumps call it on exit, so it has to tolerate the second call.
func (h *Hub) drop(userID uuid.UUID, c *client) {
	h.mu.Lock()
	if conns := h.clients[userID]; conns != nil && conns[c] {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, userID)
		}
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Push hands the notification to every open connection for the user. A client
// whose buffer is full misses this one; the persisted row is authoritative.
func (h *Hub) Push(userID uuid.UUID, notification *Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- notification:
		default:
		}
	}
}
