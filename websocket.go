// websocket.go
package calendarassistant

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// =====================
// WS configuration
// =====================

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// In production: restrict origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// =====================
// WS Manager & Client
// =====================

// WSClient is one active WebSocket connection of a user.
type WSClient struct {
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
	userID  int64
}

// WSManager keeps active connections grouped by user.
type WSManager struct {
	conns      map[int64]map[*WSClient]bool
	mux        sync.RWMutex
	register   chan *WSClient
	unregister chan *WSClient
	closed     chan struct{}
	log        *slog.Logger
}

var _ NotificationPusher = (*WSManager)(nil)

func NewWSManager() *WSManager {
	return &WSManager{
		conns:      make(map[int64]map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		closed:     make(chan struct{}),
		log:        ComponentLogger("ws"),
	}
}

func (m *WSManager) Run() {
	for {
		select {
		case c := <-m.register:
			m.mux.Lock()
			if _, ok := m.conns[c.userID]; !ok {
				m.conns[c.userID] = make(map[*WSClient]bool)
			}
			m.conns[c.userID][c] = true
			m.mux.Unlock()
			m.log.Debug("ws_connected", "user_id", c.userID)
		case c := <-m.unregister:
			m.mux.Lock()
			if set, ok := m.conns[c.userID]; ok {
				if _, exists := set[c]; exists {
					delete(set, c)
					close(c.send)
					if len(set) == 0 {
						delete(m.conns, c.userID)
					}
				}
			}
			m.mux.Unlock()
			m.log.Debug("ws_disconnected", "user_id", c.userID)
		case <-m.closed:
			m.mux.Lock()
			for _, set := range m.conns {
				for cl := range set {
					cl.conn.Close()
					close(cl.send)
				}
			}
			m.conns = make(map[int64]map[*WSClient]bool)
			m.mux.Unlock()
			return
		}
	}
}

func (m *WSManager) Stop() { close(m.closed) }

// =====================
// Push helpers
// =====================

// PushToUser fans a message out to every open connection of the user.
func (m *WSManager) PushToUser(userID int64, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.log.Warn("ws_marshal_error", "err", err)
		return
	}

	m.mux.RLock()
	defer m.mux.RUnlock()

	if set, ok := m.conns[userID]; ok {
		for c := range set {
			select {
			case c.send <- data:
			default:
				// channel full -> disconnect
				go func(cl *WSClient) {
					m.unregister <- cl
					cl.conn.Close()
				}(c)
			}
		}
	}
}

// =====================
// Pumps
// =====================

func (c *WSClient) readPump() {
	defer func() {
		c.manager.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break // close on error or disconnect
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(msg)

			// coalesce pending messages
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
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

// =====================
// ServeWS
// =====================

// ServeWS resolves the user from the telegram_user_id query param,
// registers the connection and flushes unread notifications.
func ServeWS(users UserRepository, notifications NotificationRepository, manager *WSManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("telegram_user_id")
		telegramID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || telegramID == 0 {
			http.Error(w, "missing telegram_user_id", http.StatusBadRequest)
			return
		}

		user, err := users.GetUserByTelegramID(telegramID)
		if err != nil {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			manager.log.Warn("ws_upgrade_error", "err", err)
			return
		}

		client := &WSClient{
			manager: manager,
			conn:    conn,
			send:    make(chan []byte, 256),
			userID:  user.ID,
		}
		manager.register <- client

		go client.writePump()
		go client.readPump()

		// Flush unread notifications on connect.
		notes, err := notifications.GetUnreadNotifications(user.ID)
		if err == nil {
			for _, n := range notes {
				manager.PushToUser(user.ID, map[string]any{
					"id":      n.ID,
					"type":    n.Type,
					"payload": n.Payload,
					"created": n.CreatedAt,
				})
			}
		}
	}
}
