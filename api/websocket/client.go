package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
)

type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	settings *WebSocketSettings
	group    string
	mu       sync.RWMutex
}

type IncomingMessage struct {
	Type  string `json:"type"`
	Group string `json:"group,omitempty"`
}

func NewClient(hub *Hub, conn *websocket.Conn, group string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, hub.settings.ClientBuffer),
		settings: hub.settings,
		group:    group,
	}
}

func (c *Client) Group() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.group
}

func (c *Client) wants(group string) bool {
	subscribed := c.Group()
	return subscribed == "" || group == "" || strings.EqualFold(subscribed, group)
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.settings.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.settings.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.settings.PongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Errorf("WebSocket error: %v", err)
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			c.handleMessage(&msg)
		}
	}
}

func (c *Client) WritePump() {
	writePump(c.conn, c.send, c.settings)
}

// writePump batches queued messages into one frame, one per line, and pings
// the peer until out is closed.
func writePump(conn *websocket.Conn, out <-chan []byte, settings *WebSocketSettings) {
	ticker := time.NewTicker(settings.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-out:
			conn.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(out)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-out)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg *IncomingMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.Group != "" {
			c.mu.Lock()
			c.group = msg.Group
			c.mu.Unlock()
			logger.WithGroup(msg.Group).Debug("WebSocket client subscribed")
			c.sendConfirmation("subscribed", msg.Group)
		}
	case "unsubscribe":
		c.mu.Lock()
		old := c.group
		c.group = ""
		c.mu.Unlock()
		c.sendConfirmation("unsubscribed", old)
	}
}

func (c *Client) sendConfirmation(action, group string) {
	msg := NewMessage(MessageTypeSubscription, group, gin.H{"action": action})
	select {
	case c.send <- msg.JSON():
	default:
		logger.Warn("Client send channel full, dropping confirmation")
	}
}

// ServeWebSocket upgrades the request and registers the client with hub.
// The optional group query parameter sets the initial subscription.
func ServeWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := hub.settings.upgrader()

	return func(c *gin.Context) {
		if hub.ClientCount() >= hub.settings.MaxConnections {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many websocket connections"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Errorf("WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(hub, conn, c.Query("group"))
		if !hub.Register(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
