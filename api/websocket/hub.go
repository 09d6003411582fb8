package websocket

import (
	"sync"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/config"
)

const defaultBroadcastBuffer = 256

type groupMessage struct {
	group string
	data  []byte
}

// Hub fans event messages out to connected clients. A client receives the
// messages of the group it subscribed to, or of every group while it has no
// subscription.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan groupMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	settings   *WebSocketSettings
}

func NewHub(cfg *config.WebSocketConfig) *Hub {
	broadcastBuffer := defaultBroadcastBuffer
	if cfg != nil && cfg.BroadcastBuffer > 0 {
		broadcastBuffer = cfg.BroadcastBuffer
	}

	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan groupMessage, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		settings:   NewWebSocketSettings(cfg),
	}
}

func (h *Hub) Settings() *WebSocketSettings {
	return h.settings
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			logger.Infof("WebSocket client connected (total: %d)", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logger.Infof("WebSocket client disconnected (total: %d)", total)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// deliver drops clients whose buffer is full.
func (h *Hub) deliver(msg groupMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.wants(msg.group) {
			continue
		}
		select {
		case client.send <- msg.data:
		default:
			delete(h.clients, client)
			close(client.send)
			logger.Warn("WebSocket client too slow, disconnecting")
		}
	}
}

// Stop disconnects every client and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues message for every client.
func (h *Hub) Broadcast(message []byte) {
	h.BroadcastToGroup("", message)
}

// BroadcastToGroup queues message for the clients following group. An empty
// group reaches every client.
func (h *Hub) BroadcastToGroup(group string, message []byte) {
	select {
	case h.broadcast <- groupMessage{group: group, data: message}:
	default:
		logger.Warn("Broadcast channel full, dropping message")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds client unless the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
