package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/OldStager01/fleet-autoscaler/pkg/config"
)

// WebSocketSettings are the connection limits and timings shared by every
// socket the API serves.
type WebSocketSettings struct {
	MaxConnections  int
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	ClientBuffer    int
}

func NewWebSocketSettings(cfg *config.WebSocketConfig) *WebSocketSettings {
	s := &WebSocketSettings{
		MaxConnections:  1000,
		PingInterval:    54 * time.Second,
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		MaxMessageSize:  512,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		ClientBuffer:    256,
	}
	if cfg == nil {
		return s
	}
	if cfg.MaxConnections > 0 {
		s.MaxConnections = cfg.MaxConnections
	}
	if cfg.PongTimeout > 0 {
		s.PongTimeout = cfg.PongTimeout
	}
	if cfg.PingInterval > 0 {
		s.PingInterval = cfg.PingInterval
	}
	// Pings must arrive before the peer's read deadline expires.
	if s.PingInterval >= s.PongTimeout {
		s.PingInterval = s.PongTimeout * 9 / 10
	}
	if cfg.WriteTimeout > 0 {
		s.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.MaxMessageSize > 0 {
		s.MaxMessageSize = cfg.MaxMessageSize
	}
	if cfg.ReadBufferSize > 0 {
		s.ReadBufferSize = cfg.ReadBufferSize
	}
	if cfg.WriteBufferSize > 0 {
		s.WriteBufferSize = cfg.WriteBufferSize
	}
	if cfg.ClientBuffer > 0 {
		s.ClientBuffer = cfg.ClientBuffer
	}
	return s
}

func (s *WebSocketSettings) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  s.ReadBufferSize,
		WriteBufferSize: s.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}
