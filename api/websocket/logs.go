package websocket

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/internal/provider"
)

const defaultLogTail = 100

// LogStreamer reads and follows the console output of a server.
type LogStreamer interface {
	ServerLogs(ctx context.Context, serverID string, lines int) ([]string, bool, error)
	StreamServerLogs(ctx context.Context, serverID string, handler provider.LogHandler) (string, bool)
	StopLogStream(subscriptionID string) bool
}

// ServeLogStream follows the log of the server named by the id path
// parameter. The last ?tail lines are sent first, then every new line as it
// is written. Lines are dropped while the client is too slow to keep up.
func ServeLogStream(streamer LogStreamer, settings *WebSocketSettings) gin.HandlerFunc {
	upgrader := settings.upgrader()

	return func(c *gin.Context) {
		serverID := c.Param("id")
		tail := defaultLogTail
		if raw := c.Query("tail"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tail"})
				return
			}
			tail = n
		}

		var backlog []string
		if tail > 0 {
			lines, ok, err := streamer.ServerLogs(c.Request.Context(), serverID, tail)
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			backlog = lines
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Errorf("WebSocket upgrade failed: %v", err)
			return
		}

		out := make(chan []byte, settings.ClientBuffer+len(backlog))
		for _, line := range backlog {
			out <- logMessage(serverID, line)
		}

		ctx, cancel := context.WithCancel(context.Background())
		subID, ok := streamer.StreamServerLogs(ctx, serverID, func(line string) {
			select {
			case out <- logMessage(serverID, line):
			default:
			}
		})
		if !ok {
			cancel()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server not found"))
			conn.Close()
			return
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			discardReads(conn, settings)
		}()
		go func() {
			defer func() {
				streamer.StopLogStream(subID)
				cancel()
			}()
			followLogs(conn, out, done, settings)
		}()

		logger.WithField("server_id", serverID).Debug("Log stream opened")
	}
}

func logMessage(serverID, line string) []byte {
	msg := NewMessage(MessageTypeLog, "", nil)
	msg.ServerID = serverID
	msg.Message = line
	return msg.JSON()
}

// discardReads keeps the read deadline fresh until the peer goes away.
func discardReads(conn *websocket.Conn, settings *WebSocketSettings) {
	conn.SetReadLimit(settings.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(settings.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(settings.PongTimeout))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func followLogs(conn *websocket.Conn, out <-chan []byte, done <-chan struct{}, settings *WebSocketSettings) {
	ticker := time.NewTicker(settings.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case message := <-out:
			conn.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
