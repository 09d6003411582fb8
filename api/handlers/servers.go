package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/fleet-autoscaler/pkg/config"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
	"github.com/OldStager01/fleet-autoscaler/pkg/validation"
)

type ServerHandler struct {
	fleet       FleetManager
	timeout     time.Duration
	maxLogLines int
}

func NewServerHandler(fleet FleetManager, operationTimeout time.Duration, cfg *config.APIConfig) *ServerHandler {
	maxLines := 1000
	if cfg != nil && cfg.MaxLogLines > 0 {
		maxLines = cfg.MaxLogLines
	}
	return &ServerHandler{fleet: fleet, timeout: operationTimeout, maxLogLines: maxLines}
}

type HeartbeatRequest struct {
	Status        string   `json:"status" example:"RUNNING"`
	OnlinePlayers int      `json:"online_players" binding:"min=0" example:"12"`
	MaxPlayers    int      `json:"max_players" binding:"min=0" example:"50"`
	Players       []string `json:"players"`
}

// List godoc
// @Summary List servers
// @Description Every tracked server, optionally filtered by group and status
// @Tags Servers
// @Produce json
// @Security BearerAuth
// @Param group query string false "Group name"
// @Param status query string false "Server status"
// @Success 200 {object} map[string]interface{} "Servers"
// @Router /servers [get]
func (h *ServerHandler) List(c *gin.Context) {
	var servers []*models.ServerRecord
	if group := c.Query("group"); group != "" {
		var ok bool
		if servers, ok = h.fleet.ServersByGroup(group); !ok {
			groupNotFound(c)
			return
		}
	} else {
		servers = h.fleet.AllServers()
	}

	if status := models.ServerStatus(c.Query("status")); status != "" {
		filtered := servers[:0:0]
		for _, server := range servers {
			if server.Status() == status {
				filtered = append(filtered, server)
			}
		}
		servers = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"servers": servers,
		"count":   len(servers),
	})
}

// Get godoc
// @Summary Get server
// @Description Looks a server up by id, then by name
// @Tags Servers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Server id or name"
// @Success 200 {object} models.ServerRecord
// @Failure 404 {object} map[string]string "Server not found"
// @Router /servers/{id} [get]
func (h *ServerHandler) Get(c *gin.Context) {
	server, ok := h.resolve(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, server)
}

// Start godoc
// @Summary Start server
// @Tags Servers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Server id or name"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string "Server not found"
// @Router /servers/{id}/start [post]
func (h *ServerHandler) Start(c *gin.Context) {
	h.command(c, "started", h.fleet.StartServer)
}

// Stop godoc
// @Summary Stop server
// @Description Stops a server; it is not restarted automatically afterwards
// @Tags Servers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Server id or name"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string "Server not found"
// @Router /servers/{id}/stop [post]
func (h *ServerHandler) Stop(c *gin.Context) {
	h.command(c, "stopped", h.fleet.StopServer)
}

// Restart godoc
// @Summary Restart server
// @Tags Servers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Server id or name"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string "Server not found"
// @Router /servers/{id}/restart [post]
func (h *ServerHandler) Restart(c *gin.Context) {
	h.command(c, "restarted", h.fleet.RestartServer)
}

// Delete godoc
// @Summary Remove server
// @Description Deletes the server through the provider and stops tracking it
// @Tags Servers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Server id or name"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string "Server not found"
// @Router /servers/{id} [delete]
func (h *ServerHandler) Delete(c *gin.Context) {
	h.command(c, "removed", h.fleet.RemoveServer)
}

func (h *ServerHandler) command(c *gin.Context, done string, op func(context.Context, string) (bool, error)) {
	server, ok := h.resolve(c)
	if !ok {
		return
	}

	ctx, cancel := operationContext(c, h.timeout)
	defer cancel()

	found, err := op(ctx, server.ServerID)
	if !found {
		serverNotFound(c)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"server_id": server.ServerID,
		"name":      server.Name,
		"message":   "server " + server.Name + " " + done,
	})
}

// Logs godoc
// @Summary Server logs
// @Tags Servers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Server id or name"
// @Param lines query int false "Number of trailing lines"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string "Server not found"
// @Router /servers/{id}/logs [get]
func (h *ServerHandler) Logs(c *gin.Context) {
	server, ok := h.resolve(c)
	if !ok {
		return
	}

	lines := 100
	if v := c.Query("lines"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lines must be a non-negative integer"})
			return
		}
		lines = parsed
	}
	if lines == 0 || lines > h.maxLogLines {
		lines = h.maxLogLines
	}

	logs, found, err := h.fleet.ServerLogs(c.Request.Context(), server.ServerID, lines)
	if !found {
		serverNotFound(c)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"server_id": server.ServerID,
		"lines":     logs,
		"count":     len(logs),
	})
}

// Stats godoc
// @Summary Server resource usage
// @Tags Servers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Server id or name"
// @Success 200 {object} models.ServerStats
// @Failure 404 {object} map[string]string "Server not found"
// @Router /servers/{id}/stats [get]
func (h *ServerHandler) Stats(c *gin.Context) {
	server, ok := h.resolve(c)
	if !ok {
		return
	}

	stats, found, err := h.fleet.ServerStats(c.Request.Context(), server.ServerID)
	if !found {
		serverNotFound(c)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Heartbeat godoc
// @Summary Report server state
// @Description Called by the in-server agent with its status and player list
// @Tags Servers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Server id"
// @Param request body HeartbeatRequest true "Heartbeat"
// @Success 200 {object} models.ServerRecord
// @Failure 400 {object} map[string]string "Invalid heartbeat"
// @Failure 404 {object} map[string]string "Server not found"
// @Router /servers/{id}/heartbeat [post]
func (h *ServerHandler) Heartbeat(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateServerRef(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := models.ServerStatus(req.Status)
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(req.Status)})
		return
	}
	online := req.OnlinePlayers
	if len(req.Players) > online {
		online = len(req.Players)
	}

	server, ok := h.fleet.UpdateServerInfo(c.Request.Context(), id, models.ServerInfo{
		Status:            status,
		OnlinePlayers:     online,
		MaxPlayers:        req.MaxPlayers,
		OnlinePlayerNames: req.Players,
	})
	if !ok {
		serverNotFound(c)
		return
	}
	c.JSON(http.StatusOK, server)
}

// resolve finds the server named by the :id parameter, by id then by name,
// writing the error response itself when it fails.
func (h *ServerHandler) resolve(c *gin.Context) (*models.ServerRecord, bool) {
	ref := c.Param("id")
	if err := validation.ValidateServerRef(ref); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if server, ok := h.fleet.Server(ref); ok {
		return server, true
	}
	if server, ok := h.fleet.ServerByName(ref); ok {
		return server, true
	}
	serverNotFound(c)
	return nil, false
}

func serverNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
}
