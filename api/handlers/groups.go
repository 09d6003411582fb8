package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/fleet-autoscaler/internal/scaler"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

type GroupHandler struct {
	fleet   FleetManager
	timeout time.Duration
}

func NewGroupHandler(fleet FleetManager, operationTimeout time.Duration) *GroupHandler {
	return &GroupHandler{fleet: fleet, timeout: operationTimeout}
}

type GroupResponse struct {
	Config *models.GroupConfig `json:"config"`
	Status models.GroupStatus  `json:"status"`
}

type ScaleResponse struct {
	Group   string               `json:"group"`
	Action  models.ScalingAction `json:"action"`
	Server  *models.ServerRecord `json:"server"`
	Message string               `json:"message"`
}

// List godoc
// @Summary List groups
// @Description Status of every scaling group in check order
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "Groups"
// @Router /groups [get]
func (h *GroupHandler) List(c *gin.Context) {
	statuses := h.fleet.Statuses()
	c.JSON(http.StatusOK, gin.H{
		"groups": statuses,
		"count":  len(statuses),
	})
}

// Get godoc
// @Summary Get group
// @Description Configuration and status of one group, looked up by name or display name
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param name path string true "Group name"
// @Success 200 {object} GroupResponse
// @Failure 404 {object} map[string]string "Group not found"
// @Router /groups/{name} [get]
func (h *GroupHandler) Get(c *gin.Context) {
	group, ok := h.fleet.GroupConfig(c.Param("name"))
	if !ok {
		groupNotFound(c)
		return
	}
	status, ok := h.fleet.Status(group.Name)
	if !ok {
		groupNotFound(c)
		return
	}
	c.JSON(http.StatusOK, GroupResponse{Config: group, Status: status})
}

// GetStatus godoc
// @Summary Get group status
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param name path string true "Group name"
// @Success 200 {object} models.GroupStatus
// @Failure 404 {object} map[string]string "Group not found"
// @Router /groups/{name}/status [get]
func (h *GroupHandler) GetStatus(c *gin.Context) {
	status, ok := h.fleet.Status(c.Param("name"))
	if !ok {
		groupNotFound(c)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Servers godoc
// @Summary List group servers
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param name path string true "Group name"
// @Success 200 {object} map[string]interface{} "Servers"
// @Failure 404 {object} map[string]string "Group not found"
// @Router /groups/{name}/servers [get]
func (h *GroupHandler) Servers(c *gin.Context) {
	servers, ok := h.fleet.ServersByGroup(c.Param("name"))
	if !ok {
		groupNotFound(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"servers": servers,
		"count":   len(servers),
	})
}

// Upscale godoc
// @Summary Add a manual server
// @Description Creates one manually-scaled server, ignoring pause, cooldown and the max bound
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param name path string true "Group name"
// @Success 201 {object} ScaleResponse
// @Failure 404 {object} map[string]string "Group not found"
// @Failure 500 {object} map[string]string "Provisioning failed"
// @Router /groups/{name}/upscale [post]
func (h *GroupHandler) Upscale(c *gin.Context) {
	h.scaleUp(c, h.fleet.Upscale)
}

// ScaleUp godoc
// @Summary Trigger a scale up
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param name path string true "Group name"
// @Success 201 {object} ScaleResponse
// @Failure 404 {object} map[string]string "Group not found"
// @Router /groups/{name}/scale-up [post]
func (h *GroupHandler) ScaleUp(c *gin.Context) {
	h.scaleUp(c, h.fleet.TriggerScaleUp)
}

func (h *GroupHandler) scaleUp(c *gin.Context, op func(ctx context.Context, group string) (*models.ServerRecord, bool, error)) {
	name := c.Param("name")
	ctx, cancel := operationContext(c, h.timeout)
	defer cancel()

	server, ok, err := op(ctx, name)
	if !ok {
		groupNotFound(c)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ScaleResponse{
		Group:   server.Group,
		Action:  models.ActionScaleUp,
		Server:  server,
		Message: "server " + server.Name + " created",
	})
}

// ScaleDown godoc
// @Summary Trigger a scale down
// @Description Removes the least utilized running server, manual servers included
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param name path string true "Group name"
// @Success 200 {object} ScaleResponse
// @Failure 404 {object} map[string]string "Group not found"
// @Failure 409 {object} map[string]string "No running server"
// @Router /groups/{name}/scale-down [post]
func (h *GroupHandler) ScaleDown(c *gin.Context) {
	ctx, cancel := operationContext(c, h.timeout)
	defer cancel()

	server, ok, err := h.fleet.TriggerScaleDown(ctx, c.Param("name"))
	if !ok {
		groupNotFound(c)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ScaleResponse{
		Group:   server.Group,
		Action:  models.ActionScaleDown,
		Server:  server,
		Message: "server " + server.Name + " removed",
	})
}

// Pause godoc
// @Summary Pause automatic scaling
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param name path string true "Group name"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string "Group not found"
// @Router /groups/{name}/pause [post]
func (h *GroupHandler) Pause(c *gin.Context) {
	if !h.fleet.Pause(c.Param("name")) {
		groupNotFound(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": c.Param("name"), "paused": true})
}

// Resume godoc
// @Summary Resume automatic scaling
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param name path string true "Group name"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string "Group not found"
// @Router /groups/{name}/resume [post]
func (h *GroupHandler) Resume(c *gin.Context) {
	if !h.fleet.Resume(c.Param("name")) {
		groupNotFound(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": c.Param("name"), "paused": false})
}

type ScalingRequest struct {
	ScaleUpThreshold   *float64 `json:"scale_up_threshold"`
	ScaleDownThreshold *float64 `json:"scale_down_threshold"`
	MinServers         *int     `json:"min_servers"`
	MaxServers         *int     `json:"max_servers"`
}

// UpdateScaling godoc
// @Summary Adjust thresholds and bounds
// @Description Changes scaling thresholds and server bounds until the next reload. Omitted fields keep their value.
// @Tags Groups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param name path string true "Group name"
// @Param request body ScalingRequest true "Changes"
// @Success 200 {object} models.GroupConfig
// @Failure 400 {object} map[string]string "Invalid thresholds or bounds"
// @Failure 404 {object} map[string]string "Group not found"
// @Router /groups/{name}/scaling [put]
func (h *GroupHandler) UpdateScaling(c *gin.Context) {
	var req ScalingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	update := scaler.ScalingUpdate{
		ScaleUpThreshold:   req.ScaleUpThreshold,
		ScaleDownThreshold: req.ScaleDownThreshold,
		MinServers:         req.MinServers,
		MaxServers:         req.MaxServers,
	}
	if update.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	group, ok, err := h.fleet.UpdateScaling(c.Param("name"), update)
	if !ok {
		groupNotFound(c)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

// RunCronJob godoc
// @Summary Run a cron job now
// @Description Runs the group's cron job in the background
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param name path string true "Group name"
// @Param job path string true "Cron job name"
// @Success 202 {object} map[string]string
// @Failure 404 {object} map[string]string "Group or job not found"
// @Router /groups/{name}/cron/{job} [post]
func (h *GroupHandler) RunCronJob(c *gin.Context) {
	group, job := c.Param("name"), c.Param("job")

	cfg, ok := h.fleet.GroupConfig(group)
	if !ok {
		groupNotFound(c)
		return
	}
	found := false
	for _, j := range cfg.CronJobs {
		if strings.EqualFold(j.Name, job) {
			found = true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "cron job not found"})
		return
	}

	ctx, cancel := operationContext(c, h.timeout)
	go func() {
		defer cancel()
		_, _ = h.fleet.RunCronJob(ctx, cfg.Name, job)
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"group":   cfg.Name,
		"job":     job,
		"message": "cron job started",
	})
}

func groupNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
}
