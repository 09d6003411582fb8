package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/config"
	"github.com/OldStager01/fleet-autoscaler/pkg/database/queries"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// EventHistory is the in-memory tail of the event bus.
type EventHistory interface {
	Recent(group string, limit int) []*models.Event
}

// ScalingEventReader reads persisted scaling activity.
type ScalingEventReader interface {
	GetByGroup(ctx context.Context, group string, from, to time.Time, limit int) ([]*models.ScalingEvent, error)
	GetRecent(ctx context.Context, limit int) ([]*models.ScalingEvent, error)
	GetStats(ctx context.Context, group string, from, to time.Time) (*queries.ScalingStats, error)
}

// EventsHandler serves scaling activity. Without a database it falls back
// to the events still held in memory.
type EventsHandler struct {
	fleet   FleetManager
	history EventHistory
	repo    ScalingEventReader
	limits  limits
}

func NewEventsHandler(fleet FleetManager, history EventHistory, repo ScalingEventReader, cfg *config.APIConfig) *EventsHandler {
	return &EventsHandler{
		fleet:   fleet,
		history: history,
		repo:    repo,
		limits:  newLimits(cfg),
	}
}

// GetScalingEvents godoc
// @Summary Group scaling activity
// @Tags Events
// @Produce json
// @Security BearerAuth
// @Param name path string true "Group name"
// @Param from query string false "RFC3339 start, default one hour ago"
// @Param to query string false "RFC3339 end, default now"
// @Param range query string false "Relative range such as 30m, 24h or 7d"
// @Param limit query int false "Maximum number of events"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string "Group not found"
// @Router /groups/{name}/events [get]
func (h *EventsHandler) GetScalingEvents(c *gin.Context) {
	group, ok := h.fleet.GroupConfig(c.Param("name"))
	if !ok {
		groupNotFound(c)
		return
	}

	from, to := parseTimeRange(c)
	limit := h.limits.parse(c)

	if h.repo != nil {
		events, err := h.repo.GetByGroup(c.Request.Context(), group.Name, from, to, limit)
		if err != nil {
			logger.FromContext(c.Request.Context()).WithError(err).Error("Scaling event query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch scaling events"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"group":  group.Name,
			"from":   from,
			"to":     to,
			"source": "database",
			"data":   events,
			"count":  len(events),
		})
		return
	}

	events := h.memoryScalingEvents(group.Name, from, to, limit)
	c.JSON(http.StatusOK, gin.H{
		"group":  group.Name,
		"from":   from,
		"to":     to,
		"source": "memory",
		"data":   events,
		"count":  len(events),
	})
}

func (h *EventsHandler) memoryScalingEvents(group string, from, to time.Time, limit int) []*models.ScalingEvent {
	out := make([]*models.ScalingEvent, 0)
	if h.history == nil {
		return out
	}
	for _, event := range h.history.Recent(group, 0) {
		if event.Type != models.EventTypeScalingComplete {
			continue
		}
		scalingEvent, ok := event.Data.(*models.ScalingEvent)
		if !ok || scalingEvent.Timestamp.Before(from) || scalingEvent.Timestamp.After(to) {
			continue
		}
		out = append(out, scalingEvent)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// GetScalingStats godoc
// @Summary Group scaling statistics
// @Description Requires the database
// @Tags Events
// @Produce json
// @Security BearerAuth
// @Param name path string true "Group name"
// @Param range query string false "Relative range such as 24h"
// @Success 200 {object} queries.ScalingStats
// @Failure 404 {object} map[string]string "Group not found"
// @Failure 503 {object} map[string]string "Database disabled"
// @Router /groups/{name}/events/stats [get]
func (h *EventsHandler) GetScalingStats(c *gin.Context) {
	group, ok := h.fleet.GroupConfig(c.Param("name"))
	if !ok {
		groupNotFound(c)
		return
	}
	if h.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scaling history requires the database"})
		return
	}

	from, to := parseTimeRange(c)
	stats, err := h.repo.GetStats(c.Request.Context(), group.Name, from, to)
	if err != nil {
		logger.FromContext(c.Request.Context()).WithError(err).Error("Scaling stats query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch scaling stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetRecentEvents godoc
// @Summary Recent control-plane events
// @Description Newest first, optionally for one group
// @Tags Events
// @Produce json
// @Security BearerAuth
// @Param group query string false "Group name"
// @Param limit query int false "Maximum number of events"
// @Success 200 {object} map[string]interface{}
// @Router /events/recent [get]
func (h *EventsHandler) GetRecentEvents(c *gin.Context) {
	limit := h.limits.parse(c)

	group := c.Query("group")
	if group != "" {
		cfg, ok := h.fleet.GroupConfig(group)
		if !ok {
			groupNotFound(c)
			return
		}
		group = cfg.Name
	}

	events := make([]*models.Event, 0)
	if h.history != nil {
		events = h.history.Recent(group, limit)
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  events,
		"count": len(events),
	})
}

func parseTimeRange(c *gin.Context) (time.Time, time.Time) {
	to := time.Now()
	from := to.Add(-time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		if parsed, err := time.Parse(time.RFC3339, fromStr); err == nil {
			from = parsed
		}
	}

	if toStr := c.Query("to"); toStr != "" {
		if parsed, err := time.Parse(time.RFC3339, toStr); err == nil {
			to = parsed
		}
	}

	if rangeStr := c.Query("range"); rangeStr != "" {
		from = to.Add(-parseRange(rangeStr))
	}

	return from, to
}

// parseRange reads 30m, 24h or 7d style ranges, defaulting to one hour.
func parseRange(s string) time.Duration {
	if len(s) < 2 {
		return time.Hour
	}

	value, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || value <= 0 {
		return time.Hour
	}

	switch s[len(s)-1] {
	case 'm':
		return time.Duration(value) * time.Minute
	case 'h':
		return time.Duration(value) * time.Hour
	case 'd':
		return time.Duration(value) * 24 * time.Hour
	default:
		return time.Hour
	}
}
