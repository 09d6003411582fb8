package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// ReloadFunc reloads group definitions and returns the groups now active.
type ReloadFunc func(ctx context.Context) ([]*models.GroupConfig, error)

type AdminHandler struct {
	reload  ReloadFunc
	timeout time.Duration
}

func NewAdminHandler(reload ReloadFunc, timeout time.Duration) *AdminHandler {
	return &AdminHandler{reload: reload, timeout: timeout}
}

// Reload godoc
// @Summary Reload group definitions
// @Description Re-reads the groups directory; running servers of kept groups are preserved
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string "Invalid group definitions"
// @Failure 503 {object} map[string]string "Reload not available"
// @Router /admin/reload [post]
func (h *AdminHandler) Reload(c *gin.Context) {
	if h.reload == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reload not available"})
		return
	}

	ctx, cancel := operationContext(c, h.timeout)
	defer cancel()

	groups, err := h.reload(ctx)
	if err != nil {
		logger.FromContext(c.Request.Context()).WithError(err).Error("Group reload failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	logger.WithField("user", c.GetString("username")).Infof("Reloaded %d groups", len(groups))
	c.JSON(http.StatusOK, gin.H{
		"groups": names,
		"count":  len(names),
	})
}
