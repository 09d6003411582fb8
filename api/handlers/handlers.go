// Package handlers implements the REST endpoints of the control plane.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/internal/provider"
	"github.com/OldStager01/fleet-autoscaler/internal/resilience"
	"github.com/OldStager01/fleet-autoscaler/internal/scaler"
	"github.com/OldStager01/fleet-autoscaler/pkg/config"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// FleetManager is the registry surface the API drives.
type FleetManager interface {
	Statuses() []models.GroupStatus
	Status(group string) (models.GroupStatus, bool)
	GroupConfig(group string) (*models.GroupConfig, bool)
	ServersByGroup(group string) ([]*models.ServerRecord, bool)

	Upscale(ctx context.Context, group string) (*models.ServerRecord, bool, error)
	TriggerScaleUp(ctx context.Context, group string) (*models.ServerRecord, bool, error)
	TriggerScaleDown(ctx context.Context, group string) (*models.ServerRecord, bool, error)
	Pause(group string) bool
	Resume(group string) bool
	RunCronJob(ctx context.Context, group, job string) (bool, error)
	UpdateScaling(group string, update scaler.ScalingUpdate) (*models.GroupConfig, bool, error)

	AllServers() []*models.ServerRecord
	Server(serverID string) (*models.ServerRecord, bool)
	ServerByName(name string) (*models.ServerRecord, bool)
	StartServer(ctx context.Context, serverID string) (bool, error)
	StopServer(ctx context.Context, serverID string) (bool, error)
	RestartServer(ctx context.Context, serverID string) (bool, error)
	RemoveServer(ctx context.Context, serverID string) (bool, error)
	UpdateServerInfo(ctx context.Context, serverID string, info models.ServerInfo) (*models.ServerRecord, bool)
	ServerLogs(ctx context.Context, serverID string, lines int) ([]string, bool, error)
	ServerStats(ctx context.Context, serverID string) (*models.ServerStats, bool, error)
}

const defaultOperationTimeout = 5 * time.Minute

// limits bounds list sizes taken from query strings.
type limits struct {
	defaultLimit int
	maxLimit     int
}

func newLimits(cfg *config.APIConfig) limits {
	l := limits{defaultLimit: 50, maxLimit: 500}
	if cfg != nil && cfg.DefaultLimit > 0 {
		l.defaultLimit = cfg.DefaultLimit
	}
	if cfg != nil && cfg.MaxLimit > 0 {
		l.maxLimit = cfg.MaxLimit
	}
	return l
}

func (l limits) parse(c *gin.Context) int {
	limit := l.defaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > l.maxLimit {
		limit = l.maxLimit
	}
	return limit
}

// operationContext detaches long provider work from a client that hangs up.
func operationContext(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	ctx := logger.WithTraceID(context.Background(), logger.TraceIDFromContext(c.Request.Context()))
	return context.WithTimeout(ctx, timeout)
}

// errorStatus maps an operation error onto an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, scaler.ErrNoCandidate):
		return http.StatusConflict
	case errors.Is(err, scaler.ErrInvalidThreshold), errors.Is(err, scaler.ErrInvalidBounds),
		errors.Is(err, scaler.ErrUnknownCronAction):
		return http.StatusBadRequest
	case errors.Is(err, scaler.ErrScalerShutdown), errors.Is(err, provider.ErrProviderShutdown),
		errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}
