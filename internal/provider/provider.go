// Package provider defines the lifecycle backend the scaling engines drive
// and the pieces shared by its implementations.
package provider

import (
	"context"
	"errors"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

var (
	ErrServerNotFound    = errors.New("server not found")
	ErrProviderShutdown  = errors.New("provider is shut down")
	ErrResourcesNotReady = errors.New("group resources not ready")
	ErrInvalidServer     = errors.New("invalid server record")
)

// LogHandler receives one log line of a streamed server.
type LogHandler func(line string)

// ServiceProvider creates, runs and observes the backing instance of each
// server. Not-found conditions are reported through boolean results; errors
// are reserved for failed operations.
type ServiceProvider interface {
	// Name identifies the backend in logs and status output.
	Name() string

	// EnsureResourcesReady must succeed before CreateServer is called for the group.
	EnsureResourcesReady(ctx context.Context, group *models.GroupConfig) error

	// CreateServer provisions and boots a backing instance; the result is STARTING.
	CreateServer(ctx context.Context, group *models.GroupConfig, server *models.ServerRecord) (*models.ServerRecord, error)

	// StartServer boots a stopped server. Starting a running server is a no-op.
	StartServer(ctx context.Context, server *models.ServerRecord) error

	// StopServer stops a server and clears its player state.
	StopServer(ctx context.Context, server *models.ServerRecord) error

	// DeleteServer removes the instance and its provider-side resources.
	// It reports false for an unknown id.
	DeleteServer(ctx context.Context, serverID string) (bool, error)

	GetServer(ctx context.Context, serverID string) (*models.ServerRecord, bool)
	GetAllServers(ctx context.Context) []*models.ServerRecord
	GetServersByGroup(ctx context.Context, group string) []*models.ServerRecord
	IsServerRunning(ctx context.Context, serverID string) bool

	// UpdateServerStatus replaces the stored snapshot of a known server.
	UpdateServerStatus(ctx context.Context, serverID string, server *models.ServerRecord) bool

	// GetServerLogs returns the last lines of output; lines <= 0 means all.
	GetServerLogs(ctx context.Context, serverID string, lines int) ([]string, error)

	// StreamServerLogs subscribes handler to new output of the server and
	// returns the subscription id. ok is false for an unknown server.
	StreamServerLogs(ctx context.Context, serverID string, handler LogHandler) (subscriptionID string, ok bool)

	// StopLogStream cancels a subscription. It reports false for an unknown id.
	StopLogStream(subscriptionID string) bool

	// GetServerStats samples resource usage. ok is false for an unknown server.
	GetServerStats(ctx context.Context, serverID string) (stats *models.ServerStats, ok bool, err error)

	// Watch registers fn to receive every change to a stored server snapshot.
	Watch(fn UpdateFunc)

	Shutdown(ctx context.Context) error
}
