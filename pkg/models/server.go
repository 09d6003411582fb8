package models

import (
	"errors"
	"fmt"
	"time"
)

// DefaultMaxPlayers is the player capacity assumed for a server until it reports its own.
const DefaultMaxPlayers = 20

var ErrInvalidTransition = errors.New("invalid status transition")

type ServerStatus string

const (
	StatusStarting ServerStatus = "STARTING"
	StatusRunning  ServerStatus = "RUNNING"
	StatusStopping ServerStatus = "STOPPING"
	StatusStopped  ServerStatus = "STOPPED"
	StatusError    ServerStatus = "ERROR"
)

var statusTransitions = map[ServerStatus][]ServerStatus{
	StatusStarting: {StatusRunning, StatusStopping},
	StatusRunning:  {StatusStopping},
	StatusStopping: {StatusStopped},
	StatusStopped:  {StatusStarting},
	StatusError:    {StatusStarting, StatusStopping, StatusStopped},
}

// CanTransitionTo reports whether a server in status s may move to next.
// ERROR is reachable from every status and a same-status move is always allowed.
func (s ServerStatus) CanTransitionTo(next ServerStatus) bool {
	if s == next || next == StatusError {
		return true
	}
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s ServerStatus) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

type ServerType string

const (
	ServerTypeDynamic ServerType = "DYNAMIC"
	ServerTypeStatic  ServerType = "STATIC"
)

// ServerInfo is the runtime view of a server as reported by heartbeats.
type ServerInfo struct {
	Status            ServerStatus `json:"status"`
	OnlinePlayers     int          `json:"online_players"`
	MaxPlayers        int          `json:"max_players"`
	OnlinePlayerNames []string     `json:"online_player_names,omitempty"`
}

// ServerRecord is one provisioned server instance.
type ServerRecord struct {
	ServerID         string     `json:"server_id"`
	Name             string     `json:"name"`
	Group            string     `json:"group"`
	WorkingDirectory string     `json:"working_directory"`
	Address          string     `json:"address"`
	Port             int        `json:"port"`
	Type             ServerType `json:"type"`
	ProviderID       string     `json:"provider_id,omitempty"`
	ManuallyScaled   bool       `json:"manually_scaled"`
	CreatedAt        time.Time  `json:"created_at"`
	LastHeartbeat    time.Time  `json:"last_heartbeat"`
	Info             ServerInfo `json:"info"`
}

func NewServerRecord(group, name string, serverType ServerType, manual bool) *ServerRecord {
	now := time.Now()
	return &ServerRecord{
		ServerID:       NewUUID(),
		Name:           name,
		Group:          group,
		Type:           serverType,
		ManuallyScaled: manual,
		CreatedAt:      now,
		LastHeartbeat:  now,
		Info: ServerInfo{
			Status:     StatusStarting,
			MaxPlayers: DefaultMaxPlayers,
		},
	}
}

// Clone returns a deep copy safe to hand out to readers.
func (s *ServerRecord) Clone() *ServerRecord {
	if s == nil {
		return nil
	}
	c := *s
	if s.Info.OnlinePlayerNames != nil {
		c.Info.OnlinePlayerNames = append([]string(nil), s.Info.OnlinePlayerNames...)
	}
	return &c
}

func (s *ServerRecord) Status() ServerStatus {
	return s.Info.Status
}

// SetStatus moves the record through the status machine. Leaving RUNNING
// clears the player state.
func (s *ServerRecord) SetStatus(next ServerStatus) error {
	if !s.Info.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Info.Status, next)
	}
	s.Info.Status = next
	if next != StatusRunning {
		s.ClearPlayers()
	}
	return nil
}

// SetPlayers records the online players, capped at the server capacity.
func (s *ServerRecord) SetPlayers(online int, names []string) {
	if online < 0 {
		online = 0
	}
	if s.Info.MaxPlayers > 0 && online > s.Info.MaxPlayers {
		online = s.Info.MaxPlayers
	}
	s.Info.OnlinePlayers = online
	if len(names) > online {
		names = names[:online]
	}
	s.Info.OnlinePlayerNames = append([]string(nil), names...)
}

func (s *ServerRecord) ClearPlayers() {
	s.Info.OnlinePlayers = 0
	s.Info.OnlinePlayerNames = nil
}

func (s *ServerRecord) IsRunning() bool {
	return s.Info.Status == StatusRunning
}

func (s *ServerRecord) IsStarting() bool {
	return s.Info.Status == StatusStarting
}

func (s *ServerRecord) IsDynamic() bool {
	return s.Type == ServerTypeDynamic
}

func (s *ServerRecord) Heartbeat(at time.Time) {
	s.LastHeartbeat = at
}
