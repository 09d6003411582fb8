package models

import (
	"strings"
	"time"
)

// UnlimitedServers as MaxServers lifts the upper bound on auto-scaled servers.
const UnlimitedServers = -1

type ScalerType string

const (
	ScalerTypeNormal ScalerType = "NORMAL"
	ScalerTypeProxy  ScalerType = "PROXY"
)

type NamingIdentifier string

const (
	IdentifierNumber NamingIdentifier = "number"
	IdentifierUUID   NamingIdentifier = "uuid"
)

// GroupConfig is the per-group configuration loaded from a group file.
type GroupConfig struct {
	Name        string           `yaml:"name" json:"name"`
	DisplayName string           `yaml:"display-name" json:"display_name"`
	Priority    int              `yaml:"priority" json:"priority"`
	Server      ServerSettings   `yaml:"server" json:"server"`
	Scaling     ScalingSettings  `yaml:"scaling" json:"scaling"`
	Templates   []string         `yaml:"templates" json:"templates,omitempty"`
	Provider    ProviderSettings `yaml:"service-provider" json:"service_provider"`
	CronJobs    []CronJob        `yaml:"cron-jobs" json:"cron_jobs,omitempty"`
}

type ServerSettings struct {
	Type       string         `yaml:"type" json:"type"`
	Naming     NamingSettings `yaml:"naming" json:"naming"`
	MinServers int            `yaml:"min-servers" json:"min_servers"`
	MaxServers int            `yaml:"max-servers" json:"max_servers"`
	MaxPlayers int            `yaml:"max-players" json:"max_players"`
}

type NamingSettings struct {
	Identifier NamingIdentifier `yaml:"identifier" json:"identifier"`
	Pattern    string           `yaml:"naming-pattern" json:"naming_pattern"`
}

type ScalingSettings struct {
	Type            string     `yaml:"type" json:"type"`
	CooldownSeconds int        `yaml:"cooldown-seconds" json:"cooldown_seconds"`
	Conditions      Conditions `yaml:"conditions" json:"conditions"`
}

type Conditions struct {
	ScaleUpThreshold   float64 `yaml:"scale-up-threshold" json:"scale_up_threshold"`
	ScaleDownThreshold float64 `yaml:"scale-down-threshold" json:"scale_down_threshold"`
}

type ProviderSettings struct {
	Docker DockerSettings `yaml:"docker" json:"docker"`
}

type DockerSettings struct {
	Image            string            `yaml:"image" json:"image"`
	Memory           string            `yaml:"memory" json:"memory,omitempty"`
	CPU              string            `yaml:"cpu" json:"cpu,omitempty"`
	Command          string            `yaml:"command" json:"command,omitempty"`
	Environment      map[string]string `yaml:"environment" json:"environment,omitempty"`
	VolumeMountPath  string            `yaml:"volume-mount-path" json:"volume_mount_path,omitempty"`
	WorkingDirectory string            `yaml:"working-directory" json:"working_directory,omitempty"`
	Volumes          []string          `yaml:"volumes" json:"volumes,omitempty"`
}

type CronJob struct {
	Name     string     `yaml:"name" json:"name"`
	Schedule string     `yaml:"schedule" json:"schedule"`
	Target   string     `yaml:"target" json:"target"`
	Enabled  *bool      `yaml:"enabled" json:"enabled,omitempty"`
	Steps    []CronStep `yaml:"steps" json:"steps"`
}

func (j CronJob) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

type CronStep struct {
	Delay         int           `yaml:"delay" json:"delay"`
	ActionType    string        `yaml:"action-type" json:"action_type"`
	ServerControl ServerControl `yaml:"server-control" json:"server_control"`
}

type ServerControl struct {
	Action string `yaml:"action" json:"action"`
}

func (g *GroupConfig) ScalerType() ScalerType {
	if strings.EqualFold(g.Scaling.Type, string(ScalerTypeProxy)) {
		return ScalerTypeProxy
	}
	return ScalerTypeNormal
}

func (g *GroupConfig) ServerType() ServerType {
	if strings.EqualFold(g.Server.Type, string(ServerTypeStatic)) {
		return ServerTypeStatic
	}
	return ServerTypeDynamic
}

func (g *GroupConfig) IsUnlimited() bool {
	return g.Server.MaxServers == UnlimitedServers
}

func (g *GroupConfig) Cooldown() time.Duration {
	return time.Duration(g.Scaling.CooldownSeconds) * time.Second
}

func (g *GroupConfig) MaxPlayers() int {
	if g.Server.MaxPlayers > 0 {
		return g.Server.MaxPlayers
	}
	return DefaultMaxPlayers
}

// Label is the display name, falling back to the group name.
func (g *GroupConfig) Label() string {
	if g.DisplayName != "" {
		return g.DisplayName
	}
	return g.Name
}

// Clone copies the config deeply enough that edits to bounds or
// thresholds on the copy never leak into the original.
func (g *GroupConfig) Clone() *GroupConfig {
	c := *g
	c.Templates = append([]string(nil), g.Templates...)
	c.CronJobs = append([]CronJob(nil), g.CronJobs...)
	c.Provider.Docker.Volumes = append([]string(nil), g.Provider.Docker.Volumes...)
	if g.Provider.Docker.Environment != nil {
		c.Provider.Docker.Environment = make(map[string]string, len(g.Provider.Docker.Environment))
		for k, v := range g.Provider.Docker.Environment {
			c.Provider.Docker.Environment[k] = v
		}
	}
	return &c
}
