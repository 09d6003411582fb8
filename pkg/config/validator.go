package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
	"github.com/OldStager01/fleet-autoscaler/pkg/validation"
)

const (
	ProviderDocker     = "docker"
	ProviderSimulation = "simulation"

	defaultJWTSecret = "change-me-in-production"
)

func (c *Config) Validate() error {
	var errs []error

	// App validation
	if c.App.Name == "" {
		errs = append(errs, errors.New("app.name is required"))
	}

	validModes := map[string]bool{"development": true, "production": true, "test": true}
	if !validModes[c.App.Mode] {
		errs = append(errs, fmt.Errorf("app.mode must be one of: development, production, test"))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.App.LogLevel] {
		errs = append(errs, fmt.Errorf("app.log_level must be one of: debug, info, warn, error"))
	}

	// Database validation
	if c.Database.Enabled {
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database.host is required"))
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, errors.New("database.port must be between 1 and 65535"))
		}
		if c.Database.Name == "" {
			errs = append(errs, errors.New("database.name is required"))
		}
		if c.Database.MaxConnections <= 0 {
			errs = append(errs, errors.New("database.max_connections must be positive"))
		}
	}

	// Scaling validation
	if c.Scaling.CheckInterval <= 0 {
		errs = append(errs, errors.New("scaling.check_interval must be positive"))
	}
	if c.Scaling.DefaultCooldown < 0 {
		errs = append(errs, errors.New("scaling.default_cooldown cannot be negative"))
	}
	if c.Scaling.HeartbeatTimeout < 0 || c.Scaling.StartupTimeout < 0 {
		errs = append(errs, errors.New("scaling heartbeat and startup timeouts cannot be negative"))
	}
	if t := c.Scaling.StartingScaleUpThreshold; t < 0 || t > 1 {
		errs = append(errs, errors.New("scaling.starting_scale_up_threshold must be between 0.0 and 1.0"))
	}
	if c.Scaling.GroupsDir == "" {
		errs = append(errs, errors.New("scaling.groups_dir is required"))
	}

	// Provider validation
	switch c.Provider.Type {
	case ProviderDocker:
		if c.Provider.Docker.ServersDir == "" {
			errs = append(errs, errors.New("provider.docker.servers_dir is required"))
		}
		if c.Provider.Docker.RemovePollAttempts < 0 {
			errs = append(errs, errors.New("provider.docker.remove_poll_attempts cannot be negative"))
		}
	case ProviderSimulation:
		for name, chance := range map[string]float64{
			"player_activity_chance": c.Provider.Simulation.PlayerActivityChance,
			"log_activity_chance":    c.Provider.Simulation.LogActivityChance,
		} {
			if chance < 0 || chance > 1 {
				errs = append(errs, fmt.Errorf("provider.simulation.%s must be between 0.0 and 1.0", name))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("provider.type must be one of: %s, %s", ProviderDocker, ProviderSimulation))
	}

	// API validation
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, errors.New("api.port must be between 1 and 65535"))
	}
	if c.App.Mode == "production" && c.API.JWTSecret == defaultJWTSecret {
		errs = append(errs, errors.New("api.jwt_secret must be changed in production"))
	}
	if c.Metrics.Enabled && c.Metrics.Port == c.API.Port {
		errs = append(errs, errors.New("metrics.port must differ from api.port"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %v", errs)
	}

	return nil
}

// ValidateGroup reports every problem of one group definition.
func ValidateGroup(group *models.GroupConfig) error {
	var errs *multierror.Error

	if err := validation.ValidateGroupName(group.Name); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := validation.ValidateServerBounds(group.Server.MinServers, group.Server.MaxServers); err != nil {
		errs = multierror.Append(errs, err)
	}
	if group.Server.MaxPlayers < 0 {
		errs = multierror.Append(errs, errors.New("max players cannot be negative"))
	}
	if t := group.Server.Type; t != "" && !strings.EqualFold(t, string(models.ServerTypeDynamic)) && !strings.EqualFold(t, string(models.ServerTypeStatic)) {
		errs = multierror.Append(errs, fmt.Errorf("server type %q must be DYNAMIC or STATIC", t))
	}
	if err := validation.ValidateNamingPattern(group.Server.Naming.Pattern); err != nil {
		errs = multierror.Append(errs, err)
	}
	if id := group.Server.Naming.Identifier; id != "" && id != models.IdentifierNumber && id != models.IdentifierUUID {
		errs = multierror.Append(errs, fmt.Errorf("naming identifier %q must be number or uuid", id))
	}

	conditions := group.Scaling.Conditions
	if err := validation.ValidateThresholds(conditions.ScaleUpThreshold, conditions.ScaleDownThreshold); err != nil {
		errs = multierror.Append(errs, err)
	}
	if group.Scaling.CooldownSeconds < 0 {
		errs = multierror.Append(errs, errors.New("cooldown seconds cannot be negative"))
	}

	for _, job := range group.CronJobs {
		if job.Name == "" {
			errs = multierror.Append(errs, errors.New("cron job without a name"))
		}
		if _, err := cron.ParseStandard(job.Schedule); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("cron job %q: invalid schedule %q: %w", job.Name, job.Schedule, err))
		}
		for i, step := range job.Steps {
			if step.Delay < 0 {
				errs = multierror.Append(errs, fmt.Errorf("cron job %q step %d: delay cannot be negative", job.Name, i+1))
			}
			if !strings.EqualFold(step.ActionType, "server-control") {
				continue
			}
			switch strings.ToLower(step.ServerControl.Action) {
			case "start", "stop", "restart":
			default:
				errs = multierror.Append(errs, fmt.Errorf("cron job %q step %d: unknown server-control action %q", job.Name, i+1, step.ServerControl.Action))
			}
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("group %q: %w", group.Name, err)
	}
	return nil
}

// ValidateGroups validates every group and rejects names that collide
// case-insensitively.
func ValidateGroups(groups []*models.GroupConfig) error {
	var errs *multierror.Error
	seen := make(map[string]string, len(groups))

	for _, group := range groups {
		if err := ValidateGroup(group); err != nil {
			errs = multierror.Append(errs, err)
		}
		key := strings.ToLower(group.Name)
		if prev, ok := seen[key]; ok {
			errs = multierror.Append(errs, fmt.Errorf("duplicate group name %q and %q", prev, group.Name))
			continue
		}
		seen[key] = group.Name
	}
	return errs.ErrorOrNil()
}
