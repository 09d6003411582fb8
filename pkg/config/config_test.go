package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "test-app",
			Mode:     "development",
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Enabled:        true,
			Host:           "localhost",
			Port:           5432,
			Name:           "testdb",
			User:           "user",
			Password:       "pass",
			MaxConnections: 10,
		},
		Scaling: ScalingConfig{
			CheckInterval:            5 * time.Second,
			DefaultCooldown:          30 * time.Second,
			StartingScaleUpThreshold: 0.9,
			GroupsDir:                "groups",
		},
		Provider: ProviderConfig{
			Type: ProviderSimulation,
		},
		API: APIConfig{
			Port:      8080,
			JWTSecret: defaultJWTSecret,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectErr   bool
		errContains string
	}{
		{
			name:       "valid config",
			modifyFunc: func(c *Config) {},
		},
		{
			name: "invalid mode",
			modifyFunc: func(c *Config) {
				c.App.Mode = "staging"
			},
			expectErr:   true,
			errContains: "app.mode",
		},
		{
			name: "invalid log level",
			modifyFunc: func(c *Config) {
				c.App.LogLevel = "verbose"
			},
			expectErr:   true,
			errContains: "app.log_level",
		},
		{
			name: "disabled database is not checked",
			modifyFunc: func(c *Config) {
				c.Database.Enabled = false
				c.Database.Host = ""
				c.Database.Port = 0
			},
		},
		{
			name: "enabled database needs a host",
			modifyFunc: func(c *Config) {
				c.Database.Host = ""
			},
			expectErr:   true,
			errContains: "database.host is required",
		},
		{
			name: "zero check interval",
			modifyFunc: func(c *Config) {
				c.Scaling.CheckInterval = 0
			},
			expectErr:   true,
			errContains: "scaling.check_interval",
		},
		{
			name: "starting threshold above one",
			modifyFunc: func(c *Config) {
				c.Scaling.StartingScaleUpThreshold = 1.5
			},
			expectErr:   true,
			errContains: "starting_scale_up_threshold",
		},
		{
			name: "unknown provider",
			modifyFunc: func(c *Config) {
				c.Provider.Type = "kubernetes"
			},
			expectErr:   true,
			errContains: "provider.type",
		},
		{
			name: "docker provider needs a servers dir",
			modifyFunc: func(c *Config) {
				c.Provider.Type = ProviderDocker
			},
			expectErr:   true,
			errContains: "provider.docker.servers_dir",
		},
		{
			name: "simulation chance out of range",
			modifyFunc: func(c *Config) {
				c.Provider.Simulation.PlayerActivityChance = 2
			},
			expectErr:   true,
			errContains: "player_activity_chance",
		},
		{
			name: "default secret in production",
			modifyFunc: func(c *Config) {
				c.App.Mode = "production"
			},
			expectErr:   true,
			errContains: "jwt_secret must be changed",
		},
		{
			name: "custom secret in production",
			modifyFunc: func(c *Config) {
				c.App.Mode = "production"
				c.API.JWTSecret = "a-real-secret"
			},
		},
		{
			name: "metrics port clashes with api",
			modifyFunc: func(c *Config) {
				c.Metrics.Port = 8080
			},
			expectErr:   true,
			errContains: "metrics.port",
		},
		{
			name: "invalid api port",
			modifyFunc: func(c *Config) {
				c.API.Port = 70000
			},
			expectErr:   true,
			errContains: "api.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modifyFunc(cfg)

			err := cfg.Validate()
			if tt.expectErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: test\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Mode)
	assert.Equal(t, 5*time.Second, cfg.Scaling.CheckInterval)
	assert.Equal(t, 30*time.Second, cfg.Scaling.DefaultCooldown)
	assert.Equal(t, 15*time.Second, cfg.Scaling.HeartbeatTimeout)
	assert.Equal(t, 180*time.Second, cfg.Scaling.StartupTimeout)
	assert.InDelta(t, 0.9, cfg.Scaling.StartingScaleUpThreshold, 1e-9)
	assert.Equal(t, ProviderSimulation, cfg.Provider.Type)
	assert.Equal(t, 20, cfg.Provider.Docker.RemovePollAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Provider.Docker.RemovePollInterval)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 24*time.Hour, cfg.API.JWTDuration)
	assert.False(t, cfg.Database.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	content := `
app:
  log_level: debug
scaling:
  check_interval: 2s
  groups_dir: /srv/groups
provider:
  type: docker
  docker:
    network: games
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Scaling.CheckInterval)
	assert.Equal(t, "/srv/groups", cfg.Scaling.GroupsDir)
	assert.Equal(t, ProviderDocker, cfg.Provider.Type)
	assert.Equal(t, "games", cfg.Provider.Docker.Network)
	assert.Equal(t, "servers", cfg.Provider.Docker.ServersDir)
	assert.Equal(t, "templates", cfg.Provider.Docker.TemplatesDir)
	assert.Equal(t, time.Second, cfg.Provider.Docker.LogReconnectDelay)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  port: 8081\n"), 0o644))

	t.Setenv("FLEET_API_PORT", "9999")
	t.Setenv("FLEET_SCALING_DEFAULT_COOLDOWN", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.API.Port)
	assert.Equal(t, 45*time.Second, cfg.Scaling.DefaultCooldown)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: [unclosed\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "fleet"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=fleet sslmode=disable", d.DSN())

	d.SSLMode = "require"
	assert.Contains(t, d.DSN(), "sslmode=require")
}
