package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "FLEET"

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/fleet-autoscaler")
	}

	// Environment variable settings
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "fleet-autoscaler")
	v.SetDefault("app.mode", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.shutdown_timeout", "60s")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "fleet")
	v.SetDefault("database.user", "admin")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.migration_timeout", "60s")

	// Scaling defaults
	v.SetDefault("scaling.check_interval", "5s")
	v.SetDefault("scaling.default_cooldown", "30s")
	v.SetDefault("scaling.heartbeat_timeout", "15s")
	v.SetDefault("scaling.startup_timeout", "180s")
	v.SetDefault("scaling.starting_scale_up_threshold", 0.9)
	v.SetDefault("scaling.operation_timeout", "5m")
	v.SetDefault("scaling.cron_job_timeout", "30m")
	v.SetDefault("scaling.groups_dir", "groups")

	// Provider defaults
	v.SetDefault("provider.type", ProviderSimulation)
	v.SetDefault("provider.docker.network", "fleet")
	v.SetDefault("provider.docker.auto_create_network", true)
	v.SetDefault("provider.docker.servers_dir", "servers")
	v.SetDefault("provider.docker.templates_dir", "templates")
	v.SetDefault("provider.docker.cleanup_dynamic_on_shutdown", true)
	v.SetDefault("provider.docker.stop_timeout", "30s")
	v.SetDefault("provider.docker.remove_poll_attempts", 20)
	v.SetDefault("provider.docker.remove_poll_interval", "500ms")
	v.SetDefault("provider.docker.log_wait", "10s")
	v.SetDefault("provider.docker.log_reconnect_delay", "1s")
	v.SetDefault("provider.docker.monitor_interval", "10s")
	v.SetDefault("provider.docker.shutdown_grace", "10s")
	v.SetDefault("provider.simulation.startup_delay", "2s")
	v.SetDefault("provider.simulation.stop_delay", "1s")
	v.SetDefault("provider.simulation.heartbeat_interval", "5s")
	v.SetDefault("provider.simulation.player_activity_chance", 0.2)
	v.SetDefault("provider.simulation.log_activity_chance", 0.1)
	v.SetDefault("provider.simulation.max_log_lines", 1000)
	v.SetDefault("provider.simulation.pattern", "steady")
	v.SetDefault("provider.simulation.servers_dir", "servers")

	// API defaults
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "15s")
	v.SetDefault("api.idle_timeout", "60s")
	v.SetDefault("api.rate_limit", 100)
	v.SetDefault("api.operation_rate_limit", 10)
	v.SetDefault("api.jwt_secret", defaultJWTSecret)
	v.SetDefault("api.jwt_duration", "24h")
	v.SetDefault("api.jwt_issuer", "fleet-autoscaler")
	v.SetDefault("api.cookie_name", "auth_token")
	v.SetDefault("api.cookie_secure", true)
	v.SetDefault("api.admin_user", "admin")
	v.SetDefault("api.admin_password", "")
	v.SetDefault("api.default_limit", 50)
	v.SetDefault("api.max_limit", 500)
	v.SetDefault("api.max_log_lines", 1000)

	// WebSocket defaults
	v.SetDefault("websocket.max_connections", 1000)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.max_message_size", 512)
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.broadcast_buffer", 256)
	v.SetDefault("websocket.client_buffer", 256)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Events defaults
	v.SetDefault("events.buffer_size", 100)
	v.SetDefault("events.history_size", 200)
}
