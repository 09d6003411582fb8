package config

import (
	"time"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	API       APIConfig       `mapstructure:"api"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scaling   ScalingConfig   `mapstructure:"scaling"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Events    EventsConfig    `mapstructure:"events"`
}

type AppConfig struct {
	Name            string        `mapstructure:"name"`
	Mode            string        `mapstructure:"mode"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Name             string        `mapstructure:"name"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	MaxConnections   int           `mapstructure:"max_connections"`
	SSLMode          string        `mapstructure:"ssl_mode"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime  time.Duration `mapstructure:"conn_max_idle_time"`
	PingTimeout      time.Duration `mapstructure:"ping_timeout"`
	MigrationTimeout time.Duration `mapstructure:"migration_timeout"`
}

func (d DatabaseConfig) DSN() string {
	return d.ToDBConfig().DSN()
}

type ScalingConfig struct {
	CheckInterval            time.Duration `mapstructure:"check_interval"`
	DefaultCooldown          time.Duration `mapstructure:"default_cooldown"`
	HeartbeatTimeout         time.Duration `mapstructure:"heartbeat_timeout"`
	StartupTimeout           time.Duration `mapstructure:"startup_timeout"`
	StartingScaleUpThreshold float64       `mapstructure:"starting_scale_up_threshold"`
	OperationTimeout         time.Duration `mapstructure:"operation_timeout"`
	CronJobTimeout           time.Duration `mapstructure:"cron_job_timeout"`
	GroupsDir                string        `mapstructure:"groups_dir"`
}

type ProviderConfig struct {
	Type       string           `mapstructure:"type"`
	Docker     DockerConfig     `mapstructure:"docker"`
	Simulation SimulationConfig `mapstructure:"simulation"`
}

type DockerConfig struct {
	Endpoint                 string        `mapstructure:"endpoint"`
	Network                  string        `mapstructure:"network"`
	AutoCreateNetwork        bool          `mapstructure:"auto_create_network"`
	ServersDir               string        `mapstructure:"servers_dir"`
	TemplatesDir             string        `mapstructure:"templates_dir"`
	CleanupDynamicOnShutdown bool          `mapstructure:"cleanup_dynamic_on_shutdown"`
	StopTimeout              time.Duration `mapstructure:"stop_timeout"`
	RemovePollAttempts       int           `mapstructure:"remove_poll_attempts"`
	RemovePollInterval       time.Duration `mapstructure:"remove_poll_interval"`
	LogWait                  time.Duration `mapstructure:"log_wait"`
	LogReconnectDelay        time.Duration `mapstructure:"log_reconnect_delay"`
	MonitorInterval          time.Duration `mapstructure:"monitor_interval"`
	MonitorHeartbeats        bool          `mapstructure:"monitor_heartbeats"`
	ShutdownGrace            time.Duration `mapstructure:"shutdown_grace"`
}

type SimulationConfig struct {
	StartupDelay         time.Duration `mapstructure:"startup_delay"`
	StopDelay            time.Duration `mapstructure:"stop_delay"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	PlayerActivityChance float64       `mapstructure:"player_activity_chance"`
	LogActivityChance    float64       `mapstructure:"log_activity_chance"`
	MaxLogLines          int           `mapstructure:"max_log_lines"`
	Pattern              string        `mapstructure:"pattern"`
	ServersDir           string        `mapstructure:"servers_dir"`
	Seed                 int64         `mapstructure:"seed"`
}

type APIConfig struct {
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	RateLimit          int           `mapstructure:"rate_limit"`
	OperationRateLimit int           `mapstructure:"operation_rate_limit"`
	JWTSecret          string        `mapstructure:"jwt_secret"`
	JWTDuration        time.Duration `mapstructure:"jwt_duration"`
	JWTIssuer          string        `mapstructure:"jwt_issuer"`
	CookieName         string        `mapstructure:"cookie_name"`
	CookieSecure       bool          `mapstructure:"cookie_secure"`
	DefaultLimit       int           `mapstructure:"default_limit"`
	MaxLimit           int           `mapstructure:"max_limit"`
	MaxLogLines        int           `mapstructure:"max_log_lines"`
	CORS               CORSConfig    `mapstructure:"cors"`

	// AdminUser and AdminPassword give a single login when the database is disabled.
	AdminUser     string `mapstructure:"admin_user"`
	AdminPassword string `mapstructure:"admin_password"`
}

type WebSocketConfig struct {
	MaxConnections  int           `mapstructure:"max_connections"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	BroadcastBuffer int           `mapstructure:"broadcast_buffer"`
	ClientBuffer    int           `mapstructure:"client_buffer"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type EventsConfig struct {
	BufferSize  int `mapstructure:"buffer_size"`
	HistorySize int `mapstructure:"history_size"`
}
