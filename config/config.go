// Package config loads, validates and watches flowwatch configuration.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration. Loader fills it from defaults, an
// optional file, FLOWWATCH_* variables and flag overrides.
type Config struct {
	App     AppConfig     `mapstructure:"app" validate:"required"`
	Server  ServerConfig  `mapstructure:"server" validate:"required"`
	Log     LogConfig     `mapstructure:"log" validate:"required"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Source  SourceConfig  `mapstructure:"source"`
	Storage StorageConfig `mapstructure:"storage"`
	Events  EventsConfig  `mapstructure:"events"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig identifies the running process.
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment" validate:"env"`
	Debug       bool   `mapstructure:"debug"`

	// InstanceID tags spans and relay messages. Generated when empty.
	InstanceID string `mapstructure:"instance_id"`
}

// ServerConfig covers the HTTP API and the optional gRPC health endpoint.
type ServerConfig struct {
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port" validate:"required,min=1,max=65535"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	CORS      CORSConfig      `mapstructure:"cors"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// HTTPConfig holds net/http server limits.
type HTTPConfig struct {
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// RequestTimeout bounds handler execution. WebSocket routes are exempt.
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes" validate:"min=0"`
}

// CORSConfig holds CORS settings. AllowedOrigins also gates websocket upgrades.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`

	// MaxAge is the preflight cache lifetime in seconds.
	MaxAge int `mapstructure:"max_age" validate:"min=0"`
}

// GRPCConfig holds gRPC health server settings.
type GRPCConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	Port             int  `mapstructure:"port" validate:"min=1,max=65535"`
	EnableReflection bool `mapstructure:"enable_reflection"`
}

// RateLimitConfig bounds manual refreshes per user.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"min=1"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is stdout, stderr or a file path.
	Output    string `mapstructure:"output"`
	AddSource bool   `mapstructure:"add_source"`
}

// MonitorConfig holds the poll period and the list bounds applied to every snapshot.
type MonitorConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ActiveLimit        int           `mapstructure:"active_limit" validate:"min=1,max=1000"`
	HistoryLimit       int           `mapstructure:"history_limit" validate:"min=1,max=1000"`
	CommunicationLimit int           `mapstructure:"communication_limit" validate:"min=1,max=5000"`
}

// SourceConfig selects the pipeline backend.
type SourceConfig struct {
	Type string `mapstructure:"type" validate:"oneof=memory http postgres"`

	// Demo seeds the memory source with sample data for every user.
	Demo bool `mapstructure:"demo"`

	HTTP     HTTPSourceConfig `mapstructure:"http"`
	Postgres PostgresConfig   `mapstructure:"postgres"`
}

// HTTPSourceConfig points at the pipeline backend's JSON API.
type HTTPSourceConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`

	// Token is sent as a bearer token.
	Token string `mapstructure:"token"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`

	// EnsureSchema creates the tables on startup.
	EnsureSchema bool `mapstructure:"ensure_schema"`
}

// StorageConfig selects where the last applied snapshot per user is kept.
type StorageConfig struct {
	Type   string       `mapstructure:"type" validate:"oneof=none memory badger"`
	Badger BadgerConfig `mapstructure:"badger"`
}

type BadgerConfig struct {
	Path              string `mapstructure:"path"`
	InMemory          bool   `mapstructure:"in_memory"`
	SyncWrites        bool   `mapstructure:"sync_writes"`
	ValueLogFileSize  int64  `mapstructure:"value_log_file_size" validate:"min=0"`
	NumVersionsToKeep int    `mapstructure:"num_versions_to_keep" validate:"min=0"`
}

// EventsConfig selects the snapshot update channel. The redis type relays
// updates between instances.
type EventsConfig struct {
	Type string `mapstructure:"type" validate:"oneof=local redis"`

	// Buffer is the default subscriber buffer size.
	Buffer int         `mapstructure:"buffer" validate:"min=1"`
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Address       string `mapstructure:"address"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db" validate:"min=0"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// MetricsConfig configures the Prometheus endpoint, served on its own port.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig configures OTLP span export.
type TracingConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Exporter string            `mapstructure:"exporter" validate:"oneof=otlp"`
	Endpoint string            `mapstructure:"endpoint"`
	Timeout  time.Duration     `mapstructure:"timeout" validate:"gte=0"`
	Headers  map[string]string `mapstructure:"headers"`

	// SampleRate only applies to the ratio sampler.
	Sampler    string  `mapstructure:"sampler" validate:"oneof=always_on always_off ratio"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate runs the struct validators.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String summarises the config without secrets.
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Source: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Source.Type)
}
