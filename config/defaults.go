package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "flowwatch",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				RequestTimeout:  15 * time.Second,
				ShutdownTimeout: 10 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
			},
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
				MaxAge:         300,
			},
			GRPC: GRPCConfig{
				Enabled: false,
				Port:    9090,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 1,
				Burst:             3,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Monitor: MonitorConfig{
			PollInterval:       5 * time.Second,
			ActiveLimit:        10,
			HistoryLimit:       20,
			CommunicationLimit: 50,
		},
		Source: SourceConfig{
			Type: "memory",
			HTTP: HTTPSourceConfig{
				Timeout: 10 * time.Second,
			},
			Postgres: PostgresConfig{
				MaxConns:        10,
				ConnMaxLifetime: 30 * time.Minute,
			},
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        false,
				ValueLogFileSize:  64 << 20, // 64MB
				NumVersionsToKeep: 1,
			},
		},
		Events: EventsConfig{
			Type:   "local",
			Buffer: 16,
			Redis: RedisConfig{
				Address:       "localhost:6379",
				Password:      "",
				DB:            0,
				ChannelPrefix: "flowwatch:snapshots:",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "ratio",
			SampleRate: 0.1,
		},
	}
}
