package config

import (
	"net"
	"strconv"

	grpcserver "github.com/flowwatch/flowwatch/pkg/grpc"
	"github.com/flowwatch/flowwatch/pkg/logger"
	"github.com/flowwatch/flowwatch/pkg/metrics"
	"github.com/flowwatch/flowwatch/pkg/snapshot"
	"github.com/flowwatch/flowwatch/pkg/source/httpsource"
	"github.com/flowwatch/flowwatch/pkg/source/postgres"
	"github.com/flowwatch/flowwatch/pkg/storage/badger"
	"github.com/flowwatch/flowwatch/pkg/telemetry/tracing"
)

// ToLoggerConfig converts LogConfig to pkg/logger.Config.
func (l LogConfig) ToLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:     logger.ParseLevel(l.Level),
		Format:    l.Format,
		Output:    l.Output,
		AddSource: l.AddSource,
	}
}

// Limits converts the list bounds to snapshot.Limits.
func (m MonitorConfig) Limits() snapshot.Limits {
	return snapshot.Limits{
		Active:         m.ActiveLimit,
		History:        m.HistoryLimit,
		Communications: m.CommunicationLimit,
	}
}

// ToHTTPSourceConfig converts HTTPSourceConfig to pkg/source/httpsource.Config.
func (h HTTPSourceConfig) ToHTTPSourceConfig() httpsource.Config {
	return httpsource.Config{
		BaseURL: h.BaseURL,
		Timeout: h.Timeout,
		Token:   h.Token,
	}
}

// ToPostgresOptions converts PostgresConfig to pkg/source/postgres.Options.
func (p PostgresConfig) ToPostgresOptions() postgres.Options {
	return postgres.Options{
		DSN:             p.DSN,
		MaxConns:        p.MaxConns,
		ConnMaxLifetime: p.ConnMaxLifetime,
	}
}

// ToBadgerConfig converts BadgerConfig to pkg/storage/badger.Config.
func (b BadgerConfig) ToBadgerConfig(log logger.Logger) *badger.Config {
	return &badger.Config{
		Path:              b.Path,
		InMemory:          b.InMemory,
		SyncWrites:        b.SyncWrites,
		ValueLogFileSize:  b.ValueLogFileSize,
		NumVersionsToKeep: b.NumVersionsToKeep,
		Logger:            log,
	}
}

// ToMetricsConfig converts MetricsConfig to pkg/metrics.Config.
func (m MetricsConfig) ToMetricsConfig() metrics.Config {
	cfg := metrics.DefaultConfig()
	cfg.Enabled = m.Enabled
	cfg.Port = m.Port
	cfg.Path = m.Path
	return cfg
}

// ToTracingConfig converts TracingConfig to pkg/telemetry/tracing.Config.
func (t TracingConfig) ToTracingConfig(instanceID string) tracing.Config {
	return tracing.Config{
		Enabled:    t.Enabled,
		Exporter:   t.Exporter,
		Endpoint:   t.Endpoint,
		Timeout:    t.Timeout,
		Headers:    t.Headers,
		Sampler:    t.Sampler,
		SampleRate: t.SampleRate,
		InstanceID: instanceID,
	}
}

// HTTPAddress returns the HTTP listen address.
func (s ServerConfig) HTTPAddress() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// GRPCAddress returns the gRPC listen address.
func (s ServerConfig) GRPCAddress() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.GRPC.Port))
}

// ToGRPCConfig converts the gRPC settings to pkg/grpc.Config.
func (c *Config) ToGRPCConfig() *grpcserver.Config {
	cfg := grpcserver.DefaultConfig()
	cfg.Address = c.Server.GRPCAddress()
	cfg.EnableReflection = c.Server.GRPC.EnableReflection
	cfg.EnableTracing = c.Tracing.Enabled
	return cfg
}
