package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flowwatch/flowwatch/config"
	"github.com/flowwatch/flowwatch/pkg/events"
	"github.com/flowwatch/flowwatch/pkg/logger"
	"github.com/flowwatch/flowwatch/pkg/metrics"
	"github.com/flowwatch/flowwatch/pkg/source"
	"github.com/flowwatch/flowwatch/pkg/source/httpsource"
	"github.com/flowwatch/flowwatch/pkg/source/memory"
	"github.com/flowwatch/flowwatch/pkg/source/postgres"
	"github.com/flowwatch/flowwatch/pkg/storage"
	"github.com/flowwatch/flowwatch/pkg/storage/badger"
	storagememory "github.com/flowwatch/flowwatch/pkg/storage/memory"
)

// openSource builds the configured backend. The returned func releases it.
func openSource(ctx context.Context, cfg *config.Config, log logger.Logger) (source.Source, func(), error) {
	noop := func() {}

	switch cfg.Source.Type {
	case "http":
		client, err := httpsource.New(cfg.Source.HTTP.ToHTTPSourceConfig())
		if err != nil {
			return nil, nil, err
		}
		log.Info("using http source", "base_url", cfg.Source.HTTP.BaseURL)
		return client, noop, nil

	case "postgres":
		src, err := postgres.Open(ctx, cfg.Source.Postgres.ToPostgresOptions())
		if err != nil {
			return nil, nil, err
		}
		if cfg.Source.Postgres.EnsureSchema {
			if err := src.EnsureSchema(ctx); err != nil {
				src.Close()
				return nil, nil, err
			}
		}
		log.Info("using postgres source", "max_conns", cfg.Source.Postgres.MaxConns)
		return src, src.Close, nil

	case "memory", "":
		src := memory.New()
		if cfg.Source.Demo {
			src.EnableDemo(time.Now)
		}
		log.Info("using memory source", "demo", cfg.Source.Demo)
		return src, noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}
}

// openStorage returns nil when persistence is disabled.
func openStorage(cfg *config.Config, log logger.Logger) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case "none":
		return nil, nil
	case "badger":
		store, err := badger.NewBadgerStorage(cfg.Storage.Badger.ToBadgerConfig(log))
		if err != nil {
			return nil, err
		}
		log.Info("initialized badger storage", "path", cfg.Storage.Badger.Path, "in_memory", cfg.Storage.Badger.InMemory)
		return store, nil
	case "memory", "":
		log.Info("initialized memory storage")
		return storagememory.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// eventStack is the snapshot update channel: a local broadcaster, optionally
// fronted by a Redis relay shared with peer instances.
type eventStack struct {
	local     *events.Broadcaster
	publisher events.Publisher
	relay     *events.RedisRelay
	client    *redis.Client
}

func openEvents(ctx context.Context, cfg *config.Config, log logger.Logger, mm *metrics.Manager) (*eventStack, error) {
	local := events.NewBroadcaster(
		events.WithMetrics(mm),
		events.WithDefaultBuffer(cfg.Events.Buffer),
	)
	stack := &eventStack{local: local, publisher: local}
	if cfg.Events.Type != "redis" {
		return stack, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Events.Redis.Address,
		Password: cfg.Events.Redis.Password,
		DB:       cfg.Events.Redis.DB,
	})
	relay := events.NewRedisRelay(client, local, events.RelayConfig{
		ChannelPrefix: cfg.Events.Redis.ChannelPrefix,
		InstanceID:    cfg.App.InstanceID,
		Logger:        log,
		Metrics:       mm,
	})
	if err := relay.Start(ctx); err != nil {
		_ = client.Close()
		local.Close()
		return nil, fmt.Errorf("start redis relay: %w", err)
	}

	stack.relay = relay
	stack.client = client
	stack.publisher = relay
	return stack, nil
}

// healthy adapts the relay probe to a readiness check.
func (s *eventStack) healthy(ctx context.Context) error {
	if s.relay == nil || s.relay.Healthy(ctx) {
		return nil
	}
	return errors.New("redis unreachable")
}

func (s *eventStack) Close() error {
	var errs []error
	if s.relay != nil {
		errs = append(errs, s.relay.Close())
	}
	if s.client != nil {
		errs = append(errs, s.client.Close())
	}
	s.local.Close()
	return errors.Join(errs...)
}

// instanceID fills in a generated id so logs, traces and the relay agree.
func instanceID(cfg *config.Config) string {
	if cfg.App.InstanceID == "" {
		cfg.App.InstanceID = uuid.NewString()
	}
	return cfg.App.InstanceID
}
