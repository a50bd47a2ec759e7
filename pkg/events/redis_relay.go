package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flowwatch/flowwatch/pkg/logger"
)

// DefaultChannelPrefix is the Redis channel prefix for snapshot events.
const DefaultChannelPrefix = "flowwatch:snapshots:"

// RelayConfig configures a RedisRelay.
type RelayConfig struct {
	ChannelPrefix string
	// InstanceID identifies this process; events it published are not
	// relayed back to it. A random id is used when empty.
	InstanceID string
	Logger     logger.Logger
	Metrics    MetricsRecorder
}

// RedisRelay publishes events on Redis Pub/Sub and feeds events from other
// instances into a local Broadcaster.
type RedisRelay struct {
	client     redis.UniversalClient
	local      *Broadcaster
	prefix     string
	instanceID string
	log        logger.Logger
	metrics    MetricsRecorder

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
	closed bool
}

// NewRedisRelay creates a relay that delivers to local and to Redis.
func NewRedisRelay(client redis.UniversalClient, local *Broadcaster, cfg RelayConfig) *RedisRelay {
	r := &RedisRelay{
		client:     client,
		local:      local,
		prefix:     cfg.ChannelPrefix,
		instanceID: cfg.InstanceID,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if r.prefix == "" {
		r.prefix = DefaultChannelPrefix
	}
	if r.instanceID == "" {
		r.instanceID = uuid.NewString()
	}
	if r.log == nil {
		r.log = logger.Global()
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	r.log = r.log.With("component", "redis_relay", "instance_id", r.instanceID)
	return r
}

// InstanceID returns the id stamped on events published by this relay.
func (r *RedisRelay) InstanceID() string {
	return r.instanceID
}

// Channel returns the Redis channel for userID.
func (r *RedisRelay) Channel(userID string) string {
	return r.prefix + userID
}

// Start subscribes to every user channel and relays peer events until Close.
// It returns once the subscription is confirmed by the server.
func (r *RedisRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.pubsub != nil {
		return nil
	}

	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s*: %w", r.prefix, err)
	}
	r.pubsub = pubsub
	r.done = make(chan struct{})
	go r.forward(pubsub.Channel(), r.done)

	r.log.Info("redis relay subscribed", "pattern", r.prefix+"*")
	return nil
}

func (r *RedisRelay) forward(msgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range msgs {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			r.metrics.RecordEventPublished(TransportRedis, "decode_failed")
			r.log.Warn("dropping undecodable event", "channel", msg.Channel, "error", err)
			continue
		}
		if ev.Origin == r.instanceID {
			continue
		}
		if ev.UserID == "" {
			ev.UserID = strings.TrimPrefix(msg.Channel, r.prefix)
		}
		r.local.Broadcast(ev)
	}
}

// Publish delivers ev locally, then on the user's Redis channel.
// A Redis failure is returned after local delivery has happened.
func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		r.metrics.RecordEventPublished(TransportRedis, "closed")
		return ErrClosed
	}
	if ev.UserID == "" {
		r.metrics.RecordEventPublished(TransportRedis, "invalid")
		return fmt.Errorf("event user_id cannot be empty")
	}
	if ev.Origin == "" {
		ev.Origin = r.instanceID
	}

	if err := r.local.Publish(ctx, ev); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		r.metrics.RecordEventPublished(TransportRedis, "marshal_failed")
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.Channel(ev.UserID), data).Err(); err != nil {
		r.metrics.RecordEventPublished(TransportRedis, "error")
		return fmt.Errorf("publish %s: %w", r.Channel(ev.UserID), err)
	}
	r.metrics.RecordEventPublished(TransportRedis, "ok")
	return nil
}

// Healthy checks if the Redis connection is alive.
func (r *RedisRelay) Healthy(ctx context.Context) bool {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return false
	}
	return r.client.Ping(ctx).Err() == nil
}

// Close stops relaying. The Redis client and local broadcaster stay open.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pubsub, done := r.pubsub, r.done
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
