package events

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowwatch/flowwatch/pkg/logger"
	"github.com/flowwatch/flowwatch/pkg/snapshot"
)

func requireRedisClient(tb testing.TB) redis.UniversalClient {
	tb.Helper()

	addr := os.Getenv("FLOWWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		tb.Skipf("redis is not available at %s: %v", addr, err)
	}

	tb.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func testPrefix() string {
	return fmt.Sprintf("flowwatch:test:snapshots:%d:", time.Now().UnixNano())
}

func TestRedisRelay_RelaysAcrossInstances(t *testing.T) {
	client := requireRedisClient(t)
	prefix := testPrefix()
	ctx := context.Background()

	localA, localB := NewBroadcaster(), NewBroadcaster()
	relayA := NewRedisRelay(client, localA, RelayConfig{ChannelPrefix: prefix, InstanceID: "a", Logger: logger.Discard()})
	relayB := NewRedisRelay(client, localB, RelayConfig{ChannelPrefix: prefix, InstanceID: "b", Logger: logger.Discard()})
	require.NoError(t, relayA.Start(ctx))
	require.NoError(t, relayB.Start(ctx))
	defer relayA.Close()
	defer relayB.Close()

	chA := localA.SubscribeUser("u1", 4)
	chB := localB.SubscribeUser("u1", 4)

	snap := snapshot.Empty("u1")
	snap.Token = 5
	require.NoError(t, relayA.Publish(ctx, SnapshotUpdated(snap)))

	gotA := receive(t, chA)
	assert.Equal(t, "a", gotA.Origin)

	gotB := receive(t, chB)
	assert.Equal(t, "a", gotB.Origin)
	assert.Equal(t, uint64(5), gotB.Token)
	require.NotNil(t, gotB.Snapshot)
	assert.Equal(t, "u1", gotB.Snapshot.UserID)

	select {
	case ev := <-chA:
		t.Fatalf("relay echoed its own event: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRedisRelay_PublishValidation(t *testing.T) {
	client := requireRedisClient(t)
	relay := NewRedisRelay(client, NewBroadcaster(), RelayConfig{ChannelPrefix: testPrefix(), Logger: logger.Discard()})
	assert.NotEmpty(t, relay.InstanceID())

	assert.Error(t, relay.Publish(context.Background(), Event{Type: TypeSnapshotUpdated}))
}

func TestRedisRelay_ClosedRelay(t *testing.T) {
	client := requireRedisClient(t)
	relay := NewRedisRelay(client, NewBroadcaster(), RelayConfig{ChannelPrefix: testPrefix(), Logger: logger.Discard()})
	require.NoError(t, relay.Start(context.Background()))
	assert.True(t, relay.Healthy(context.Background()))

	require.NoError(t, relay.Close())
	require.NoError(t, relay.Close())

	assert.False(t, relay.Healthy(context.Background()))
	assert.ErrorIs(t, relay.Publish(context.Background(), Event{UserID: "u1"}), ErrClosed)
	assert.ErrorIs(t, relay.Start(context.Background()), ErrClosed)
}

func TestRedisRelay_Channel(t *testing.T) {
	relay := NewRedisRelay(nil, NewBroadcaster(), RelayConfig{InstanceID: "x", Logger: logger.Discard()})
	assert.Equal(t, DefaultChannelPrefix+"u1", relay.Channel("u1"))
	assert.Equal(t, "x", relay.InstanceID())
}
