package redisTransport

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/walletbridge/remote-signer-go/pkg/config"
	"github.com/walletbridge/remote-signer-go/pkg/logger"
	"github.com/walletbridge/remote-signer-go/pkg/session"
)

// getTestRedisAddress returns the Redis address for testing.
// Uses REDIS_TEST_ADDRESS env var if set, otherwise defaults to localhost:6379.
func getTestRedisAddress() string {
	if addr := os.Getenv("REDIS_TEST_ADDRESS"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// requireRedis skips the test if Redis is not reachable
func requireRedis(t *testing.T) *RedisTransport {
	t.Helper()

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	cfg := &config.RedisConfig{
		Address: getTestRedisAddress(),
		DB:      15, // Use DB 15 for tests to avoid conflicts
	}

	rt, err := NewRedisTransport(cfg, testLogger)
	if err != nil {
		t.Skipf("Redis not available at %s: %v", cfg.Address, err)
		return nil
	}
	return rt
}

func TestRedisTransport_PublishSubscribe(t *testing.T) {
	rt := requireRedis(t)
	defer func() { _ = rt.Close() }()

	ctx := context.Background()
	sessionID, err := session.GenerateSessionID()
	require.NoError(t, err)
	topic := session.ChannelName(sessionID)

	received := make(chan []byte, 1)
	sub, err := rt.Subscribe(ctx, topic, func(payload []byte) {
		received <- payload
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	require.NoError(t, rt.Publish(ctx, topic, []byte(`{"type":"auth-success"}`)))

	select {
	case got := <-received:
		require.JSONEq(t, `{"type":"auth-success"}`, string(got))
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestRedisTransport_UnsubscribeStopsDelivery(t *testing.T) {
	rt := requireRedis(t)
	defer func() { _ = rt.Close() }()

	ctx := context.Background()
	sessionID, err := session.GenerateSessionID()
	require.NoError(t, err)
	topic := session.ChannelName(sessionID)

	received := make(chan []byte, 4)
	sub, err := rt.Subscribe(ctx, topic, func(payload []byte) {
		received <- payload
	})
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe()) // idempotent

	require.NoError(t, rt.Publish(ctx, topic, []byte("late")))

	select {
	case <-received:
		t.Fatal("received message after unsubscribe")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestNewRedisTransport_InvalidConfig(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	t.Run("Nil config", func(t *testing.T) {
		_, err := NewRedisTransport(nil, testLogger)
		require.Error(t, err)
	})

	t.Run("Missing address", func(t *testing.T) {
		_, err := NewRedisTransport(&config.RedisConfig{}, testLogger)
		require.Error(t, err)
	})
}
