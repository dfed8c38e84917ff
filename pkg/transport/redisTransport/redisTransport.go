package redisTransport

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/walletbridge/remote-signer-go/pkg/config"
	"github.com/walletbridge/remote-signer-go/pkg/transport"
)

// RedisTransport implements the pub/sub transport port on top of Redis
// channels. One instance can serve many sessions; each Subscribe opens its
// own PubSub connection.
type RedisTransport struct {
	client *redis.Client
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewRedisTransport connects to Redis and verifies the connection with a ping
func NewRedisTransport(cfg *config.RedisConfig, logger *zap.Logger) (*RedisTransport, error) {
	if cfg == nil {
		return nil, errors.New("redis config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid redis config")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to Redis at %s", cfg.Address)
	}

	logger.Sugar().Infow("Redis transport initialized", "address", cfg.Address, "db", cfg.DB)

	return &RedisTransport{
		client: client,
		logger: logger,
	}, nil
}

// Subscribe opens a dedicated PubSub connection for topic and feeds payloads
// to h from a receive goroutine until Unsubscribe or Close.
func (r *RedisTransport) Subscribe(ctx context.Context, topic string, h transport.Handler) (transport.Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New("redis transport is closed")
	}
	r.mu.Unlock()

	pubsub := r.client.Subscribe(ctx, topic)

	// Receive the subscription confirmation so delivery is active before we
	// return; otherwise an announce published right after Subscribe could be
	// missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Wrapf(err, "failed to subscribe to topic %s", topic)
	}

	sub := &subscription{pubsub: pubsub, topic: topic, logger: r.logger}
	go sub.receiveLoop(h)

	r.logger.Sugar().Debugw("Subscribed to topic", "topic", topic)
	return sub, nil
}

// Publish sends payload to every current subscriber of topic. Fire-and-forget
// beyond Redis accepting the command.
func (r *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
		return errors.Wrapf(err, "failed to publish to topic %s", topic)
	}
	return nil
}

// Close releases the underlying Redis client. Active subscriptions are closed
// by their own Unsubscribe.
func (r *RedisTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

type subscription struct {
	pubsub *redis.PubSub
	topic  string
	logger *zap.Logger
	once   sync.Once
}

func (s *subscription) receiveLoop(h transport.Handler) {
	for msg := range s.pubsub.Channel() {
		h([]byte(msg.Payload))
	}
	s.logger.Sugar().Debugw("Receive loop ended", "topic", s.topic)
}

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
