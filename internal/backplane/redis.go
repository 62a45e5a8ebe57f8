package backplane

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis pub/sub transport.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Channel  string
}

// RedisTransport publishes envelopes on one Redis pub/sub channel.
type RedisTransport struct {
	client  *redis.Client
	channel string
}

// NewRedisTransport connects and pings Redis.
func NewRedisTransport(ctx context.Context, cfg RedisConfig) (*RedisTransport, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis addr", ErrMissingEndpoint)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return &RedisTransport{client: client, channel: cfg.Channel}, nil
}

func (t *RedisTransport) Name() string { return "redis" }

func (t *RedisTransport) Publish(ctx context.Context, payload []byte) error {
	return t.client.Publish(ctx, t.channel, payload).Err()
}

// Subscribe blocks until ctx ends or the subscription breaks.
func (t *RedisTransport) Subscribe(ctx context.Context, handler func(payload []byte)) error {
	pubsub := t.client.Subscribe(ctx, t.channel)
	defer pubsub.Close()

	// wait for the subscribe confirmation so no publish after this returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", t.channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("redis subscription %s closed", t.channel)
			}
			handler([]byte(msg.Payload))
		}
	}
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}
