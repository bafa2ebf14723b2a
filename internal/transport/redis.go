package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the redis list transport settings
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Prefix    string
	BlockWait time.Duration
}

// RedisTransport uses one redis list per address (LPUSH / BRPOP)
type RedisTransport struct {
	client *redis.Client
	prefix string
	wait   time.Duration
	log    zerolog.Logger
}

// NewRedisTransport connects to redis and verifies the connection
func NewRedisTransport(ctx context.Context, cfg RedisConfig, log zerolog.Logger) (*RedisTransport, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newRedisTransport(client, cfg, log), nil
}

func newRedisTransport(client *redis.Client, cfg RedisConfig, log zerolog.Logger) *RedisTransport {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "nexus:tasks"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisTransport{
		client: client,
		prefix: prefix,
		wait:   wait,
		log:    log.With().Str("component", "redis_transport").Logger(),
	}
}

func (t *RedisTransport) key(address string) string {
	return t.prefix + ":" + address
}

// Send pushes the encoded envelope onto the address list
func (t *RedisTransport) Send(ctx context.Context, env Envelope) error {
	data, err := Marshal(env)
	if err != nil {
		return err
	}
	if err := t.client.LPush(ctx, t.key(env.Address()), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Consume pops envelopes from the address list until ctx is cancelled.
// Failed handlers are logged; envelopes are not requeued.
func (t *RedisTransport) Consume(ctx context.Context, address string, h Handler) error {
	key := t.key(address)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		values, err := t.client.BRPop(ctx, t.wait, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return ErrClosed
			}
			return fmt.Errorf("failed to pop from redis: %w", err)
		}
		if len(values) != 2 {
			continue
		}

		env, err := Unmarshal([]byte(values[1]))
		if err != nil {
			t.log.Error().Err(err).Str("key", key).Msg("Dropping malformed frame")
			continue
		}
		if err := h(ctx, env); err != nil {
			t.log.Warn().Err(err).Str("key", key).Str("task_id", env.TaskID).Msg("Envelope handler failed")
		}
	}
}

// Close closes the redis client
func (t *RedisTransport) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}
