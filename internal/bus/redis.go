// ABOUTME: Redis-backed Bus using PUBLISH and PSUBSCRIBE via go-redis
// ABOUTME: Optional key prefix isolates several deployments on one Redis server

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisSubscriptionBuffer = 256

// RedisOptions configures a RedisBus.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every channel and pattern on the wire.
	Prefix string
	// HealthCheckInterval is how often an idle subscription is pinged.
	HealthCheckInterval time.Duration
}

// RedisBus is a Bus backed by Redis pub/sub.
type RedisBus struct {
	client      redis.UniversalClient
	prefix      string
	healthCheck time.Duration
	logger      *slog.Logger
}

// NewRedisBus connects a new go-redis client with the given options.
func NewRedisBus(opts RedisOptions, logger *slog.Logger) *RedisBus {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	b := NewRedisBusFromClient(client, opts.Prefix, logger)
	if opts.HealthCheckInterval > 0 {
		b.healthCheck = opts.HealthCheckInterval
	}
	return b
}

// NewRedisBusFromClient wraps an existing client. Close closes the client.
func NewRedisBusFromClient(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{
		client:      client,
		prefix:      prefix,
		healthCheck: 30 * time.Second,
		logger:      logger.With("component", "bus", "driver", "redis"),
	}
}

// Client exposes the underlying go-redis client for components that share
// the connection, such as the presence directory.
func (b *RedisBus) Client() redis.UniversalClient {
	return b.client
}

// Publish sends payload to channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, b.prefix+channel, payload).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("%w: publish %s: %v", ErrUnavailable, channel, err)
	}
	return nil
}

// Subscribe issues PSUBSCRIBE for the patterns and waits for Redis to
// confirm before returning.
func (b *RedisBus) Subscribe(ctx context.Context, patterns ...string) (Subscription, error) {
	wire := make([]string, len(patterns))
	for i, p := range patterns {
		wire[i] = b.prefix + p
	}

	ps := b.client.PSubscribe(ctx, wire...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: psubscribe: %v", ErrUnavailable, err)
	}

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan Message, redisSubscriptionBuffer),
		done: make(chan struct{}),
	}
	go sub.pump(b.prefix, ps.Channel(redis.WithChannelHealthCheckInterval(b.healthCheck)))

	b.logger.Debug("subscribed", "patterns", patterns)
	return sub, nil
}

// Ping round-trips to Redis.
func (b *RedisBus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan Message
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) pump(prefix string, in <-chan *redis.Message) {
	defer close(s.out)
	for {
		select {
		case m, ok := <-in:
			if !ok {
				return
			}
			msg := Message{
				Channel: strings.TrimPrefix(m.Channel, prefix),
				Payload: []byte(m.Payload),
			}
			select {
			case s.out <- msg:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
