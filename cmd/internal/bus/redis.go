package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pulse/cmd/internal/ids"
	"pulse/cmd/internal/realtime"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisBus fans broadcasts out to every node subscribed to one Redis pub/sub channel.
type RedisBus struct {
	log     *slog.Logger
	client  *redis.Client
	channel string
	node    string
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, log *slog.Logger, cfg RedisConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisBusWithClient(log, client, cfg.Channel), nil
}

// NewRedisBusWithClient wraps an existing client.
func NewRedisBusWithClient(log *slog.Logger, client *redis.Client, channel string) *RedisBus {
	if log == nil {
		log = slog.Default()
	}
	if channel == "" {
		channel = "pulse:broadcasts"
	}
	return &RedisBus{
		log:     log,
		client:  client,
		channel: channel,
		node:    ids.NodeID(),
	}
}

// Node returns this process's node id.
func (b *RedisBus) Node() string { return b.node }

// Forward publishes a local broadcast for other nodes.
func (b *RedisBus) Forward(ctx context.Context, bc realtime.Broadcast) error {
	id, err := ids.NewULID(time.Now())
	if err != nil {
		return fmt.Errorf("bus: message id: %w", err)
	}
	payload, err := encode(envelope{ID: id, Node: b.node, Broadcast: bc})
	if err != nil {
		return fmt.Errorf("bus: encode: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Run subscribes to the bus channel and hands every foreign broadcast to sink.
func (b *RedisBus) Run(ctx context.Context, sink Sink) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("bus: subscribe %s: %w", b.channel, err)
	}
	b.log.Info("bus.subscribed", "channel", b.channel, "node", b.node)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.handle(msg.Payload, sink)
		}
	}
}

func (b *RedisBus) handle(payload string, sink Sink) {
	env, err := decode([]byte(payload))
	if err != nil {
		b.log.Warn("bus.message.invalid", "err", err)
		return
	}
	if env.Node == b.node {
		return
	}
	n := sink(env.Broadcast)
	b.log.Debug("bus.message.delivered",
		"id", env.ID,
		"from", env.Node,
		"app_id", env.Broadcast.AppID,
		"channel", env.Broadcast.Channel,
		"recipients", n,
	)
}

// Close releases the Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
