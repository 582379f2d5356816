package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/utils"
)

// Default stream configuration
const (
	DefaultStreamMaxLen = 10000 // Default max entries per stream
)

// Options is the connection configuration read by NewClient.
type Options struct {
	Addr         string
	Password     string
	DB           int
	StreamMaxLen int64 // Max entries per stream (0 = unlimited)
}

// OptionsFromEnv reads the Redis configuration.
// Environment variables:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
//   - REDIS_STREAM_MAXLEN: Max entries per stream (default: 10000, 0 = unlimited)
func OptionsFromEnv() Options {
	return Options{
		Addr:         fmt.Sprintf("%s:%s", utils.Env("REDIS_HOST", "localhost"), utils.Env("REDIS_PORT", "6379")),
		Password:     utils.Env("REDIS_PASSWORD", ""),
		DB:           utils.EnvInt("REDIS_DB", 0),
		StreamMaxLen: utils.EnvInt64("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen),
	}
}

// Client wraps the Redis client for slot notifications (Pub/Sub and Streams).
type Client struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64
}

// NewClient connects using OptionsFromEnv.
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	return NewClientWithOptions(ctx, logger, OptionsFromEnv())
}

// NewClientWithOptions connects to Redis and verifies the connection with a ping.
func NewClientWithOptions(ctx context.Context, logger *zap.Logger, opts Options) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		// Connection pool
		PoolSize:     10,
		MinIdleConns: 2,

		// Timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int64("streamMaxLen", opts.StreamMaxLen))

	return &Client{
		client:       rdb,
		logger:       logger,
		streamMaxLen: opts.StreamMaxLen,
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Publish publishes a message to a Redis Pub/Sub channel.
// This is a best-effort operation - errors are logged but not returned
// so a Redis outage never fails an ingest.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// XAdd adds an entry to a stream. Uses MAXLEN to cap stream size if configured.
// Returns the entry ID (e.g., "1234567890123-0"), or "" after logging the error.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]interface{}) string {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}

	// Apply MAXLEN if configured (approximate for performance)
	if c.streamMaxLen > 0 {
		args.MaxLen = c.streamMaxLen
		args.Approx = true
	}

	id, err := c.client.XAdd(ctx, args).Result()
	if err != nil {
		c.logger.Warn("Failed to add to Redis stream",
			zap.String("stream", stream),
			zap.Error(err))
		return ""
	}
	return id
}

// Message is one Pub/Sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Subscribe pattern-subscribes and waits up to 5s for the server to confirm. Messages arrive on
// the returned channel until ctx is done or the connection drops, then the channel closes.
// Call the returned func to release the subscription.
func (c *Client) Subscribe(ctx context.Context, pattern string) (<-chan Message, func() error, error) {
	pubsub := c.client.PSubscribe(ctx, pattern)

	confirmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("confirm subscription to %s: %w", pattern, err)
	}

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, pubsub.Close, nil
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Channel returns the Pub/Sub channel for an event under a schema prefix.
// Channel format: blockstore:{prefix}:{eventType}
// Example: blockstore:rpc2a:slot.indexed
func Channel(prefix, eventType string) string {
	return "blockstore:" + prefix + ":" + eventType
}

// SlotIndexedChannel returns the channel for slot.indexed events.
func SlotIndexedChannel(prefix string) string {
	return Channel(prefix, "slot.indexed")
}

// PrefixOf extracts the schema prefix from a channel built by Channel. It returns "" for
// channels in any other format.
func PrefixOf(channel string) string {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "blockstore" {
		return ""
	}
	return parts[1]
}

// SlotStream returns the capped stream that mirrors slot.indexed events for consumers
// that must not miss one while disconnected.
func SlotStream(prefix string) string {
	return Channel(prefix, "slots")
}
