// Package redisbroker implements the durable stream broker over Redis
// Streams. This is the cross-instance path: every server instance appends to
// and polls the same Redis, so viewers connected anywhere observe the same
// events. Retention uses XTRIM MAXLEN ~, so stream length is approximate.
package redisbroker

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/socratat-b/orderbean/internal/broker"
	"github.com/socratat-b/orderbean/internal/event"
)

const defaultReadCount = 128

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Client talks to Redis Streams. Entry ids are the broker-assigned
// "<ms>-<seq>" stream ids.
type Client struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

var _ broker.Client = (*Client)(nil)

// New builds a client. The connection is lazy; use Ping to verify it early.
func New(opts Options, logger zerolog.Logger) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		logger: logger.With().Str("component", "broker").Str("backend", "redis").Logger(),
	}
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisbroker: ping: %w", err)
	}
	return nil
}

// Append stores the flattened field set of ev and returns the Redis-assigned
// entry id.
func (c *Client) Append(ctx context.Context, stream string, ev event.OrderEvent) (string, error) {
	values := make(map[string]interface{}, 4)
	for k, v := range event.Flatten(ev) {
		values[k] = v
	}
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("redisbroker: xadd %s: %w", stream, err)
	}
	return id, nil
}

// Read pulls entries strictly after the per-stream cursors with a single
// XREAD round trip. A zero-value cursor means "from the beginning".
func (c *Client) Read(ctx context.Context, streams []string, after []string, opts broker.ReadOptions) ([]broker.Entry, error) {
	if len(streams) != len(after) {
		return nil, fmt.Errorf("redisbroker: %d streams but %d cursors", len(streams), len(after))
	}
	count := opts.Count
	if count <= 0 {
		count = defaultReadCount
	}
	args := &redis.XReadArgs{
		Streams: make([]string, 0, len(streams)*2),
		Count:   count,
		// go-redis only sends BLOCK for non-negative values.
		Block: -1,
	}
	if opts.Block > 0 {
		args.Block = opts.Block
	}
	args.Streams = append(args.Streams, streams...)
	for _, id := range after {
		if id == "" {
			id = "0"
		}
		args.Streams = append(args.Streams, id)
	}

	res, err := c.rdb.XRead(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redisbroker: xread: %w", err)
	}

	var out []broker.Entry
	for _, xs := range res {
		for _, msg := range xs.Messages {
			fields := make(map[string]string, len(msg.Values))
			for k, v := range msg.Values {
				if s, ok := v.(string); ok {
					fields[k] = s
				}
			}
			out = append(out, broker.Entry{Stream: xs.Stream, ID: msg.ID, Event: event.Unflatten(fields)})
		}
	}
	return out, nil
}

// Trim caps the stream with an approximate MAXLEN trim.
func (c *Client) Trim(ctx context.Context, stream string, maxLen int64) error {
	if maxLen <= 0 {
		return nil
	}
	if err := c.rdb.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Err(); err != nil {
		return fmt.Errorf("redisbroker: xtrim %s: %w", stream, err)
	}
	return nil
}

// LatestID returns the newest entry id, or the zero cursor for an empty or
// missing stream.
func (c *Client) LatestID(ctx context.Context, stream string) (string, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "0", nil
		}
		return "", fmt.Errorf("redisbroker: xrevrange %s: %w", stream, err)
	}
	if len(msgs) == 0 {
		return "0", nil
	}
	return msgs[0].ID, nil
}

// Close releases the Redis connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
