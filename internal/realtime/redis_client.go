// Package realtime mirrors session events onto a Redis stream so other
// processes can follow a lesson as it plays.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config holds the Redis connection and stream settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// MaxLen caps the stream length (approximate trimming). Zero keeps
	// every entry.
	MaxLen int64
}

// Client wraps go-redis with the stream operations cortexlearn uses.
type Client struct {
	rdb *redis.Client
	cfg Config
	log zerolog.Logger
}

// Message is one stream entry.
type Message struct {
	ID     string
	Stream string
	Values map[string]interface{}
}

// NewClient connects and verifies the server answers PING.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb: rdb,
		cfg: cfg,
		log: log.With().Str("component", "redis").Logger(),
	}, nil
}

// Ping checks if Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Append adds values to stream with XADD and returns the entry ID.
func (c *Client) Append(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if c.cfg.MaxLen > 0 {
		args.MaxLen = c.cfg.MaxLen
		args.Approx = true
	}
	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd failed: %w", err)
	}
	return id, nil
}

// Range returns up to count entries of stream starting at start ("-" for
// the beginning).
func (c *Client) Range(ctx context.Context, stream, start string, count int64) ([]Message, error) {
	entries, err := c.rdb.XRangeN(ctx, stream, start, "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange failed: %w", err)
	}
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, Message{ID: e.ID, Stream: stream, Values: e.Values})
	}
	return out, nil
}

// Follow reads stream through a consumer group until ctx is done. The
// group is created on first use. Entries are acknowledged once delivered.
func (c *Client) Follow(ctx context.Context, stream, group, consumer string) (<-chan Message, error) {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("xgroup create failed: %w", err)
	}

	msgs := make(chan Message, 100)
	go c.readLoop(ctx, stream, group, consumer, msgs)
	return msgs, nil
}

func (c *Client) readLoop(ctx context.Context, stream, group, consumer string, msgs chan<- Message) {
	defer close(msgs)

	for ctx.Err() == nil {
		results, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Str("stream", stream).Msg("stream read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, result := range results {
			for _, m := range result.Messages {
				select {
				case msgs <- Message{ID: m.ID, Stream: stream, Values: m.Values}:
				case <-ctx.Done():
					return
				}
				c.rdb.XAck(ctx, stream, group, m.ID)
			}
		}
	}
}

// Delete removes stream.
func (c *Client) Delete(ctx context.Context, stream string) error {
	return c.rdb.Del(ctx, stream).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
