// Package redis holds the optional shared cache tier for emote lists.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/chatwatch/internal/core/domain"
)

const defaultTTL = 6 * time.Hour

// Client wraps Redis operations for emote caching.
type Client struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string        `yaml:"url"`
	Password  string        `yaml:"password"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// NewClient creates a new Redis client and checks the connection.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg), nil
}

func newClient(rdb *redis.Client, cfg Config) *Client {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "chatwatch"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Client{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func (c *Client) roomEmotesKey(slug string) string {
	return fmt.Sprintf("%s:emotes:room:%s", c.prefix, slug)
}

func (c *Client) globalEmotesKey() string {
	return fmt.Sprintf("%s:emotes:global", c.prefix)
}

// RoomEmotes returns the cached emotes of a room owner. found is false on a
// cache miss.
func (c *Client) RoomEmotes(ctx context.Context, slug string) (emotes []domain.Emote, found bool, err error) {
	return c.get(ctx, c.roomEmotesKey(slug))
}

// SetRoomEmotes caches the emotes of a room owner.
func (c *Client) SetRoomEmotes(ctx context.Context, slug string, emotes []domain.Emote) error {
	return c.set(ctx, c.roomEmotesKey(slug), emotes)
}

// GlobalEmotes returns the cached global emote set.
func (c *Client) GlobalEmotes(ctx context.Context) (emotes []domain.Emote, found bool, err error) {
	return c.get(ctx, c.globalEmotesKey())
}

// SetGlobalEmotes caches the global emote set.
func (c *Client) SetGlobalEmotes(ctx context.Context, emotes []domain.Emote) error {
	return c.set(ctx, c.globalEmotesKey(), emotes)
}

func (c *Client) get(ctx context.Context, key string) ([]domain.Emote, bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	var emotes []domain.Emote
	if err := json.Unmarshal(data, &emotes); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return emotes, true, nil
}

func (c *Client) set(ctx context.Context, key string, emotes []domain.Emote) error {
	if emotes == nil {
		emotes = []domain.Emote{}
	}
	data, err := json.Marshal(emotes)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops every cached emote list.
func (c *Client) Invalidate(ctx context.Context) (int, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, c.prefix+":emotes:*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan failed: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("del failed: %w", err)
	}
	return int(n), nil
}
