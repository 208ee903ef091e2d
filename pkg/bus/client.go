package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hemostat/hemostat/pkg/models"
	"github.com/hemostat/hemostat/pkg/retry"
)

// Config holds the Redis connection settings for the bus.
type Config struct {
	Addr     string
	Password string
	DB       int

	// RetryMax and RetryDelay bound the exponential backoff used for
	// connecting and publishing.
	RetryMax   int
	RetryDelay time.Duration
}

// Client is one agent's connection to the bus. A Client is safe for
// concurrent use; the agent identity stamps every published envelope.
type Client struct {
	rdb    *redis.Client
	agent  string
	cfg    Config
	logger *slog.Logger
}

// Connect dials Redis with bounded exponential backoff and verifies the
// connection with a ping. Fatal-startup semantics are the caller's: a
// returned error after all retries should terminate the process.
func Connect(ctx context.Context, agent string, cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	logger := slog.Default().With("component", "bus", "agent", agent)

	err := retry.Do(ctx, cfg.RetryMax, cfg.RetryDelay, nil, func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis connection failed, retrying", "addr", cfg.Addr, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Connected to Redis", "addr", cfg.Addr, "db", cfg.DB)
	return &Client{rdb: rdb, agent: agent, cfg: cfg, logger: logger}, nil
}

// Agent returns the identity this client stamps on published envelopes.
func (c *Client) Agent() string { return c.agent }

// Close releases the underlying connection.
func (c *Client) Close() error { return c.rdb.Close() }

// Publish wraps data in an envelope and publishes it, retrying transient
// failures with backoff. Serialization failures are permanent.
func (c *Client) Publish(ctx context.Context, channel, eventType string, data any) error {
	env, err := models.NewEnvelope(c.agent, eventType, data)
	if err != nil {
		return fmt.Errorf("serializing %s payload: %w", eventType, err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("serializing %s envelope: %w", eventType, err)
	}

	err = retry.Do(ctx, c.cfg.RetryMax, c.cfg.RetryDelay, nil, func(ctx context.Context) error {
		return c.rdb.Publish(ctx, channel, payload).Err()
	})
	if err != nil {
		return fmt.Errorf("publishing %s to %s: %w", eventType, channel, err)
	}

	c.logger.Debug("Published event", "event_type", eventType, "channel", channel)
	return nil
}

// GetState loads a shared-state record into dest. Returns false when the
// key does not exist.
func (c *Client) GetState(ctx context.Context, key string, dest any) (bool, error) {
	val, err := c.rdb.Get(ctx, StateKey(key)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting state %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("decoding state %q: %w", key, err)
	}
	return true, nil
}

// SetState stores a shared-state record with a TTL (0 = no expiry).
func (c *Client) SetState(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("serializing state %q: %w", key, err)
	}
	if err := c.rdb.Set(ctx, StateKey(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("setting state %q: %w", key, err)
	}
	return nil
}

// DeleteState removes a shared-state record.
func (c *Client) DeleteState(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, StateKey(key)).Err()
}

// PushEntry prepends value to a bounded list (newest at head), trims it
// to max entries, and refreshes the TTL. key is a full bus key
// (EventsKey/AuditKey).
func (c *Client) PushEntry(ctx context.Context, key string, value any, max int64, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("serializing list entry for %q: %w", key, err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, max-1)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending to %q: %w", key, err)
	}
	return nil
}

// ListEntries returns up to n raw JSON entries from a bounded list,
// newest first. n <= 0 returns the whole list.
func (c *Client) ListEntries(ctx context.Context, key string, n int64) ([]string, error) {
	stop := n - 1
	if n <= 0 {
		stop = -1
	}
	vals, err := c.rdb.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("reading list %q: %w", key, err)
	}
	return vals, nil
}

// ScanStateKeys returns all state keys matching the given sub-namespace
// pattern, e.g. "container:*". The returned keys are stripped of the
// state prefix.
func (c *Client) ScanStateKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, StateKey(pattern), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(statePrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning state keys %q: %w", pattern, err)
	}
	return keys, nil
}

// MarkOnce sets a dedupe marker if absent. Returns true when this call
// created the marker (i.e. the event was not seen within ttl).
func (c *Client) MarkOnce(ctx context.Context, hash string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, DedupeKey(hash), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setting dedupe marker: %w", err)
	}
	return ok, nil
}
