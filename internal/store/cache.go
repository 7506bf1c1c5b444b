package store

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// activeCallTTL bounds how long an active-call entry may outlive its call
const activeCallTTL = time.Hour

// Cache provides caching operations using Valkey
type Cache struct {
	client valkey.Client
}

// NewCache creates a new cache instance
func NewCache(ctx context.Context, url, password string, db int) (*Cache, error) {
	opts := valkey.ClientOption{
		InitAddress: []string{url},
		SelectDB:    db,
	}
	if password != "" {
		opts.Password = password
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Test connection
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}

	return NewCacheFromClient(client), nil
}

// NewCacheFromClient wraps an existing client
func NewCacheFromClient(client valkey.Client) *Cache {
	return &Cache{client: client}
}

// Close closes the cache connection
func (c *Cache) Close() {
	c.client.Close()
}

// =============================================================================
// Correlation Store
// =============================================================================

// Set stores fields as a hash under key, replacing any previous value
func (c *Cache) Set(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if len(fields) == 0 {
		return c.Delete(ctx, key)
	}

	hset := c.client.B().Hset().Key(key).FieldValue()
	for k, v := range fields {
		hset = hset.FieldValue(k, v)
	}

	results := c.client.DoMulti(ctx,
		c.client.B().Multi().Build(),
		c.client.B().Del().Key(key).Build(),
		hset.Build(),
		c.client.B().Pexpire().Key(key).Milliseconds(ttlMillis(ttl)).Build(),
		c.client.B().Exec().Build(),
	)
	for _, res := range results {
		if err := res.Error(); err != nil {
			return err
		}
	}
	return nil
}

// ttlMillis converts ttl for PEXPIRE, never rounding a positive ttl down to 0
func ttlMillis(ttl time.Duration) int64 {
	ms := ttl.Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}

// Get returns the hash stored under key, or nil if there is none
func (c *Cache) Get(ctx context.Context, key string) (map[string]string, error) {
	result, err := c.client.Do(ctx, c.client.B().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

// Delete removes keys
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Do(ctx, c.client.B().Del().Key(keys...).Build()).Error()
}

// =============================================================================
// Active Calls
// =============================================================================

// activeCallKey generates the cache key for tracking active calls
func activeCallKey(sessionID string) string {
	return fmt.Sprintf("call:active:%s", sessionID)
}

// SetActiveCall marks a bridged call as active
func (c *Cache) SetActiveCall(ctx context.Context, sessionID string, data map[string]string) error {
	return c.Set(ctx, activeCallKey(sessionID), data, activeCallTTL)
}

// RemoveActiveCall removes a call from the active calls cache
func (c *Cache) RemoveActiveCall(ctx context.Context, sessionID string) error {
	return c.Delete(ctx, activeCallKey(sessionID))
}

// GetActiveCallCount returns the number of active calls across all instances
func (c *Cache) GetActiveCallCount(ctx context.Context) (int64, error) {
	var (
		count  int64
		cursor uint64
	)
	for {
		entry, err := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(activeCallKey("*")).Count(100).Build()).AsScanEntry()
		if err != nil {
			return 0, err
		}
		count += int64(len(entry.Elements))
		cursor = entry.Cursor
		if cursor == 0 {
			return count, nil
		}
	}
}
