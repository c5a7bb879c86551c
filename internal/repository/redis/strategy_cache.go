package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheTTL bounds how long a computed strategy stays valid. Game inputs are
// content-addressed, so staleness only matters for operator hygiene.
const cacheTTL = 24 * time.Hour

func strategyKey(hash string) string { return "strategy:" + hash }

// Get returns the cached result for a game-content hash, or nil on a miss.
func (c *Client) Get(ctx context.Context, key string) (json.RawMessage, error) {
	data, err := c.rdb.Get(ctx, strategyKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached strategy: %w", err)
	}
	return json.RawMessage(data), nil
}

// Set stores a computed result under a game-content hash.
func (c *Client) Set(ctx context.Context, key string, result json.RawMessage) error {
	if err := c.rdb.Set(ctx, strategyKey(key), []byte(result), cacheTTL).Err(); err != nil {
		return fmt.Errorf("cache strategy: %w", err)
	}
	return nil
}
