// Package cache holds advisory read-model caches backed by Redis. Cached
// data is always recomputable from the ledger store, so every operation here
// degrades to a miss on failure; callers log and move on.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pinchmarket/internal/model"
)

// Client wraps a go-redis client. A nil *Client is valid and behaves as a
// disabled cache, so the service runs unchanged without Redis configured.
type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

const (
	leaderboardKey = "board:leaderboard"
	leaderboardTTL = 30 * time.Second
)

// GetLeaderboard returns the cached board, or (nil, false) on miss,
// disabled cache, or any Redis error.
func (c *Client) GetLeaderboard(ctx context.Context) ([]model.LeaderboardRow, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, leaderboardKey).Bytes()
	if err != nil {
		return nil, false
	}
	var rows []model.LeaderboardRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

func (c *Client) SetLeaderboard(ctx context.Context, rows []model.LeaderboardRow) error {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, leaderboardKey, b, leaderboardTTL).Err(); err != nil {
		return fmt.Errorf("redis: set leaderboard: %w", err)
	}
	return nil
}

// InvalidateLeaderboard drops the cached board after a resolution changes
// the standings.
func (c *Client) InvalidateLeaderboard(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.rdb.Del(ctx, leaderboardKey).Err()
}
