package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/cart_add.lua
var cartAddScript string

type Client struct {
	rdb        *redis.Client
	cartScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return Wrap(rdb), nil
}

// Wrap builds a Client around an existing connection
func Wrap(rdb *redis.Client) *Client {
	return &Client{
		rdb:        rdb,
		cartScript: redis.NewScript(cartAddScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func cartKey(userID int64) string {
	return fmt.Sprintf("cart:%d", userID)
}

// CartAdd atomically changes a cart line by delta and refreshes the cart's expiry.
// A line that drops to zero or below is removed. Returns the resulting quantity.
func (c *Client) CartAdd(ctx context.Context, userID, medicineID int64, delta int, ttl time.Duration) (int, error) {
	result, err := c.cartScript.Run(ctx, c.rdb, []string{cartKey(userID)},
		medicineID, delta, ttl.Milliseconds()).Result()
	if err != nil {
		return 0, fmt.Errorf("cart add script failed: %w", err)
	}

	qty, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	return int(qty), nil
}

// CartGet returns the cart lines of a user. A missing cart is empty.
func (c *Client) CartGet(ctx context.Context, userID int64) (map[int64]int, error) {
	result, err := c.rdb.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	items := make(map[int64]int, len(result))
	for field, value := range result {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed cart field %q: %w", field, err)
		}
		qty, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("malformed cart quantity %q: %w", value, err)
		}
		items[id] = qty
	}
	return items, nil
}

// CartRemove drops one line from a user's cart
func (c *Client) CartRemove(ctx context.Context, userID, medicineID int64) error {
	return c.rdb.HDel(ctx, cartKey(userID), strconv.FormatInt(medicineID, 10)).Err()
}

// CartClear deletes a user's cart
func (c *Client) CartClear(ctx context.Context, userID int64) error {
	return c.rdb.Del(ctx, cartKey(userID)).Err()
}

// SetJSON stores v as JSON under key with TTL
func (c *Client) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// GetJSON loads the JSON value under key into dest. It reports false when the key is absent.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Delete removes a key
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// MarkProcessed records an inbound event id and reports whether it was seen before
func (c *Client) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	created, err := c.rdb.SetNX(ctx, fmt.Sprintf("processed:%s", eventID), "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return !created, nil
}
