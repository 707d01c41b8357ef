package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	c := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestCartAdd_AccumulatesAndExpires(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	qty, err := c.CartAdd(ctx, 7, 3, 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, qty)

	qty, err = c.CartAdd(ctx, 7, 3, 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5, qty)

	assert.Equal(t, time.Minute, mr.TTL("cart:7"))

	items, err := c.CartGet(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{3: 5}, items)

	mr.FastForward(2 * time.Minute)
	items, err = c.CartGet(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCartAdd_NonPositiveRemovesLine(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	_, err := c.CartAdd(ctx, 1, 9, 1, time.Minute)
	require.NoError(t, err)
	qty, err := c.CartAdd(ctx, 1, 9, -1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, qty)

	items, err := c.CartGet(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCartRemoveAndClear(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	_, err := c.CartAdd(ctx, 1, 1, 1, time.Minute)
	require.NoError(t, err)
	_, err = c.CartAdd(ctx, 1, 2, 4, time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.CartRemove(ctx, 1, 1))
	items, err := c.CartGet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{2: 4}, items)

	require.NoError(t, c.CartClear(ctx, 1))
	items, err = c.CartGet(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestJSONValues(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	type payload struct {
		Step int `json:"step"`
	}

	require.NoError(t, c.SetJSON(ctx, "workflow:5", payload{Step: 3}, 10*time.Second))
	assert.Equal(t, 10*time.Second, mr.TTL("workflow:5"))

	var got payload
	found, err := c.GetJSON(ctx, "workflow:5", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, got.Step)

	require.NoError(t, c.Delete(ctx, "workflow:5"))
	found, err = c.GetJSON(ctx, "workflow:5", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMarkProcessed(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	seen, err := c.MarkProcessed(ctx, "update-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = c.MarkProcessed(ctx, "update-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, seen)
}
