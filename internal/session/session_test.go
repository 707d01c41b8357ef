package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	mr := miniredis.RunT(t)
	client := redisclient.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(time.Minute),
		"redis":  NewRedisStore(client, time.Minute),
	}
}

func TestStore_Cart(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			cart, err := s.GetCart(ctx, 1)
			require.NoError(t, err)
			assert.True(t, cart.IsEmpty())

			qty, err := s.AddToCart(ctx, 1, 10, 2)
			require.NoError(t, err)
			assert.Equal(t, 2, qty)
			qty, err = s.AddToCart(ctx, 1, 10, 1)
			require.NoError(t, err)
			assert.Equal(t, 3, qty)
			_, err = s.AddToCart(ctx, 1, 4, 1)
			require.NoError(t, err)

			cart, err = s.GetCart(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, []int64{4, 10}, cart.MedicineIDs())
			assert.Equal(t, 3, cart.Items[10])

			other, err := s.GetCart(ctx, 2)
			require.NoError(t, err)
			assert.True(t, other.IsEmpty())

			require.NoError(t, s.RemoveFromCart(ctx, 1, 4))
			cart, err = s.GetCart(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, []int64{10}, cart.MedicineIDs())

			require.NoError(t, s.ClearCart(ctx, 1))
			cart, err = s.GetCart(ctx, 1)
			require.NoError(t, err)
			assert.True(t, cart.IsEmpty())
		})
	}
}

func TestStore_Workflow(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ws, err := s.GetWorkflow(ctx, 5)
			require.NoError(t, err)
			assert.Nil(t, ws)

			ws = models.NewWorkflowSession(5, "add_medicine")
			ws.Step = 2
			ws.Fields["name"] = "Paracetamol"
			ws.Payload = json.RawMessage(`{"rows":1}`)
			require.NoError(t, s.SaveWorkflow(ctx, ws))

			ws.Fields["name"] = "mutated after save"

			got, err := s.GetWorkflow(ctx, 5)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, 2, got.Step)
			assert.Equal(t, "Paracetamol", got.Fields["name"])
			assert.JSONEq(t, `{"rows":1}`, string(got.Payload))

			require.NoError(t, s.DeleteWorkflow(ctx, 5))
			got, err = s.GetWorkflow(ctx, 5)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStore_MarkProcessed(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			seen, err := s.MarkProcessed(ctx, "evt-1")
			require.NoError(t, err)
			assert.False(t, seen)

			seen, err = s.MarkProcessed(ctx, "evt-1")
			require.NoError(t, err)
			assert.True(t, seen)
		})
	}
}

func TestMemoryStore_TTLEviction(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := s.AddToCart(ctx, 1, 1, 1)
	require.NoError(t, err)
	require.NoError(t, s.SaveWorkflow(ctx, models.NewWorkflowSession(1, "checkout")))
	require.NoError(t, s.SaveWorkflow(ctx, models.NewWorkflowSession(2, "checkout")))

	now = now.Add(30 * time.Second)
	// touching user 2 pushes its expiry out
	require.NoError(t, s.SaveWorkflow(ctx, models.NewWorkflowSession(2, "checkout")))

	now = now.Add(45 * time.Second)
	assert.Equal(t, 2, s.Sweep())

	ws, err := s.GetWorkflow(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, ws)

	ws, err = s.GetWorkflow(ctx, 2)
	require.NoError(t, err)
	assert.NotNil(t, ws)

	cart, err := s.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestMemoryStore_ExpiredEntryInvisibleBeforeSweep(t *testing.T) {
	s := NewMemoryStore(time.Second)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.SaveWorkflow(ctx, models.NewWorkflowSession(3, "stock_update")))
	now = now.Add(2 * time.Second)

	ws, err := s.GetWorkflow(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, ws)
}

func TestMemoryStore_RunStopsOnCancel(t *testing.T) {
	s := NewMemoryStore(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	_, err := s.AddToCart(context.Background(), 1, 1, 1)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.carts) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
