package session

import (
	"context"
	"fmt"
	"time"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/redisclient"
)

// RedisStore keeps sessions in Redis. Expiry is delegated to key TTLs.
type RedisStore struct {
	client *redisclient.Client
	ttl    time.Duration
}

func NewRedisStore(client *redisclient.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func workflowKey(userID int64) string {
	return fmt.Sprintf("workflow:%d", userID)
}

func (r *RedisStore) GetCart(ctx context.Context, userID int64) (*models.Cart, error) {
	items, err := r.client.CartGet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	c := models.NewCart()
	c.Items = items
	return c, nil
}

func (r *RedisStore) AddToCart(ctx context.Context, userID, medicineID int64, delta int) (int, error) {
	return r.client.CartAdd(ctx, userID, medicineID, delta, r.ttl)
}

func (r *RedisStore) RemoveFromCart(ctx context.Context, userID, medicineID int64) error {
	return r.client.CartRemove(ctx, userID, medicineID)
}

func (r *RedisStore) ClearCart(ctx context.Context, userID int64) error {
	return r.client.CartClear(ctx, userID)
}

func (r *RedisStore) GetWorkflow(ctx context.Context, userID int64) (*models.WorkflowSession, error) {
	var ws models.WorkflowSession
	found, err := r.client.GetJSON(ctx, workflowKey(userID), &ws)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	if !found {
		return nil, nil
	}
	if ws.Fields == nil {
		ws.Fields = make(map[string]string)
	}
	return &ws, nil
}

func (r *RedisStore) SaveWorkflow(ctx context.Context, ws *models.WorkflowSession) error {
	return r.client.SetJSON(ctx, workflowKey(ws.UserID), ws, r.ttl)
}

func (r *RedisStore) DeleteWorkflow(ctx context.Context, userID int64) error {
	return r.client.Delete(ctx, workflowKey(userID))
}

func (r *RedisStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	return r.client.MarkProcessed(ctx, eventID, r.ttl)
}
