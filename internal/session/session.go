// Package session keeps per-user carts and workflow state with TTL-based eviction.
package session

import (
	"context"

	"pharmacy-service/internal/models"
)

// Store holds the ephemeral state of chat users. Every entry expires after the
// store's TTL unless it is touched again.
type Store interface {
	// GetCart returns the user's cart, empty when none exists
	GetCart(ctx context.Context, userID int64) (*models.Cart, error)
	// AddToCart changes a line by delta and returns the resulting quantity
	AddToCart(ctx context.Context, userID, medicineID int64, delta int) (int, error)
	RemoveFromCart(ctx context.Context, userID, medicineID int64) error
	ClearCart(ctx context.Context, userID int64) error

	// GetWorkflow returns nil when the user has no live workflow
	GetWorkflow(ctx context.Context, userID int64) (*models.WorkflowSession, error)
	SaveWorkflow(ctx context.Context, ws *models.WorkflowSession) error
	DeleteWorkflow(ctx context.Context, userID int64) error

	// MarkProcessed reports whether an inbound event id was already handled
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

func cloneWorkflow(ws *models.WorkflowSession) *models.WorkflowSession {
	if ws == nil {
		return nil
	}
	c := *ws
	c.Fields = make(map[string]string, len(ws.Fields))
	for k, v := range ws.Fields {
		c.Fields[k] = v
	}
	if ws.Payload != nil {
		c.Payload = append([]byte(nil), ws.Payload...)
	}
	return &c
}
