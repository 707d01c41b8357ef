package flows

import (
	"context"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/service"
	"pharmacy-service/internal/util"
	"pharmacy-service/internal/workflow"

	"go.uber.org/zap"
)

const (
	fieldCustomerName  = "customer_name"
	fieldCustomerPhone = "customer_phone"
)

// Checkout asks for the customer's name and phone and places the order. The cart is
// cleared when the order commits or the user cancels.
func Checkout(d Deps) *workflow.Definition {
	return &workflow.Definition{
		Kind: KindCheckout,
		Steps: []workflow.Step{
			{Field: fieldCustomerName, Prompt: workflow.Static("Please enter your full name:"), Parse: workflow.Text("name", 2, maxTextLength)},
			{Field: fieldCustomerPhone, Prompt: workflow.Static("Please enter your phone number (e.g. 0912345678):"), Parse: workflow.Phone(d.PhonePattern)},
		},
		Init: func(ctx context.Context, ws *models.WorkflowSession) error {
			cart, err := d.Sessions.GetCart(ctx, ws.UserID)
			if err != nil {
				return err
			}
			if cart.IsEmpty() {
				return workflow.Abort("Your cart is empty.")
			}
			return nil
		},
		Complete: func(ctx context.Context, ws *models.WorkflowSession) (interface{}, error) {
			cart, err := d.Sessions.GetCart(ctx, ws.UserID)
			if err != nil {
				return nil, &service.PersistenceError{Op: "load cart", Err: err}
			}
			if cart.IsEmpty() {
				return nil, workflow.Abort("Your cart is empty.")
			}

			result, err := d.Orders.PlaceOrder(ctx, &service.PlaceOrderRequest{
				UserID:        ws.UserID,
				CustomerName:  ws.Fields[fieldCustomerName],
				CustomerPhone: ws.Fields[fieldCustomerPhone],
				Cart:          cart,
			})
			if err != nil {
				return nil, err
			}

			// the order is committed; a stale cart must not turn into a resubmission
			if err := d.Sessions.ClearCart(ctx, ws.UserID); err != nil {
				util.GetLogger().Error("Failed to clear cart after checkout",
					zap.Int64("user_id", ws.UserID),
					zap.Int64("order_id", result.Order.ID),
					zap.Error(err))
			}
			return result, nil
		},
		OnCancel: func(ctx context.Context, ws *models.WorkflowSession) error {
			return d.Sessions.ClearCart(ctx, ws.UserID)
		},
	}
}
