package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/store"
	"pharmacy-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventPublisher publishes pharmacy domain events
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishStockAdjusted(ctx context.Context, event *models.StockAdjustedEvent) error
	PublishCatalogImported(ctx context.Context, event *models.CatalogImportedEvent) error
}

// OrderConfig holds order placement settings
type OrderConfig struct {
	DisplayTokenWidth int
	MaxOrderQuantity  int
	DeliveryMethod    string
}

// OrderService coordinates order placement and status changes
type OrderService struct {
	store          *store.Store
	eventPublisher EventPublisher
	cfg            OrderConfig
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store *store.Store, eventPublisher EventPublisher, cfg OrderConfig) *OrderService {
	if cfg.DeliveryMethod == "" {
		cfg.DeliveryMethod = models.DeliveryPickup
	}
	return &OrderService{
		store:          store,
		eventPublisher: eventPublisher,
		cfg:            cfg,
		logger:         util.GetLogger(),
	}
}

// PlaceOrderRequest represents a checkout submission
type PlaceOrderRequest struct {
	UserID        int64
	CustomerName  string
	CustomerPhone string
	Cart          *models.Cart
}

// DroppedLine is a cart line left out of the order. Err is a *NotFoundError or
// an *InsufficientStockError.
type DroppedLine struct {
	MedicineID int64
	Requested  int
	Err        error
}

// PlaceOrderResult is a committed order plus any lines that were left out
type PlaceOrderResult struct {
	Order   *models.Order
	Dropped []DroppedLine
}

// PlaceOrder validates the cart against current stock and commits the order, its
// items and the stock decrements in one transaction. Unavailable lines are dropped
// and reported; if none survive, ErrEmptyOrder is returned and nothing is written.
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderPlacementLatency.Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(req.CustomerName) == "" {
		return nil, &ValidationError{Field: "customer name", Message: "must not be empty"}
	}
	if req.Cart.IsEmpty() {
		util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, &EmptyOrderError{}
	}

	order := &models.Order{
		OrderNumber:    newOrderNumber(time.Now()),
		UserID:         req.UserID,
		Status:         models.OrderStatusPending,
		CustomerName:   strings.TrimSpace(req.CustomerName),
		CustomerPhone:  req.CustomerPhone,
		DeliveryMethod: s.cfg.DeliveryMethod,
	}
	var dropped []DroppedLine

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		dropped = nil
		order.Items = nil

		for _, id := range req.Cart.MedicineIDs() {
			qty := req.Cart.Items[id]
			if qty <= 0 || (s.cfg.MaxOrderQuantity > 0 && qty > s.cfg.MaxOrderQuantity) {
				dropped = append(dropped, DroppedLine{MedicineID: id, Requested: qty,
					Err: &ValidationError{Field: "quantity", Message: fmt.Sprintf("%d is out of range", qty)}})
				continue
			}

			m, err := tx.GetMedicine(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				dropped = append(dropped, DroppedLine{MedicineID: id, Requested: qty,
					Err: &NotFoundError{Entity: "medicine", Key: strconv.FormatInt(id, 10)}})
				continue
			}
			if err != nil {
				return err
			}

			shortage := &InsufficientStockError{MedicineID: id, Name: m.Name, Requested: qty, Available: m.StockQuantity}
			if qty > m.StockQuantity {
				dropped = append(dropped, DroppedLine{MedicineID: id, Requested: qty, Err: shortage})
				continue
			}

			// another order may have taken the stock since the read above
			ok, err := tx.DecrementStock(ctx, id, qty)
			if err != nil {
				return err
			}
			if !ok {
				util.StockDecrementConflicts.Inc()
				dropped = append(dropped, DroppedLine{MedicineID: id, Requested: qty, Err: shortage})
				continue
			}

			order.Items = append(order.Items, models.OrderItem{
				MedicineID:   id,
				MedicineName: m.Name,
				Quantity:     qty,
				UnitPrice:    m.Price,
				TotalPrice:   m.Price.Mul(decimal.NewFromInt(int64(qty))),
			})
		}

		if len(order.Items) == 0 {
			return &EmptyOrderError{Dropped: dropped}
		}

		order.TotalAmount = calculateTotal(order.Items)
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		for i := range order.Items {
			order.Items[i].OrderID = order.ID
			if err := tx.InsertOrderItem(ctx, &order.Items[i]); err != nil {
				return err
			}
		}
		return nil
	})

	for _, d := range dropped {
		util.OrderLinesDroppedTotal.WithLabelValues(dropReason(d.Err)).Inc()
	}

	if err != nil {
		util.RecordError(span, err)
		var empty *EmptyOrderError
		if errors.As(err, &empty) {
			util.OrdersFailedTotal.WithLabelValues("empty_order").Inc()
			s.logger.Info("Order rejected, no orderable lines",
				zap.Int64("user_id", req.UserID),
				zap.Int("dropped", len(empty.Dropped)))
			return nil, err
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		s.logger.Error("Order transaction failed", zap.Int64("user_id", req.UserID), zap.Error(err))
		return nil, &PersistenceError{Op: "place order", Err: err}
	}

	order.DisplayToken = models.DisplayToken(order.ID, s.cfg.DisplayTokenWidth)
	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.TotalAmount.StringFixed(2)),
		zap.Int("items", len(order.Items)),
		zap.Int("dropped", len(dropped)))

	s.publishOrderPlaced(ctx, order, len(dropped))

	return &PlaceOrderResult{Order: order, Dropped: dropped}, nil
}

func (s *OrderService) publishOrderPlaced(ctx context.Context, order *models.Order, dropped int) {
	if s.eventPublisher == nil {
		return
	}

	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			MedicineID: item.MedicineID,
			Name:       item.MedicineName,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice.StringFixed(2),
		})
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:      order.ID,
		DisplayToken: order.DisplayToken,
		OrderNumber:  order.OrderNumber,
		UserID:       order.UserID,
		CustomerName: order.CustomerName,
		TotalAmount:  order.TotalAmount.StringFixed(2),
		Items:        items,
		DroppedLines: dropped,
	}

	if err := s.eventPublisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

// calculateTotal sums quantity * unit price over the order lines
func calculateTotal(items []models.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return "BP" + now.Format("20060102") + "-" + suffix
}

func dropReason(err error) string {
	var shortage *InsufficientStockError
	var missing *NotFoundError
	switch {
	case errors.As(err, &shortage):
		return "insufficient_stock"
	case errors.As(err, &missing):
		return "not_found"
	default:
		return "invalid_quantity"
	}
}

// UpdateStatus moves an order between pending and completed and records the transition
func (s *OrderService) UpdateStatus(ctx context.Context, actorID, orderID int64, newStatus, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if newStatus != models.OrderStatusPending && newStatus != models.OrderStatusCompleted {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == newStatus {
		return nil, fmt.Errorf("%w: order is already %s", ErrInvalidTransition, newStatus)
	}

	oldStatus := order.Status
	if _, err := s.store.UpdateOrderStatus(ctx, orderID, oldStatus, newStatus, actorID, reason); err != nil {
		util.RecordError(span, err)
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		return nil, storeError("update order status", "order", strconv.FormatInt(orderID, 10), err)
	}

	order.Status = newStatus
	util.OrderStatusChangesTotal.WithLabelValues(oldStatus, newStatus).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", oldStatus),
		zap.String("to", newStatus),
		zap.Int64("actor_id", actorID))

	if s.eventPublisher != nil {
		event := &models.OrderStatusChangedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderStatusChanged,
				Timestamp: time.Now(),
			},
			OrderID:   orderID,
			UserID:    order.UserID,
			OldStatus: oldStatus,
			NewStatus: newStatus,
			ChangedBy: actorID,
		}
		if err := s.eventPublisher.PublishOrderStatusChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}

	return order, nil
}

// GetOrder retrieves an order with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, storeError("get order", "order", strconv.FormatInt(orderID, 10), err)
	}
	order.DisplayToken = models.DisplayToken(order.ID, s.cfg.DisplayTokenWidth)
	return order, nil
}

// GetStatusHistory returns an order's recorded transitions
func (s *OrderService) GetStatusHistory(ctx context.Context, orderID int64) ([]models.OrderStatusChange, error) {
	history, err := s.store.GetStatusHistory(ctx, orderID)
	if err != nil {
		return nil, &PersistenceError{Op: "get status history", Err: err}
	}
	return history, nil
}

// ListUserOrders returns a customer's recent orders
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	orders, err := s.store.ListOrdersByUser(ctx, userID, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list user orders", Err: err}
	}
	s.withTokens(orders)
	return orders, nil
}

// ListOrders returns recent orders for staff, optionally filtered by status
func (s *OrderService) ListOrders(ctx context.Context, status string, limit int) ([]models.Order, error) {
	orders, err := s.store.ListOrders(ctx, status, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list orders", Err: err}
	}
	s.withTokens(orders)
	return orders, nil
}

func (s *OrderService) withTokens(orders []models.Order) {
	for i := range orders {
		orders[i].DisplayToken = models.DisplayToken(orders[i].ID, s.cfg.DisplayTokenWidth)
	}
}

// CartLine is one cart entry priced against the current catalog
type CartLine struct {
	MedicineID int64
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
	LineTotal  decimal.Decimal
	Available  int
	Warning    string
}

// CartPreview is the priced view of a cart. Total covers only lines that can be fulfilled.
type CartPreview struct {
	Lines []CartLine
	Total decimal.Decimal
}

// PreviewCart prices a cart and flags lines that checkout would drop
func (s *OrderService) PreviewCart(ctx context.Context, cart *models.Cart) (*CartPreview, error) {
	preview := &CartPreview{Total: decimal.Zero}
	for _, id := range cart.MedicineIDs() {
		qty := cart.Items[id]
		line := CartLine{MedicineID: id, Quantity: qty}

		m, err := s.store.GetMedicineByID(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			line.Name = fmt.Sprintf("medicine #%d", id)
			line.Warning = "no longer available"
		case err != nil:
			return nil, &PersistenceError{Op: "preview cart", Err: err}
		default:
			line.Name = m.Name
			line.UnitPrice = m.Price
			line.LineTotal = m.Price.Mul(decimal.NewFromInt(int64(qty)))
			line.Available = m.StockQuantity
			if qty > m.StockQuantity {
				line.Warning = fmt.Sprintf("only %d in stock", m.StockQuantity)
			} else {
				preview.Total = preview.Total.Add(line.LineTotal)
			}
		}
		preview.Lines = append(preview.Lines, line)
	}
	return preview, nil
}
