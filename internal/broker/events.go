package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderPlaced publishes OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishStockAdjusted publishes StockAdjusted event
func (ep *EventPublisher) PublishStockAdjusted(ctx context.Context, event *models.StockAdjustedEvent) error {
	key := fmt.Sprintf("medicine-%d", event.MedicineID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishCatalogImported publishes CatalogImported event
func (ep *EventPublisher) PublishCatalogImported(ctx context.Context, event *models.CatalogImportedEvent) error {
	key := fmt.Sprintf("import-%d", event.UserID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderPlaced        func(context.Context, *models.OrderPlacedEvent) error
	onOrderStatusChanged func(context.Context, *models.OrderStatusChangedEvent) error
	onStockAdjusted      func(context.Context, *models.StockAdjustedEvent) error
	onCatalogImported    func(context.Context, *models.CatalogImportedEvent) error
	logger               *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderPlaced registers a handler for OrderPlaced events
func (eh *EventHandler) OnOrderPlaced(handler func(context.Context, *models.OrderPlacedEvent) error) {
	eh.onOrderPlaced = handler
}

// OnOrderStatusChanged registers a handler for OrderStatusChanged events
func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onOrderStatusChanged = handler
}

// OnStockAdjusted registers a handler for StockAdjusted events
func (eh *EventHandler) OnStockAdjusted(handler func(context.Context, *models.StockAdjustedEvent) error) {
	eh.onStockAdjusted = handler
}

// OnCatalogImported registers a handler for CatalogImported events
func (eh *EventHandler) OnCatalogImported(handler func(context.Context, *models.CatalogImportedEvent) error) {
	eh.onCatalogImported = handler
}

func dispatch[T any](ctx context.Context, value []byte, handler func(context.Context, *T) error) error {
	if handler == nil {
		return nil
	}
	var event T
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal %T: %w", event, err)
	}
	return handler(ctx, &event)
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderPlaced:
		return dispatch(ctx, msg.Value, eh.onOrderPlaced)
	case models.EventTypeOrderStatusChanged:
		return dispatch(ctx, msg.Value, eh.onOrderStatusChanged)
	case models.EventTypeStockAdjusted:
		return dispatch(ctx, msg.Value, eh.onStockAdjusted)
	case models.EventTypeCatalogImported:
		return dispatch(ctx, msg.Value, eh.onCatalogImported)
	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
