package worker

import (
	"context"
	"fmt"

	"pharmacy-service/internal/bot"
	"pharmacy-service/internal/broker"
	"pharmacy-service/internal/models"
	"pharmacy-service/internal/util"

	"go.uber.org/zap"
)

// Consumer is a source of published events: a Kafka consumer or the local bus
type Consumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// StaffDirectory lists the users who receive back-office notifications
type StaffDirectory interface {
	StaffIDs(ctx context.Context) ([]int64, error)
}

// Broadcaster pushes an event to live dashboards
type Broadcaster interface {
	Broadcast(event interface{})
}

// NotificationWorker turns order events into chat messages for staff and customers
type NotificationWorker struct {
	consumer     Consumer
	eventHandler *broker.EventHandler
	staff        StaffDirectory
	sink         bot.Sink
	hub          Broadcaster
	currency     string
	logger       *zap.Logger
}

// NewNotificationWorker creates a worker. hub may be nil.
func NewNotificationWorker(consumer Consumer, staff StaffDirectory, sink bot.Sink, hub Broadcaster, currency string) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		staff:        staff,
		sink:         sink,
		hub:          hub,
		currency:     currency,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	w.eventHandler.OnOrderStatusChanged(w.handleOrderStatusChanged)
	w.eventHandler.OnStockAdjusted(w.handleStockAdjusted)
	return w
}

// Start consumes events until ctx ends
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the underlying consumer
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	if w.hub != nil {
		w.hub.Broadcast(event)
	}

	staff, err := w.staff.StaffIDs(ctx)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("New order #%s from %s: %d items, %s %s.",
		event.DisplayToken, event.CustomerName, len(event.Items), event.TotalAmount, w.currency)
	if event.DroppedLines > 0 {
		text += fmt.Sprintf(" %d cart lines were left out.", event.DroppedLines)
	}
	for _, id := range staff {
		w.notify(ctx, &bot.Response{
			UserID:  id,
			Text:    text,
			Buttons: []bot.Button{{Label: "View order", Data: fmt.Sprintf("order:%d", event.OrderID)}},
		})
	}
	return nil
}

func (w *NotificationWorker) handleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	if w.hub != nil {
		w.hub.Broadcast(event)
	}
	if event.UserID == 0 || event.UserID == event.ChangedBy {
		return nil
	}

	text := fmt.Sprintf("Your order %d is now %s.", event.OrderID, event.NewStatus)
	if event.NewStatus == models.OrderStatusCompleted {
		text = fmt.Sprintf("Your order %d is ready. Thank you for choosing us!", event.OrderID)
	}
	w.notify(ctx, &bot.Response{UserID: event.UserID, Text: text})
	return nil
}

func (w *NotificationWorker) handleStockAdjusted(ctx context.Context, event *models.StockAdjustedEvent) error {
	if w.hub != nil {
		w.hub.Broadcast(event)
	}
	return nil
}

// notify delivers one message. Failures are counted and logged, never retried.
func (w *NotificationWorker) notify(ctx context.Context, r *bot.Response) {
	if err := w.sink.Send(ctx, r); err != nil {
		util.NotificationsSentTotal.WithLabelValues("failed").Inc()
		w.logger.Warn("Failed to send notification", zap.Int64("user_id", r.UserID), zap.Error(err))
		return
	}
	util.NotificationsSentTotal.WithLabelValues("sent").Inc()
}
