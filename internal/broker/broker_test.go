package broker

import (
	"context"
	"testing"
	"time"

	"pharmacy-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBus_RoutesEventsToHandlers(t *testing.T) {
	bus := NewLocalBus(8)
	publisher := NewEventPublisher(bus)

	placed := make(chan *models.OrderPlacedEvent, 1)
	stock := make(chan *models.StockAdjustedEvent, 1)
	handler := NewEventHandler()
	handler.OnOrderPlaced(func(ctx context.Context, e *models.OrderPlacedEvent) error {
		placed <- e
		return nil
	})
	handler.OnStockAdjusted(func(ctx context.Context, e *models.StockAdjustedEvent) error {
		stock <- e
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- bus.StartConsuming(ctx, handler.HandleMessage) }()

	require.NoError(t, publisher.PublishOrderPlaced(ctx, &models.OrderPlacedEvent{
		BaseEvent:    models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderPlaced, Timestamp: time.Now()},
		OrderID:      42,
		DisplayToken: "000042",
		TotalAmount:  "20.00",
	}))
	require.NoError(t, publisher.PublishStockAdjusted(ctx, &models.StockAdjustedEvent{
		BaseEvent:  models.BaseEvent{EventID: "e2", EventType: models.EventTypeStockAdjusted, Timestamp: time.Now()},
		MedicineID: 7,
		NewStock:   3,
	}))
	// no handler registered, must be ignored
	require.NoError(t, publisher.PublishCatalogImported(ctx, &models.CatalogImportedEvent{
		BaseEvent: models.BaseEvent{EventID: "e3", EventType: models.EventTypeCatalogImported, Timestamp: time.Now()},
	}))

	select {
	case e := <-placed:
		assert.Equal(t, int64(42), e.OrderID)
		assert.Equal(t, "000042", e.DisplayToken)
	case <-time.After(2 * time.Second):
		t.Fatal("order placed event not delivered")
	}
	select {
	case e := <-stock:
		assert.Equal(t, int64(7), e.MedicineID)
	case <-time.After(2 * time.Second):
		t.Fatal("stock event not delivered")
	}

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bus did not stop")
	}

	err := bus.PublishEvent(context.Background(), "k", struct{}{})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestLocalBus_FullBufferDropsWithoutBlocking(t *testing.T) {
	bus := NewLocalBus(1)
	defer bus.Close()

	require.NoError(t, bus.PublishEvent(context.Background(), "a", struct{}{}))

	start := time.Now()
	err := bus.PublishEvent(context.Background(), "b", struct{}{})
	assert.ErrorIs(t, err, ErrBusFull)
	assert.Less(t, time.Since(start), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan string, 2)
	go bus.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		received <- string(msg.Key)
		return nil
	})
	defer cancel()

	select {
	case key := <-received:
		assert.Equal(t, "a", key)
	case <-time.After(2 * time.Second):
		t.Fatal("queued event not delivered")
	}
	select {
	case key := <-received:
		t.Fatalf("dropped event %q was delivered", key)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleMessage_RejectsGarbage(t *testing.T) {
	h := NewEventHandler()
	msg, err := encode("k", "not an object")
	require.NoError(t, err)
	assert.Error(t, h.HandleMessage(context.Background(), msg))
}
