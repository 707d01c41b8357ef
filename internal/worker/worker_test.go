package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"pharmacy-service/internal/bot"
	"pharmacy-service/internal/broker"
	"pharmacy-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStaff []int64

func (s staticStaff) StaffIDs(ctx context.Context) ([]int64, error) {
	return s, nil
}

type memorySink struct {
	mu   sync.Mutex
	sent []*bot.Response
}

func (s *memorySink) Send(ctx context.Context, r *bot.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, r)
	return nil
}

func (s *memorySink) messages() []*bot.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*bot.Response(nil), s.sent...)
}

type countingHub struct {
	mu     sync.Mutex
	events []interface{}
}

func (h *countingHub) Broadcast(event interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *countingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func TestNotificationWorker(t *testing.T) {
	bus := broker.NewLocalBus(8)
	publisher := broker.NewEventPublisher(bus)
	sink := &memorySink{}
	hub := &countingHub{}

	w := NewNotificationWorker(bus, staticStaff{1, 100}, sink, hub, "ETB")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.NoError(t, publisher.PublishOrderPlaced(ctx, &models.OrderPlacedEvent{
		BaseEvent:    models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderPlaced, Timestamp: time.Now()},
		OrderID:      7,
		DisplayToken: "000007",
		UserID:       200,
		CustomerName: "Hana",
		TotalAmount:  "10.00",
		Items:        []models.OrderItemData{{MedicineID: 1, Name: "Paracetamol", Quantity: 2, UnitPrice: "5.00"}},
		DroppedLines: 1,
	}))
	require.NoError(t, publisher.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeOrderStatusChanged, Timestamp: time.Now()},
		OrderID:   7,
		UserID:    200,
		OldStatus: models.OrderStatusPending,
		NewStatus: models.OrderStatusCompleted,
		ChangedBy: 100,
	}))

	require.Eventually(t, func() bool { return len(sink.messages()) == 3 }, 2*time.Second, 10*time.Millisecond)

	sent := sink.messages()
	assert.Equal(t, int64(1), sent[0].UserID)
	assert.Equal(t, int64(100), sent[1].UserID)
	assert.Equal(t, "New order #000007 from Hana: 1 items, 10.00 ETB. 1 cart lines were left out.", sent[0].Text)
	assert.Equal(t, "order:7", sent[0].Buttons[0].Data)
	assert.Equal(t, int64(200), sent[2].UserID)
	assert.Contains(t, sent[2].Text, "is ready")
	assert.Equal(t, 2, hub.count())

	require.NoError(t, w.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestStatusChangeBySelfIsSilent(t *testing.T) {
	sink := &memorySink{}
	w := NewNotificationWorker(broker.NewLocalBus(1), staticStaff{}, sink, nil, "ETB")

	err := w.handleOrderStatusChanged(context.Background(), &models.OrderStatusChangedEvent{
		OrderID:   3,
		UserID:    100,
		NewStatus: models.OrderStatusPending,
		ChangedBy: 100,
	})
	require.NoError(t, err)
	assert.Empty(t, sink.messages())
}
