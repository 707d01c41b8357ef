package session

import (
	"context"
	"sync"
	"time"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/util"

	"go.uber.org/zap"
)

type cartEntry struct {
	cart      *models.Cart
	expiresAt time.Time
}

type workflowEntry struct {
	ws        *models.WorkflowSession
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory. Run sweeps expired entries.
type MemoryStore struct {
	mu        sync.Mutex
	carts     map[int64]cartEntry
	workflows map[int64]workflowEntry
	processed map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		carts:     make(map[int64]cartEntry),
		workflows: make(map[int64]workflowEntry),
		processed: make(map[string]time.Time),
		ttl:       ttl,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

func (m *MemoryStore) GetCart(ctx context.Context, userID int64) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.carts[userID]
	if !ok || m.expired(entry.expiresAt) {
		delete(m.carts, userID)
		return models.NewCart(), nil
	}

	c := models.NewCart()
	for id, qty := range entry.cart.Items {
		c.Items[id] = qty
	}
	c.UpdatedAt = entry.cart.UpdatedAt
	return c, nil
}

func (m *MemoryStore) AddToCart(ctx context.Context, userID, medicineID int64, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.carts[userID]
	if !ok || m.expired(entry.expiresAt) {
		entry = cartEntry{cart: models.NewCart()}
	}

	qty := entry.cart.Add(medicineID, delta)
	if qty <= 0 {
		entry.cart.Remove(medicineID)
		qty = 0
	}
	entry.expiresAt = m.now().Add(m.ttl)
	m.carts[userID] = entry
	return qty, nil
}

func (m *MemoryStore) RemoveFromCart(ctx context.Context, userID, medicineID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.carts[userID]; ok {
		entry.cart.Remove(medicineID)
		entry.expiresAt = m.now().Add(m.ttl)
		m.carts[userID] = entry
	}
	return nil
}

func (m *MemoryStore) ClearCart(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.carts, userID)
	return nil
}

func (m *MemoryStore) GetWorkflow(ctx context.Context, userID int64) (*models.WorkflowSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.workflows[userID]
	if !ok || m.expired(entry.expiresAt) {
		delete(m.workflows, userID)
		return nil, nil
	}
	return cloneWorkflow(entry.ws), nil
}

func (m *MemoryStore) SaveWorkflow(ctx context.Context, ws *models.WorkflowSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workflows[ws.UserID] = workflowEntry{
		ws:        cloneWorkflow(ws),
		expiresAt: m.now().Add(m.ttl),
	}
	return nil
}

func (m *MemoryStore) DeleteWorkflow(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.workflows, userID)
	return nil
}

func (m *MemoryStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if expiresAt, ok := m.processed[eventID]; ok && !m.expired(expiresAt) {
		return true, nil
	}
	m.processed[eventID] = m.now().Add(m.ttl)
	return false, nil
}

// Sweep removes every expired entry and returns how many were evicted
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, entry := range m.carts {
		if m.expired(entry.expiresAt) {
			delete(m.carts, id)
			util.SessionEvictionsTotal.WithLabelValues("cart").Inc()
			evicted++
		}
	}
	for id, entry := range m.workflows {
		if m.expired(entry.expiresAt) {
			delete(m.workflows, id)
			util.SessionEvictionsTotal.WithLabelValues("workflow").Inc()
			evicted++
		}
	}
	for id, expiresAt := range m.processed {
		if m.expired(expiresAt) {
			delete(m.processed, id)
		}
	}
	return evicted
}

// Run sweeps expired sessions every interval until ctx is cancelled
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Session sweeper stopped")
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("Evicted expired sessions", zap.Int("count", n))
			}
		}
	}
}

func (m *MemoryStore) expired(at time.Time) bool {
	return !m.now().Before(at)
}
