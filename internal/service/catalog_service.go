package service

import (
	"context"
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

// Price adjustment modes
const (
	AdjustPercent = "percent"
	AdjustFixed   = "fixed"
)

const (
	minNameLength = 2
	searchLimit   = 20
	listLimit     = 100
)

// CatalogService handles medicine catalog business logic
type CatalogService struct {
	store             *store.Store
	resolver          *DuplicateResolver
	publisher         EventPublisher
	lowStockThreshold int
	logger            *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store *store.Store, resolver *DuplicateResolver, publisher EventPublisher, lowStockThreshold int) *CatalogService {
	return &CatalogService{
		store:             store,
		resolver:          resolver,
		publisher:         publisher,
		lowStockThreshold: lowStockThreshold,
		logger:            util.GetLogger(),
	}
}

// Resolver exposes the duplicate resolver used by the catalog
func (s *CatalogService) Resolver() *DuplicateResolver {
	return s.resolver
}

// ValidateMedicine checks the invariants every catalog entry must satisfy
func ValidateMedicine(m *models.Medicine) error {
	m.Name = strings.TrimSpace(m.Name)
	if len([]rune(m.Name)) < minNameLength {
		return &ValidationError{Field: "name", Message: "must be at least 2 characters"}
	}
	if m.Price.IsNegative() {
		return &ValidationError{Field: "price", Message: "must not be negative"}
	}
	if m.StockQuantity < 0 {
		return &ValidationError{Field: "stock_quantity", Message: "must not be negative"}
	}
	if !m.ExpiringDate.After(m.ManufacturingDate) {
		return &ValidationError{Field: "expiring_date", Message: "must be after the manufacturing date"}
	}
	return nil
}

// AddMedicine validates and inserts a medicine. Unless allowDuplicate is set, a name
// resembling an existing entry returns a DuplicateDetectedError and nothing is written.
func (s *CatalogService) AddMedicine(ctx context.Context, actorID int64, m *models.Medicine, allowDuplicate bool) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.AddMedicine")
	defer span.End()

	if err := ValidateMedicine(m); err != nil {
		return err
	}

	if !allowDuplicate {
		matches, err := s.resolver.FindDuplicates(ctx, m.Name)
		if err != nil {
			return err
		}
		if len(matches) > 0 {
			return &DuplicateDetectedError{Name: m.Name, Matches: matches}
		}
	}

	if err := s.store.CreateMedicine(ctx, m, actorID); err != nil {
		util.RecordError(span, err)
		return &PersistenceError{Op: "create medicine", Err: err}
	}

	s.logger.Info("Medicine added",
		zap.Int64("medicine_id", m.ID),
		zap.String("name", m.Name),
		zap.Int64("actor_id", actorID))
	return nil
}

// ReplaceMedicine overwrites an existing entry with m
func (s *CatalogService) ReplaceMedicine(ctx context.Context, actorID, id int64, m *models.Medicine) error {
	if err := ValidateMedicine(m); err != nil {
		return err
	}
	if err := s.store.OverwriteMedicine(ctx, id, m, actorID); err != nil {
		return storeError("overwrite medicine", "medicine", strconv.FormatInt(id, 10), err)
	}
	s.logger.Info("Medicine replaced", zap.Int64("medicine_id", id), zap.Int64("actor_id", actorID))
	return nil
}

// GetMedicine retrieves an active medicine
func (s *CatalogService) GetMedicine(ctx context.Context, id int64) (*models.Medicine, error) {
	m, err := s.store.GetMedicineByID(ctx, id)
	if err != nil {
		return nil, storeError("get medicine", "medicine", strconv.FormatInt(id, 10), err)
	}
	return m, nil
}

// SearchResult holds substring hits and, when there are none, fuzzy suggestions
type SearchResult struct {
	Matches     []models.Medicine
	Suggestions []Match
}

// Search looks up medicines by name substring and falls back to fuzzy suggestions
func (s *CatalogService) Search(ctx context.Context, term string) (*SearchResult, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Search")
	defer span.End()

	term = strings.TrimSpace(term)
	if term == "" {
		return nil, &ValidationError{Field: "search term", Message: "must not be empty"}
	}

	found, err := s.store.SearchMedicines(ctx, term, searchLimit)
	if err != nil {
		return nil, &PersistenceError{Op: "search medicines", Err: err}
	}
	result := &SearchResult{Matches: found}
	if len(found) > 0 {
		return result, nil
	}

	if result.Suggestions, err = s.resolver.Suggest(ctx, term); err != nil {
		return nil, err
	}
	return result, nil
}

// ListMedicines returns the active catalog
func (s *CatalogService) ListMedicines(ctx context.Context) ([]models.Medicine, error) {
	medicines, err := s.store.ListActiveMedicines(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list medicines", Err: err}
	}
	return medicines, nil
}

// ListCategories returns the categories in use
func (s *CatalogService) ListCategories(ctx context.Context) ([]string, error) {
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list categories", Err: err}
	}
	return categories, nil
}

// ListByCategory returns the active medicines of one category
func (s *CatalogService) ListByCategory(ctx context.Context, category string) ([]models.Medicine, error) {
	medicines, err := s.store.ListMedicinesByCategory(ctx, category)
	if err != nil {
		return nil, &PersistenceError{Op: "list category", Err: err}
	}
	return medicines, nil
}

// LowStock returns medicines at or below the configured threshold
func (s *CatalogService) LowStock(ctx context.Context) ([]models.Medicine, error) {
	medicines, err := s.store.ListLowStock(ctx, s.lowStockThreshold, listLimit)
	if err != nil {
		return nil, &PersistenceError{Op: "list low stock", Err: err}
	}
	return medicines, nil
}

// UpdateStock sets a medicine's stock and returns the previous value
func (s *CatalogService) UpdateStock(ctx context.Context, actorID, id int64, quantity int, reason string) (int, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateStock")
	defer span.End()

	if quantity < 0 {
		return 0, &ValidationError{Field: "quantity", Message: "must not be negative"}
	}

	old, err := s.store.SetStock(ctx, id, quantity, actorID, reason)
	if err != nil {
		return 0, storeError("update stock", "medicine", strconv.FormatInt(id, 10), err)
	}

	s.logger.Info("Stock updated",
		zap.Int64("medicine_id", id),
		zap.Int("old_stock", old),
		zap.Int("new_stock", quantity),
		zap.Int64("actor_id", actorID))

	if s.publisher != nil {
		event := &models.StockAdjustedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeStockAdjusted,
				Timestamp: time.Now(),
			},
			MedicineID: id,
			OldStock:   old,
			NewStock:   quantity,
			Reason:     reason,
			ChangedBy:  actorID,
		}
		if err := s.publisher.PublishStockAdjusted(ctx, event); err != nil {
			s.logger.Error("Failed to publish StockAdjusted event", zap.Error(err))
		}
	}
	return old, nil
}

// Restock adds quantity to a medicine's stock and returns the new stock
func (s *CatalogService) Restock(ctx context.Context, actorID, id int64, quantity int) (int, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Restock")
	defer span.End()

	if quantity <= 0 {
		return 0, &ValidationError{Field: "quantity", Message: "must be positive"}
	}

	newStock, err := s.store.AddStock(ctx, id, quantity, actorID)
	if err != nil {
		return 0, storeError("restock", "medicine", strconv.FormatInt(id, 10), err)
	}

	s.logger.Info("Medicine restocked",
		zap.Int64("medicine_id", id),
		zap.Int("added", quantity),
		zap.Int("new_stock", newStock),
		zap.Int64("actor_id", actorID))

	if s.publisher != nil {
		event := &models.StockAdjustedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeStockAdjusted,
				Timestamp: time.Now(),
			},
			MedicineID: id,
			OldStock:   newStock - quantity,
			NewStock:   newStock,
			Reason:     "restock",
			ChangedBy:  actorID,
		}
		if err := s.publisher.PublishStockAdjusted(ctx, event); err != nil {
			s.logger.Error("Failed to publish StockAdjusted event", zap.Error(err))
		}
	}
	return newStock, nil
}

// PriceAdjustment describes a bulk price change. An empty Category means every medicine.
type PriceAdjustment struct {
	Mode     string
	Value    decimal.Decimal
	Category string
}

var hundred = decimal.NewFromInt(100)

// Apply computes the adjusted price rounded to cents
func (a PriceAdjustment) Apply(price decimal.Decimal) decimal.Decimal {
	if a.Mode == AdjustPercent {
		return price.Mul(hundred.Add(a.Value)).Div(hundred).Round(2)
	}
	return price.Add(a.Value).Round(2)
}

// UpdatePrices applies a percentage or fixed adjustment in one transaction
func (s *CatalogService) UpdatePrices(ctx context.Context, actorID int64, adj PriceAdjustment) ([]store.PriceChange, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdatePrices")
	defer span.End()

	switch adj.Mode {
	case AdjustPercent:
		if adj.Value.LessThanOrEqual(hundred.Neg()) {
			return nil, &ValidationError{Field: "percentage", Message: "must be greater than -100"}
		}
	case AdjustFixed:
	default:
		return nil, &ValidationError{Field: "mode", Message: "must be percent or fixed"}
	}

	changes, err := s.store.UpdatePrices(ctx, adj.Category, adj.Apply, actorID)
	if err != nil {
		util.RecordError(span, err)
		return nil, storeError("update prices", "price", adj.Category, err)
	}

	s.logger.Info("Prices updated",
		zap.String("mode", adj.Mode),
		zap.String("value", adj.Value.String()),
		zap.String("category", adj.Category),
		zap.Int("rows", len(changes)),
		zap.Int64("actor_id", actorID))
	return changes, nil
}

// RemoveMedicine soft deletes one medicine
func (s *CatalogService) RemoveMedicine(ctx context.Context, actorID, id int64) (*models.Medicine, error) {
	m, err := s.store.SoftDeleteMedicine(ctx, id, actorID)
	if err != nil {
		return nil, storeError("remove medicine", "medicine", strconv.FormatInt(id, 10), err)
	}
	s.logger.Info("Medicine removed", zap.Int64("medicine_id", id), zap.Int64("actor_id", actorID))
	return m, nil
}

// RemoveAll soft deletes the whole catalog
func (s *CatalogService) RemoveAll(ctx context.Context, actorID int64) (int64, error) {
	n, err := s.store.SoftDeleteAllMedicines(ctx, actorID)
	if err != nil {
		return 0, &PersistenceError{Op: "remove all medicines", Err: err}
	}
	s.logger.Warn("Catalog cleared", zap.Int64("count", n), zap.Int64("actor_id", actorID))
	return n, nil
}
