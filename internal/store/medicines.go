package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pharmacy-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const medicineColumns = `id, name, therapeutic_category, manufacturing_date, expiring_date,
	dosage_form, price, stock_quantity, is_active, created_at, updated_at`

func getActiveMedicine(ctx context.Context, q sqlx.ExtContext, id int64) (*models.Medicine, error) {
	var m models.Medicine
	err := sqlx.GetContext(ctx, q, &m, q.Rebind(
		"SELECT "+medicineColumns+" FROM medicines WHERE id = ? AND is_active = TRUE"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("medicine %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func insertMedicine(ctx context.Context, q sqlx.ExtContext, m *models.Medicine) error {
	query := `
		INSERT INTO medicines (name, therapeutic_category, manufacturing_date, expiring_date,
			dosage_form, price, stock_quantity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id, is_active, created_at, updated_at`

	return sqlx.GetContext(ctx, q, m, q.Rebind(query),
		m.Name, m.TherapeuticCategory, m.ManufacturingDate, m.ExpiringDate,
		m.DosageForm, m.Price, m.StockQuantity)
}

// GetMedicineByID retrieves an active medicine
func (s *Store) GetMedicineByID(ctx context.Context, id int64) (*models.Medicine, error) {
	return getActiveMedicine(ctx, s.db, id)
}

// ListActiveMedicines returns the whole active catalog ordered by name
func (s *Store) ListActiveMedicines(ctx context.Context) ([]models.Medicine, error) {
	var medicines []models.Medicine
	err := s.db.SelectContext(ctx, &medicines,
		"SELECT "+medicineColumns+" FROM medicines WHERE is_active = TRUE ORDER BY name, id")
	return medicines, err
}

// ListMedicinesByCategory returns active medicines whose category matches case-insensitively
func (s *Store) ListMedicinesByCategory(ctx context.Context, category string) ([]models.Medicine, error) {
	var medicines []models.Medicine
	err := s.db.SelectContext(ctx, &medicines, s.db.Rebind(
		"SELECT "+medicineColumns+` FROM medicines
		WHERE is_active = TRUE AND LOWER(therapeutic_category) = LOWER(?)
		ORDER BY name, id`), category)
	return medicines, err
}

// SearchMedicines finds active medicines whose name contains term
func (s *Store) SearchMedicines(ctx context.Context, term string, limit int) ([]models.Medicine, error) {
	var medicines []models.Medicine
	pattern := "%" + strings.ToLower(strings.TrimSpace(term)) + "%"
	err := s.db.SelectContext(ctx, &medicines, s.db.Rebind(
		"SELECT "+medicineColumns+` FROM medicines
		WHERE is_active = TRUE AND LOWER(name) LIKE ?
		ORDER BY name, id LIMIT ?`), pattern, limit)
	return medicines, err
}

// ListCategories returns the distinct categories of the active catalog
func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	var categories []string
	err := s.db.SelectContext(ctx, &categories, `
		SELECT DISTINCT therapeutic_category FROM medicines
		WHERE is_active = TRUE AND therapeutic_category <> ''
		ORDER BY therapeutic_category`)
	return categories, err
}

// ListLowStock returns active medicines with stock at or below threshold, lowest first
func (s *Store) ListLowStock(ctx context.Context, threshold, limit int) ([]models.Medicine, error) {
	var medicines []models.Medicine
	err := s.db.SelectContext(ctx, &medicines, s.db.Rebind(
		"SELECT "+medicineColumns+` FROM medicines
		WHERE is_active = TRUE AND stock_quantity <= ?
		ORDER BY stock_quantity, name LIMIT ?`), threshold, limit)
	return medicines, err
}

// CreateMedicine inserts a medicine and records the creation in the audit log
func (s *Store) CreateMedicine(ctx context.Context, m *models.Medicine, actorID int64) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		if err := insertMedicine(ctx, tx.tx, m); err != nil {
			return fmt.Errorf("failed to insert medicine: %w", err)
		}
		return tx.InsertAudit(ctx, &models.AuditEntry{
			UserID:    actorID,
			Action:    "create_medicine",
			TableName: "medicines",
			RecordID:  m.ID,
			NewValues: auditJSON(m),
		})
	})
}

// OverwriteMedicine replaces every editable field of an active medicine
func (s *Store) OverwriteMedicine(ctx context.Context, id int64, m *models.Medicine, actorID int64) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		old, err := getActiveMedicine(ctx, tx.tx, id)
		if err != nil {
			return err
		}

		query := `
			UPDATE medicines SET name = ?, therapeutic_category = ?, manufacturing_date = ?,
				expiring_date = ?, dosage_form = ?, price = ?, stock_quantity = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND is_active = TRUE`
		if _, err := tx.tx.ExecContext(ctx, tx.tx.Rebind(query),
			m.Name, m.TherapeuticCategory, m.ManufacturingDate, m.ExpiringDate,
			m.DosageForm, m.Price, m.StockQuantity, id); err != nil {
			return fmt.Errorf("failed to overwrite medicine %d: %w", id, err)
		}

		m.ID = id
		return tx.InsertAudit(ctx, &models.AuditEntry{
			UserID:    actorID,
			Action:    "overwrite_medicine",
			TableName: "medicines",
			RecordID:  id,
			OldValues: auditJSON(old),
			NewValues: auditJSON(m),
		})
	})
}

// AddStock merges quantity into an active medicine's stock and returns the new stock
func (s *Store) AddStock(ctx context.Context, id int64, quantity int, actorID int64) (int, error) {
	var newStock int
	err := s.WithTx(ctx, func(tx *Tx) error {
		old, err := getActiveMedicine(ctx, tx.tx, id)
		if err != nil {
			return err
		}
		newStock = old.StockQuantity + quantity
		if newStock < 0 {
			return fmt.Errorf("stock of medicine %d: %w", id, ErrNegativeValue)
		}

		if _, err := tx.tx.ExecContext(ctx, tx.tx.Rebind(`
			UPDATE medicines SET stock_quantity = stock_quantity + ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND is_active = TRUE`), quantity, id); err != nil {
			return fmt.Errorf("failed to add stock to medicine %d: %w", id, err)
		}

		return tx.InsertAudit(ctx, &models.AuditEntry{
			UserID:    actorID,
			Action:    "merge_stock",
			TableName: "medicines",
			RecordID:  id,
			OldValues: fmt.Sprintf(`{"stock_quantity":%d}`, old.StockQuantity),
			NewValues: fmt.Sprintf(`{"stock_quantity":%d}`, newStock),
		})
	})
	return newStock, err
}

// SetStock replaces an active medicine's stock and returns the previous value
func (s *Store) SetStock(ctx context.Context, id int64, quantity int, actorID int64, reason string) (int, error) {
	if quantity < 0 {
		return 0, fmt.Errorf("stock quantity %d: %w", quantity, ErrNegativeValue)
	}

	var oldStock int
	err := s.WithTx(ctx, func(tx *Tx) error {
		old, err := getActiveMedicine(ctx, tx.tx, id)
		if err != nil {
			return err
		}
		oldStock = old.StockQuantity

		if _, err := tx.tx.ExecContext(ctx, tx.tx.Rebind(`
			UPDATE medicines SET stock_quantity = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND is_active = TRUE`), quantity, id); err != nil {
			return fmt.Errorf("failed to set stock of medicine %d: %w", id, err)
		}

		action := "update_stock"
		if reason != "" {
			action = "update_stock: " + reason
		}
		return tx.InsertAudit(ctx, &models.AuditEntry{
			UserID:    actorID,
			Action:    action,
			TableName: "medicines",
			RecordID:  id,
			OldValues: fmt.Sprintf(`{"stock_quantity":%d}`, oldStock),
			NewValues: fmt.Sprintf(`{"stock_quantity":%d}`, quantity),
		})
	})
	return oldStock, err
}

// PriceChange is one row touched by UpdatePrices
type PriceChange struct {
	MedicineID int64
	Name       string
	OldPrice   decimal.Decimal
	NewPrice   decimal.Decimal
}

// UpdatePrices applies reprice to every active medicine, or to one category when category
// is not empty. All rows change in one transaction.
func (s *Store) UpdatePrices(ctx context.Context, category string, reprice func(decimal.Decimal) decimal.Decimal, actorID int64) ([]PriceChange, error) {
	var changes []PriceChange
	err := s.WithTx(ctx, func(tx *Tx) error {
		var medicines []models.Medicine
		query := "SELECT " + medicineColumns + " FROM medicines WHERE is_active = TRUE"
		args := []interface{}{}
		if category != "" {
			query += " AND LOWER(therapeutic_category) = LOWER(?)"
			args = append(args, category)
		}
		if err := tx.tx.SelectContext(ctx, &medicines, tx.tx.Rebind(query+" ORDER BY id"), args...); err != nil {
			return fmt.Errorf("failed to load medicines for repricing: %w", err)
		}

		for _, m := range medicines {
			newPrice := reprice(m.Price)
			if newPrice.IsNegative() {
				return fmt.Errorf("price of %q: %w", m.Name, ErrNegativeValue)
			}

			if _, err := tx.tx.ExecContext(ctx, tx.tx.Rebind(`
				UPDATE medicines SET price = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`),
				newPrice, m.ID); err != nil {
				return fmt.Errorf("failed to update price of medicine %d: %w", m.ID, err)
			}
			if err := tx.InsertAudit(ctx, &models.AuditEntry{
				UserID:    actorID,
				Action:    "update_price",
				TableName: "medicines",
				RecordID:  m.ID,
				OldValues: fmt.Sprintf(`{"price":%q}`, m.Price.StringFixed(2)),
				NewValues: fmt.Sprintf(`{"price":%q}`, newPrice.StringFixed(2)),
			}); err != nil {
				return err
			}

			changes = append(changes, PriceChange{
				MedicineID: m.ID,
				Name:       m.Name,
				OldPrice:   m.Price,
				NewPrice:   newPrice,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// SoftDeleteMedicine deactivates one medicine and returns it
func (s *Store) SoftDeleteMedicine(ctx context.Context, id int64, actorID int64) (*models.Medicine, error) {
	var deleted *models.Medicine
	err := s.WithTx(ctx, func(tx *Tx) error {
		m, err := getActiveMedicine(ctx, tx.tx, id)
		if err != nil {
			return err
		}

		if _, err := tx.tx.ExecContext(ctx, tx.tx.Rebind(`
			UPDATE medicines SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND is_active = TRUE`), id); err != nil {
			return fmt.Errorf("failed to deactivate medicine %d: %w", id, err)
		}

		deleted = m
		deleted.IsActive = false
		return tx.InsertAudit(ctx, &models.AuditEntry{
			UserID:    actorID,
			Action:    "delete_medicine",
			TableName: "medicines",
			RecordID:  id,
			OldValues: auditJSON(m),
			NewValues: `{"is_active":false}`,
		})
	})
	return deleted, err
}

// SoftDeleteAllMedicines deactivates the whole catalog and returns how many rows changed
func (s *Store) SoftDeleteAllMedicines(ctx context.Context, actorID int64) (int64, error) {
	var affected int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx, `
			UPDATE medicines SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP
			WHERE is_active = TRUE`)
		if err != nil {
			return fmt.Errorf("failed to deactivate catalog: %w", err)
		}
		if affected, err = res.RowsAffected(); err != nil {
			return err
		}

		return tx.InsertAudit(ctx, &models.AuditEntry{
			UserID:    actorID,
			Action:    "delete_all_medicines",
			TableName: "medicines",
			NewValues: fmt.Sprintf(`{"deactivated":%d}`, affected),
		})
	})
	return affected, err
}

// GetMedicine reads an active medicine inside the transaction
func (t *Tx) GetMedicine(ctx context.Context, id int64) (*models.Medicine, error) {
	return getActiveMedicine(ctx, t.tx, id)
}

// DecrementStock takes quantity units from an active medicine only if enough remain.
// It reports false when the row was missing, inactive, or short of stock.
func (t *Tx) DecrementStock(ctx context.Context, id int64, quantity int) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE medicines SET stock_quantity = stock_quantity - ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND is_active = TRUE AND stock_quantity >= ?`),
		quantity, id, quantity)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock of medicine %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
