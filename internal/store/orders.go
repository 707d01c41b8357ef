package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pharmacy-service/internal/models"
)

const orderColumns = `id, order_number, user_id, total_amount, status, customer_name,
	customer_phone, delivery_method, order_date, updated_at`

// InsertOrder creates the order row and fills in its id and timestamps
func (t *Tx) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_number, user_id, total_amount, status, customer_name,
			customer_phone, delivery_method)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id, order_date, updated_at`

	if err := t.tx.GetContext(ctx, order, t.tx.Rebind(query),
		order.OrderNumber, order.UserID, order.TotalAmount, order.Status,
		order.CustomerName, order.CustomerPhone, order.DeliveryMethod); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// InsertOrderItem creates one order line
func (t *Tx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, medicine_id, quantity, unit_price, total_price)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`

	if err := t.tx.GetContext(ctx, &item.ID, t.tx.Rebind(query),
		item.OrderID, item.MedicineID, item.Quantity, item.UnitPrice, item.TotalPrice); err != nil {
		return fmt.Errorf("failed to insert order item: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order with its items
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, s.db.Rebind(
		"SELECT "+orderColumns+" FROM orders WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("order %d", id)
	}
	if err != nil {
		return nil, err
	}

	if order.Items, err = s.GetOrderItems(ctx, id); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByNumber retrieves an order by its order number
func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, s.db.Rebind(
		"SELECT id FROM orders WHERE order_number = ?"), number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("order %s", number)
	}
	if err != nil {
		return nil, err
	}
	return s.GetOrderByID(ctx, id)
}

// GetOrderItems returns the lines of an order with the medicine names they refer to
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items, s.db.Rebind(`
		SELECT oi.id, oi.order_id, oi.medicine_id, m.name AS medicine_name,
			oi.quantity, oi.unit_price, oi.total_price
		FROM order_items oi
		JOIN medicines m ON m.id = oi.medicine_id
		WHERE oi.order_id = ?
		ORDER BY oi.id`), orderID)
	return items, err
}

// ListOrdersByUser returns a customer's most recent orders, newest first
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, s.db.Rebind(
		"SELECT "+orderColumns+` FROM orders WHERE user_id = ?
		ORDER BY order_date DESC, id DESC LIMIT ?`), userID, limit)
	return orders, err
}

// ListOrders returns recent orders, optionally filtered by status
func (s *Store) ListOrders(ctx context.Context, status string, limit int) ([]models.Order, error) {
	var orders []models.Order
	query := "SELECT " + orderColumns + " FROM orders"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY order_date DESC, id DESC LIMIT ?"
	args = append(args, limit)

	err := s.db.SelectContext(ctx, &orders, s.db.Rebind(query), args...)
	return orders, err
}

// UpdateOrderStatus moves an order from oldStatus to newStatus and records the transition.
// It returns ErrStatusConflict when the order is no longer in oldStatus.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, oldStatus, newStatus string, changedBy int64, reason string) (*models.OrderStatusChange, error) {
	change := &models.OrderStatusChange{
		OrderID:   orderID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		ChangedBy: changedBy,
		Reason:    reason,
	}

	err := s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx, tx.tx.Rebind(`
			UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = ?`), newStatus, orderID, oldStatus)
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists bool
			if err := tx.tx.GetContext(ctx, &exists, tx.tx.Rebind(
				"SELECT EXISTS(SELECT 1 FROM orders WHERE id = ?)"), orderID); err != nil {
				return err
			}
			if !exists {
				return notFound("order %d", orderID)
			}
			return ErrStatusConflict
		}

		return tx.tx.GetContext(ctx, change, tx.tx.Rebind(`
			INSERT INTO order_status_history (order_id, old_status, new_status, changed_by, reason)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id, changed_at`),
			orderID, oldStatus, newStatus, changedBy, reason)
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// GetStatusHistory returns an order's status transitions, oldest first
func (s *Store) GetStatusHistory(ctx context.Context, orderID int64) ([]models.OrderStatusChange, error) {
	var history []models.OrderStatusChange
	err := s.db.SelectContext(ctx, &history, s.db.Rebind(`
		SELECT id, order_id, old_status, new_status, changed_by, reason, changed_at
		FROM order_status_history WHERE order_id = ?
		ORDER BY id`), orderID)
	return history, err
}

// CountOrdersByStatus returns the number of orders in each status
func (s *Store) CountOrdersByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT status, COUNT(*) FROM orders GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
