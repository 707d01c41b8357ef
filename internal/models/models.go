package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Medicine represents a catalog entry
type Medicine struct {
	ID                  int64           `db:"id" json:"id"`
	Name                string          `db:"name" json:"name"`
	TherapeuticCategory string          `db:"therapeutic_category" json:"therapeutic_category"`
	ManufacturingDate   time.Time       `db:"manufacturing_date" json:"manufacturing_date"`
	ExpiringDate        time.Time       `db:"expiring_date" json:"expiring_date"`
	DosageForm          string          `db:"dosage_form" json:"dosage_form"`
	Price               decimal.Decimal `db:"price" json:"price"`
	StockQuantity       int             `db:"stock_quantity" json:"stock_quantity"`
	IsActive            bool            `db:"is_active" json:"is_active"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// Order represents a customer order
type Order struct {
	ID             int64           `db:"id" json:"id"`
	OrderNumber    string          `db:"order_number" json:"order_number"`
	UserID         int64           `db:"user_id" json:"user_id"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status         string          `db:"status" json:"status"`
	CustomerName   string          `db:"customer_name" json:"customer_name"`
	CustomerPhone  string          `db:"customer_phone" json:"customer_phone"`
	DeliveryMethod string          `db:"delivery_method" json:"delivery_method"`
	OrderDate      time.Time       `db:"order_date" json:"order_date"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`

	DisplayToken string      `db:"-" json:"display_token"`
	Items        []OrderItem `db:"-" json:"items,omitempty"`
}

// OrderItem represents one catalog line in an order. UnitPrice is the price at order time.
type OrderItem struct {
	ID           int64           `db:"id" json:"id"`
	OrderID      int64           `db:"order_id" json:"order_id"`
	MedicineID   int64           `db:"medicine_id" json:"medicine_id"`
	MedicineName string          `db:"medicine_name" json:"medicine_name,omitempty"`
	Quantity     int             `db:"quantity" json:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice   decimal.Decimal `db:"total_price" json:"total_price"`
}

// OrderStatusChange is one row of an order's status history
type OrderStatusChange struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	OldStatus string    `db:"old_status" json:"old_status"`
	NewStatus string    `db:"new_status" json:"new_status"`
	ChangedBy int64     `db:"changed_by" json:"changed_by"`
	Reason    string    `db:"reason" json:"reason"`
	ChangedAt time.Time `db:"changed_at" json:"changed_at"`
}

// User is a chat user known to the back office
type User struct {
	ID        int64     `db:"id" json:"id"`
	Role      string    `db:"role" json:"role"`
	FirstName string    `db:"first_name" json:"first_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AuditEntry records a catalog or order mutation
type AuditEntry struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Action    string    `db:"action" json:"action"`
	TableName string    `db:"table_name" json:"table_name"`
	RecordID  int64     `db:"record_id" json:"record_id"`
	OldValues string    `db:"old_values" json:"old_values"`
	NewValues string    `db:"new_values" json:"new_values"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
)

// User roles
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// Delivery methods
const (
	DeliveryPickup   = "pickup"
	DeliveryDelivery = "delivery"
)

// DisplayToken renders an order id zero-padded to width digits.
func DisplayToken(id int64, width int) string {
	if width < 1 {
		width = 1
	}
	return fmt.Sprintf("%0*d", width, id)
}

// InventoryValue is price * stock for a medicine
func (m *Medicine) InventoryValue() decimal.Decimal {
	return m.Price.Mul(decimal.NewFromInt(int64(m.StockQuantity)))
}

// ImportRecord is one validated row of a bulk import file
type ImportRecord struct {
	Row                 int             `json:"row"`
	Name                string          `json:"name"`
	TherapeuticCategory string          `json:"therapeutic_category"`
	ManufacturingDate   time.Time       `json:"manufacturing_date"`
	ExpiringDate        time.Time       `json:"expiring_date"`
	DosageForm          string          `json:"dosage_form"`
	Price               decimal.Decimal `json:"price"`
	StockQuantity       int             `json:"stock_quantity"`
}

// ImportReject is a row dropped before duplicate resolution
type ImportReject struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Medicine converts the record into a catalog entry
func (r *ImportRecord) Medicine() *Medicine {
	return &Medicine{
		Name:                r.Name,
		TherapeuticCategory: r.TherapeuticCategory,
		ManufacturingDate:   r.ManufacturingDate,
		ExpiringDate:        r.ExpiringDate,
		DosageForm:          r.DosageForm,
		Price:               r.Price,
		StockQuantity:       r.StockQuantity,
		IsActive:            true,
	}
}
