package models

import "time"

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeStockAdjusted      = "STOCK_ADJUSTED"
	EventTypeCatalogImported    = "CATALOG_IMPORTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published when an order is committed
type OrderPlacedEvent struct {
	BaseEvent
	OrderID      int64           `json:"order_id"`
	DisplayToken string          `json:"display_token"`
	OrderNumber  string          `json:"order_number"`
	UserID       int64           `json:"user_id"`
	CustomerName string          `json:"customer_name"`
	TotalAmount  string          `json:"total_amount"`
	Items        []OrderItemData `json:"items"`
	DroppedLines int             `json:"dropped_lines"`
}

// OrderStatusChangedEvent published when staff move an order between statuses
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	UserID    int64  `json:"user_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	ChangedBy int64  `json:"changed_by"`
}

// StockAdjustedEvent published when staff change a medicine's stock
type StockAdjustedEvent struct {
	BaseEvent
	MedicineID int64  `json:"medicine_id"`
	OldStock   int    `json:"old_stock"`
	NewStock   int    `json:"new_stock"`
	Reason     string `json:"reason,omitempty"`
	ChangedBy  int64  `json:"changed_by"`
}

// CatalogImportedEvent published after a bulk import is applied
type CatalogImportedEvent struct {
	BaseEvent
	UserID   int64  `json:"user_id"`
	Strategy string `json:"strategy"`
	Added    int    `json:"added"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	MedicineID int64  `json:"medicine_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
}
