package models

import (
	"encoding/json"
	"sort"
	"time"
)

// Cart maps medicine id to requested quantity. It lives only in the session store.
type Cart struct {
	Items     map[int64]int `json:"items"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewCart returns an empty cart
func NewCart() *Cart {
	return &Cart{Items: make(map[int64]int)}
}

// Add increases the quantity of a medicine and returns the new quantity
func (c *Cart) Add(medicineID int64, quantity int) int {
	if c.Items == nil {
		c.Items = make(map[int64]int)
	}
	c.Items[medicineID] += quantity
	c.UpdatedAt = time.Now()
	return c.Items[medicineID]
}

// Remove drops a medicine from the cart
func (c *Cart) Remove(medicineID int64) {
	delete(c.Items, medicineID)
	c.UpdatedAt = time.Now()
}

// IsEmpty reports whether the cart has no lines
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// MedicineIDs returns the cart's medicine ids in ascending order
func (c *Cart) MedicineIDs() []int64 {
	if c == nil {
		return nil
	}
	ids := make([]int64, 0, len(c.Items))
	for id := range c.Items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WorkflowSession is the per-user state of a multi-turn interaction.
// Fields hold canonical string values produced by step validators.
type WorkflowSession struct {
	UserID    int64             `json:"user_id"`
	Kind      string            `json:"kind"`
	Step      int               `json:"step"`
	Fields    map[string]string `json:"fields"`
	Branch    string            `json:"branch,omitempty"`
	Pending   string            `json:"pending,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewWorkflowSession creates a session positioned at step 0 with no collected fields
func NewWorkflowSession(userID int64, kind string) *WorkflowSession {
	now := time.Now()
	return &WorkflowSession{
		UserID:    userID,
		Kind:      kind,
		Fields:    make(map[string]string),
		StartedAt: now,
		UpdatedAt: now,
	}
}
