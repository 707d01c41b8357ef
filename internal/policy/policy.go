// Package policy decides which roles may perform which actions.
package policy

import (
	"pharmacy-service/internal/models"
	"pharmacy-service/internal/service"
)

// Capability names one guarded action
type Capability string

const (
	Browse        Capability = "browse catalog"
	PlaceOrders   Capability = "place orders"
	ManageOrders  Capability = "manage orders"
	ManageStock   Capability = "manage stock"
	ManageCatalog Capability = "manage catalog"
	RemoveItems   Capability = "remove medicines"
	ManageRoles   Capability = "manage roles"
)

// Policy maps roles to the capabilities they hold
type Policy struct {
	grants map[string]map[Capability]bool
}

// Default grants customers shopping, staff the back office and admins everything
func Default() *Policy {
	customer := []Capability{Browse, PlaceOrders}
	staff := append(append([]Capability{}, customer...), ManageOrders, ManageStock, ManageCatalog)
	admin := append(append([]Capability{}, staff...), RemoveItems, ManageRoles)

	return New(map[string][]Capability{
		models.RoleCustomer: customer,
		models.RoleStaff:    staff,
		models.RoleAdmin:    admin,
	})
}

// New builds a policy from an explicit role table
func New(table map[string][]Capability) *Policy {
	p := &Policy{grants: make(map[string]map[Capability]bool, len(table))}
	for role, caps := range table {
		set := make(map[Capability]bool, len(caps))
		for _, c := range caps {
			set[c] = true
		}
		p.grants[role] = set
	}
	return p
}

// Allows reports whether role holds capability
func (p *Policy) Allows(role string, c Capability) bool {
	return p.grants[role][c]
}

// Check returns a PermissionError when the user's role lacks capability.
// Users without a known role are treated as customers.
func (p *Policy) Check(user *models.User, c Capability) error {
	role := models.RoleCustomer
	if user != nil && user.Role != "" {
		role = user.Role
	}
	if p.Allows(role, c) {
		return nil
	}

	var id int64
	if user != nil {
		id = user.ID
	}
	return &service.PermissionError{UserID: id, Role: role, Capability: string(c)}
}
