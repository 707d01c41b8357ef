package policy

import (
	"testing"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_RoleTable(t *testing.T) {
	p := Default()

	cases := []struct {
		role    string
		allowed []Capability
		denied  []Capability
	}{
		{models.RoleCustomer, []Capability{Browse, PlaceOrders}, []Capability{ManageOrders, ManageStock, ManageCatalog, RemoveItems, ManageRoles}},
		{models.RoleStaff, []Capability{Browse, PlaceOrders, ManageOrders, ManageStock, ManageCatalog}, []Capability{RemoveItems, ManageRoles}},
		{models.RoleAdmin, []Capability{Browse, PlaceOrders, ManageOrders, ManageStock, ManageCatalog, RemoveItems, ManageRoles}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.role, func(t *testing.T) {
			for _, c := range tc.allowed {
				assert.True(t, p.Allows(tc.role, c), c)
			}
			for _, c := range tc.denied {
				assert.False(t, p.Allows(tc.role, c), c)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	p := Default()

	assert.NoError(t, p.Check(&models.User{ID: 1, Role: models.RoleStaff}, ManageStock))
	assert.NoError(t, p.Check(nil, Browse))

	err := p.Check(&models.User{ID: 9, Role: models.RoleCustomer}, RemoveItems)
	var perr *service.PermissionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, int64(9), perr.UserID)
	assert.Equal(t, string(RemoveItems), perr.Capability)

	assert.Error(t, p.Check(&models.User{ID: 3, Role: "unknown"}, Browse))
}
