package service

import (
	"context"
	"testing"

	"pharmacy-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_BootstrapAndIdentify(t *testing.T) {
	svc := NewUserService(newTestStore(t))
	ctx := context.Background()

	require.NoError(t, svc.Bootstrap(ctx, []int64{1}, []int64{2, 3}))

	admin, err := svc.Identify(ctx, 1, "Admin")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)

	customer, err := svc.Identify(ctx, 50, "Customer")
	require.NoError(t, err)
	assert.Equal(t, models.RoleCustomer, customer.Role)

	ids, err := svc.StaffIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	require.NoError(t, svc.SetRole(ctx, 1, 50, models.RoleStaff))
	ids, err = svc.StaffIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, int64(50))

	var verr *ValidationError
	assert.ErrorAs(t, svc.SetRole(ctx, 1, 50, "owner"), &verr)
}
