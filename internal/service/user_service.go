package service

import (
	"context"
	"strconv"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/store"
	"pharmacy-service/internal/util"

	"go.uber.org/zap"
)

// UserService tracks chat users and their roles
type UserService struct {
	store  *store.Store
	logger *zap.Logger
}

func NewUserService(store *store.Store) *UserService {
	return &UserService{store: store, logger: util.GetLogger()}
}

// Bootstrap grants the configured admin and staff roles
func (s *UserService) Bootstrap(ctx context.Context, adminIDs, staffIDs []int64) error {
	for _, id := range staffIDs {
		if err := s.store.SetUserRole(ctx, id, models.RoleStaff); err != nil {
			return &PersistenceError{Op: "bootstrap staff", Err: err}
		}
	}
	for _, id := range adminIDs {
		if err := s.store.SetUserRole(ctx, id, models.RoleAdmin); err != nil {
			return &PersistenceError{Op: "bootstrap admin", Err: err}
		}
	}
	s.logger.Info("Roles bootstrapped", zap.Int("admins", len(adminIDs)), zap.Int("staff", len(staffIDs)))
	return nil
}

// Identify registers a user on first contact and returns the stored record
func (s *UserService) Identify(ctx context.Context, id int64, firstName string) (*models.User, error) {
	user, err := s.store.EnsureUser(ctx, id, firstName)
	if err != nil {
		return nil, &PersistenceError{Op: "identify user", Err: err}
	}
	return user, nil
}

// SetRole changes a user's role
func (s *UserService) SetRole(ctx context.Context, actorID, id int64, role string) error {
	switch role {
	case models.RoleCustomer, models.RoleStaff, models.RoleAdmin:
	default:
		return &ValidationError{Field: "role", Message: "must be customer, staff or admin"}
	}
	if err := s.store.SetUserRole(ctx, id, role); err != nil {
		return storeError("set role", "user", strconv.FormatInt(id, 10), err)
	}
	s.logger.Info("Role changed", zap.Int64("user_id", id), zap.String("role", role), zap.Int64("actor_id", actorID))
	return nil
}

// StaffIDs returns every user who should receive back-office notifications
func (s *UserService) StaffIDs(ctx context.Context) ([]int64, error) {
	users, err := s.store.ListUsersByRole(ctx, models.RoleStaff, models.RoleAdmin)
	if err != nil {
		return nil, &PersistenceError{Op: "list staff", Err: err}
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}
