package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pharmacy-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetUser retrieves a known user
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, s.db.Rebind(
		"SELECT id, role, first_name, created_at, updated_at FROM users WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// EnsureUser registers a user as a customer on first contact and refreshes the name.
// An existing role is kept.
func (s *Store) EnsureUser(ctx context.Context, id int64, firstName string) (*models.User, error) {
	user := &models.User{ID: id, FirstName: firstName}
	query := `
		INSERT INTO users (id, role, first_name) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET first_name = EXCLUDED.first_name, updated_at = CURRENT_TIMESTAMP
		RETURNING role, created_at, updated_at`

	if err := s.db.GetContext(ctx, user, s.db.Rebind(query), id, models.RoleCustomer, firstName); err != nil {
		return nil, fmt.Errorf("failed to register user %d: %w", id, err)
	}
	return user, nil
}

// SetUserRole assigns a role, creating the user row if needed
func (s *Store) SetUserRole(ctx context.Context, id int64, role string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (id, role) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role, updated_at = CURRENT_TIMESTAMP`),
		id, role)
	if err != nil {
		return fmt.Errorf("failed to set role of user %d: %w", id, err)
	}
	return nil
}

// ListUsersByRole returns users holding any of the given roles
func (s *Store) ListUsersByRole(ctx context.Context, roles ...string) ([]models.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		"SELECT id, role, first_name, created_at, updated_at FROM users WHERE role IN (?) ORDER BY id",
		roles)
	if err != nil {
		return nil, err
	}

	var users []models.User
	err = s.db.SelectContext(ctx, &users, s.db.Rebind(query), args...)
	return users, err
}
