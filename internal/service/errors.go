package service

import (
	"errors"
	"fmt"

	"pharmacy-service/internal/store"
)

var (
	// ErrEmptyOrder is returned when no cart line survives validation
	ErrEmptyOrder = errors.New("no orderable items in cart")
	// ErrInvalidTransition is returned for status changes outside pending <-> completed
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// ValidationError reports malformed business input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError reports a missing or inactive medicine, order or user
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// InsufficientStockError explains why a cart line was dropped
type InsufficientStockError struct {
	MedicineID int64
	Name       string
	Requested  int
	Available  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Name, e.Requested, e.Available)
}

// EmptyOrderError carries the lines that were dropped before the order failed
type EmptyOrderError struct {
	Dropped []DroppedLine
}

func (e *EmptyOrderError) Error() string {
	return fmt.Sprintf("%s (%d lines dropped)", ErrEmptyOrder.Error(), len(e.Dropped))
}

func (e *EmptyOrderError) Is(target error) bool {
	return target == ErrEmptyOrder
}

// PermissionError reports a role that lacks a capability
type PermissionError struct {
	UserID     int64
	Role       string
	Capability string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %d with role %s may not %s", e.UserID, e.Role, e.Capability)
}

// PersistenceError wraps a store failure. The enclosing transaction has been rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DuplicateDetectedError signals that a name probably already exists in the catalog.
// It is a branch signal, not a terminal failure.
type DuplicateDetectedError struct {
	Name    string
	Matches []Match
}

func (e *DuplicateDetectedError) Error() string {
	return fmt.Sprintf("%q resembles %d existing medicines", e.Name, len(e.Matches))
}

// storeError maps store failures onto the service taxonomy
func storeError(op, entity, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Entity: entity, Key: key}
	}
	if errors.Is(err, store.ErrNegativeValue) {
		return &ValidationError{Field: entity, Message: err.Error()}
	}
	return &PersistenceError{Op: op, Err: err}
}
