// Package storage persists the last applied snapshot per user.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowwatch/flowwatch/pkg/snapshot"
)

// Storage defines the interface for persistent snapshot storage.
type Storage interface {
	// SaveSnapshot replaces the stored snapshot for snap.UserID.
	SaveSnapshot(ctx context.Context, snap *snapshot.WorkflowSnapshot) error
	// GetSnapshot returns a NotFoundError when nothing is stored for userID.
	GetSnapshot(ctx context.Context, userID string) (*snapshot.WorkflowSnapshot, error)
	DeleteSnapshot(ctx context.Context, userID string) error
	// ListUsers returns the users with a stored snapshot in ascending order.
	ListUsers(ctx context.Context) ([]string, error)

	// Lifecycle
	Close() error
}

// ErrClosed is the cause reported by a closed storage.
var ErrClosed = errors.New("storage closed")

// EntitySnapshot is the entity type reported in NotFoundError.
const EntitySnapshot = "snapshot"

// NotFoundError indicates that the requested entity was not found.
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.EntityType, e.ID)
}

// InvalidInputError indicates a snapshot that cannot be stored.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// StorageUnavailableError indicates that the storage backend is unavailable.
type StorageUnavailableError struct {
	Cause error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Cause)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Cause }

// SerializationError indicates a failure in data serialization/deserialization.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// CheckSnapshot rejects snapshots that cannot be keyed.
func CheckSnapshot(snap *snapshot.WorkflowSnapshot) error {
	if snap == nil {
		return &InvalidInputError{Reason: "nil snapshot"}
	}
	if snap.UserID == "" {
		return &InvalidInputError{Reason: "snapshot has no user id"}
	}
	return nil
}
