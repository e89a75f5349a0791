package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/freebox-home/freebox-bridge/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Store defines the storage interface for app credentials and local users.
// Polled device state is never persisted here; snapshots are transient.
type Store interface {
	// Credential methods
	GetCredential(ctx context.Context, host string) (*models.AppCredential, error)
	SaveCredential(ctx context.Context, cred *models.AppCredential) error
	DeleteCredential(ctx context.Context, host string) error

	// User methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	// Close the store
	Close() error
}
