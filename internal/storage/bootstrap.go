package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/freebox-home/freebox-bridge/internal/models"
	"github.com/freebox-home/freebox-bridge/pkg/crypto"
)

// Bootstrap ensures the configured admin user exists so the local API is
// usable on first start.
func Bootstrap(ctx context.Context, store Store, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("admin username and password are required")
	}

	_, err := store.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("lookup admin user: %w", err)
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		IsAdmin:      true,
		IsActive:     true,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	log.Info().Str("username", username).Msg("Admin user created")
	return nil
}
