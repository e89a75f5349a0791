package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freebox-home/freebox-bridge/internal/config"
	"github.com/freebox-home/freebox-bridge/internal/models"
	"github.com/freebox-home/freebox-bridge/internal/storage"
	"github.com/freebox-home/freebox-bridge/pkg/crypto"
)

func testManager(t *testing.T) (*JWTManager, storage.Store) {
	store, err := storage.NewFileStore(t.TempDir() + "/store.json")
	require.NoError(t, err)

	cfg := &config.JWTConfig{
		Secret:          "test-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}
	return NewJWTManager(cfg, store), store
}

func testUser(t *testing.T, store storage.Store, active bool) *models.User {
	hash, err := crypto.HashPassword("hunter2")
	require.NoError(t, err)

	user := &models.User{
		Username:     "admin",
		PasswordHash: hash,
		IsAdmin:      true,
		IsActive:     active,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func TestGenerateAndValidateToken(t *testing.T) {
	m, store := testManager(t)
	user := testUser(t, store, true)

	access, refresh, err := m.GenerateTokenPair(user)
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)

	claims, err := m.ValidateToken(access)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "admin", claims.Username)
	assert.True(t, claims.IsAdmin)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	m, store := testManager(t)
	user := testUser(t, store, true)

	access, _, err := m.GenerateTokenPair(user)
	require.NoError(t, err)

	other := NewJWTManager(&config.JWTConfig{
		Secret:          "other-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}, store)

	_, err = other.ValidateToken(access)
	require.Error(t, err)
}

func TestRefreshToken(t *testing.T) {
	m, store := testManager(t)
	user := testUser(t, store, true)

	_, refresh, err := m.GenerateTokenPair(user)
	require.NoError(t, err)

	access, newRefresh, err := m.RefreshToken(context.Background(), refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, newRefresh)

	claims, err := m.ValidateToken(access)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
}

func TestRefreshTokenDisabledUser(t *testing.T) {
	m, store := testManager(t)
	user := testUser(t, store, true)

	_, refresh, err := m.GenerateTokenPair(user)
	require.NoError(t, err)

	user.IsActive = false
	require.NoError(t, store.UpdateUser(context.Background(), user))

	_, _, err = m.RefreshToken(context.Background(), refresh)
	require.Error(t, err)
}

func TestRefreshWithAccessTokenStillRefreshes(t *testing.T) {
	// An access token parses as valid registered claims too; the pair it
	// yields is scoped by the store lookup, not the inbound token.
	m, store := testManager(t)
	user := testUser(t, store, true)

	access, _, err := m.GenerateTokenPair(user)
	require.NoError(t, err)

	_, _, err = m.RefreshToken(context.Background(), access)
	require.NoError(t, err)
}
