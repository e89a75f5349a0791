package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freebox-home/freebox-bridge/internal/models"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	return s, path
}

func TestCredentialRoundTrip(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetCredential(ctx, "gateway.test")
	assert.ErrorIs(t, err, ErrNotFound)

	cred := &models.AppCredential{
		Host:     "gateway.test",
		AppID:    "com.example.bridge",
		AppToken: "token-1",
		TrackID:  7,
	}
	require.NoError(t, s.SaveCredential(ctx, cred))

	got, err := s.GetCredential(ctx, "gateway.test")
	require.NoError(t, err)
	assert.Equal(t, "token-1", got.AppToken)
	assert.Equal(t, 7, got.TrackID)
	assert.False(t, got.CreatedAt.IsZero())

	// Reopen from disk: the credential survives a restart. The app token
	// is json:"-" on the API model, so the persisted form must carry it
	// explicitly or every restart would force a re-pairing.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "token-1")

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	got, err = reopened.GetCredential(ctx, "gateway.test")
	require.NoError(t, err)
	assert.Equal(t, "token-1", got.AppToken)

	require.NoError(t, s.DeleteCredential(ctx, "gateway.test"))
	_, err = s.GetCredential(ctx, "gateway.test")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteCredential(ctx, "gateway.test"), ErrNotFound)
}

func TestSaveCredentialReplaces(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCredential(ctx, &models.AppCredential{
		Host: "gateway.test", AppID: "app", AppToken: "old", TrackID: 1,
	}))
	require.NoError(t, s.SaveCredential(ctx, &models.AppCredential{
		Host: "gateway.test", AppID: "app", AppToken: "new", TrackID: 2,
	}))

	got, err := s.GetCredential(ctx, "gateway.test")
	require.NoError(t, err)
	assert.Equal(t, "new", got.AppToken)
	assert.Equal(t, 2, got.TrackID)
}

func TestUserLifecycle(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	user := &models.User{
		Username:     "admin",
		PasswordHash: "hash",
		IsAdmin:      true,
		IsActive:     true,
	}
	require.NoError(t, s.CreateUser(ctx, user))
	assert.NotEqual(t, user.ID.String(), "00000000-0000-0000-0000-000000000000")

	assert.ErrorIs(t, s.CreateUser(ctx, &models.User{Username: "admin"}), ErrDuplicateKey)

	byName, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	byID, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin", byID.Username)

	byID.IsActive = false
	require.NoError(t, s.UpdateUser(ctx, byID))

	got, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// The password hash is json:"-" on the API model; a reopened store
	// must still be able to verify logins.
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	again, err := reopened.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "hash", again.PasswordHash)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Bootstrap(ctx, s, "admin", "hunter2"))
	first, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, first.IsAdmin)

	require.NoError(t, Bootstrap(ctx, s, "admin", "different"))
	second, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.PasswordHash, second.PasswordHash)
}
