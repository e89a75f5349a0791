package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/freebox-home/freebox-bridge/internal/models"
)

// storedCredential is the on-disk form of models.AppCredential. The API
// model hides the app token from JSON responses with json:"-"; the store
// must still persist it, so it keeps its own serialization.
type storedCredential struct {
	Host      string    `json:"host"`
	AppID     string    `json:"appId"`
	AppToken  string    `json:"appToken"`
	TrackID   int       `json:"trackId"`
	CreatedAt time.Time `json:"createdAt"`
}

func toStoredCredential(c *models.AppCredential) *storedCredential {
	return &storedCredential{
		Host:      c.Host,
		AppID:     c.AppID,
		AppToken:  c.AppToken,
		TrackID:   c.TrackID,
		CreatedAt: c.CreatedAt,
	}
}

func (c *storedCredential) toModel() *models.AppCredential {
	return &models.AppCredential{
		Host:      c.Host,
		AppID:     c.AppID,
		AppToken:  c.AppToken,
		TrackID:   c.TrackID,
		CreatedAt: c.CreatedAt,
	}
}

// storedUser is the on-disk form of models.User, for the same reason: the
// password hash is json:"-" on the API model.
type storedUser struct {
	ID           uuid.UUID  `json:"id"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"passwordHash"`
	IsAdmin      bool       `json:"isAdmin"`
	IsActive     bool       `json:"isActive"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
}

func toStoredUser(u *models.User) *storedUser {
	return &storedUser{
		ID:           u.ID,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		IsAdmin:      u.IsAdmin,
		IsActive:     u.IsActive,
		LastLoginAt:  u.LastLoginAt,
	}
}

func (u *storedUser) toModel() *models.User {
	return &models.User{
		ID:           u.ID,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		IsAdmin:      u.IsAdmin,
		IsActive:     u.IsActive,
		LastLoginAt:  u.LastLoginAt,
	}
}

// fileData is the on-disk layout of the file store.
type fileData struct {
	Credentials map[string]*storedCredential `json:"credentials"`
	Users       map[string]*storedUser       `json:"users"`
}

// FileStore implements Store on a single JSON file, the moral equivalent of
// the per-gateway token file the original integration kept. Suited for the
// common one-gateway deployment; use PostgresStore beyond that.
type FileStore struct {
	path string

	mu   sync.Mutex
	data fileData
}

// NewFileStore creates a file store, loading existing data if present.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		data: fileData{
			Credentials: make(map[string]*storedCredential),
			Users:       make(map[string]*storedUser),
		},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse store file: %w", err)
	}
	if s.data.Credentials == nil {
		s.data.Credentials = make(map[string]*storedCredential)
	}
	if s.data.Users == nil {
		s.data.Users = make(map[string]*storedUser)
	}

	return s, nil
}

// flush writes the store atomically. The file holds the gateway secret, so
// it stays owner-only. Caller holds mu.
func (s *FileStore) flush() error {
	raw, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

// GetCredential returns the credential stored for the gateway host.
func (s *FileStore) GetCredential(ctx context.Context, host string) (*models.AppCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.data.Credentials[host]
	if !ok {
		return nil, ErrNotFound
	}
	return cred.toModel(), nil
}

// SaveCredential stores or replaces the credential for its host.
func (s *FileStore) SaveCredential(ctx context.Context, cred *models.AppCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := toStoredCredential(cred)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.data.Credentials[c.Host] = c
	return s.flush()
}

// DeleteCredential removes the credential for the gateway host.
func (s *FileStore) DeleteCredential(ctx context.Context, host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Credentials[host]; !ok {
		return ErrNotFound
	}
	delete(s.data.Credentials, host)
	return s.flush()
}

// CreateUser adds a local user.
func (s *FileStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.data.Users {
		if u.Username == user.Username {
			return ErrDuplicateKey
		}
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	s.data.Users[user.ID.String()] = toStoredUser(user)
	return s.flush()
}

// GetUser returns a user by id.
func (s *FileStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data.Users[id.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return u.toModel(), nil
}

// GetUserByUsername returns a user by username.
func (s *FileStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.data.Users {
		if u.Username == username {
			return u.toModel(), nil
		}
	}
	return nil, ErrNotFound
}

// UpdateUser replaces a stored user.
func (s *FileStore) UpdateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[user.ID.String()]; !ok {
		return ErrNotFound
	}
	user.UpdatedAt = time.Now()
	s.data.Users[user.ID.String()] = toStoredUser(user)
	return s.flush()
}

// Close flushes any pending state. The file store writes synchronously, so
// this only validates the directory is still reachable.
func (s *FileStore) Close() error {
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}
