package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/freebox-home/freebox-bridge/internal/models"
)

// PostgresStore implements Store for PostgreSQL, for deployments bridging
// several gateways from one place.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store and ensures the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS app_credentials (
	host        TEXT PRIMARY KEY,
	app_id      TEXT NOT NULL,
	app_token   TEXT NOT NULL,
	track_id    INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
	id             UUID PRIMARY KEY,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	username       TEXT NOT NULL UNIQUE,
	password_hash  TEXT NOT NULL,
	is_admin       BOOLEAN NOT NULL DEFAULT false,
	is_active      BOOLEAN NOT NULL DEFAULT true,
	last_login_at  TIMESTAMPTZ
);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetCredential returns the credential stored for the gateway host.
func (s *PostgresStore) GetCredential(ctx context.Context, host string) (*models.AppCredential, error) {
	var cred models.AppCredential
	err := s.db.QueryRowContext(ctx, `
		SELECT host, app_id, app_token, track_id, created_at
		FROM app_credentials WHERE host = $1`, host,
	).Scan(&cred.Host, &cred.AppID, &cred.AppToken, &cred.TrackID, &cred.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

// SaveCredential stores or replaces the credential for its host.
func (s *PostgresStore) SaveCredential(ctx context.Context, cred *models.AppCredential) error {
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_credentials (host, app_id, app_token, track_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (host) DO UPDATE SET
			app_id = EXCLUDED.app_id,
			app_token = EXCLUDED.app_token,
			track_id = EXCLUDED.track_id,
			created_at = EXCLUDED.created_at`,
		cred.Host, cred.AppID, cred.AppToken, cred.TrackID, cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// DeleteCredential removes the credential for the gateway host.
func (s *PostgresStore) DeleteCredential(ctx context.Context, host string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM app_credentials WHERE host = $1`, host)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateUser adds a local user.
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, created_at, updated_at, username, password_hash, is_admin, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.CreatedAt, user.UpdatedAt, user.Username, user.PasswordHash, user.IsAdmin, user.IsActive)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser returns a user by id.
func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at, username, password_hash, is_admin, is_active, last_login_at
		FROM users WHERE id = $1`, id))
}

// GetUserByUsername returns a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at, username, password_hash, is_admin, is_active, last_login_at
		FROM users WHERE username = $1`, username))
}

func (s *PostgresStore) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt, &user.Username,
		&user.PasswordHash, &user.IsAdmin, &user.IsActive, &user.LastLoginAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// UpdateUser replaces a stored user.
func (s *PostgresStore) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET updated_at = $2, username = $3, password_hash = $4,
			is_admin = $5, is_active = $6, last_login_at = $7
		WHERE id = $1`,
		user.ID, user.UpdatedAt, user.Username, user.PasswordHash,
		user.IsAdmin, user.IsActive, user.LastLoginAt)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
