package freebox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/freebox-home/freebox-bridge/internal/models"
	"github.com/freebox-home/freebox-bridge/internal/storage"
	"github.com/freebox-home/freebox-bridge/pkg/crypto"
)

// SessionState is the authentication state against the gateway.
type SessionState string

const (
	StateUnauthenticated SessionState = "unauthenticated"
	StateChallenging     SessionState = "challenging"
	StateAuthenticated   SessionState = "authenticated"
	StateInvalidated     SessionState = "invalidated"
)

// SessionManager owns the login handshake and the current session token.
// All gateway access is serialized through it: renewal is single-flight, so
// concurrent poll and command operations never race to re-authenticate.
type SessionManager struct {
	transport *Transport
	store     storage.Store
	host      string
	app       models.AppDescription

	mu          sync.Mutex
	state       SessionState
	token       string
	permissions map[string]bool

	sf singleflight.Group
}

// NewSessionManager creates a session manager for one gateway.
func NewSessionManager(transport *Transport, store storage.Store, host string, app models.AppDescription) *SessionManager {
	return &SessionManager{
		transport: transport,
		store:     store,
		host:      host,
		app:       app,
		state:     StateUnauthenticated,
	}
}

// State returns the current session state.
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureSession returns a currently-valid session token, performing the
// full challenge handshake when none is held. Safe for concurrent use:
// callers awaiting the same renewal receive the same token or the same
// failure.
func (m *SessionManager) EnsureSession(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state == StateAuthenticated && m.token != "" {
		token := m.token
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	v, err, _ := m.sf.Do("login", func() (interface{}, error) {
		return m.handshake(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate marks the held token stale. Idempotent; called by the API
// client upon an authentication-rejected response.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateAuthenticated {
		m.state = StateInvalidated
		m.token = ""
		log.Debug().Str("host", m.host).Msg("Session token invalidated")
	}
}

// Close releases the held token state without a final network call.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateUnauthenticated
	m.token = ""
	m.permissions = nil
}

// Logout explicitly closes the gateway session. Only used on user request;
// shutdown goes through Close instead.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	if token == "" {
		return nil
	}

	err := m.transport.Do(ctx, http.MethodPost, "login/logout/", nil, token, nil)
	m.Close()
	return err
}

// handshake runs the full login exchange:
// challenge -> HMAC-derived password -> session token.
func (m *SessionManager) handshake(ctx context.Context) (string, error) {
	m.setState(StateChallenging)

	cred, err := m.store.GetCredential(ctx, m.host)
	if err != nil {
		m.setState(StateUnauthenticated)
		if errors.Is(err, storage.ErrNotFound) {
			return "", &AuthError{Code: "no_credential", Message: ErrNotPaired.Error()}
		}
		return "", fmt.Errorf("load credential: %w", err)
	}

	var login loginStatus
	if err := m.transport.Do(ctx, http.MethodGet, "login/", nil, "", &login); err != nil {
		m.setState(StateUnauthenticated)
		return "", m.transientOrFatal(err)
	}
	if login.Challenge == "" {
		m.setState(StateUnauthenticated)
		return "", &ProtocolError{Message: "login challenge missing"}
	}

	password := crypto.SessionPassword(cred.AppToken, login.Challenge)

	var session sessionResult
	err = m.transport.Do(ctx, http.MethodPost, "login/session/", sessionRequest{
		AppID:      cred.AppID,
		AppVersion: m.app.AppVersion,
		Password:   password,
	}, "", &session)
	if err != nil {
		m.setState(StateUnauthenticated)
		// An auth rejection here is against a fresh challenge: the app
		// token itself is no longer accepted, not just a stale session.
		if IsAuthRejected(err) {
			var apiErr *APIError
			errors.As(err, &apiErr)
			return "", &AuthError{Code: apiErr.Code, Message: apiErr.Message}
		}
		return "", m.transientOrFatal(err)
	}
	if session.SessionToken == "" {
		m.setState(StateUnauthenticated)
		return "", &ProtocolError{Message: "session token missing"}
	}

	m.mu.Lock()
	m.state = StateAuthenticated
	m.token = session.SessionToken
	m.permissions = session.Permissions
	m.mu.Unlock()

	log.Info().Str("host", m.host).Msg("Gateway session established")
	return session.SessionToken, nil
}

// transientOrFatal wraps network-class handshake failures as transient
// session errors; protocol and API errors pass through untouched.
func (m *SessionManager) transientOrFatal(err error) error {
	var timeoutErr *TimeoutError
	var protoErr *ProtocolError
	var apiErr *APIError

	switch {
	case errors.As(err, &timeoutErr):
		return &SessionError{Err: err}
	case errors.As(err, &protoErr), errors.As(err, &apiErr):
		return err
	default:
		return &SessionError{Err: err}
	}
}

func (m *SessionManager) setState(s SessionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// HasPermission reports whether the current session was granted perm.
func (m *SessionManager) HasPermission(perm string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permissions[perm]
}

// StartPairing requests a new app token from the gateway. The gateway then
// waits for the user to confirm on its front panel; progress is observed
// through PairingStatus, never forced.
func (m *SessionManager) StartPairing(ctx context.Context) (*models.AppCredential, error) {
	var result authorizeResult
	err := m.transport.Do(ctx, http.MethodPost, "login/authorize/", m.app, "", &result)
	if err != nil {
		return nil, fmt.Errorf("request authorization: %w", err)
	}

	cred := &models.AppCredential{
		Host:     m.host,
		AppID:    m.app.AppID,
		AppToken: result.AppToken,
		TrackID:  result.TrackID,
	}
	if err := m.store.SaveCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("persist credential: %w", err)
	}

	log.Info().Str("host", m.host).Int("trackId", result.TrackID).
		Msg("Pairing started, waiting for confirmation on the gateway")
	return cred, nil
}

// PairingStatus reports where the pairing stands. A denied or expired
// authorization discards the stored credential so pairing can restart.
func (m *SessionManager) PairingStatus(ctx context.Context) (models.PairingStatus, error) {
	cred, err := m.store.GetCredential(ctx, m.host)
	if errors.Is(err, storage.ErrNotFound) {
		return models.PairingUnpaired, nil
	}
	if err != nil {
		return models.PairingUnpaired, fmt.Errorf("load credential: %w", err)
	}

	if m.State() == StateAuthenticated {
		return models.PairingPaired, nil
	}

	var track trackResult
	path := fmt.Sprintf("login/authorize/%d", cred.TrackID)
	if err := m.transport.Do(ctx, http.MethodGet, path, nil, "", &track); err != nil {
		return models.PairingUnpaired, m.transientOrFatal(err)
	}

	switch track.Status {
	case trackGranted:
		return models.PairingPaired, nil
	case trackPending:
		return models.PairingAwaitingConfirmation, nil
	case trackDenied, trackTimeout, trackUnknown:
		log.Warn().Str("host", m.host).Str("status", track.Status).
			Msg("Authorization rejected, discarding stored credential")
		if err := m.store.DeleteCredential(ctx, m.host); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return models.PairingUnpaired, fmt.Errorf("discard credential: %w", err)
		}
		return models.PairingUnpaired, nil
	default:
		return models.PairingUnpaired, &ProtocolError{Message: fmt.Sprintf("unknown track status %q", track.Status)}
	}
}
