package freebox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freebox-home/freebox-bridge/internal/models"
	"github.com/freebox-home/freebox-bridge/internal/storage"
	"github.com/freebox-home/freebox-bridge/pkg/crypto"
)

const (
	testAppToken = "dyNYgfK0Ya6FWGqq83sBHa7TwzWo+pg4fDFUJHShcjVYzTfaRrZzm93p7OTE"
	testHost     = "gateway.test"
)

// fakeGateway is an in-memory gateway API for tests. It serves the login
// handshake, authorization tracking and a couple of data endpoints, and
// counts how often each was hit.
type fakeGateway struct {
	mu            sync.Mutex
	challenge     string
	sessions      map[string]bool
	sessionSeq    int
	revoked       bool
	trackStatus   string
	nodes         []homeNode
	writes        []string
	challengeHits int32
	sessionHits   int32
	nodeHits      int32

	server *httptest.Server
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{
		challenge:   "challenge-1",
		sessions:    make(map[string]bool),
		trackStatus: trackGranted,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v6/login/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&g.challengeHits, 1)
		g.mu.Lock()
		challenge := g.challenge
		g.mu.Unlock()
		writeEnvelope(w, true, loginStatus{LoggedIn: false, Challenge: challenge}, "", "")
	})
	mux.HandleFunc("/api/v6/login/session/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&g.sessionHits, 1)
		var req sessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		g.mu.Lock()
		defer g.mu.Unlock()
		if g.revoked || req.Password != crypto.SessionPassword(testAppToken, g.challenge) {
			writeEnvelope(w, false, nil, codeInvalidToken, "token rejected")
			return
		}
		// Token names come from a counter that revokeSessions never
		// resets, so a renewed session always gets a fresh token.
		g.sessionSeq++
		token := "session-" + strconv.Itoa(g.sessionSeq)
		g.sessions[token] = true
		writeEnvelope(w, true, sessionResult{
			SessionToken: token,
			Permissions:  map[string]bool{"home": true},
		}, "", "")
	})
	mux.HandleFunc("/api/v6/login/authorize/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeEnvelope(w, true, authorizeResult{AppToken: testAppToken, TrackID: 42}, "", "")
			return
		}
		g.mu.Lock()
		status := g.trackStatus
		g.mu.Unlock()
		writeEnvelope(w, true, trackResult{Status: status}, "", "")
	})
	mux.HandleFunc("/api/v6/system/", func(w http.ResponseWriter, r *http.Request) {
		if !g.validSession(r.Header.Get(sessionHeader)) {
			writeEnvelope(w, false, nil, codeAuthRequired, "session expired")
			return
		}
		writeEnvelope(w, true, systemConfig{
			FirmwareVersion: "4.8.1",
			Mac:             "68:A3:78:00:00:01",
			UptimeVal:       3600,
			Sensors:         []systemSensor{{ID: "temp_cpu", Name: "CPU", Value: 58}},
			ModelInfo:       modelInfo{PrettyName: "Freebox v8", HasHomeAutomation: true},
		}, "", "")
	})

	mux.HandleFunc("/api/v6/home/nodes", func(w http.ResponseWriter, r *http.Request) {
		if !g.validSession(r.Header.Get(sessionHeader)) {
			writeEnvelope(w, false, nil, codeAuthRequired, "session expired")
			return
		}
		atomic.AddInt32(&g.nodeHits, 1)
		g.mu.Lock()
		nodes := g.nodes
		g.mu.Unlock()
		writeEnvelope(w, true, nodes, "", "")
	})
	mux.HandleFunc("/api/v6/home/endpoints/", func(w http.ResponseWriter, r *http.Request) {
		if !g.validSession(r.Header.Get(sessionHeader)) {
			writeEnvelope(w, false, nil, codeAuthRequired, "session expired")
			return
		}
		var req setValueRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		g.mu.Lock()
		g.writes = append(g.writes, r.URL.Path)
		g.mu.Unlock()
		writeEnvelope(w, true, map[string]interface{}{"value": req.Value}, "", "")
	})

	g.server = httptest.NewServer(mux)
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) validSession(token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions[token]
}

// revokeSessions drops every issued session token but keeps the app token
// valid, simulating a gateway-side session expiry.
func (g *fakeGateway) revokeSessions() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = make(map[string]bool)
	g.challenge = "challenge-rotated"
}

// revokeApp rejects all future logins, simulating the user removing the
// app on the gateway.
func (g *fakeGateway) revokeApp() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.revoked = true
	g.sessions = make(map[string]bool)
}

func writeEnvelope(w http.ResponseWriter, success bool, result interface{}, errorCode, msg string) {
	env := map[string]interface{}{"success": success}
	if result != nil {
		env["result"] = result
	}
	if errorCode != "" {
		env["error_code"] = errorCode
		env["msg"] = msg
		w.WriteHeader(http.StatusForbidden)
	}
	json.NewEncoder(w).Encode(env)
}

// transportFor points a Transport at the fake gateway.
func transportFor(t *testing.T, g *fakeGateway) *Transport {
	u, err := url.Parse(g.server.URL)
	require.NoError(t, err)

	return &Transport{
		baseURL: "http://" + u.Host + "/api/v6/",
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func pairedManager(t *testing.T, g *fakeGateway) (*SessionManager, storage.Store) {
	store, err := storage.NewFileStore(t.TempDir() + "/store.json")
	require.NoError(t, err)

	err = store.SaveCredential(context.Background(), &models.AppCredential{
		Host:     testHost,
		AppID:    "com.example.bridge",
		AppToken: testAppToken,
		TrackID:  42,
	})
	require.NoError(t, err)

	app := models.AppDescription{
		AppID:      "com.example.bridge",
		AppName:    "Test Bridge",
		AppVersion: "1.0.0",
		DeviceName: "test",
	}
	return NewSessionManager(transportFor(t, g), store, testHost, app), store
}

func TestEnsureSessionHandshakeOnce(t *testing.T) {
	g := newFakeGateway(t)
	m, _ := pairedManager(t, g)
	ctx := context.Background()

	token, err := m.EnsureSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "session-1", token)
	assert.Equal(t, StateAuthenticated, m.State())

	// Second call reuses the token without another handshake.
	again, err := m.EnsureSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, token, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&g.challengeHits))
	assert.True(t, m.HasPermission("home"))
}

func TestEnsureSessionSingleFlight(t *testing.T) {
	g := newFakeGateway(t)
	m, _ := pairedManager(t, g)

	var wg sync.WaitGroup
	tokens := make([]string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := m.EnsureSession(context.Background())
			require.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	for _, token := range tokens {
		assert.Equal(t, tokens[0], token)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&g.sessionHits))
}

func TestEnsureSessionRenewsAfterInvalidate(t *testing.T) {
	g := newFakeGateway(t)
	m, _ := pairedManager(t, g)
	ctx := context.Background()

	first, err := m.EnsureSession(ctx)
	require.NoError(t, err)

	g.revokeSessions()
	m.Invalidate()
	assert.Equal(t, StateInvalidated, m.State())

	second, err := m.EnsureSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, StateAuthenticated, m.State())
}

func TestEnsureSessionRevokedApp(t *testing.T) {
	g := newFakeGateway(t)
	m, _ := pairedManager(t, g)

	g.revokeApp()

	_, err := m.EnsureSession(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, codeInvalidToken, authErr.Code)
	assert.False(t, IsTransient(err))
}

func TestEnsureSessionNotPaired(t *testing.T) {
	g := newFakeGateway(t)
	store, err := storage.NewFileStore(t.TempDir() + "/store.json")
	require.NoError(t, err)

	m := NewSessionManager(transportFor(t, g), store, testHost, models.AppDescription{AppID: "x"})

	_, err = m.EnsureSession(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int32(0), atomic.LoadInt32(&g.challengeHits))
}

func TestPairingLifecycle(t *testing.T) {
	g := newFakeGateway(t)
	store, err := storage.NewFileStore(t.TempDir() + "/store.json")
	require.NoError(t, err)

	app := models.AppDescription{AppID: "com.example.bridge", AppName: "Test Bridge", AppVersion: "1.0.0", DeviceName: "test"}
	m := NewSessionManager(transportFor(t, g), store, testHost, app)
	ctx := context.Background()

	status, err := m.PairingStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PairingUnpaired, status)

	g.mu.Lock()
	g.trackStatus = trackPending
	g.mu.Unlock()

	cred, err := m.StartPairing(ctx)
	require.NoError(t, err)
	assert.Equal(t, testAppToken, cred.AppToken)
	assert.Equal(t, 42, cred.TrackID)

	status, err = m.PairingStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PairingAwaitingConfirmation, status)

	g.mu.Lock()
	g.trackStatus = trackGranted
	g.mu.Unlock()

	status, err = m.PairingStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PairingPaired, status)
}

func TestPairingDeniedDiscardsCredential(t *testing.T) {
	g := newFakeGateway(t)
	store, err := storage.NewFileStore(t.TempDir() + "/store.json")
	require.NoError(t, err)

	app := models.AppDescription{AppID: "com.example.bridge", AppVersion: "1.0.0"}
	m := NewSessionManager(transportFor(t, g), store, testHost, app)
	ctx := context.Background()

	_, err = m.StartPairing(ctx)
	require.NoError(t, err)

	g.mu.Lock()
	g.trackStatus = trackDenied
	g.mu.Unlock()

	status, err := m.PairingStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PairingUnpaired, status)

	_, err = store.GetCredential(ctx, testHost)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
