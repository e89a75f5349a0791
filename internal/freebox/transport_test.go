package freebox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freebox-home/freebox-bridge/internal/config"
)

func TestTransportAttachesSessionHeader(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(sessionHeader)
		w.Write([]byte(`{"success": true, "result": {"logged_in": true}}`))
	}))
	defer srv.Close()

	tr := &Transport{baseURL: srv.URL + "/api/v6/", client: srv.Client()}

	var out loginStatus
	err := tr.Do(context.Background(), http.MethodGet, "login/", nil, "tok-1", &out)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", gotHeader)
	assert.True(t, out.LoggedIn)
}

func TestTransportAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"success": false, "error_code": "insufficient_rights", "msg": "no home access"}`))
	}))
	defer srv.Close()

	tr := &Transport{baseURL: srv.URL + "/api/v6/", client: srv.Client()}

	err := tr.Do(context.Background(), http.MethodGet, "home/nodes", nil, "tok", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "insufficient_rights", apiErr.Code)
	assert.False(t, IsAuthRejected(err))
	assert.False(t, IsTransient(err))
}

func TestTransportUndecodableResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	tr := &Transport{baseURL: srv.URL + "/api/v6/", client: srv.Client()}

	err := tr.Do(context.Background(), http.MethodGet, "login/", nil, "", nil)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestTransportTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	tr := &Transport{
		baseURL: srv.URL + "/api/v6/",
		client:  &http.Client{Timeout: 20 * time.Millisecond},
	}

	err := tr.Do(context.Background(), http.MethodGet, "login/", nil, "", nil)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, IsTransient(err))
}

func TestNewTransportTrustModes(t *testing.T) {
	base := config.FreeboxConfig{
		Host:           "mafreebox.freebox.fr",
		Port:           443,
		APIVersion:     "v6",
		RequestTimeout: 10 * time.Second,
	}

	sys := base
	sys.TrustMode = config.TrustSystem
	_, err := NewTransport(sys)
	require.NoError(t, err)

	insecure := base
	insecure.TrustMode = config.TrustInsecure
	_, err = NewTransport(insecure)
	require.NoError(t, err)

	custom := base
	custom.TrustMode = config.TrustCustom
	custom.CAFile = "/nonexistent/ca.pem"
	_, err = NewTransport(custom)
	require.Error(t, err)

	bad := base
	bad.TrustMode = config.TrustMode("bogus")
	_, err = NewTransport(bad)
	require.Error(t, err)
}
