package freebox

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/freebox-home/freebox-bridge/internal/config"
)

// sessionHeader carries the session token on authenticated requests.
const sessionHeader = "X-Fbx-App-Auth"

// envelope is the gateway's JSON response wrapper.
type envelope struct {
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result"`
	ErrorCode string          `json:"error_code"`
	Message   string          `json:"msg"`
}

// Transport executes HTTPS JSON calls against the gateway API, honoring the
// configured certificate trust policy and a bounded per-request timeout.
type Transport struct {
	baseURL string
	client  *http.Client
}

// NewTransport creates a transport for the configured gateway.
func NewTransport(cfg config.FreeboxConfig) (*Transport, error) {
	tlsConfig, err := tlsConfigFor(cfg)
	if err != nil {
		return nil, err
	}

	return &Transport{
		baseURL: fmt.Sprintf("https://%s:%d/api/%s/", cfg.Host, cfg.Port, cfg.APIVersion),
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
				// The gateway's HTTP/2 support is unreliable on older
				// firmwares; force HTTP/1.1.
				ForceAttemptHTTP2: false,
			},
		},
	}, nil
}

func tlsConfigFor(cfg config.FreeboxConfig) (*tls.Config, error) {
	switch cfg.TrustMode {
	case config.TrustSystem:
		return &tls.Config{}, nil

	case config.TrustCustom:
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		return &tls.Config{RootCAs: pool}, nil

	case config.TrustInsecure:
		log.Warn().
			Str("host", cfg.Host).
			Msg("TLS certificate verification disabled for gateway connection")
		return &tls.Config{InsecureSkipVerify: true}, nil

	default:
		return nil, fmt.Errorf("invalid trust mode: %s", cfg.TrustMode)
	}
}

// Do executes one API call. A non-empty sessionToken is attached as the
// auth header. The decoded result is unmarshaled into out when non-nil.
func (t *Transport) Do(ctx context.Context, method, path string, body interface{}, sessionToken string, out interface{}) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if sessionToken != "" {
		req.Header.Set(sessionHeader, sessionToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &TimeoutError{Op: method + " " + path, Err: err}
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &ProtocolError{Message: fmt.Sprintf("%s %s: undecodable response (status %d)", method, path, resp.StatusCode), Err: err}
	}

	if !env.Success {
		code := env.ErrorCode
		if code == "" {
			code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		return &APIError{Code: code, Message: env.Message}
	}

	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &ProtocolError{Message: fmt.Sprintf("%s %s: unexpected result shape", method, path), Err: err}
		}
	}

	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
