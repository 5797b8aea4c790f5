package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sinricsync/sinric-bridge/internal/infrastructure/config"
)

// apiKeyHeader carries the account API key on the auth request.
// It is the only request that ever sees the key.
const apiKeyHeader = "x-sinric-api-key"

// SessionProvider yields a valid portal session, refreshing if needed.
// Implemented by SessionManager; consumers (Dispatcher, StreamClient)
// depend on the interface so tests can stub authentication.
type SessionProvider interface {
	EnsureSession(ctx context.Context) (Session, error)
}

// SessionManager exchanges the API key for bearer tokens and caches the
// result until it nears expiry.
//
// Thread Safety:
//   - EnsureSession is safe for concurrent use. Concurrent callers with a
//     stale token serialise on one refresh; the portal sees a single auth
//     request and every caller gets the same new session.
type SessionManager struct {
	apiKey  string
	authURL string
	client  *http.Client

	mu      sync.Mutex
	session Session

	// now is stubbed in tests.
	now func() time.Time

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards everything; used until SetLogger is called.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// authResponse is the portal's reply to POST /auth.
type authResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"` // seconds
}

// NewSessionManager creates a session manager for the given cloud config.
func NewSessionManager(cfg config.CloudConfig) *SessionManager {
	return &SessionManager{
		apiKey:  cfg.APIKey,
		authURL: strings.TrimSuffix(cfg.APIBaseURL, "/") + "/auth",
		client:  &http.Client{Timeout: cfg.GetRequestTimeout()},
		now:     time.Now,
		logger:  noopLogger{},
	}
}

// SetLogger attaches a logger for refresh events.
func (m *SessionManager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	defer m.loggerMu.Unlock()
	if logger != nil {
		m.logger = logger
	}
}

func (m *SessionManager) log() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// EnsureSession returns a session valid for at least the refresh skew.
//
// If the cached token is still fresh it is returned without network I/O.
// Otherwise one caller performs the refresh while the rest wait; the old
// session is replaced wholesale so no caller observes a half-updated one.
//
// Returns:
//   - Session: Valid bearer token and its expiry
//   - error: ErrAuthFailed (wrapped) if the portal rejects the key or the
//     request fails
func (m *SessionManager) EnsureSession(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Valid(m.now()) {
		return m.session, nil
	}

	m.log().Info("refreshing portal session")

	session, err := m.authenticate(ctx)
	if err != nil {
		m.log().Error("portal authentication failed", "error", err)
		return Session{}, err
	}

	m.session = session
	m.log().Debug("portal session refreshed", "expires_at", session.ExpiresAt)
	return m.session, nil
}

// Invalidate discards the cached session so the next EnsureSession call
// performs a fresh authentication. Called when the portal rejects a token
// that should still be valid.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = Session{}
}

// authenticate performs the key-for-token exchange. Caller holds m.mu.
func (m *SessionManager) authenticate(ctx context.Context) (Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authURL, strings.NewReader("{}"))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Session{}, fmt.Errorf("%w: reading response: %w", ErrAuthFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Session{}, fmt.Errorf("%w: %w", ErrAuthFailed,
			&StatusError{Op: "auth", Status: resp.StatusCode, Body: truncate(body, 256)})
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return Session{}, fmt.Errorf("%w: decoding response: %w", ErrAuthFailed, err)
	}
	if !auth.Success {
		return Session{}, fmt.Errorf("%w: %s", ErrAuthFailed, auth.Message)
	}
	if auth.AccessToken == "" || auth.ExpiresIn <= 0 {
		return Session{}, fmt.Errorf("%w: incomplete auth response", ErrAuthFailed)
	}

	return Session{
		Token:     auth.AccessToken,
		ExpiresAt: m.now().Add(time.Duration(auth.ExpiresIn) * time.Second),
	}, nil
}

// truncate clips a response body for error messages.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
