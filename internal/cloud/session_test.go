package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sinricsync/sinric-bridge/internal/infrastructure/config"
)

func cloudConfig(baseURL string) config.CloudConfig {
	return config.CloudConfig{
		APIKey:         "test-api-key",
		APIBaseURL:     baseURL,
		SSEURL:         baseURL + "/sse/stream",
		RequestTimeout: 5,
	}
}

func authHandler(calls *atomic.Int32, expiresIn int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("x-sinric-api-key") != "test-api-key" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"success":false,"message":"invalid api key"}`)
			return
		}
		fmt.Fprintf(w, `{"success":true,"accessToken":"tok-%d","expiresIn":%d}`, calls.Load(), expiresIn)
	}
}

func TestEnsureSession_CachesToken(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(authHandler(&calls, 3600))
	defer ts.Close()

	m := NewSessionManager(cloudConfig(ts.URL))

	first, err := m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	second, err := m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}

	if first.Token != second.Token {
		t.Errorf("token changed between calls: %q != %q", first.Token, second.Token)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("auth requests = %d, want 1", got)
	}
}

func TestEnsureSession_RefreshesNearExpiry(t *testing.T) {
	var calls atomic.Int32
	// Token lives 3 minutes; with the 2 minute skew it is stale after 1.
	ts := httptest.NewServer(authHandler(&calls, 180))
	defer ts.Close()

	now := time.Now()
	m := NewSessionManager(cloudConfig(ts.URL))
	m.now = func() time.Time { return now }

	first, err := m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}

	// 90 seconds later the token is inside the skew window.
	now = now.Add(90 * time.Second)

	second, err := m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}

	if first.Token == second.Token {
		t.Error("expected a refreshed token inside the skew window")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("auth requests = %d, want 2", got)
	}
}

func TestEnsureSession_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":false,"message":"account disabled"}`)
	}))
	defer ts.Close()

	m := NewSessionManager(cloudConfig(ts.URL))

	_, err := m.EnsureSession(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("EnsureSession() error = %v, want ErrAuthFailed", err)
	}
}

func TestEnsureSession_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	m := NewSessionManager(cloudConfig(ts.URL))

	_, err := m.EnsureSession(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("EnsureSession() error = %v, want ErrAuthFailed", err)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("EnsureSession() error = %v, want *StatusError", err)
	}
	if statusErr.Status != http.StatusInternalServerError {
		t.Errorf("StatusError.Status = %d, want 500", statusErr.Status)
	}
}

func TestEnsureSession_SingleFlight(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond) // hold the refresh open
		fmt.Fprint(w, `{"success":true,"accessToken":"tok","expiresIn":3600}`)
	}))
	defer ts.Close()

	m := NewSessionManager(cloudConfig(ts.URL))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.EnsureSession(context.Background()); err != nil {
				t.Errorf("EnsureSession() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("auth requests = %d, want 1 (single-flight)", got)
	}
}

func TestEnsureSession_InvalidateForcesRefresh(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(authHandler(&calls, 3600))
	defer ts.Close()

	m := NewSessionManager(cloudConfig(ts.URL))

	if _, err := m.EnsureSession(context.Background()); err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}

	m.Invalidate()

	if _, err := m.EnsureSession(context.Background()); err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("auth requests = %d, want 2 after Invalidate", got)
	}
}

func TestSession_Valid(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		session Session
		want    bool
	}{
		{
			name:    "fresh token",
			session: Session{Token: "tok", ExpiresAt: now.Add(time.Hour)},
			want:    true,
		},
		{
			name:    "inside skew window",
			session: Session{Token: "tok", ExpiresAt: now.Add(time.Minute)},
			want:    false,
		},
		{
			name:    "expired",
			session: Session{Token: "tok", ExpiresAt: now.Add(-time.Minute)},
			want:    false,
		},
		{
			name:    "zero value",
			session: Session{},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Valid(now); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
