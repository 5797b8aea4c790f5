package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// stubSessions is a SessionProvider returning canned sessions. Each call
// hands out a new token so reconnect tests can observe refreshes.
type stubSessions struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubSessions) EnsureSession(_ context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Session{}, s.err
	}
	s.calls++
	return Session{
		Token:     fmt.Sprintf("tok-%d", s.calls),
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (s *stubSessions) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// captureServer records dispatched envelopes and replies with success.
type captureServer struct {
	*httptest.Server

	mu        sync.Mutex
	envelopes []Envelope
	paths     []string
	auths     []string
}

func newCaptureServer(t *testing.T) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decoding envelope: %v", err)
		}
		cs.mu.Lock()
		cs.envelopes = append(cs.envelopes, env)
		cs.paths = append(cs.paths, r.URL.Path)
		cs.auths = append(cs.auths, r.Header.Get("Authorization"))
		cs.mu.Unlock()
		fmt.Fprint(w, `{"success":true}`)
	}))
	t.Cleanup(cs.Server.Close)
	return cs
}

func (cs *captureServer) last(t *testing.T) Envelope {
	t.Helper()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.envelopes) == 0 {
		t.Fatal("no envelope captured")
	}
	return cs.envelopes[len(cs.envelopes)-1]
}

func TestDispatch_EnvelopeShape(t *testing.T) {
	cs := newCaptureServer(t)
	d := NewDispatcher(cloudConfig(cs.URL), &stubSessions{})

	before := time.Now().Unix()
	if err := d.Dispatch(context.Background(), "dev-1", ActionSetPowerState, PowerStateValue{State: "On"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	after := time.Now().Unix()

	env := cs.last(t)
	if env.ClientID != "portal" {
		t.Errorf("ClientID = %q, want %q", env.ClientID, "portal")
	}
	if env.Type != "request" {
		t.Errorf("Type = %q, want %q", env.Type, "request")
	}
	if env.Action != ActionSetPowerState {
		t.Errorf("Action = %q, want %q", env.Action, ActionSetPowerState)
	}
	// The value travels as a JSON string, not a nested object.
	if env.Value != `{"state":"On"}` {
		t.Errorf("Value = %q, want %q", env.Value, `{"state":"On"}`)
	}
	if _, err := uuid.Parse(env.MessageID); err != nil {
		t.Errorf("MessageID %q is not a UUID: %v", env.MessageID, err)
	}
	if env.CreatedAt < before || env.CreatedAt > after {
		t.Errorf("CreatedAt = %d, want within [%d, %d]", env.CreatedAt, before, after)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if got, want := cs.paths[0], "/devices/dev-1/action"; got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
	if got, want := cs.auths[0], "Bearer tok-1"; got != want {
		t.Errorf("Authorization = %q, want %q", got, want)
	}
}

func TestDispatch_FreshMessageIDPerCall(t *testing.T) {
	cs := newCaptureServer(t)
	d := NewDispatcher(cloudConfig(cs.URL), &stubSessions{})

	for range 2 {
		if err := d.SetPowerState(context.Background(), "dev-1", "On"); err != nil {
			t.Fatalf("SetPowerState() error = %v", err)
		}
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.envelopes[0].MessageID == cs.envelopes[1].MessageID {
		t.Error("identical commands reused a messageId")
	}
}

func TestDispatch_AuthFailureShortCircuits(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		fmt.Fprint(w, `{"success":true}`)
	}))
	defer ts.Close()

	d := NewDispatcher(cloudConfig(ts.URL), &stubSessions{err: ErrAuthFailed})

	err := d.Dispatch(context.Background(), "dev-1", ActionSetPowerState, PowerStateValue{State: "On"})
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Dispatch() error = %v, want ErrAuthFailed", err)
	}
	if requests != 0 {
		t.Errorf("portal received %d requests, want 0 when auth fails", requests)
	}
}

func TestDispatch_PortalRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":false,"message":"device offline"}`)
	}))
	defer ts.Close()

	d := NewDispatcher(cloudConfig(ts.URL), &stubSessions{})

	err := d.SetPowerState(context.Background(), "dev-1", "On")
	if !errors.Is(err, ErrDispatchFailed) {
		t.Errorf("SetPowerState() error = %v, want ErrDispatchFailed", err)
	}
}

func TestDispatch_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	d := NewDispatcher(cloudConfig(ts.URL), &stubSessions{})

	err := d.SetPowerState(context.Background(), "dev-1", "On")
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("SetPowerState() error = %v, want ErrDispatchFailed", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadGateway {
		t.Errorf("SetPowerState() error = %v, want StatusError 502", err)
	}
}

func TestDispatch_Validation(t *testing.T) {
	d := NewDispatcher(cloudConfig("http://127.0.0.1:0"), &stubSessions{})

	if err := d.Dispatch(context.Background(), "", ActionSetPowerState, nil); !errors.Is(err, ErrDispatchFailed) {
		t.Errorf("empty device id: error = %v, want ErrDispatchFailed", err)
	}
	if err := d.Dispatch(context.Background(), "dev-1", Action("selfDestruct"), nil); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("unknown action: error = %v, want ErrUnknownAction", err)
	}
}

func TestDispatch_TypedHelpers(t *testing.T) {
	cs := newCaptureServer(t)
	d := NewDispatcher(cloudConfig(cs.URL), &stubSessions{})
	ctx := context.Background()

	tests := []struct {
		name       string
		send       func() error
		wantAction Action
		wantValue  string
	}{
		{
			name:       "power state",
			send:       func() error { return d.SetPowerState(ctx, "dev-1", "Off") },
			wantAction: ActionSetPowerState,
			wantValue:  `{"state":"Off"}`,
		},
		{
			name:       "brightness",
			send:       func() error { return d.SetBrightness(ctx, "dev-1", 40) },
			wantAction: ActionSetBrightness,
			wantValue:  `{"brightness":40}`,
		},
		{
			name:       "power level",
			send:       func() error { return d.SetPowerLevel(ctx, "dev-1", 75) },
			wantAction: ActionSetPowerLevel,
			wantValue:  `{"powerLevel":75}`,
		},
		{
			name:       "range value",
			send:       func() error { return d.SetRangeValue(ctx, "dev-1", 2) },
			wantAction: ActionSetRangeValue,
			wantValue:  `{"rangeValue":2}`,
		},
		{
			name:       "target temperature",
			send:       func() error { return d.SetTargetTemperature(ctx, "dev-1", 21.5) },
			wantAction: ActionTargetTemperature,
			wantValue:  `{"temperature":21.5}`,
		},
		{
			name:       "mode",
			send:       func() error { return d.SetMode(ctx, "dev-1", "Open") },
			wantAction: ActionSetMode,
			wantValue:  `{"mode":"Open"}`,
		},
		{
			name:       "lock state",
			send:       func() error { return d.SetLockState(ctx, "dev-1", "lock") },
			wantAction: ActionSetLockState,
			wantValue:  `{"state":"lock"}`,
		},
		{
			name:       "thermostat mode",
			send:       func() error { return d.SetThermostatMode(ctx, "dev-1", "HEAT") },
			wantAction: ActionSetThermostatMode,
			wantValue:  `{"thermostatMode":"HEAT"}`,
		},
		{
			name:       "doorbell press",
			send:       func() error { return d.PressDoorbell(ctx, "dev-1") },
			wantAction: ActionDoorbellPress,
			wantValue:  `{"state":"pressed"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.send(); err != nil {
				t.Fatalf("send error = %v", err)
			}
			env := cs.last(t)
			if env.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", env.Action, tt.wantAction)
			}
			if env.Value != tt.wantValue {
				t.Errorf("Value = %q, want %q", env.Value, tt.wantValue)
			}
		})
	}
}
