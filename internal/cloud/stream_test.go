package cloud

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sinricsync/sinric-bridge/internal/infrastructure/config"
)

func streamConfig(baseURL string) config.CloudConfig {
	cfg := cloudConfig(baseURL)
	cfg.SSEURL = baseURL + "/sse/stream"
	cfg.Stream.Reconnect.InitialDelay = 0
	cfg.Stream.Reconnect.MaxDelay = 1
	return cfg
}

func deviceFrame(deviceID, msgType string, action Action, value string) string {
	return fmt.Sprintf(
		`{"event":"deviceMessageArrived","message":{"payload":{"action":%q,"deviceId":%q,"type":%q,"success":true,"value":%s}}}`,
		action, deviceID, msgType, value,
	)
}

// sseWrite emits one SSE data frame and flushes it to the client.
func sseWrite(w http.ResponseWriter, data string) {
	fmt.Fprintf(w, "data: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// collectEvents opens a stream against handler and returns the events
// channel the handler feeds. The client is closed on test cleanup.
func collectEvents(t *testing.T, handler http.HandlerFunc) (*StreamClient, chan InboundEvent) {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	events := make(chan InboundEvent, 16)
	c := NewStreamClient(streamConfig(ts.URL), &stubSessions{})
	c.OnEvent(func(ev InboundEvent) {
		events <- ev
	})
	t.Cleanup(c.Close)

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return c, events
}

func waitEvent(t *testing.T, events chan InboundEvent) InboundEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return InboundEvent{}
	}
}

func TestStream_DeliversDeviceMessagesInOrder(t *testing.T) {
	done := make(chan struct{})
	_, events := collectEvents(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Connection ack and heartbeat must never reach the handler.
		sseWrite(w, `{"event":"connected","message":{}}`)
		sseWrite(w, deviceFrame("dev-1", "response", ActionSetPowerState, `{"state":"On"}`))
		sseWrite(w, deviceFrame("dev-2", "event", ActionSetBrightness, `{"brightness":60}`))
		sseWrite(w, deviceFrame("dev-1", "response", ActionSetPowerState, `{"state":"Off"}`))
		<-done // hold the connection open
	})
	defer close(done)

	want := []struct {
		deviceID string
		action   Action
	}{
		{"dev-1", ActionSetPowerState},
		{"dev-2", ActionSetBrightness},
		{"dev-1", ActionSetPowerState},
	}

	for i, w := range want {
		ev := waitEvent(t, events)
		if ev.DeviceID != w.deviceID || ev.Action != w.action {
			t.Errorf("event %d = %s/%s, want %s/%s", i, ev.DeviceID, ev.Action, w.deviceID, w.action)
		}
	}

	select {
	case ev := <-events:
		t.Errorf("unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStream_FiltersNonDeviceFrames(t *testing.T) {
	done := make(chan struct{})
	_, events := collectEvents(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Requests echoed back to the feed are not state changes.
		sseWrite(w, deviceFrame("dev-1", "request", ActionSetPowerState, `{"state":"On"}`))
		// Malformed JSON is skipped without stalling the stream.
		sseWrite(w, `{"event":"deviceMessageArrived","message":`)
		sseWrite(w, deviceFrame("dev-2", "event", ActionDoorbellPress, `{"state":"pressed"}`))
		<-done
	})
	defer close(done)

	ev := waitEvent(t, events)
	if ev.DeviceID != "dev-2" || ev.Action != ActionDoorbellPress {
		t.Errorf("event = %s/%s, want dev-2/%s", ev.DeviceID, ev.Action, ActionDoorbellPress)
	}
}

func TestStream_HandlerPanicIsIsolated(t *testing.T) {
	done := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseWrite(w, deviceFrame("dev-1", "event", ActionSetPowerState, `{"state":"On"}`))
		sseWrite(w, deviceFrame("dev-2", "event", ActionSetPowerState, `{"state":"Off"}`))
		<-done
	}))
	defer ts.Close()
	defer close(done)

	events := make(chan InboundEvent, 16)
	c := NewStreamClient(streamConfig(ts.URL), &stubSessions{})
	c.OnEvent(func(ev InboundEvent) {
		if ev.DeviceID == "dev-1" {
			panic("handler bug")
		}
		events <- ev
	})
	defer c.Close()

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ev := waitEvent(t, events)
	if ev.DeviceID != "dev-2" {
		t.Errorf("event after panic = %s, want dev-2", ev.DeviceID)
	}
}

func TestStream_ReconnectsWithFreshToken(t *testing.T) {
	var conns atomic.Int32
	tokens := make(chan string, 4)
	done := make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("accessToken")
		if conns.Add(1) == 1 {
			// Drop the first connection immediately.
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		sseWrite(w, deviceFrame("dev-1", "event", ActionSetPowerState, `{"state":"On"}`))
		<-done
	}))
	defer ts.Close()
	defer close(done)

	sessions := &stubSessions{}
	events := make(chan InboundEvent, 16)
	c := NewStreamClient(streamConfig(ts.URL), sessions)
	c.OnEvent(func(ev InboundEvent) { events <- ev })
	defer c.Close()

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	waitEvent(t, events)

	first, second := <-tokens, <-tokens
	if first == second {
		t.Errorf("reconnect reused token %q, want a fresh one", first)
	}
	if sessions.callCount() < 2 {
		t.Errorf("session calls = %d, want at least 2", sessions.callCount())
	}
}

func TestStream_ReconnectBudgetExhausted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	cfg := streamConfig(ts.URL)
	cfg.Stream.Reconnect.MaxAttempts = 2

	c := NewStreamClient(cfg, &stubSessions{})
	defer c.Close()

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	deadline := time.After(3 * time.Second)
	for c.State() != StreamClosed {
		select {
		case <-deadline:
			t.Fatalf("state = %v, want closed after budget exhausted", c.State())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStream_IdleWatchdogReconnects(t *testing.T) {
	var conns atomic.Int32
	done := make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		if conns.Add(1) == 1 {
			// First connection goes silent; the watchdog should kill it.
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			<-done
			return
		}
		sseWrite(w, deviceFrame("dev-1", "event", ActionSetPowerState, `{"state":"On"}`))
		<-done
	}))
	defer ts.Close()
	defer close(done)

	cfg := streamConfig(ts.URL)
	cfg.Stream.IdleTimeout = 1

	events := make(chan InboundEvent, 16)
	c := NewStreamClient(cfg, &stubSessions{})
	c.OnEvent(func(ev InboundEvent) { events <- ev })
	defer c.Close()

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("watchdog never forced a reconnect")
	}
	if conns.Load() < 2 {
		t.Errorf("connections = %d, want at least 2", conns.Load())
	}
}

func TestStream_OpenIsIdempotent(t *testing.T) {
	done := make(chan struct{})
	c, _ := collectEvents(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-done
	})
	defer close(done)

	if err := c.Open(context.Background()); err != nil {
		t.Errorf("second Open() error = %v, want nil", err)
	}
}

func TestStream_CloseWithoutOpen(t *testing.T) {
	c := NewStreamClient(streamConfig("http://127.0.0.1:0"), &stubSessions{})
	c.Close() // must not block or panic

	if c.State() != StreamClosed {
		t.Errorf("State() = %v, want closed", c.State())
	}
}
