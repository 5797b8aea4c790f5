package cloud

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sinricsync/sinric-bridge/internal/infrastructure/config"
)

// StreamState describes the stream client lifecycle.
type StreamState int

const (
	// StreamClosed means no connection exists and none is being attempted.
	StreamClosed StreamState = iota
	// StreamConnecting means a connection attempt or reconnect wait is in progress.
	StreamConnecting
	// StreamOpen means events are flowing.
	StreamOpen
)

func (s StreamState) String() string {
	switch s {
	case StreamClosed:
		return "closed"
	case StreamConnecting:
		return "connecting"
	case StreamOpen:
		return "open"
	default:
		return "unknown"
	}
}

// EventHandler receives device state changes in arrival order.
//
// Handlers run synchronously on the stream goroutine: the next event is
// not read until the handler returns. A panicking handler is recovered
// and logged; the stream keeps running.
type EventHandler func(event InboundEvent)

// StreamClient consumes the portal's server-sent event feed.
//
// The portal multiplexes everything over one feed: device responses,
// device-initiated events, connection acks and heartbeats. Only frames
// describing device state changes reach the handler; the rest are
// dropped silently.
//
// Connection loss is handled internally with exponential backoff and
// jitter, fetching a fresh bearer token before each attempt. A stalled
// connection (no traffic, not even heartbeats, for the idle timeout) is
// torn down and re-established the same way.
type StreamClient struct {
	cfg      config.CloudConfig
	sessions SessionProvider

	// client has no overall timeout; the response body is a stream.
	client *http.Client

	mu     sync.Mutex
	state  StreamState
	cancel context.CancelFunc
	done   chan struct{}

	handlerMu sync.RWMutex
	handler   EventHandler

	logger   Logger
	loggerMu sync.RWMutex
}

// NewStreamClient creates a stream client. Call OnEvent before Open;
// events arriving without a handler are dropped.
func NewStreamClient(cfg config.CloudConfig, sessions SessionProvider) *StreamClient {
	return &StreamClient{
		cfg:      cfg,
		sessions: sessions,
		client:   &http.Client{},
		logger:   noopLogger{},
	}
}

// SetLogger attaches a logger for connection lifecycle events.
func (c *StreamClient) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	if logger != nil {
		c.logger = logger
	}
}

func (c *StreamClient) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// OnEvent registers the handler for device state changes.
func (c *StreamClient) OnEvent(handler EventHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = handler
}

// State returns the current lifecycle state.
func (c *StreamClient) State() StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *StreamClient) setState(s StreamState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Open starts consuming the event feed in a background goroutine.
//
// Opening an already-open client is a no-op, so callers can retrigger
// Open from supervision code without tracking state themselves. The
// client runs until Close is called, the context is cancelled, or the
// reconnect budget is exhausted.
func (c *StreamClient) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StreamClosed {
		c.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = StreamConnecting
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer c.setState(StreamClosed)
		c.run(runCtx)
	}()

	return nil
}

// Close tears down the connection and waits for the stream goroutine to
// exit. Safe to call on a client that was never opened.
func (c *StreamClient) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// run is the reconnect loop. Each iteration fetches a fresh token,
// consumes the stream until it drops, then waits out the backoff delay.
// Receiving at least one frame resets the backoff.
func (c *StreamClient) run(ctx context.Context) {
	reconnect := c.cfg.Stream.Reconnect
	delay := c.cfg.GetReconnectInitialDelay()
	maxDelay := c.cfg.GetReconnectMaxDelay()
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		frames, err := c.connectAndConsume(ctx)
		if ctx.Err() != nil {
			return
		}

		if frames > 0 {
			// The connection was healthy before it dropped; start the
			// backoff schedule over.
			delay = c.cfg.GetReconnectInitialDelay()
			attempts = 0
		}

		attempts++
		if reconnect.MaxAttempts > 0 && attempts > reconnect.MaxAttempts {
			c.log().Error("event stream reconnect budget exhausted",
				"attempts", attempts-1, "error", err)
			return
		}

		c.setState(StreamConnecting)
		wait := delay + jitter(delay)
		c.log().Warn("event stream disconnected, reconnecting",
			"error", err, "attempt", attempts, "wait", wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// jitter returns a random duration in [0, d/2) to spread reconnect
// storms across clients.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return rand.N(d / 2)
}

// connectAndConsume performs one connection attempt and consumes frames
// until the connection drops. It returns the number of frames received
// alongside the terminating error.
func (c *StreamClient) connectAndConsume(ctx context.Context) (int, error) {
	session, err := c.sessions.EnsureSession(ctx)
	if err != nil {
		return 0, err
	}

	// A per-connection context lets the idle watchdog kill just this
	// connection without stopping the reconnect loop.
	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	streamURL, err := c.streamURL(session.Token)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStreamClosed, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStreamClosed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return 0, fmt.Errorf("%w: %w", ErrStreamClosed,
			&StatusError{Op: "stream", Status: resp.StatusCode, Body: truncate(body, 256)})
	}

	c.setState(StreamOpen)
	c.log().Info("event stream connected")

	return c.consume(connCtx, cancelConn, resp.Body)
}

// streamURL appends the bearer token as a query parameter, the only
// authentication mechanism the SSE endpoint supports.
func (c *StreamClient) streamURL(token string) (string, error) {
	u, err := url.Parse(c.cfg.SSEURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid stream url: %w", ErrStreamClosed, err)
	}
	q := u.Query()
	q.Set("accessToken", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// consume reads SSE frames off the wire until the connection drops.
// Data lines accumulate until a blank line terminates the frame; other
// field names and comment lines are ignored. Every line of traffic,
// heartbeats included, feeds the idle watchdog.
func (c *StreamClient) consume(ctx context.Context, cancelConn context.CancelFunc, body io.Reader) (int, error) {
	var watchdog *time.Timer
	if idle := c.cfg.GetStreamIdleTimeout(); idle > 0 {
		watchdog = time.AfterFunc(idle, func() {
			c.log().Warn("event stream idle timeout, dropping connection",
				"idle_timeout", idle)
			cancelConn()
		})
		defer watchdog.Stop()
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	frames := 0
	var data []string

	for scanner.Scan() {
		if watchdog != nil {
			watchdog.Reset(c.cfg.GetStreamIdleTimeout())
		}

		line := scanner.Text()
		switch {
		case line == "":
			// Blank line terminates the frame.
			if len(data) > 0 {
				frames++
				c.handleFrame(strings.Join(data, "\n"))
				data = data[:0]
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:, id:, retry: and comment lines carry nothing we need.
		}
	}

	if err := scanner.Err(); err != nil {
		return frames, fmt.Errorf("%w: %w", ErrStreamClosed, err)
	}
	if err := ctx.Err(); err != nil {
		return frames, fmt.Errorf("%w: %w", ErrStreamClosed, err)
	}
	return frames, fmt.Errorf("%w: server closed connection", ErrStreamClosed)
}

// handleFrame decodes one frame and, if it describes a device state
// change, hands it to the handler. Malformed or irrelevant frames are
// logged at debug and dropped; they never stall the stream.
func (c *StreamClient) handleFrame(raw string) {
	var frame sseFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		c.log().Debug("dropping undecodable stream frame", "error",
			fmt.Errorf("%w: %w", ErrMalformedEvent, err))
		return
	}

	if frame.Event != "deviceMessageArrived" {
		return
	}

	payload := frame.Message.Payload
	if payload.Type != "response" && payload.Type != "event" {
		return
	}
	if payload.DeviceID == "" || payload.Action == "" {
		c.log().Debug("dropping incomplete device message",
			"device_id", payload.DeviceID, "action", payload.Action)
		return
	}

	c.handlerMu.RLock()
	handler := c.handler
	c.handlerMu.RUnlock()
	if handler == nil {
		return
	}

	c.deliver(handler, InboundEvent{
		DeviceID: payload.DeviceID,
		Action:   payload.Action,
		Value:    payload.Value,
	})
}

// deliver invokes the handler with panic isolation. One bad handler must
// not take down the stream for every device.
func (c *StreamClient) deliver(handler EventHandler, event InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("event handler panicked",
				"device_id", event.DeviceID,
				"action", event.Action,
				"panic", r,
			)
		}
	}()
	handler(event)
}
