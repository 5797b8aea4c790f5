package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/sinricsync/sinric-bridge/internal/infrastructure/config"
)

// Dispatcher sends device commands to the portal REST API.
//
// Each command is wrapped in an Envelope and posted to
// /devices/{id}/action with a bearer token from the session provider.
// Commands are fire-once: a failed dispatch is reported to the caller,
// never retried. The caller decides whether the command is still wanted.
type Dispatcher struct {
	baseURL  string
	sessions SessionProvider
	client   *http.Client

	// newMessageID is stubbed in tests.
	newMessageID func() string

	logger Logger
}

// dispatchResponse is the portal's reply to a command post.
type dispatchResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewDispatcher creates a dispatcher using sessions for bearer tokens.
func NewDispatcher(cfg config.CloudConfig, sessions SessionProvider) *Dispatcher {
	return &Dispatcher{
		baseURL:      strings.TrimSuffix(cfg.APIBaseURL, "/"),
		sessions:     sessions,
		client:       &http.Client{Timeout: cfg.GetRequestTimeout()},
		newMessageID: uuid.NewString,
		logger:       noopLogger{},
	}
}

// SetLogger attaches a logger for dispatch events.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Dispatch sends one command to one device.
//
// The payload is serialised to JSON and embedded in the envelope as a
// string. A fresh messageId is generated per call, including when the
// caller retries the same logical command.
//
// If authentication fails no request reaches the portal; the auth error
// is returned as-is so callers can distinguish it from delivery failure.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, action Action, payload any) error {
	if deviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrDispatchFailed)
	}
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	session, err := d.sessions.EnsureSession(ctx)
	if err != nil {
		return err
	}

	env, err := newEnvelope(d.newMessageID(), action, payload)
	if err != nil {
		return err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: encoding envelope: %w", ErrDispatchFailed, err)
	}

	endpoint := fmt.Sprintf("%s/devices/%s/action", d.baseURL, url.PathEscape(deviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.Token)

	d.logger.Debug("dispatching command",
		"device_id", deviceID,
		"action", action,
		"message_id", env.MessageID,
	)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrDispatchFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %w", ErrDispatchFailed,
			&StatusError{Op: "dispatch", Status: resp.StatusCode, Body: truncate(respBody, 256)})
	}

	var dr dispatchResponse
	if err := json.Unmarshal(respBody, &dr); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrDispatchFailed, err)
	}
	if !dr.Success {
		return fmt.Errorf("%w: %s", ErrDispatchFailed, dr.Message)
	}

	return nil
}

// newEnvelope builds the wire frame for one command. The payload ends up
// as a JSON string inside the envelope, not a nested object.
func newEnvelope(messageID string, action Action, payload any) (Envelope, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: encoding value: %w", ErrDispatchFailed, err)
	}
	return Envelope{
		ClientID:  clientID,
		MessageID: messageID,
		Type:      "request",
		Action:    action,
		CreatedAt: timeNow().Unix(),
		Value:     string(value),
	}, nil
}

// Typed command helpers. These mirror the portal's action vocabulary so
// callers never hand-build payload maps.

// SetPowerState turns a device on or off. State is "On" or "Off".
func (d *Dispatcher) SetPowerState(ctx context.Context, deviceID, state string) error {
	return d.Dispatch(ctx, deviceID, ActionSetPowerState, PowerStateValue{State: state})
}

// SetBrightness sets a light's brightness percentage (0-100).
func (d *Dispatcher) SetBrightness(ctx context.Context, deviceID string, brightness int) error {
	return d.Dispatch(ctx, deviceID, ActionSetBrightness, BrightnessValue{Brightness: brightness})
}

// SetPowerLevel sets a dimmable switch's power level percentage (0-100).
func (d *Dispatcher) SetPowerLevel(ctx context.Context, deviceID string, level int) error {
	return d.Dispatch(ctx, deviceID, ActionSetPowerLevel, PowerLevelValue{PowerLevel: level})
}

// SetRangeValue sets a generic range position (blind position, fan speed).
func (d *Dispatcher) SetRangeValue(ctx context.Context, deviceID string, value int) error {
	return d.Dispatch(ctx, deviceID, ActionSetRangeValue, RangeValueValue{RangeValue: value})
}

// SetTargetTemperature sets a thermostat's target temperature.
func (d *Dispatcher) SetTargetTemperature(ctx context.Context, deviceID string, temperature float64) error {
	return d.Dispatch(ctx, deviceID, ActionTargetTemperature, TemperatureValue{Temperature: temperature})
}

// SetMode sets a device mode, e.g. "Open"/"Close" for a garage door.
func (d *Dispatcher) SetMode(ctx context.Context, deviceID, mode string) error {
	return d.Dispatch(ctx, deviceID, ActionSetMode, ModeValue{Mode: mode})
}

// SetLockState locks or unlocks a smart lock. State is "lock" or "unlock".
func (d *Dispatcher) SetLockState(ctx context.Context, deviceID, state string) error {
	return d.Dispatch(ctx, deviceID, ActionSetLockState, LockStateValue{State: state})
}

// SetThermostatMode sets a thermostat's operating mode.
func (d *Dispatcher) SetThermostatMode(ctx context.Context, deviceID, mode string) error {
	return d.Dispatch(ctx, deviceID, ActionSetThermostatMode, ThermostatModeValue{ThermostatMode: mode})
}

// PressDoorbell sends the fixed doorbell press notification.
func (d *Dispatcher) PressDoorbell(ctx context.Context, deviceID string) error {
	return d.Dispatch(ctx, deviceID, ActionDoorbellPress, DoorbellValue{State: "pressed"})
}
