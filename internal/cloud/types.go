package cloud

import (
	"encoding/json"
	"time"
)

// timeNow is stubbed in tests that assert envelope timestamps.
var timeNow = time.Now

// clientID identifies this integration to the portal. The portal treats
// envelopes from "portal" clients as dashboard-equivalent commands.
const clientID = "portal"

// Session is a bearer token with its expiry time. Sessions are immutable;
// the SessionManager replaces the whole value on refresh rather than
// mutating fields in place.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// refreshSkew is how long before expiry a token is considered stale.
// Refreshing early avoids dispatching a command with a token that expires
// mid-flight.
const refreshSkew = 2 * time.Minute

// Valid reports whether the token can still be used, with the refresh
// skew applied.
func (s Session) Valid(now time.Time) bool {
	return s.Token != "" && now.Before(s.ExpiresAt.Add(-refreshSkew))
}

// Envelope is the fixed command frame the portal REST API expects.
//
// Value is a JSON document serialised to a string, not a nested object;
// the portal double-decodes it on the far side.
type Envelope struct {
	ClientID  string `json:"clientId"`
	MessageID string `json:"messageId"`
	Type      string `json:"type"`
	Action    Action `json:"action"`
	CreatedAt int64  `json:"createdAt"` // unix seconds
	Value     string `json:"value"`
}

// InboundEvent is a device state change delivered by the event stream.
// Value is left raw; the device layer decodes it per action.
type InboundEvent struct {
	DeviceID string
	Action   Action
	Value    json.RawMessage
}

// sseFrame is the raw shape of a stream data frame. Only frames with
// Event == "deviceMessageArrived" and a payload type of "response" or
// "event" describe device state changes; everything else (connection
// acks, heartbeats) is dropped before reaching the handler.
type sseFrame struct {
	Event   string `json:"event"`
	Message struct {
		Payload struct {
			Action   Action          `json:"action"`
			DeviceID string          `json:"deviceId"`
			Type     string          `json:"type"`
			Success  bool            `json:"success"`
			Value    json.RawMessage `json:"value"`
		} `json:"payload"`
	} `json:"message"`
}

// DeviceInfo is a device record from the portal account inventory.
// Pointer fields distinguish "absent" from zero for devices that do not
// report the attribute.
type DeviceInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PowerState string `json:"powerState"`
	Product    struct {
		Code string `json:"code"`
	} `json:"product"`
	Room struct {
		Name string `json:"name"`
	} `json:"room"`
	Brightness      *int     `json:"brightness"`
	PowerLevel      *int     `json:"powerLevel"`
	RangeValue      *int     `json:"rangeValue"`
	GarageDoorState *int     `json:"garageDoorState"`
	Temperature     *float64 `json:"temperature"`
	Humidity        *float64 `json:"humidity"`
	ThermostatMode  string   `json:"thermostatMode"`
	ContactState    string   `json:"contactState"`
	MotionState     string   `json:"lastMotionState"`
}
