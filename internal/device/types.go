package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sinricsync/sinric-bridge/internal/cloud"
)

// Kind identifies the device category, derived from the portal product code
// (e.g. "sinric.devices.types.SWITCH"). The kind selects which state fields
// are meaningful and which actions the device accepts.
type Kind string

const (
	KindSwitch            Kind = "switch"
	KindLight             Kind = "light"
	KindDimmableSwitch    Kind = "dimmable_switch"
	KindFan               Kind = "fan"
	KindThermostat        Kind = "thermostat"
	KindLock              Kind = "lock"
	KindDoorbell          Kind = "doorbell"
	KindBlind             Kind = "blind"
	KindGarageDoor        Kind = "garage_door"
	KindTemperatureSensor Kind = "temperature_sensor"
	KindMotionSensor      Kind = "motion_sensor"
	KindContactSensor     Kind = "contact_sensor"
	KindACUnit            Kind = "ac_unit"
	KindTV                Kind = "tv"
)

// productCodePrefix is shared by every portal product code.
const productCodePrefix = "sinric.devices.types."

// kindByCode maps the portal product code suffix to a Kind.
var kindByCode = map[string]Kind{
	"SWITCH":             KindSwitch,
	"LIGHT":              KindLight,
	"DIMMABLE_SWITCH":    KindDimmableSwitch,
	"FAN":                KindFan,
	"FAN_SWITCH":         KindFan,
	"THERMOSTAT":         KindThermostat,
	"SMARTLOCK":          KindLock,
	"DOORBELL":           KindDoorbell,
	"BLIND":              KindBlind,
	"GARAGE_DOOR":        KindGarageDoor,
	"TEMPERATURE_SENSOR": KindTemperatureSensor,
	"MOTION_SENSOR":      KindMotionSensor,
	"CONTACT_SENSOR":     KindContactSensor,
	"AC_UNIT":            KindACUnit,
	"TV":                 KindTV,
}

// KindFromProductCode resolves a portal product code to a Kind.
//
// Returns ErrUnknownKind for codes this bridge does not manage, such as
// camera products; callers should skip those devices rather than fail.
func KindFromProductCode(code string) (Kind, error) {
	suffix := strings.TrimPrefix(code, productCodePrefix)
	if kind, ok := kindByCode[suffix]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, code)
}

// Valid reports whether the kind is one of the managed categories.
func (k Kind) Valid() bool {
	for _, known := range kindByCode {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// State is the canonical device state snapshot. One struct covers every
// kind; fields irrelevant to a kind stay at their zero value and are
// omitted from JSON.
//
// State is a value type with no reference fields, so snapshots compare
// with == and copy by assignment.
type State struct {
	// PowerState is "On" or "Off" once observed, "" before.
	PowerState string `json:"powerState,omitempty"`

	// Brightness is a 0-100 percentage for lights.
	Brightness int `json:"brightness,omitempty"`

	// PowerLevel is a 0-100 percentage for dimmable switches.
	PowerLevel int `json:"powerLevel,omitempty"`

	// RangeValue is a generic position: blind position, fan speed step.
	RangeValue int `json:"rangeValue,omitempty"`

	// TargetTemperature and CurrentTemperature are in the account's unit.
	TargetTemperature  float64 `json:"targetTemperature,omitempty"`
	CurrentTemperature float64 `json:"currentTemperature,omitempty"`

	// Humidity is a relative percentage reported alongside temperature.
	Humidity float64 `json:"humidity,omitempty"`

	// ThermostatMode is "HEAT", "COOL", "AUTO" or "OFF".
	ThermostatMode string `json:"thermostatMode,omitempty"`

	// Mode is a free-form device mode, e.g. "Open"/"Close" for garage doors.
	Mode string `json:"mode,omitempty"`

	// LockState is "LOCKED", "UNLOCKED" or "JAMMED".
	LockState string `json:"lockState,omitempty"`

	// ContactState is "open" or "closed".
	ContactState string `json:"contactState,omitempty"`

	// MotionState is "detected" or "notDetected".
	MotionState string `json:"motionState,omitempty"`
}

// Device is a local handle for one portal device. State access is
// mutex-guarded; handles are shared between the stream router, the MQTT
// surface and the HTTP API.
type Device struct {
	ID   string
	Name string
	Kind Kind
	Room string

	mu        sync.RWMutex
	state     State
	updatedAt time.Time
}

// New creates a handle with the given identity and initial state.
func New(id, name string, kind Kind, initial State) (*Device, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidDevice)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return &Device{
		ID:    id,
		Name:  name,
		Kind:  kind,
		state: initial,
	}, nil
}

// State returns a copy of the current state.
func (d *Device) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// UpdatedAt returns when the state last changed, zero if it never has.
func (d *Device) UpdatedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.updatedAt
}

// Apply reduces an action into the handle's state. It returns the state
// after reduction and whether it differs from the state before.
func (d *Device) Apply(action cloud.Action, value json.RawMessage) (State, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := Reduce(d.state, action, value)
	changed := next != d.state
	if changed {
		d.state = next
		d.updatedAt = time.Now()
	}
	return next, changed
}

// SetState replaces the whole snapshot, used by the restore path.
func (d *Device) SetState(state State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
	d.updatedAt = time.Now()
}
