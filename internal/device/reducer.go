package device

import (
	"encoding/json"
	"strings"

	"github.com/sinricsync/sinric-bridge/internal/cloud"
)

// reducer computes the next state from the current state and an action
// value. Reducers are pure and total: no side effects, no errors. A value
// that cannot be decoded or fails normalisation leaves state unchanged.
type reducer func(s State, value json.RawMessage) State

// reducers is the dispatch table keyed by action. Kinds share reducers
// freely; a thermostat and an AC unit reduce targetTemperature the same
// way. Actions without an entry are identity.
var reducers = map[cloud.Action]reducer{
	cloud.ActionSetPowerState:      reducePowerState,
	cloud.ActionSetBrightness:      reduceBrightness,
	cloud.ActionSetPowerLevel:      reducePowerLevel,
	cloud.ActionSetRangeValue:      reduceRangeValue,
	cloud.ActionTargetTemperature:  reduceTargetTemperature,
	cloud.ActionCurrentTemperature: reduceCurrentTemperature,
	cloud.ActionSetThermostatMode:  reduceThermostatMode,
	cloud.ActionSetMode:            reduceMode,
	cloud.ActionSetLockState:       reduceLockState,
	cloud.ActionSetContactState:    reduceContactState,
	cloud.ActionMotion:             reduceMotion,
	// DoorbellPress carries no durable state; the router still notifies
	// subscribers so presses reach the MQTT and WebSocket surfaces.
	cloud.ActionDoorbellPress: reduceIdentity,
}

// Reduce applies one action to a state snapshot and returns the next
// snapshot. Unknown actions and undecodable values return the input.
func Reduce(s State, action cloud.Action, value json.RawMessage) State {
	if r, ok := reducers[action]; ok {
		return r(s, value)
	}
	return s
}

// decode unmarshals an action value into shape T. The portal double-encodes
// some values as JSON strings, so a failed decode retries after unquoting.
func decode[T any](value json.RawMessage) (T, bool) {
	var v T
	if err := json.Unmarshal(value, &v); err == nil {
		return v, true
	}
	var quoted string
	if err := json.Unmarshal(value, &quoted); err == nil {
		if err := json.Unmarshal([]byte(quoted), &v); err == nil {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// NormalizePowerState maps any casing of on/off to the canonical "On"/"Off".
// Unrecognised input returns "".
func NormalizePowerState(raw string) string {
	switch strings.ToUpper(raw) {
	case "ON":
		return "On"
	case "OFF":
		return "Off"
	default:
		return ""
	}
}

func reduceIdentity(s State, _ json.RawMessage) State {
	return s
}

func reducePowerState(s State, value json.RawMessage) State {
	v, ok := decode[cloud.PowerStateValue](value)
	if !ok {
		return s
	}
	normalized := NormalizePowerState(v.State)
	if normalized == "" {
		return s
	}
	s.PowerState = normalized
	return s
}

func reduceBrightness(s State, value json.RawMessage) State {
	v, ok := decode[cloud.BrightnessValue](value)
	if !ok {
		return s
	}
	s.Brightness = clampPercent(v.Brightness)
	return s
}

func reducePowerLevel(s State, value json.RawMessage) State {
	v, ok := decode[cloud.PowerLevelValue](value)
	if !ok {
		return s
	}
	s.PowerLevel = clampPercent(v.PowerLevel)
	return s
}

func reduceRangeValue(s State, value json.RawMessage) State {
	v, ok := decode[cloud.RangeValueValue](value)
	if !ok {
		return s
	}
	s.RangeValue = v.RangeValue
	return s
}

func reduceTargetTemperature(s State, value json.RawMessage) State {
	v, ok := decode[cloud.TemperatureValue](value)
	if !ok {
		return s
	}
	s.TargetTemperature = v.Temperature
	return s
}

// currentTemperatureValue carries the periodic sensor report, which
// includes humidity alongside temperature.
type currentTemperatureValue struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

func reduceCurrentTemperature(s State, value json.RawMessage) State {
	v, ok := decode[currentTemperatureValue](value)
	if !ok {
		return s
	}
	s.CurrentTemperature = v.Temperature
	s.Humidity = v.Humidity
	return s
}

func reduceThermostatMode(s State, value json.RawMessage) State {
	v, ok := decode[cloud.ThermostatModeValue](value)
	if !ok || v.ThermostatMode == "" {
		return s
	}
	s.ThermostatMode = strings.ToUpper(v.ThermostatMode)
	return s
}

func reduceMode(s State, value json.RawMessage) State {
	v, ok := decode[cloud.ModeValue](value)
	if !ok || v.Mode == "" {
		return s
	}
	s.Mode = v.Mode
	return s
}

func reduceLockState(s State, value json.RawMessage) State {
	v, ok := decode[cloud.LockStateValue](value)
	if !ok || v.State == "" {
		return s
	}
	s.LockState = strings.ToUpper(v.State)
	return s
}

// stateValue is the generic {"state": ...} shape used by the sensor actions.
type stateValue struct {
	State string `json:"state"`
}

func reduceContactState(s State, value json.RawMessage) State {
	v, ok := decode[stateValue](value)
	if !ok || v.State == "" {
		return s
	}
	s.ContactState = strings.ToLower(v.State)
	return s
}

func reduceMotion(s State, value json.RawMessage) State {
	v, ok := decode[stateValue](value)
	if !ok || v.State == "" {
		return s
	}
	s.MotionState = v.State
	return s
}

// clampPercent bounds a percentage to [0, 100].
func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
