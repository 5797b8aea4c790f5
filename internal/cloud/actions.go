package cloud

// Action identifies a device command or state change on the portal wire.
//
// The set is closed: the portal only understands these names, and the device
// layer only reduces these names. Anything else arriving on the stream is
// ignored by the router.
type Action string

const (
	ActionSetPowerState      Action = "setPowerState"
	ActionSetBrightness      Action = "setBrightness"
	ActionSetPowerLevel      Action = "setPowerLevel"
	ActionSetRangeValue      Action = "setRangeValue"
	ActionTargetTemperature  Action = "targetTemperature"
	ActionCurrentTemperature Action = "currentTemperature"
	ActionSetMode            Action = "setMode"
	ActionSetLockState       Action = "setLockState"
	ActionSetThermostatMode  Action = "setThermostatMode"
	ActionDoorbellPress      Action = "DoorbellPress"
	ActionMotion             Action = "motion"
	ActionSetContactState    Action = "setContactState"
)

// knownActions is the closed action vocabulary.
var knownActions = map[Action]bool{
	ActionSetPowerState:      true,
	ActionSetBrightness:      true,
	ActionSetPowerLevel:      true,
	ActionSetRangeValue:      true,
	ActionTargetTemperature:  true,
	ActionCurrentTemperature: true,
	ActionSetMode:            true,
	ActionSetLockState:       true,
	ActionSetThermostatMode:  true,
	ActionDoorbellPress:      true,
	ActionMotion:             true,
	ActionSetContactState:    true,
}

// Valid reports whether the action is in the supported set.
func (a Action) Valid() bool {
	return knownActions[a]
}

func (a Action) String() string {
	return string(a)
}

// Command payloads. Each action carries exactly one of these shapes in the
// envelope value field, serialised to JSON.

// PowerStateValue carries "On" or "Off".
type PowerStateValue struct {
	State string `json:"state"`
}

// BrightnessValue carries a 0-100 brightness percentage.
type BrightnessValue struct {
	Brightness int `json:"brightness"`
}

// PowerLevelValue carries a 0-100 power level percentage.
type PowerLevelValue struct {
	PowerLevel int `json:"powerLevel"`
}

// RangeValueValue carries a generic range position (blind position,
// fan speed step, garage door position).
type RangeValueValue struct {
	RangeValue int `json:"rangeValue"`
}

// TemperatureValue carries a target or current temperature in the
// account's configured unit.
type TemperatureValue struct {
	Temperature float64 `json:"temperature"`
}

// ModeValue carries a device mode name, e.g. "Open"/"Close" for garage doors.
type ModeValue struct {
	Mode string `json:"mode"`
}

// LockStateValue carries "lock" or "unlock".
type LockStateValue struct {
	State string `json:"state"`
}

// ThermostatModeValue carries "HEAT", "COOL", "AUTO" or "OFF".
type ThermostatModeValue struct {
	ThermostatMode string `json:"thermostatMode"`
}

// DoorbellValue carries the fixed press notification payload.
type DoorbellValue struct {
	State string `json:"state"`
}
