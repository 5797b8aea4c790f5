package device

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sinricsync/sinric-bridge/internal/cloud"
)

// StateFromInfo seeds a state snapshot from a portal inventory record.
// This is the cold-start restore path: the portal's last-reported values
// become the local state until the stream delivers fresher ones.
func StateFromInfo(info cloud.DeviceInfo) State {
	var s State

	s.PowerState = NormalizePowerState(info.PowerState)
	if info.Brightness != nil {
		s.Brightness = clampPercent(*info.Brightness)
	}
	if info.PowerLevel != nil {
		s.PowerLevel = clampPercent(*info.PowerLevel)
	}
	if info.RangeValue != nil {
		s.RangeValue = *info.RangeValue
	}
	if info.Temperature != nil {
		s.CurrentTemperature = *info.Temperature
	}
	if info.Humidity != nil {
		s.Humidity = *info.Humidity
	}
	if info.ThermostatMode != "" {
		s.ThermostatMode = strings.ToUpper(info.ThermostatMode)
	}
	if info.ContactState != "" {
		s.ContactState = strings.ToLower(info.ContactState)
	}
	s.MotionState = info.MotionState

	return s
}

// StateFromSnapshot decodes a persisted JSON snapshot, the warm-start
// restore path when the portal is unreachable.
func StateFromSnapshot(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("device: decoding snapshot: %w", err)
	}
	// Snapshots written by older versions may predate normalisation.
	s.PowerState = NormalizePowerState(s.PowerState)
	return s, nil
}

// FromInfo builds a handle from a portal inventory record, seeding state
// from the record's last-reported values. Returns ErrUnknownKind for
// product codes the bridge does not manage.
func FromInfo(info cloud.DeviceInfo) (*Device, error) {
	kind, err := KindFromProductCode(info.Product.Code)
	if err != nil {
		return nil, err
	}
	d, err := New(info.ID, info.Name, kind, StateFromInfo(info))
	if err != nil {
		return nil, err
	}
	d.Room = info.Room.Name
	return d, nil
}
