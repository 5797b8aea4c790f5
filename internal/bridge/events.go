package bridge

import (
	"context"
	"time"

	"github.com/sinricsync/sinric-bridge/internal/cloud"
	"github.com/sinricsync/sinric-bridge/internal/device"
	"github.com/sinricsync/sinric-bridge/internal/infrastructure/mqtt"
)

// persistTimeout bounds the SQLite writes on the event path.
const persistTimeout = 5 * time.Second

// statePayload is the JSON shape published to the retained state topics
// and the WebSocket feed.
type statePayload struct {
	DeviceID  string       `json:"deviceId"`
	Name      string       `json:"name"`
	Kind      device.Kind  `json:"kind"`
	State     device.State `json:"state"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// eventPayload is the JSON shape published for stateless notifications.
type eventPayload struct {
	DeviceID string       `json:"deviceId"`
	Name     string       `json:"name"`
	Action   cloud.Action `json:"action"`
	At       time.Time    `json:"at"`
}

// handleChange is the registry change callback: every routed stream event
// lands here, in routing order.
func (b *Bridge) handleChange(change device.Change) {
	d := change.Device

	if change.Changed {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := b.store.SaveState(ctx, d); err != nil {
			b.log.Error("persisting state failed", "device_id", d.ID, "error", err)
		}
		if err := b.store.RecordChange(ctx, d.ID, change.Action, change.State, device.SourceStream); err != nil {
			b.log.Error("recording state change failed", "device_id", d.ID, "error", err)
		}
		cancel()

		b.publishState(d, change.State)
		b.writeTelemetry(d, change)
	}

	if stateless(change.Action) {
		b.publishEvent(d, change.Action)
		if b.telemetry != nil {
			b.telemetry.WriteEvent(d.ID, change.Action.String())
		}
	}

	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, handler := range b.subs {
		handler(change)
	}
}

// stateless reports whether an action is a notification rather than a
// state transition.
func stateless(action cloud.Action) bool {
	return action == cloud.ActionDoorbellPress || action == cloud.ActionMotion
}

// publishState mirrors a snapshot to the retained MQTT state topic.
func (b *Bridge) publishState(d *device.Device, state device.State) {
	if b.bus == nil || !b.bus.IsConnected() {
		return
	}

	payload := statePayload{
		DeviceID:  d.ID,
		Name:      d.Name,
		Kind:      d.Kind,
		State:     state,
		UpdatedAt: d.UpdatedAt(),
	}
	topic := mqtt.Topics{}.DeviceState(d.ID)
	if err := b.bus.PublishJSON(topic, payload, true); err != nil {
		b.log.Warn("publishing state failed", "topic", topic, "error", err)
	}
}

// publishEvent sends a non-retained notification to the event topic.
func (b *Bridge) publishEvent(d *device.Device, action cloud.Action) {
	if b.bus == nil || !b.bus.IsConnected() {
		return
	}

	payload := eventPayload{
		DeviceID: d.ID,
		Name:     d.Name,
		Action:   action,
		At:       time.Now().UTC(),
	}
	topic := mqtt.Topics{}.DeviceEvent(d.ID)
	if err := b.bus.PublishJSON(topic, payload, false); err != nil {
		b.log.Warn("publishing event failed", "topic", topic, "error", err)
	}
}

// writeTelemetry mirrors the numeric side of a change into InfluxDB.
func (b *Bridge) writeTelemetry(d *device.Device, change device.Change) {
	if b.telemetry == nil {
		return
	}

	if change.Action == cloud.ActionCurrentTemperature {
		b.telemetry.WriteClimate(d.ID, change.State.CurrentTemperature, change.State.Humidity)
		return
	}

	fields := stateFields(change.State)
	if len(fields) > 0 {
		b.telemetry.WriteDeviceState(d.ID, d.Kind.String(), fields)
	}
}

// stateFields flattens a snapshot into InfluxDB fields. Only observed
// values are written; zero values for attributes a device never reported
// would poison the series.
func stateFields(s device.State) map[string]any {
	fields := make(map[string]any)

	if s.PowerState != "" {
		fields["on"] = s.PowerState == "On"
	}
	if s.Brightness > 0 {
		fields["brightness"] = s.Brightness
	}
	if s.PowerLevel > 0 {
		fields["power_level"] = s.PowerLevel
	}
	if s.RangeValue > 0 {
		fields["range_value"] = s.RangeValue
	}
	if s.TargetTemperature != 0 {
		fields["target_temperature"] = s.TargetTemperature
	}
	if s.CurrentTemperature != 0 {
		fields["current_temperature"] = s.CurrentTemperature
	}
	if s.Humidity != 0 {
		fields["humidity"] = s.Humidity
	}
	if s.LockState != "" {
		fields["locked"] = s.LockState == "LOCKED"
	}
	if s.ContactState != "" {
		fields["contact_open"] = s.ContactState == "open"
	}

	return fields
}
