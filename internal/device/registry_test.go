package device

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/sinricsync/sinric-bridge/internal/cloud"
)

func testDevice(t *testing.T, id string, kind Kind) *Device {
	t.Helper()
	d, err := New(id, "Test "+id, kind, State{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func powerEvent(deviceID, state string) cloud.InboundEvent {
	return cloud.InboundEvent{
		DeviceID: deviceID,
		Action:   cloud.ActionSetPowerState,
		Value:    json.RawMessage(`{"state":"` + state + `"}`),
	}
}

func TestRegistry_RouteUpdatesState(t *testing.T) {
	r := NewRegistry()
	d := testDevice(t, "dev-1", KindSwitch)
	r.Register(d)

	var changes []Change
	r.OnChange(func(c Change) { changes = append(changes, c) })

	r.Route(powerEvent("dev-1", "On"))

	if got := d.State().PowerState; got != "On" {
		t.Errorf("PowerState = %q, want On", got)
	}
	if len(changes) != 1 {
		t.Fatalf("change notifications = %d, want 1", len(changes))
	}
	if !changes[0].Changed {
		t.Error("Changed = false, want true for a real transition")
	}
	if changes[0].Device != d {
		t.Error("change carries the wrong handle")
	}
}

func TestRegistry_RouteUnknownDeviceDropped(t *testing.T) {
	r := NewRegistry()
	r.Register(testDevice(t, "dev-1", KindSwitch))

	notified := 0
	r.OnChange(func(Change) { notified++ })

	// Must not panic, error or notify.
	r.Route(powerEvent("dev-unknown", "On"))

	if notified != 0 {
		t.Errorf("notifications = %d, want 0 for unknown device", notified)
	}
}

func TestRegistry_RouteDuplicateEventNotChanged(t *testing.T) {
	r := NewRegistry()
	d := testDevice(t, "dev-1", KindSwitch)
	r.Register(d)

	var changes []Change
	r.OnChange(func(c Change) { changes = append(changes, c) })

	r.Route(powerEvent("dev-1", "On"))
	r.Route(powerEvent("dev-1", "On"))

	if len(changes) != 2 {
		t.Fatalf("notifications = %d, want 2", len(changes))
	}
	if !changes[0].Changed || changes[1].Changed {
		t.Errorf("Changed flags = %v/%v, want true/false",
			changes[0].Changed, changes[1].Changed)
	}
}

func TestRegistry_RouteMultipleHandles(t *testing.T) {
	r := NewRegistry()
	first := testDevice(t, "dev-1", KindSwitch)
	second := testDevice(t, "dev-1", KindSwitch)
	r.Register(first)
	r.Register(second)

	notified := 0
	r.OnChange(func(Change) { notified++ })

	r.Route(powerEvent("dev-1", "On"))

	if first.State().PowerState != "On" || second.State().PowerState != "On" {
		t.Error("not every handle received the event")
	}
	if notified != 2 {
		t.Errorf("notifications = %d, want one per handle", notified)
	}
}

func TestRegistry_GetAndList(t *testing.T) {
	r := NewRegistry()
	d := testDevice(t, "dev-1", KindLight)
	r.Register(d)
	r.Register(testDevice(t, "dev-2", KindThermostat))

	got, err := r.Get("dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != d {
		t.Error("Get() returned the wrong handle")
	}

	if _, err := r.Get("dev-404"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrDeviceNotFound", err)
	}

	if got := len(r.List()); got != 2 {
		t.Errorf("len(List()) = %d, want 2", got)
	}
	if got := r.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	r.Register(testDevice(t, "dev-1", KindSwitch))

	r.Unregister("dev-1")
	r.Unregister("dev-1") // second removal is a no-op

	if _, err := r.Get("dev-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get() after Unregister error = %v, want ErrDeviceNotFound", err)
	}
}

func TestKindFromProductCode(t *testing.T) {
	tests := []struct {
		code    string
		want    Kind
		wantErr bool
	}{
		{"sinric.devices.types.SWITCH", KindSwitch, false},
		{"sinric.devices.types.LIGHT", KindLight, false},
		{"sinric.devices.types.DIMMABLE_SWITCH", KindDimmableSwitch, false},
		{"sinric.devices.types.THERMOSTAT", KindThermostat, false},
		{"sinric.devices.types.SMARTLOCK", KindLock, false},
		{"sinric.devices.types.DOORBELL", KindDoorbell, false},
		{"sinric.devices.types.GARAGE_DOOR", KindGarageDoor, false},
		{"sinric.devices.types.CAMERA", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, err := KindFromProductCode(tt.code)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownKind) {
					t.Errorf("error = %v, want ErrUnknownKind", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("KindFromProductCode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("KindFromProductCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFromInfo(t *testing.T) {
	brightness := 80
	info := cloud.DeviceInfo{
		ID:         "dev-1",
		Name:       "Porch Light",
		PowerState: "ON",
		Brightness: &brightness,
	}
	info.Product.Code = "sinric.devices.types.LIGHT"
	info.Room.Name = "Porch"

	d, err := FromInfo(info)
	if err != nil {
		t.Fatalf("FromInfo() error = %v", err)
	}
	if d.Kind != KindLight {
		t.Errorf("Kind = %q, want light", d.Kind)
	}
	if d.Room != "Porch" {
		t.Errorf("Room = %q, want Porch", d.Room)
	}

	state := d.State()
	if state.PowerState != "On" {
		t.Errorf("PowerState = %q, want On (normalised)", state.PowerState)
	}
	if state.Brightness != 80 {
		t.Errorf("Brightness = %d, want 80", state.Brightness)
	}
}

func TestFromInfo_UnknownProduct(t *testing.T) {
	info := cloud.DeviceInfo{ID: "dev-1", Name: "Cam"}
	info.Product.Code = "sinric.devices.types.CAMERA"

	if _, err := FromInfo(info); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("FromInfo() error = %v, want ErrUnknownKind", err)
	}
}

func TestStateFromSnapshot(t *testing.T) {
	snapshot := []byte(`{"powerState":"ON","brightness":40}`)

	state, err := StateFromSnapshot(snapshot)
	if err != nil {
		t.Fatalf("StateFromSnapshot() error = %v", err)
	}
	if state.PowerState != "On" {
		t.Errorf("PowerState = %q, want On (normalised)", state.PowerState)
	}
	if state.Brightness != 40 {
		t.Errorf("Brightness = %d, want 40", state.Brightness)
	}

	if _, err := StateFromSnapshot([]byte(`{not json`)); err == nil {
		t.Error("StateFromSnapshot() accepted malformed JSON")
	}
}
