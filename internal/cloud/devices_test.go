package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListDevices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/devices" {
			t.Errorf("path = %q, want /devices", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q, want Bearer tok-1", got)
		}
		fmt.Fprint(w, `{
			"devices": [
				{
					"id": "dev-1",
					"name": "Porch Light",
					"powerState": "On",
					"brightness": 80,
					"product": {"code": "sinric.devices.types.LIGHT"},
					"room": {"name": "Porch"}
				},
				{
					"id": "dev-2",
					"name": "Hallway Thermostat",
					"temperature": 21.5,
					"thermostatMode": "HEAT",
					"product": {"code": "sinric.devices.types.THERMOSTAT"},
					"room": {"name": "Hallway"}
				}
			]
		}`)
	}))
	defer ts.Close()

	inv := NewInventory(cloudConfig(ts.URL), &stubSessions{})

	devices, err := inv.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("len(devices) = %d, want 2", len(devices))
	}

	light := devices[0]
	if light.ID != "dev-1" || light.Name != "Porch Light" {
		t.Errorf("device 0 = %s/%s, want dev-1/Porch Light", light.ID, light.Name)
	}
	if light.Product.Code != "sinric.devices.types.LIGHT" {
		t.Errorf("product code = %q", light.Product.Code)
	}
	if light.Brightness == nil || *light.Brightness != 80 {
		t.Errorf("brightness = %v, want 80", light.Brightness)
	}
	if light.Temperature != nil {
		t.Errorf("temperature = %v, want nil for a light", light.Temperature)
	}

	thermostat := devices[1]
	if thermostat.Temperature == nil || *thermostat.Temperature != 21.5 {
		t.Errorf("temperature = %v, want 21.5", thermostat.Temperature)
	}
	if thermostat.ThermostatMode != "HEAT" {
		t.Errorf("thermostat mode = %q, want HEAT", thermostat.ThermostatMode)
	}
}

func TestListDevices_AuthFailure(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
	}))
	defer ts.Close()

	inv := NewInventory(cloudConfig(ts.URL), &stubSessions{err: ErrAuthFailed})

	_, err := inv.ListDevices(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("ListDevices() error = %v, want ErrAuthFailed", err)
	}
	if requests != 0 {
		t.Errorf("portal received %d requests, want 0", requests)
	}
}

func TestListDevices_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	inv := NewInventory(cloudConfig(ts.URL), &stubSessions{})

	_, err := inv.ListDevices(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusForbidden {
		t.Errorf("ListDevices() error = %v, want StatusError 403", err)
	}
}
