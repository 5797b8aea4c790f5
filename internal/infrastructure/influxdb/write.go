package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceState records the numeric and boolean fields of a state
// snapshot under the device_state measurement.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Tags stay low-cardinality: device_id and kind only.
//
// Example:
//
//	client.WriteDeviceState("64b1f0c2a1", "light", map[string]any{
//	    "on":         true,
//	    "brightness": 80,
//	})
func (c *Client) WriteDeviceState(deviceID, kind string, fields map[string]any) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device_id": deviceID,
			"kind":      kind,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteClimate records a temperature and humidity reading.
//
// Split out from WriteDeviceState so sensor dashboards can query one
// measurement without filtering field keys.
func (c *Client) WriteClimate(deviceID string, temperature, humidity float64) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]any{
		"temperature": temperature,
	}
	if humidity > 0 {
		fields["humidity"] = humidity
	}

	point := write.NewPoint(
		"climate",
		map[string]string{
			"device_id": deviceID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEvent records one stateless notification, such as a doorbell press
// or a motion detection, as a countable point.
func (c *Client) WriteEvent(deviceID, action string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_events",
		map[string]string{
			"device_id": deviceID,
			"action":    action,
		},
		map[string]any{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
