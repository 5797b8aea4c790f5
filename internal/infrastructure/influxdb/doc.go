// Package influxdb records device state telemetry for SinricBridge.
//
// Every state change routed from the portal can be mirrored into InfluxDB
// as time series: numeric state fields (brightness, temperatures, humidity)
// under the device_state measurement, stateless notifications (doorbell
// presses, motion) as event counts.
//
// Writes are non-blocking and batched by the underlying client; a failed
// write never slows the stream-to-state path. The integration is optional
// and disabled by default.
package influxdb
