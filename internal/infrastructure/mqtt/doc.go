// Package mqtt provides the local MQTT surface for SinricBridge.
//
// This package manages:
//   - Connection to the local broker with auto-reconnect
//   - Retained device state publishing under sinricbridge/state/{device_id}
//   - Command subscriptions under sinricbridge/set/{device_id}/{action}
//   - Online/offline status with Last Will and Testament
//
// The MQTT surface is optional; when disabled in configuration the bridge
// runs with the REST/WebSocket API only.
package mqtt
