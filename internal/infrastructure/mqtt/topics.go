package mqtt

import (
	"fmt"
	"strings"
)

// Topic scheme for the SinricBridge MQTT surface.
//
//	sinricbridge/state/{device_id}          retained state snapshots (out)
//	sinricbridge/event/{device_id}          stateless notifications (out)
//	sinricbridge/set/{device_id}/{action}   commands toward the portal (in)
//	sinricbridge/system/status              bridge online/offline (out, retained)
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "sinricbridge"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "sinricbridge/system"
)

// Topics provides builders for SinricBridge MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("64b1...")
//	// Returns: "sinricbridge/state/64b1..."
type Topics struct{}

// DeviceState returns the retained state topic for a device.
//
// Example: sinricbridge/state/64b1f0c2a1
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// DeviceEvent returns the notification topic for a device. Used for
// stateless events such as doorbell presses; never retained.
//
// Example: sinricbridge/event/64b1f0c2a1
func (Topics) DeviceEvent(deviceID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, deviceID)
}

// DeviceSet returns the inbound command topic for one device and action.
//
// Example: sinricbridge/set/64b1f0c2a1/setPowerState
func (Topics) DeviceSet(deviceID, action string) string {
	return fmt.Sprintf("%s/set/%s/%s", TopicPrefix, deviceID, action)
}

// SystemStatus returns the bridge status topic.
//
// Example: sinricbridge/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceSets returns a pattern matching every inbound command topic.
//
// Pattern: sinricbridge/set/+/+
func (Topics) AllDeviceSets() string {
	return fmt.Sprintf("%s/set/+/+", TopicPrefix)
}

// ParseSetTopic extracts the device ID and action from an inbound command
// topic. Returns ErrInvalidTopic when the topic is not of the form
// sinricbridge/set/{device_id}/{action}.
func ParseSetTopic(topic string) (deviceID, action string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "set" {
		return "", "", fmt.Errorf("%w: %q is not a set topic", ErrInvalidTopic, topic)
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("%w: %q has empty segments", ErrInvalidTopic, topic)
	}
	return parts[2], parts[3], nil
}
