package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrUnknownKind is returned when a product code is not recognised.
	ErrUnknownKind = errors.New("device: unknown kind")

	// ErrInvalidDevice is returned when a handle fails validation.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrStateNotFound is returned when no persisted state exists for a device.
	ErrStateNotFound = errors.New("device: no stored state")
)
