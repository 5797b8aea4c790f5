package device

import (
	"sync"

	"github.com/sinricsync/sinric-bridge/internal/cloud"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Change describes one routed stream event after reduction.
//
// Changed is false when the reducer left state untouched, which covers
// duplicate frames and stateless notifications like doorbell presses.
// Subscribers that mirror state can skip unchanged events; subscribers
// that forward notifications should not.
type Change struct {
	Device  *Device
	Action  cloud.Action
	State   State
	Changed bool
}

// ChangeHandler receives every routed event, in routing order.
type ChangeHandler func(change Change)

// Registry maps device IDs to local handles and routes inbound stream
// events to them.
//
// All public methods are thread-safe. A device ID can carry multiple
// handles; each routed event is applied to every handle exactly once.
type Registry struct {
	mu      sync.RWMutex
	handles map[string][]*Device

	changeMu sync.RWMutex
	onChange ChangeHandler

	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string][]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// OnChange registers the handler notified after each routed event.
func (r *Registry) OnChange(handler ChangeHandler) {
	r.changeMu.Lock()
	defer r.changeMu.Unlock()
	r.onChange = handler
}

// Register adds a handle. Multiple handles may share a device ID; each
// receives every routed event for that ID.
func (r *Registry) Register(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[d.ID] = append(r.handles[d.ID], d)
	r.logger.Debug("device registered", "device_id", d.ID, "kind", d.Kind, "name", d.Name)
}

// Unregister removes every handle for a device ID. Removing an unknown
// ID is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[id]; ok {
		delete(r.handles, id)
		r.logger.Debug("device unregistered", "device_id", id)
	}
}

// Get returns the first handle for a device ID.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if handles := r.handles[id]; len(handles) > 0 {
		return handles[0], nil
	}
	return nil, ErrDeviceNotFound
}

// List returns one handle per registered device ID.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devices := make([]*Device, 0, len(r.handles))
	for _, handles := range r.handles {
		devices = append(devices, handles[0])
	}
	return devices
}

// Len returns the number of registered device IDs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Route applies one inbound stream event to every handle registered for
// its device ID and notifies the change handler once per handle.
//
// Events for unregistered devices are dropped silently: the account can
// hold devices this bridge does not manage, and that is not an error.
func (r *Registry) Route(event cloud.InboundEvent) {
	r.mu.RLock()
	handles := r.handles[event.DeviceID]
	r.mu.RUnlock()

	if len(handles) == 0 {
		r.logger.Debug("dropping event for unknown device",
			"device_id", event.DeviceID, "action", event.Action)
		return
	}

	r.changeMu.RLock()
	notify := r.onChange
	r.changeMu.RUnlock()

	for _, d := range handles {
		state, changed := d.Apply(event.Action, event.Value)
		r.logger.Debug("event routed",
			"device_id", d.ID, "action", event.Action, "changed", changed)
		if notify != nil {
			notify(Change{Device: d, Action: event.Action, State: state, Changed: changed})
		}
	}
}
