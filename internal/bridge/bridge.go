package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sinricsync/sinric-bridge/internal/cloud"
	"github.com/sinricsync/sinric-bridge/internal/device"
	"github.com/sinricsync/sinric-bridge/internal/infrastructure/config"
	"github.com/sinricsync/sinric-bridge/internal/infrastructure/logging"
	"github.com/sinricsync/sinric-bridge/internal/infrastructure/mqtt"
)

// historyRetention bounds the state change history kept in SQLite.
const historyRetention = 90 * 24 * time.Hour

// prunePeriod is how often expired history rows are removed.
const prunePeriod = 24 * time.Hour

// CommandSender dispatches device commands to the portal.
// Implemented by cloud.Dispatcher.
type CommandSender interface {
	Dispatch(ctx context.Context, deviceID string, action cloud.Action, payload any) error
}

// DeviceLister fetches the portal device inventory.
// Implemented by cloud.Inventory.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]cloud.DeviceInfo, error)
}

// StreamSource delivers portal state changes.
// Implemented by cloud.StreamClient.
type StreamSource interface {
	OnEvent(handler cloud.EventHandler)
	Open(ctx context.Context) error
	Close()
	State() cloud.StreamState
}

// LocalBus is the MQTT surface. Implemented by mqtt.Client; nil when the
// MQTT integration is disabled.
type LocalBus interface {
	PublishJSON(topic string, value any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// TelemetryWriter records state telemetry. Implemented by influxdb.Client;
// nil when the InfluxDB integration is disabled.
type TelemetryWriter interface {
	WriteDeviceState(deviceID, kind string, fields map[string]any)
	WriteClimate(deviceID string, temperature, humidity float64)
	WriteEvent(deviceID, action string)
}

// Options collects the bridge's dependencies.
type Options struct {
	Config     *config.Config
	Logger     *logging.Logger
	Dispatcher CommandSender
	Inventory  DeviceLister
	Stream     StreamSource
	Store      *device.Store

	// Bus and Telemetry are optional surfaces.
	Bus       LocalBus
	Telemetry TelemetryWriter
}

// Bridge synchronises portal device state with the local surfaces.
type Bridge struct {
	cfg        *config.Config
	log        *logging.Logger
	dispatcher CommandSender
	inventory  DeviceLister
	stream     StreamSource
	store      *device.Store
	bus        LocalBus
	telemetry  TelemetryWriter

	registry *device.Registry

	subMu  sync.RWMutex
	subs   map[int]device.ChangeHandler
	nextID int

	pruneCancel context.CancelFunc
}

// New creates a bridge. Call Start to begin synchronising.
func New(opts Options) (*Bridge, error) {
	if opts.Config == nil || opts.Logger == nil {
		return nil, errors.New("bridge: config and logger are required")
	}
	if opts.Dispatcher == nil || opts.Inventory == nil || opts.Stream == nil || opts.Store == nil {
		return nil, errors.New("bridge: dispatcher, inventory, stream and store are required")
	}

	b := &Bridge{
		cfg:        opts.Config,
		log:        opts.Logger,
		dispatcher: opts.Dispatcher,
		inventory:  opts.Inventory,
		stream:     opts.Stream,
		store:      opts.Store,
		bus:        opts.Bus,
		telemetry:  opts.Telemetry,
		registry:   device.NewRegistry(),
		subs:       make(map[int]device.ChangeHandler),
	}
	b.registry.SetLogger(opts.Logger)
	return b, nil
}

// Registry exposes the device registry to the API layer.
func (b *Bridge) Registry() *device.Registry {
	return b.registry
}

// Store exposes the state store to the API layer.
func (b *Bridge) Store() *device.Store {
	return b.store
}

// StreamState reports the portal stream lifecycle state.
func (b *Bridge) StreamState() cloud.StreamState {
	return b.stream.State()
}

// Start brings the bridge up:
//
//  1. Restore device handles from the store (works offline).
//  2. Reconcile against the portal inventory when reachable.
//  3. Route stream events into the registry.
//  4. Subscribe to the MQTT command topics.
//
// A failed inventory sync is not fatal; the bridge serves restored state
// and keeps trying via the stream's reconnect loop.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.restore(ctx); err != nil {
		return fmt.Errorf("restoring device state: %w", err)
	}

	if err := b.syncInventory(ctx); err != nil {
		b.log.Warn("portal inventory sync failed, serving restored state", "error", err)
	}

	b.registry.OnChange(b.handleChange)
	b.stream.OnEvent(b.registry.Route)
	if err := b.stream.Open(ctx); err != nil {
		return fmt.Errorf("opening event stream: %w", err)
	}

	if b.bus != nil {
		if err := b.subscribeCommands(ctx); err != nil {
			return fmt.Errorf("subscribing to command topics: %w", err)
		}
	}

	pruneCtx, cancel := context.WithCancel(ctx)
	b.pruneCancel = cancel
	go b.pruneLoop(pruneCtx)

	b.log.Info("bridge started", "devices", b.registry.Len())
	return nil
}

// Stop closes the stream and stops background work. The store, bus and
// telemetry clients are owned by the caller and closed there.
func (b *Bridge) Stop() {
	if b.pruneCancel != nil {
		b.pruneCancel()
	}
	b.stream.Close()
	b.log.Info("bridge stopped")
}

// Subscribe registers an in-process change listener and returns its
// cancel function. Used by the WebSocket hub.
func (b *Bridge) Subscribe(handler device.ChangeHandler) (cancel func()) {
	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = handler
	b.subMu.Unlock()

	return func() {
		b.subMu.Lock()
		delete(b.subs, id)
		b.subMu.Unlock()
	}
}

// pruneLoop removes expired history rows once a day.
func (b *Bridge) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(prunePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := b.store.PruneHistory(ctx, historyRetention)
			if err != nil {
				b.log.Error("pruning state history failed", "error", err)
				continue
			}
			if removed > 0 {
				b.log.Debug("state history pruned", "removed", removed)
			}
		}
	}
}
