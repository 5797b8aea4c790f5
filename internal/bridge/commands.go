package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sinricsync/sinric-bridge/internal/cloud"
	"github.com/sinricsync/sinric-bridge/internal/infrastructure/mqtt"
)

// Command validates and dispatches one device command to the portal.
//
// The value is the action's JSON payload, e.g. {"state":"On"} for
// setPowerState. The resulting state change is not applied locally here;
// it arrives back over the event stream like every other change, so all
// surfaces observe the same transition.
func (b *Bridge) Command(ctx context.Context, deviceID string, action cloud.Action, value json.RawMessage) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", cloud.ErrUnknownAction, action)
	}
	if _, err := b.registry.Get(deviceID); err != nil {
		return err
	}
	if len(value) == 0 {
		value = json.RawMessage(`{}`)
	}
	return b.dispatcher.Dispatch(ctx, deviceID, action, value)
}

// subscribeCommands wires the MQTT set topics to the portal dispatcher.
func (b *Bridge) subscribeCommands(ctx context.Context) error {
	topic := mqtt.Topics{}.AllDeviceSets()
	qos := byte(b.cfg.MQTT.QoS) // #nosec G115 -- validated to 0-2 by config

	return b.bus.Subscribe(topic, qos, func(topic string, payload []byte) error {
		deviceID, actionName, err := mqtt.ParseSetTopic(topic)
		if err != nil {
			return err
		}

		cmdCtx, cancel := context.WithTimeout(ctx, b.cfg.Cloud.GetRequestTimeout())
		defer cancel()

		if err := b.Command(cmdCtx, deviceID, cloud.Action(actionName), payload); err != nil {
			return fmt.Errorf("dispatching %s for %s: %w", actionName, deviceID, err)
		}

		b.log.Debug("mqtt command dispatched", "device_id", deviceID, "action", actionName)
		return nil
	})
}
