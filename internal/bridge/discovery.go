package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/sinricsync/sinric-bridge/internal/device"
)

// restore registers handles from the SQLite store. This runs before any
// network I/O so a portal outage at boot does not leave the bridge empty.
func (b *Bridge) restore(ctx context.Context) error {
	records, err := b.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	for _, record := range records {
		d, err := device.New(record.DeviceID, record.Name, record.Kind, record.State)
		if err != nil {
			// A stored row with an unknown kind came from a newer or older
			// build; skip it rather than refuse to start.
			b.log.Warn("skipping stored device", "device_id", record.DeviceID, "error", err)
			continue
		}
		b.registry.Register(d)
	}

	if len(records) > 0 {
		b.log.Info("device state restored from store", "devices", b.registry.Len())
	}
	return nil
}

// syncInventory reconciles the registry against the portal device list.
//
// Portal values win over stored ones: the inventory's last-reported state
// is newer than anything persisted before shutdown. Devices no longer on
// the account are unregistered.
func (b *Bridge) syncInventory(ctx context.Context) error {
	infos, err := b.inventory.ListDevices(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		d, err := device.FromInfo(info)
		if errors.Is(err, device.ErrUnknownKind) {
			b.log.Debug("skipping unmanaged device",
				"device_id", info.ID, "product", info.Product.Code)
			continue
		}
		if err != nil {
			return fmt.Errorf("building device %s: %w", info.ID, err)
		}
		seen[d.ID] = true

		if existing, getErr := b.registry.Get(d.ID); getErr == nil {
			existing.Name = d.Name
			existing.Kind = d.Kind
			existing.Room = d.Room
			existing.SetState(d.State())
			d = existing
		} else {
			b.registry.Register(d)
		}

		if err := b.store.SaveState(ctx, d); err != nil {
			return fmt.Errorf("persisting device %s: %w", d.ID, err)
		}
		if err := b.store.RecordChange(ctx, d.ID, "", d.State(), device.SourceDiscovery); err != nil {
			return fmt.Errorf("recording discovery for %s: %w", d.ID, err)
		}

		b.publishState(d, d.State())
	}

	for _, d := range b.registry.List() {
		if !seen[d.ID] {
			b.log.Info("device removed from account", "device_id", d.ID, "name", d.Name)
			b.registry.Unregister(d.ID)
		}
	}

	b.log.Info("portal inventory synced", "devices", b.registry.Len())
	return nil
}
