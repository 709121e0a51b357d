package device

import (
	"slices"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/internal/sdp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProbeDrivers binds every registered driver declaring one of profiles,
// then merges profiles into the known service classes of the device.
// Blocked devices only learn the profiles.
func (d *Device) ProbeDrivers(profiles uuid.UUIDs) {
	if d.blocked {
		d.log.Debug("Skipping drivers for blocked device")
	} else {
		for _, drv := range d.adapter.registry.drivers {
			if d.hasDriver(drv) {
				continue
			}

			matched := d.matchDriver(drv, profiles)
			if len(matched) == 0 {
				continue
			}

			if err := drv.Probe(d, matched); err != nil {
				d.log.Error("Driver probe failed", zap.String("driver", drv.Name()), zap.Error(err))
				continue
			}

			d.drivers = append(d.drivers, boundDriver{driver: drv, uuids: matched})
		}
	}

	for _, p := range profiles {
		if !slices.Contains(d.uuids, p) {
			d.uuids = append(d.uuids, p)
		}
	}

	d.uuids = bluetooth.SortUUIDs(d.uuids)
}

// matchDriver returns the profiles drv should be probed with: profiles
// the driver declares literally, and profiles whose cached record
// mentions one of the driver's identifiers.
func (d *Device) matchDriver(drv Driver, profiles uuid.UUIDs) uuid.UUIDs {
	var matched uuid.UUIDs

	add := func(u uuid.UUID) {
		if !slices.Contains(matched, u) {
			matched = append(matched, u)
		}
	}

	for _, want := range drv.UUIDs() {
		if slices.Contains(matched, want) {
			continue
		}

		if slices.Contains(profiles, want) {
			add(want)
			continue
		}

		for _, p := range profiles {
			if rec, ok := d.Record(p); ok && rec.HasUUID(want) {
				add(p)
			}
		}
	}

	return matched
}

// RemoveDrivers unbinds drivers serving the removed profiles and forgets
// the profiles and their stored records. Audio drivers are only unbound
// once every audio profile of the device is gone.
func (d *Device) RemoveDrivers(removed uuid.UUIDs) {
	store, local := d.adapter.registry.store, d.adapter.address

	records, err := store.Records(local, d.address)
	if err != nil {
		d.log.Warn("Cannot read stored records", zap.Error(err))
	}

	audioGone := d.allAudioRemoved(removed)

	bound := d.drivers
	d.drivers = nil

	for _, b := range bound {
		unbind := false

		for _, u := range b.driver.UUIDs() {
			if !slices.Contains(removed, u) {
				continue
			}

			d.log.Debug("Profile was removed", zap.Stringer("uuid", u))
			unbind = !bluetooth.IsAudioProfile(u) || audioGone

			break
		}

		if unbind {
			b.driver.Remove(d)
			continue
		}

		d.drivers = append(d.drivers, b)
	}

	for _, u := range removed {
		if idx := slices.Index(d.uuids, u); idx >= 0 {
			d.uuids = slices.Delete(d.uuids, idx, idx+1)
		}

		idx := slices.IndexFunc(records, func(r sdp.Record) bool { return r.HasServiceClass(u) })
		if idx < 0 {
			continue
		}

		if err := store.DeleteRecord(local, d.address, records[idx].Handle); err != nil {
			d.log.Warn("Cannot delete stored record", zap.Error(err))
		}

		records = slices.Delete(records, idx, idx+1)
	}
}

// allAudioRemoved reports whether every audio profile the device knows
// is part of removed.
func (d *Device) allAudioRemoved(removed uuid.UUIDs) bool {
	for _, u := range d.uuids {
		if bluetooth.IsAudioProfile(u) && !slices.Contains(removed, u) {
			return false
		}
	}

	return true
}

func (d *Device) hasDriver(drv Driver) bool {
	return slices.ContainsFunc(d.drivers, func(b boundDriver) bool { return b.driver == drv })
}

// Drivers returns the names of the bound drivers.
func (d *Device) Drivers() []string {
	names := make([]string, 0, len(d.drivers))
	for _, b := range d.drivers {
		names = append(names, b.driver.Name())
	}

	return names
}

func (d *Device) unbindDriver(drv Driver) {
	idx := slices.IndexFunc(d.drivers, func(b boundDriver) bool { return b.driver == drv })
	if idx < 0 {
		return
	}

	d.drivers = slices.Delete(d.drivers, idx, idx+1)
	drv.Remove(d)
}

func (d *Device) unbindAll() {
	drivers := d.drivers
	d.drivers = nil

	for _, b := range drivers {
		b.driver.Remove(d)
	}
}
