package dbusapi

import (
	"strings"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
)

// deviceProperties renders the properties of a device as bus values.
func deviceProperties(p bluetooth.DeviceData) map[string]dbus.Variant {
	props := map[string]dbus.Variant{
		"Address":   dbus.MakeVariant(p.Address.String()),
		"Name":      dbus.MakeVariant(p.Name),
		"Alias":     dbus.MakeVariant(p.Alias),
		"Class":     dbus.MakeVariant(p.Class),
		"Paired":    dbus.MakeVariant(p.Paired),
		"Trusted":   dbus.MakeVariant(p.Trusted),
		"Blocked":   dbus.MakeVariant(p.Blocked),
		"Connected": dbus.MakeVariant(p.Connected),
		"UUIDs":     dbus.MakeVariant(uuidStrings(p.UUIDs)),
		"Services":  dbus.MakeVariant(objectPaths(p.Services)),
		"Adapter":   dbus.MakeVariant(dbus.ObjectPath(p.Adapter)),
		"Type":      dbus.MakeVariant(p.Type.String()),
	}

	if p.DeviceID != (bluetooth.DeviceID{}) {
		props["Vendor"] = dbus.MakeVariant(p.DeviceID.Vendor)
		props["Product"] = dbus.MakeVariant(p.DeviceID.Product)
		props["Version"] = dbus.MakeVariant(p.DeviceID.Version)
	}

	return props
}

// busValue converts a property value published by the engine to the
// value sent in a PropertyChanged signal.
func busValue(name string, v any) any {
	switch v := v.(type) {
	case uuid.UUIDs:
		return uuidStrings(v)

	case bluetooth.MacAddress:
		return v.String()

	case bluetooth.DeviceType:
		return v.String()

	case []string:
		if name == "Services" {
			return objectPaths(v)
		}
	}

	return v
}

// propertyValue unwraps a variant received by SetProperty.
func propertyValue(v dbus.Variant) any {
	switch val := v.Value().(type) {
	case int32:
		if val >= 0 {
			return uint32(val)
		}
	}

	return v.Value()
}

func uuidStrings(uuids uuid.UUIDs) []string {
	s := make([]string, 0, len(uuids))
	for _, u := range uuids {
		s = append(s, u.String())
	}

	return s
}

func objectPaths(paths []string) []dbus.ObjectPath {
	p := make([]dbus.ObjectPath, 0, len(paths))
	for _, path := range paths {
		p = append(p, dbus.ObjectPath(path))
	}

	return p
}

// addressFromPath extracts the device address from a device object path.
func addressFromPath(path dbus.ObjectPath) (bluetooth.MacAddress, bool) {
	idx := strings.LastIndex(string(path), "/dev_")
	if idx < 0 {
		return bluetooth.MacAddress{}, false
	}

	addr, err := bluetooth.ParseMAC(string(path)[idx+len("/dev_"):])
	if err != nil {
		return bluetooth.MacAddress{}, false
	}

	return addr, true
}

// adapterFromPath returns the adapter part of a device object path.
func adapterFromPath(path dbus.ObjectPath) dbus.ObjectPath {
	idx := strings.LastIndex(string(path), "/dev_")
	if idx < 0 {
		return path
	}

	return path[:idx]
}
