package dbusapi

import (
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/bluetuith-org/bluez-lifecycle/internal/device"
	"github.com/bluetuith-org/bluez-lifecycle/internal/network"
	"github.com/bluetuith-org/bluez-lifecycle/internal/sdp"
	"github.com/bluetuith-org/bluez-lifecycle/internal/serde"
	"github.com/godbus/dbus/v5"
)

// deviceObject serves the device interface of one device.
type deviceObject struct {
	srv  *Server
	path dbus.ObjectPath
}

func (o *deviceObject) GetProperties() (map[string]dbus.Variant, *dbus.Error) {
	var props bluetooth.DeviceData

	err := invoke(o.srv.sched, func() error {
		d, err := o.srv.device(o.path)
		if err != nil {
			return err
		}

		props = d.Properties()

		return nil
	})
	if err != nil {
		return nil, toBusError(err)
	}

	return deviceProperties(props), nil
}

func (o *deviceObject) SetProperty(name string, value dbus.Variant) *dbus.Error {
	err := invoke(o.srv.sched, func() error {
		d, err := o.srv.device(o.path)
		if err != nil {
			return err
		}

		return d.SetProperty(name, propertyValue(value))
	})

	return toBusError(err)
}

func (o *deviceObject) DiscoverServices(sender dbus.Sender, pattern string) (map[uint32]string, *dbus.Error) {
	v, err := deferred(o.srv.sched, sender, func(c *call) error {
		d, err := o.srv.device(o.path)
		if err != nil {
			return err
		}

		return d.DiscoverServices(c, pattern)
	})
	if err != nil {
		return nil, toBusError(err)
	}

	records, _ := v.([]sdp.Record)

	out := make(map[uint32]string, len(records))
	for _, rec := range records {
		data, err := serde.MarshalJson(rec)
		if err != nil {
			return nil, toBusError(err)
		}

		out[rec.Handle] = string(data)
	}

	return out, nil
}

func (o *deviceObject) CancelDiscovery(sender dbus.Sender) *dbus.Error {
	err := invoke(o.srv.sched, func() error {
		d, err := o.srv.device(o.path)
		if err != nil {
			return err
		}

		return d.CancelDiscovery(string(sender))
	})

	return toBusError(err)
}

func (o *deviceObject) Disconnect(sender dbus.Sender) *dbus.Error {
	_, err := deferred(o.srv.sched, sender, func(c *call) error {
		d, err := o.srv.device(o.path)
		if err != nil {
			return err
		}

		return d.Disconnect(c)
	})

	return toBusError(err)
}

func (o *deviceObject) GetServiceAttributeValue(pattern string, attr uint16) (dbus.Variant, *dbus.Error) {
	var value any

	err := invoke(o.srv.sched, func() error {
		d, err := o.srv.device(o.path)
		if err != nil {
			return err
		}

		value, err = d.GetServiceAttribute(pattern, attr)

		return err
	})
	if err != nil {
		return dbus.Variant{}, toBusError(err)
	}

	return dbus.MakeVariant(value), nil
}

func (o *deviceObject) SetConnectionParams(intervalMin, intervalMax, latency, timeout uint16) *dbus.Error {
	err := invoke(o.srv.sched, func() error {
		d, err := o.srv.device(o.path)
		if err != nil {
			return err
		}

		return d.SetConnectionParams(device.ConnParams{
			IntervalMin: intervalMin,
			IntervalMax: intervalMax,
			Latency:     latency,
			Timeout:     timeout,
		})
	})

	return toBusError(err)
}

// adapterObject serves the adapter interface of one local adapter.
type adapterObject struct {
	srv     *Server
	path    dbus.ObjectPath
	address bluetooth.MacAddress
}

func (o *adapterObject) CreateDevice(sender dbus.Sender, address string) (dbus.ObjectPath, *dbus.Error) {
	peer, err := bluetooth.ParseMAC(address)
	if err != nil {
		return "", toBusError(errorkinds.ErrInvalidArguments)
	}

	v, err := deferred(o.srv.sched, sender, func(c *call) error {
		a, err := o.srv.adapter(o.path)
		if err != nil {
			return err
		}

		return a.CreateDevice(c, peer, bluetooth.DeviceTypeBREDR)
	})
	if err != nil {
		return "", toBusError(err)
	}

	path, _ := v.(string)

	return dbus.ObjectPath(path), nil
}

func (o *adapterObject) CreatePairedDevice(sender dbus.Sender, address string, agent dbus.ObjectPath, capability string) (dbus.ObjectPath, *dbus.Error) {
	peer, err := bluetooth.ParseMAC(address)
	if err != nil {
		return "", toBusError(errorkinds.ErrInvalidArguments)
	}

	v, err := deferred(o.srv.sched, sender, func(c *call) error {
		a, err := o.srv.adapter(o.path)
		if err != nil {
			return err
		}

		return a.CreatePairedDevice(c, peer, string(agent), bluetooth.IOCapability(capability))
	})
	if err != nil {
		return "", toBusError(err)
	}

	path, _ := v.(string)

	return dbus.ObjectPath(path), nil
}

func (o *adapterObject) RemoveDevice(path dbus.ObjectPath) *dbus.Error {
	err := invoke(o.srv.sched, func() error {
		a, err := o.srv.adapter(o.path)
		if err != nil {
			return err
		}

		return a.RemoveDeviceByPath(string(path))
	})

	return toBusError(err)
}

func (o *adapterObject) FindDevice(address string) (dbus.ObjectPath, *dbus.Error) {
	peer, err := bluetooth.ParseMAC(address)
	if err != nil {
		return "", toBusError(errorkinds.ErrInvalidArguments)
	}

	var path string

	err = invoke(o.srv.sched, func() error {
		a, err := o.srv.adapter(o.path)
		if err != nil {
			return err
		}

		d, ok := a.FindDevice(peer)
		if !ok {
			return errorkinds.ErrDoesNotExist
		}

		path = d.Path()

		return nil
	})
	if err != nil {
		return "", toBusError(err)
	}

	return dbus.ObjectPath(path), nil
}

func (o *adapterObject) ListDevices() ([]dbus.ObjectPath, *dbus.Error) {
	var paths []dbus.ObjectPath

	err := invoke(o.srv.sched, func() error {
		a, err := o.srv.adapter(o.path)
		if err != nil {
			return err
		}

		for _, d := range a.Devices() {
			if !d.IsTemporary() {
				paths = append(paths, dbus.ObjectPath(d.Path()))
			}
		}

		return nil
	})
	if err != nil {
		return nil, toBusError(err)
	}

	return paths, nil
}

func (o *adapterObject) RegisterAgent(sender dbus.Sender, path dbus.ObjectPath, capability string) *dbus.Error {
	caps := bluetooth.IOCapability(capability)
	if !caps.Valid() {
		return toBusError(errorkinds.ErrInvalidArguments)
	}

	err := invoke(o.srv.sched, func() error {
		a, err := o.srv.adapter(o.path)
		if err != nil {
			return err
		}

		if a.Agent() != nil {
			return errorkinds.ErrAlreadyExists
		}

		var agent *Agent
		agent = o.srv.agents.newAgent(string(sender), string(path), caps, false, func() {
			if a.Agent() == device.Agent(agent) {
				a.SetAgent(nil)
			}
		})

		a.SetAgent(agent)

		return nil
	})

	return toBusError(err)
}

func (o *adapterObject) UnregisterAgent(sender dbus.Sender, path dbus.ObjectPath) *dbus.Error {
	err := invoke(o.srv.sched, func() error {
		a, err := o.srv.adapter(o.path)
		if err != nil {
			return err
		}

		agent, ok := a.Agent().(*Agent)
		if !ok || agent.Sender() != string(sender) || agent.Path() != path {
			return errorkinds.ErrDoesNotExist
		}

		a.SetAgent(nil)
		agent.Release()

		return nil
	})

	return toBusError(err)
}

// networkObject serves the network server interface of one local adapter.
type networkObject struct {
	srv     *Server
	address bluetooth.MacAddress
}

func (o *networkObject) adapter() (*network.Adapter, error) {
	a, ok := o.srv.network.Adapter(o.address)
	if !ok {
		return nil, errorkinds.ErrDoesNotExist
	}

	return a, nil
}

func (o *networkObject) Register(sender dbus.Sender, role, bridge string) *dbus.Error {
	err := invoke(o.srv.sched, func() error {
		a, err := o.adapter()
		if err != nil {
			return err
		}

		return a.Register(string(sender), role, bridge)
	})

	return toBusError(err)
}

func (o *networkObject) Unregister(role string) *dbus.Error {
	err := invoke(o.srv.sched, func() error {
		a, err := o.adapter()
		if err != nil {
			return err
		}

		return a.Unregister(role)
	})

	return toBusError(err)
}

func (o *networkObject) DisconnectDevice(address, ifname string) *dbus.Error {
	peer, err := bluetooth.ParseMAC(address)
	if err != nil {
		return toBusError(errorkinds.ErrInvalidArguments)
	}

	err = invoke(o.srv.sched, func() error {
		a, err := o.adapter()
		if err != nil {
			return err
		}

		return a.DisconnectDevice(peer, ifname)
	})

	return toBusError(err)
}
