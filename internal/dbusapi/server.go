package dbusapi

import (
	"context"
	"sync"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/bluetuith-org/bluez-lifecycle/api/eventbus"
	"github.com/bluetuith-org/bluez-lifecycle/internal/device"
	"github.com/bluetuith-org/bluez-lifecycle/internal/network"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const introspectableInterface = "org.freedesktop.DBus.Introspectable"

// busConn is the part of *dbus.Conn used by the server.
type busConn interface {
	Export(v any, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...any) error
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// Connect connects to the system or session bus and claims the service name.
func Connect(system bool) (*dbus.Conn, error) {
	var (
		conn *dbus.Conn
		err  error
	)

	if system {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.ConnectSessionBus()
	}

	if err != nil {
		return nil, err
	}

	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, errorkinds.ErrAlreadyExists
	}

	return conn, nil
}

// Options holds the dependencies of a Server.
type Options struct {
	Conn      busConn
	Scheduler reactor.Scheduler
	Devices   *device.Registry
	Network   *network.Registry
	Agents    *Agents
	Events    *eventbus.Emitter
	Logger    *zap.Logger
}

// Server exports the engine objects on the bus.
type Server struct {
	conn    busConn
	sched   reactor.Scheduler
	devices *device.Registry
	network *network.Registry
	agents  *Agents
	events  *eventbus.Emitter

	adapters *xsync.MapOf[dbus.ObjectPath, bluetooth.MacAddress]
	exported *xsync.MapOf[dbus.ObjectPath, struct{}]

	wg sync.WaitGroup

	log *zap.Logger
}

// NewServer returns a server with no exported objects.
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		conn:     opts.Conn,
		sched:    opts.Scheduler,
		devices:  opts.Devices,
		network:  opts.Network,
		agents:   opts.Agents,
		events:   opts.Events,
		adapters: xsync.NewMapOf[dbus.ObjectPath, bluetooth.MacAddress](),
		exported: xsync.NewMapOf[dbus.ObjectPath, struct{}](),
		log:      log.Named("dbus"),
	}
}

// AddAdapter exports the adapter and network server objects of a local adapter.
func (s *Server) AddAdapter(address bluetooth.MacAddress, path string) error {
	p := dbus.ObjectPath(path)
	s.adapters.Store(p, address)

	adapter := &adapterObject{srv: s, path: p, address: address}
	netsrv := &networkObject{srv: s, address: address}

	if err := s.conn.Export(adapter, p, AdapterInterface); err != nil {
		return err
	}

	if err := s.conn.Export(netsrv, p, NetworkServerInterface); err != nil {
		return err
	}

	return s.conn.Export(introspect.NewIntrospectable(&introspect.Node{
		Name: path,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    AdapterInterface,
				Methods: introspect.Methods(adapter),
				Signals: []introspect.Signal{
					{Name: "DeviceCreated", Args: []introspect.Arg{{Name: "device", Type: "o"}}},
					{Name: "DeviceRemoved", Args: []introspect.Arg{{Name: "device", Type: "o"}}},
				},
			},
			{
				Name:    NetworkServerInterface,
				Methods: introspect.Methods(netsrv),
				Signals: []introspect.Signal{
					{Name: "DeviceConnected", Args: []introspect.Arg{{Name: "address", Type: "s"}, {Name: "interface", Type: "s"}}},
					{Name: "DeviceDisconnected", Args: []introspect.Arg{{Name: "address", Type: "s"}}},
				},
			},
		},
	}), p, introspectableInterface)
}

// RemoveAdapter withdraws the objects of a local adapter.
func (s *Server) RemoveAdapter(path string) {
	p := dbus.ObjectPath(path)
	s.adapters.Delete(p)

	for _, iface := range []string{AdapterInterface, NetworkServerInterface, introspectableInterface} {
		if err := s.conn.Export(nil, p, iface); err != nil {
			s.log.Debug("Cannot unexport adapter", zap.String("path", path), zap.Error(err))
		}
	}
}

// Run exports device objects and emits signals for engine events until
// ctx is done.
func (s *Server) Run(ctx context.Context) {
	ids := []bluetooth.EventID{
		bluetooth.EventDeviceCreated,
		bluetooth.EventDeviceRemoved,
		bluetooth.EventPropertyChanged,
		bluetooth.EventDisconnectRequested,
		bluetooth.EventNetworkDeviceConnected,
		bluetooth.EventNetworkDeviceDisconnected,
	}

	type published struct {
		id   bluetooth.EventID
		data any
	}

	merged := make(chan published)

	for _, id := range ids {
		sub := s.events.Subscribe(id)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer sub.Unsubscribe()

			for {
				select {
				case <-ctx.Done():
					return

				case data, ok := <-sub.C:
					if !ok {
						return
					}

					select {
					case merged <- published{id: id, data: data}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return

		case ev := <-merged:
			s.handleEvent(ev.id, ev.data)
		}
	}
}

func (s *Server) handleEvent(id bluetooth.EventID, data any) {
	var err error

	switch ev := data.(type) {
	case bluetooth.DeviceEvent:
		switch id {
		case bluetooth.EventDeviceCreated:
			s.exportDevice(dbus.ObjectPath(ev.Path))
			err = s.conn.Emit(dbus.ObjectPath(ev.Adapter), AdapterInterface+".DeviceCreated", dbus.ObjectPath(ev.Path))

		case bluetooth.EventDeviceRemoved:
			err = s.conn.Emit(dbus.ObjectPath(ev.Adapter), AdapterInterface+".DeviceRemoved", dbus.ObjectPath(ev.Path))
			s.unexportDevice(dbus.ObjectPath(ev.Path))
		}

	case bluetooth.PropertyChangedEvent:
		err = s.conn.Emit(dbus.ObjectPath(ev.Path), DeviceInterface+".PropertyChanged",
			ev.Name, dbus.MakeVariant(busValue(ev.Name, ev.Value)),
		)

	case bluetooth.DisconnectRequestedEvent:
		err = s.conn.Emit(dbus.ObjectPath(ev.Path), DeviceInterface+".DisconnectRequested")

	case bluetooth.NetworkDeviceEvent:
		path := dbus.ObjectPath(ev.AdapterPath)

		switch id {
		case bluetooth.EventNetworkDeviceConnected:
			err = s.conn.Emit(path, NetworkServerInterface+".DeviceConnected", ev.Address.String(), ev.Interface)

		case bluetooth.EventNetworkDeviceDisconnected:
			err = s.conn.Emit(path, NetworkServerInterface+".DeviceDisconnected", ev.Address.String())
		}
	}

	if err != nil {
		s.log.Warn("Cannot emit signal", zap.Stringer("event", id), zap.Error(err))
	}
}

func (s *Server) exportDevice(path dbus.ObjectPath) {
	if _, loaded := s.exported.LoadOrStore(path, struct{}{}); loaded {
		return
	}

	obj := &deviceObject{srv: s, path: path}

	err := s.conn.Export(obj, path, DeviceInterface)
	if err == nil {
		err = s.conn.Export(introspect.NewIntrospectable(&introspect.Node{
			Name: string(path),
			Interfaces: []introspect.Interface{
				introspect.IntrospectData,
				{
					Name:    DeviceInterface,
					Methods: introspect.Methods(obj),
					Signals: []introspect.Signal{
						{Name: "PropertyChanged", Args: []introspect.Arg{{Name: "name", Type: "s"}, {Name: "value", Type: "v"}}},
						{Name: "DisconnectRequested"},
					},
				},
			},
		}), path, introspectableInterface)
	}

	if err != nil {
		s.log.Error("Cannot export device", zap.String("path", string(path)), zap.Error(err))
	}
}

func (s *Server) unexportDevice(path dbus.ObjectPath) {
	if _, ok := s.exported.LoadAndDelete(path); !ok {
		return
	}

	for _, iface := range []string{DeviceInterface, introspectableInterface} {
		if err := s.conn.Export(nil, path, iface); err != nil {
			s.log.Debug("Cannot unexport device", zap.String("path", string(path)), zap.Error(err))
		}
	}
}

// adapter returns the engine adapter exported at path. It must be called
// from the loop.
func (s *Server) adapter(path dbus.ObjectPath) (*device.Adapter, error) {
	address, ok := s.adapters.Load(path)
	if !ok {
		return nil, errorkinds.ErrDoesNotExist
	}

	a, ok := s.devices.Adapter(address)
	if !ok {
		return nil, errorkinds.ErrDoesNotExist
	}

	return a, nil
}

// device returns the device exported at path. It must be called from the loop.
func (s *Server) device(path dbus.ObjectPath) (*device.Device, error) {
	a, err := s.adapter(adapterFromPath(path))
	if err != nil {
		return nil, err
	}

	address, ok := addressFromPath(path)
	if !ok {
		return nil, errorkinds.ErrDoesNotExist
	}

	d, ok := a.FindDevice(address)
	if !ok {
		return nil, errorkinds.ErrDoesNotExist
	}

	return d, nil
}
