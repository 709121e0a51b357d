// Package device implements the per-peer state machines of the engine:
// bonding, authentication through agents, service discovery and driver
// binding. All methods must be called from the reactor goroutine.
package device

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/config"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/bluetuith-org/bluez-lifecycle/api/eventbus"
	"github.com/bluetuith-org/bluez-lifecycle/internal/arena"
	"github.com/bluetuith-org/bluez-lifecycle/internal/metrics"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"go.uber.org/zap"
)

// Options holds the dependencies of a Registry.
type Options struct {
	Scheduler reactor.Scheduler
	Store     Store
	Events    *eventbus.Emitter
	Agents    AgentFactory
	Exits     ExitWatcher
	Config    config.Device
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	// AuxChannel overrides the policy derived from Config.AuxChannelPrefixes.
	AuxChannel AuxChannelPolicy
}

// Registry owns the registered drivers and the local adapters.
type Registry struct {
	sched   reactor.Scheduler
	store   Store
	events  *eventbus.Emitter
	agents  AgentFactory
	exits   ExitWatcher
	cfg     config.Device
	aux     AuxChannelPolicy
	metrics *metrics.Metrics
	log     *zap.Logger

	drivers  []Driver
	adapters map[bluetooth.MacAddress]*Adapter
}

// Adapter is a local radio and the devices it discovered.
type Adapter struct {
	registry *Registry

	address bluetooth.MacAddress
	path    string

	radio Radio
	sdp   SDPClient
	gatt  PrimaryDiscoverer
	agent Agent

	devices *arena.Arena[*Device]
	byAddr  map[bluetooth.MacAddress]arena.Handle

	log *zap.Logger
}

// AdapterOptions holds the collaborators of one adapter.
type AdapterOptions struct {
	Address bluetooth.MacAddress
	Path    string

	Radio Radio
	SDP   SDPClient
	GATT  PrimaryDiscoverer
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	aux := opts.AuxChannel
	if aux == nil {
		aux = PrefixPolicy(opts.Config.AuxChannelPrefixes)
	}

	events := opts.Events
	if events == nil {
		events = eventbus.New(eventbus.NilHandler())
	}

	return &Registry{
		sched:    opts.Scheduler,
		store:    opts.Store,
		events:   events,
		agents:   opts.Agents,
		exits:    opts.Exits,
		cfg:      opts.Config,
		aux:      aux,
		metrics:  opts.Metrics,
		log:      log.Named("device"),
		adapters: make(map[bluetooth.MacAddress]*Adapter),
	}
}

// RegisterDriver adds a driver. It is probed for devices discovered later.
func (r *Registry) RegisterDriver(d Driver) {
	r.drivers = append(r.drivers, d)
}

// UnregisterDriver removes a driver and unbinds it from every device.
func (r *Registry) UnregisterDriver(d Driver) {
	idx := slices.Index(r.drivers, d)
	if idx < 0 {
		return
	}

	r.drivers = slices.Delete(r.drivers, idx, idx+1)

	for _, a := range r.adapters {
		a.devices.Each(func(_ arena.Handle, dev *Device) bool {
			dev.unbindDriver(d)
			return true
		})
	}
}

// AddAdapter registers a local adapter.
func (r *Registry) AddAdapter(opts AdapterOptions) (*Adapter, error) {
	if _, ok := r.adapters[opts.Address]; ok {
		return nil, errorkinds.ErrAlreadyExists
	}

	a := &Adapter{
		registry: r,
		address:  opts.Address,
		path:     opts.Path,
		radio:    opts.Radio,
		sdp:      opts.SDP,
		gatt:     opts.GATT,
		devices:  arena.New[*Device](),
		byAddr:   make(map[bluetooth.MacAddress]arena.Handle),
		log:      r.log.With(zap.Stringer("adapter", opts.Address)),
	}
	r.adapters[opts.Address] = a

	return a, nil
}

// RemoveAdapter removes a local adapter and all its devices.
// Stored device state is kept.
func (r *Registry) RemoveAdapter(address bluetooth.MacAddress) {
	a, ok := r.adapters[address]
	if !ok {
		return
	}

	for _, dev := range a.Devices() {
		a.RemoveDevice(dev, false)
	}

	delete(r.adapters, address)
}

// Adapter returns the adapter with the given address.
func (r *Registry) Adapter(address bluetooth.MacAddress) (*Adapter, bool) {
	a, ok := r.adapters[address]
	return a, ok
}

// Adapters returns all registered adapters.
func (r *Registry) Adapters() []*Adapter {
	adapters := make([]*Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}

	slices.SortFunc(adapters, func(a, b *Adapter) int {
		return strings.Compare(a.path, b.path)
	})

	return adapters
}

// Address returns the adapter address.
func (a *Adapter) Address() bluetooth.MacAddress {
	return a.address
}

// Path returns the adapter object path.
func (a *Adapter) Path() string {
	return a.path
}

// SetAgent sets the default agent used for devices without their own.
func (a *Adapter) SetAgent(agent Agent) {
	a.agent = agent
}

// Agent returns the default agent, if any.
func (a *Adapter) Agent() Agent {
	return a.agent
}

// DevicePath returns the object path of a device of this adapter.
func (a *Adapter) DevicePath(address bluetooth.MacAddress) string {
	return fmt.Sprintf("%s/dev_%s", a.path, strings.ReplaceAll(address.String(), ":", "_"))
}

// Device returns the device behind a handle, if it is still alive.
func (a *Adapter) Device(h arena.Handle) (*Device, bool) {
	return a.devices.Get(h)
}

// FindDevice returns the device with the given address.
func (a *Adapter) FindDevice(address bluetooth.MacAddress) (*Device, bool) {
	h, ok := a.byAddr[address]
	if !ok {
		return nil, false
	}

	return a.devices.Get(h)
}

// Devices returns all devices of the adapter.
func (a *Adapter) Devices() []*Device {
	devices := make([]*Device, 0, a.devices.Len())
	a.devices.Each(func(_ arena.Handle, d *Device) bool {
		devices = append(devices, d)
		return true
	})

	return devices
}

// AddDevice returns the device with the given address, creating a
// temporary one from stored state if it does not exist yet.
func (a *Adapter) AddDevice(address bluetooth.MacAddress, typ bluetooth.DeviceType) *Device {
	if d, ok := a.FindDevice(address); ok {
		return d
	}

	d := newDevice(a, address, typ)
	d.handle = a.devices.Insert(d)
	a.byAddr[address] = d.handle

	d.load()

	a.registry.events.Publish(bluetooth.EventDeviceCreated, bluetooth.DeviceEvent{
		Path:    d.path,
		Adapter: a.path,
		Address: address,
	})

	return d
}

// CreateDevice creates a device and discovers its services.
// The call is answered with the device path once discovery completes.
func (a *Adapter) CreateDevice(call Call, address bluetooth.MacAddress, typ bluetooth.DeviceType) error {
	if _, ok := a.FindDevice(address); ok {
		return errorkinds.ErrAlreadyExists
	}

	d := a.AddDevice(address, typ)
	if err := d.Browse(call, false); err != nil {
		a.RemoveDevice(d, false)
		return err
	}

	return nil
}

// CreatePairedDevice creates a device and bonds with it. Low energy devices
// discover their services over a secure link instead.
func (a *Adapter) CreatePairedDevice(call Call, address bluetooth.MacAddress, agentPath string, capability bluetooth.IOCapability) error {
	if !capability.Valid() {
		return errorkinds.ErrInvalidArguments
	}

	d := a.AddDevice(address, bluetooth.DeviceTypeBREDR)
	if d.typ.IsLE() {
		return d.browsePrimary(call, replyPairedDevice, true)
	}

	return d.CreateBonding(call, agentPath, capability, false)
}

// RemoveDevice removes a device, optionally purging its stored state.
func (a *Adapter) RemoveDevice(d *Device, removeStored bool) {
	if cur, ok := a.devices.Get(d.handle); !ok || cur != d {
		return
	}

	d.remove(removeStored)

	a.devices.Remove(d.handle)
	delete(a.byAddr, d.address)

	a.registry.events.Publish(bluetooth.EventDeviceRemoved, bluetooth.DeviceEvent{
		Path:    d.path,
		Adapter: a.path,
		Address: d.address,
	})
}

// RemoveDeviceByPath removes the device at path and purges its stored state.
func (a *Adapter) RemoveDeviceByPath(path string) error {
	for _, d := range a.Devices() {
		if d.path == path {
			a.RemoveDevice(d, true)
			return nil
		}
	}

	return errorkinds.ErrDoesNotExist
}
