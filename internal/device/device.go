package device

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/bluetuith-org/bluez-lifecycle/internal/arena"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"github.com/bluetuith-org/bluez-lifecycle/internal/sdp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Device is a remote device known to an adapter.
type Device struct {
	adapter *Adapter
	handle  arena.Handle

	address bluetooth.MacAddress
	path    string
	typ     bluetooth.DeviceType

	name     string
	alias    string
	class    uint32
	deviceID bluetooth.DeviceID

	trusted   bool
	paired    bool
	bonded    bool
	blocked   bool
	connected bool
	temporary bool

	uuids     uuid.UUIDs
	primaries []PrimaryService
	records   []sdp.Record
	drivers   []boundDriver

	browse  *browseRequest
	bonding *bondingRequest
	authr   *authState
	agent   Agent
	aux     io.Closer

	disconnects  []Call
	watches      []disconnectWatch
	nextWatch    uint
	disconnTimer reactor.TimerID
	discovTimer  reactor.TimerID

	log *zap.Logger
}

type boundDriver struct {
	driver Driver
	uuids  uuid.UUIDs
}

type disconnectWatch struct {
	id uint
	fn func(d *Device, removing bool)
}

func newDevice(a *Adapter, address bluetooth.MacAddress, typ bluetooth.DeviceType) *Device {
	return &Device{
		adapter:   a,
		address:   address,
		path:      a.DevicePath(address),
		typ:       typ,
		temporary: true,
		log:       a.log.With(zap.Stringer("peer", address)),
	}
}

// load restores the persisted state of the device.
func (d *Device) load() {
	store, local := d.adapter.registry.store, d.adapter.address
	if store == nil {
		return
	}

	var err error

	if d.name, err = store.Name(local, d.address); err != nil {
		d.log.Warn("Cannot read stored name", zap.Error(err))
	}

	if d.alias, err = store.Alias(local, d.address); err != nil {
		d.log.Warn("Cannot read stored alias", zap.Error(err))
	}

	if d.class, err = store.Class(local, d.address); err != nil {
		d.log.Warn("Cannot read stored class", zap.Error(err))
	}

	if d.trusted, err = store.Trusted(local, d.address); err != nil {
		d.log.Warn("Cannot read stored trust", zap.Error(err))
	}

	if typ, err := store.DeviceType(local, d.address); err == nil && typ != bluetooth.DeviceTypeUnknown {
		d.typ = typ
	}

	if profiles, err := store.Profiles(local, d.address); err == nil {
		d.uuids = bluetooth.SortUUIDs(profiles)
	}

	if d.bonded, err = store.Paired(local, d.address); err != nil {
		d.log.Warn("Cannot read stored bonding", zap.Error(err))
	}

	if d.typ.IsLE() {
		d.bonded = d.bonded || store.HasLongTermKey(local, d.address)
	} else {
		d.bonded = d.bonded || store.HasLinkKey(local, d.address)
	}
	d.paired = d.bonded

	if id, ok, err := store.DeviceID(local, d.address); err == nil && ok {
		d.deviceID = id
	}

	if blocked, err := store.Blocked(local, d.address); err == nil && blocked {
		if err := d.block(); err != nil {
			d.log.Warn("Cannot block device", zap.Error(err))
		}
	}
}

// Handle returns the arena handle of the device.
func (d *Device) Handle() arena.Handle {
	return d.handle
}

// Adapter returns the owning adapter.
func (d *Device) Adapter() *Adapter {
	return d.adapter
}

// Address returns the device address.
func (d *Device) Address() bluetooth.MacAddress {
	return d.address
}

// Path returns the device object path.
func (d *Device) Path() string {
	return d.path
}

// Type returns the device type.
func (d *Device) Type() bluetooth.DeviceType {
	return d.typ
}

// IsTemporary reports whether the device is not yet created or paired.
func (d *Device) IsTemporary() bool {
	return d.temporary
}

// SetTemporary marks the device as temporary or permanent.
func (d *Device) SetTemporary(temporary bool) {
	d.temporary = temporary
}

// IsConnected reports whether a link to the device is up.
func (d *Device) IsConnected() bool {
	return d.connected
}

// IsBusy reports whether a discovery is running for the device.
func (d *Device) IsBusy() bool {
	return d.browse != nil
}

// IsBonding reports whether a bonding requested by sender is running.
// An empty sender matches any requestor.
func (d *Device) IsBonding(sender string) bool {
	if d.bonding == nil {
		return false
	}

	return sender == "" || d.bonding.call == nil || d.bonding.call.Sender() == sender
}

// IsCreating reports whether the device is being created by sender.
// An empty sender matches any requestor.
func (d *Device) IsCreating(sender string) bool {
	var call Call

	switch {
	case d.bonding != nil:
		call = d.bonding.call

	case d.browse != nil && (d.browse.kind == replyDevice || d.browse.kind == replyPairedDevice):
		call = d.browse.call

	default:
		return false
	}

	return sender == "" || (call != nil && call.Sender() == sender)
}

// IsAuthenticating reports whether an authentication request is pending.
func (d *Device) IsAuthenticating() bool {
	return d.authr != nil
}

// Properties returns a snapshot of the device properties.
func (d *Device) Properties() bluetooth.DeviceData {
	return bluetooth.DeviceData{
		Address:   d.address,
		Name:      d.name,
		Alias:     d.displayAlias(),
		Class:     d.class,
		Paired:    d.paired,
		Trusted:   d.trusted,
		Blocked:   d.blocked,
		Connected: d.connected,
		UUIDs:     slices.Clone(d.uuids),
		Services:  d.servicePaths(),
		Adapter:   d.adapter.path,
		Type:      d.typ,
		DeviceID:  d.deviceID,
	}
}

func (d *Device) displayAlias() string {
	switch {
	case d.alias != "":
		return d.alias

	case d.name != "":
		return d.name
	}

	return d.address.DashString()
}

func (d *Device) servicePaths() []string {
	paths := make([]string, 0, len(d.primaries))
	for _, p := range d.primaries {
		paths = append(paths, fmt.Sprintf("%s/service%04x", d.path, p.Start))
	}

	return paths
}

// SetProperty changes a writable property.
func (d *Device) SetProperty(name string, value any) error {
	switch name {
	case "Trusted":
		v, ok := value.(bool)
		if !ok {
			return errorkinds.ErrInvalidArguments
		}

		return d.setTrusted(v)

	case "Alias":
		v, ok := value.(string)
		if !ok {
			return errorkinds.ErrInvalidArguments
		}

		return d.setAlias(v)

	case "Blocked":
		v, ok := value.(bool)
		if !ok {
			return errorkinds.ErrInvalidArguments
		}

		if v {
			return d.block()
		}

		return d.unblock(false)

	case "Class":
		v, ok := value.(uint32)
		if !ok {
			return errorkinds.ErrInvalidArguments
		}

		return d.SetClass(v)
	}

	return errorkinds.ErrInvalidArguments
}

func (d *Device) setTrusted(trusted bool) error {
	if d.trusted == trusted {
		return nil
	}

	if err := d.adapter.registry.store.SetTrusted(d.adapter.address, d.address, trusted); err != nil {
		return failed(err, "set-trusted", "Cannot store trust")
	}

	d.trusted = trusted
	d.emit("Trusted", trusted)

	return nil
}

func (d *Device) setAlias(alias string) error {
	if d.alias == alias {
		return nil
	}

	if err := d.adapter.registry.store.SetAlias(d.adapter.address, d.address, alias); err != nil {
		return failed(err, "set-alias", "Cannot store alias")
	}

	d.alias = alias
	d.emit("Alias", alias)

	return nil
}

// SetName updates the name reported by the device.
func (d *Device) SetName(name string) {
	if d.name == name {
		return
	}

	d.name = name
	if err := d.adapter.registry.store.SetName(d.adapter.address, d.address, name); err != nil {
		d.log.Warn("Cannot store name", zap.Error(err))
	}

	d.emit("Name", name)
	if d.alias == "" {
		d.emit("Alias", name)
	}
}

// SetClass updates the class of device.
func (d *Device) SetClass(class uint32) error {
	if err := d.adapter.registry.store.SetClass(d.adapter.address, d.address, class); err != nil {
		return failed(err, "set-class", "Cannot store class")
	}

	d.class = class
	d.emit("Class", class)

	return nil
}

// SetPaired updates the paired flag.
func (d *Device) SetPaired(paired bool) {
	if d.paired == paired {
		return
	}

	d.paired = paired
	d.emit("Paired", paired)
}

// SetBonded records whether the controller holds a persistent key.
func (d *Device) SetBonded(bonded bool) {
	if d.bonded == bonded {
		return
	}

	d.bonded = bonded

	if err := d.adapter.registry.store.SetPaired(d.adapter.address, d.address, bonded); err != nil {
		d.log.Warn("Cannot store bonding", zap.Error(err))
	}
}

// SetType updates the device type.
func (d *Device) SetType(typ bluetooth.DeviceType) {
	d.typ = typ
}

func (d *Device) block() error {
	if d.blocked {
		return nil
	}

	if d.connected {
		d.doDisconnect()
	}

	d.unbindAll()

	if err := d.adapter.radio.Block(d.address); err != nil {
		return failed(err, "block", "Kernel lacks blacklist support")
	}

	d.blocked = true
	if err := d.adapter.registry.store.SetBlocked(d.adapter.address, d.address, true); err != nil {
		d.log.Error("Cannot store blocked state", zap.Error(err))
	}

	d.temporary = false
	d.emit("Blocked", true)

	return nil
}

func (d *Device) unblock(silent bool) error {
	if !d.blocked {
		return nil
	}

	if err := d.adapter.radio.Unblock(d.address); err != nil {
		return failed(err, "unblock", "Cannot unblock device")
	}

	d.blocked = false
	if err := d.adapter.registry.store.SetBlocked(d.adapter.address, d.address, false); err != nil {
		d.log.Error("Cannot store blocked state", zap.Error(err))
	}

	if !silent {
		d.emit("Blocked", false)
		d.ProbeDrivers(slices.Clone(d.uuids))
	}

	return nil
}

// AddConnection marks the link as up.
func (d *Device) AddConnection(le bool) {
	if d.connected {
		d.log.Error("Device is already connected")
		return
	}

	d.connected = true
	if le {
		d.typ = bluetooth.DeviceTypeLE
	} else {
		d.typ = bluetooth.DeviceTypeBREDR
	}

	d.emit("Connected", true)
}

// RemoveConnection marks the link as down and answers pending
// Disconnect calls.
func (d *Device) RemoveConnection() {
	if !d.connected {
		d.log.Error("Device isn't connected")
		return
	}

	d.connected = false

	if d.disconnTimer != 0 {
		d.adapter.registry.sched.Cancel(d.disconnTimer)
		d.disconnTimer = 0
	}

	disconnects := d.disconnects
	d.disconnects = nil
	for _, call := range disconnects {
		call.Return(nil)
	}

	if d.paired && !d.bonded {
		d.SetPaired(false)
	}

	d.emit("Connected", false)
}

// AddDisconnectWatch registers fn to be called once when a disconnection
// is requested. removing is set if the device is about to be removed.
func (d *Device) AddDisconnectWatch(fn func(d *Device, removing bool)) uint {
	d.nextWatch++
	d.watches = append(d.watches, disconnectWatch{id: d.nextWatch, fn: fn})

	return d.nextWatch
}

// RemoveDisconnectWatch removes a watch. It is safe to call from a watch.
func (d *Device) RemoveDisconnectWatch(id uint) bool {
	idx := slices.IndexFunc(d.watches, func(w disconnectWatch) bool { return w.id == id })
	if idx < 0 {
		return false
	}

	d.watches = slices.Delete(d.watches, idx, idx+1)

	return true
}

// Disconnect requests a disconnection on behalf of call. The call is
// answered when the link goes down.
func (d *Device) Disconnect(call Call) error {
	if !d.connected {
		return errorkinds.ErrNotConnected
	}

	d.RequestDisconnect(call)

	return nil
}

// RequestDisconnect cancels running requests, notifies the disconnect
// watches and arms the disconnection timer.
func (d *Device) RequestDisconnect(call Call) {
	if d.bonding != nil {
		d.cancelBondingProcedure()
	}

	if d.browse != nil {
		d.browse.fail(errorkinds.ErrCanceled)
		d.cancelBrowse(d.browse)
	}

	if call != nil {
		d.disconnects = append(d.disconnects, call)
	}

	if d.disconnTimer != 0 {
		return
	}

	ids := make([]uint, 0, len(d.watches))
	for _, w := range d.watches {
		ids = append(ids, w.id)
	}

	for _, id := range ids {
		idx := slices.IndexFunc(d.watches, func(w disconnectWatch) bool { return w.id == id })
		if idx < 0 {
			continue
		}

		w := d.watches[idx]
		d.watches = slices.Delete(d.watches, idx, idx+1)
		w.fn(d, d.temporary)
	}

	h, a := d.handle, d.adapter
	d.disconnTimer = a.registry.sched.AfterFunc(a.registry.cfg.DisconnectDelay, func() {
		if dev, ok := a.devices.Get(h); ok {
			dev.disconnTimer = 0
			dev.doDisconnect()
		}
	})

	a.registry.events.Publish(bluetooth.EventDisconnectRequested, bluetooth.DisconnectRequestedEvent{Path: d.path})
}

func (d *Device) doDisconnect() {
	if err := d.adapter.radio.Disconnect(d.address); err != nil {
		d.log.Warn("Cannot disconnect device", zap.Error(err))
	}
}

// AddUUID adds a single profile to the device, probing drivers for it.
func (d *Device) AddUUID(u uuid.UUID) {
	if slices.Contains(d.uuids, u) {
		return
	}

	d.ProbeDrivers(uuid.UUIDs{u})
	d.storeProfiles()
	d.emitUUIDs()
}

// Record returns the catalog record of the profile u, reading the
// stored records if none are cached.
func (d *Device) Record(u uuid.UUID) (sdp.Record, bool) {
	if rec, ok := sdp.FindByServiceClass(d.records, u); ok {
		return rec, true
	}

	records, err := d.adapter.registry.store.Records(d.adapter.address, d.address)
	if err != nil {
		d.log.Warn("Cannot read stored records", zap.Error(err))
		return sdp.Record{}, false
	}

	if len(records) == 0 {
		return sdp.Record{}, false
	}

	d.records = records

	return sdp.FindByServiceClass(d.records, u)
}

// GetServiceAttribute returns the value of attribute attr of the record
// of the profile named by pattern.
func (d *Device) GetServiceAttribute(pattern string, attr uint16) (any, error) {
	if pattern == "" {
		return nil, errorkinds.ErrInvalidArguments
	}

	u, err := bluetooth.ParseUUID(pattern)
	if err != nil {
		return nil, errorkinds.ErrInvalidArguments
	}

	rec, ok := d.Record(u)
	if !ok {
		return nil, failed(errorkinds.ErrFailed, "get-service-attribute", "GetServiceAttribute Failed")
	}

	switch attr {
	case sdp.AttrGOEPL2CAPPSM:
		if v, ok := rec.Attribute(attr); ok {
			return int32(v.Uint), nil
		}

		return int32(-1), nil

	case sdp.AttrProtocolDescriptorList, sdp.AttrAdditionalProtocolDescList:
		protos := rec.Protocols
		if attr == sdp.AttrAdditionalProtocolDescList {
			protos = rec.AdditionalProtocols
		}

		if len(protos) == 0 {
			break
		}

		ch, ok := sdp.RFCOMMChannel(protos)
		if !ok {
			return int32(-1), nil
		}

		return int32(ch), nil

	case sdp.AttrSupportedDocFormats:
		if v, ok := rec.Attribute(attr); ok {
			return v.Text, nil
		}
	}

	return nil, failed(errorkinds.ErrFailed, "get-service-attribute", "GetServiceAttribute Failed")
}

// SetConnectionParams forwards low energy connection parameters to the radio.
func (d *Device) SetConnectionParams(params ConnParams) error {
	if !d.typ.IsLE() {
		return errorkinds.ErrNotSupported
	}

	if err := d.adapter.radio.SetConnectionParams(d.address, params); err != nil {
		return failed(err, "set-connection-params", "SetConnectionParams Failed")
	}

	return nil
}

// remove tears the device down before it is dropped from the arena.
func (d *Device) remove(removeStored bool) {
	d.log.Debug("Removing device", zap.String("path", d.path))

	if d.bonding != nil {
		status := errorkinds.HCIPageTimeout
		if d.connected {
			status = errorkinds.HCIOETerminated
		}

		d.CancelBonding(status)
	}

	if d.agent != nil {
		d.agent.Release()
		d.agent = nil
	}

	if d.browse != nil {
		d.browse.fail(errorkinds.ErrCanceled)
		d.cancelBrowse(d.browse)
	}

	if d.authr != nil {
		d.CancelAuthentication(false)
	}

	if d.connected {
		d.doDisconnect()
	}

	if removeStored {
		d.removeStored()

		if err := d.adapter.registry.store.DeleteDevice(d.adapter.address, d.address); err != nil {
			d.log.Error("Cannot remove stored device", zap.Error(err))
		}
	}

	d.unbindAll()

	sched := d.adapter.registry.sched
	if d.disconnTimer != 0 {
		sched.Cancel(d.disconnTimer)
		d.disconnTimer = 0
	}

	if d.discovTimer != 0 {
		sched.Cancel(d.discovTimer)
		d.discovTimer = 0
	}

	d.closeAux()
}

// removeStored drops the bonding of the device along with its persisted
// trust, profiles and records. The name and alias are kept.
func (d *Device) removeStored() {
	if d.paired {
		if err := d.adapter.radio.RemoveBonding(d.address); err != nil {
			d.log.Warn("Cannot remove bonding", zap.Error(err))
		}

		d.SetPaired(false)
	}
	d.bonded = false

	if err := d.adapter.registry.store.DeleteBonding(d.adapter.address, d.address); err != nil {
		d.log.Error("Cannot remove stored bonding", zap.Error(err))
	}

	if d.trusted {
		d.trusted = false
		d.emit("Trusted", false)
	}

	if d.blocked {
		if err := d.unblock(true); err != nil {
			d.log.Warn("Cannot unblock device", zap.Error(err))
		}
	}
}

func (d *Device) storeProfiles() {
	if err := d.adapter.registry.store.SetProfiles(d.adapter.address, d.address, d.uuids); err != nil {
		d.log.Error("Cannot store profiles", zap.Error(err))
	}
}

func (d *Device) closeAux() {
	if d.aux == nil {
		return
	}

	if err := d.aux.Close(); err != nil {
		d.log.Debug("Cannot close catalog channel", zap.Error(err))
	}

	d.aux = nil
}

func (d *Device) openAux() {
	aux, err := d.adapter.sdp.OpenChannel(d.adapter.address, d.address)
	if err != nil {
		d.log.Warn("Cannot open catalog channel", zap.Error(err))
		return
	}

	d.aux = aux
}

func (d *Device) emit(name string, value any) {
	d.adapter.registry.events.Publish(bluetooth.EventPropertyChanged, bluetooth.PropertyChangedEvent{
		Path:  d.path,
		Name:  name,
		Value: value,
	})
}

func (d *Device) emitUUIDs() {
	d.emit("UUIDs", slices.Clone(d.uuids))
}

// failed wraps err with the call site, keeping err's kind.
func failed(err error, at, msg string) error {
	return fault.Wrap(err,
		fctx.With(context.Background(), "error_at", at),
		ftag.With(errorkinds.Kind(err)),
		fmsg.With(msg),
	)
}
