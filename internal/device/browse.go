package device

import (
	"errors"
	"slices"
	"syscall"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"github.com/bluetuith-org/bluez-lifecycle/internal/sdp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// replyKind selects how a finished discovery answers its call.
type replyKind uint8

const (
	replyNone replyKind = iota
	replyRecords
	replyDevice
	replyPairedDevice
)

// mandatoryClasses are searched one after the other by a full browse.
var mandatoryClasses = []uint16{
	bluetooth.L2CAPProtocol,
	bluetooth.PnPInformation,
	bluetooth.PublicBrowseGroup,
}

const (
	// browseCheckpoint is the index after which a browse with records
	// is complete.
	browseCheckpoint = 2

	maxReconnects = 1
)

// browseRequest is a running service discovery of a device.
type browseRequest struct {
	call Call
	kind replyKind

	single  bool
	primary bool

	index      int
	reconnects int

	records []sdp.Record
	added   uuid.UUIDs
	removed uuid.UUIDs

	timer      reactor.TimerID
	cancelExit func()
}

func (b *browseRequest) sender() string {
	if b.call == nil {
		return ""
	}

	return b.call.Sender()
}

// fail answers the call of the request with err.
func (b *browseRequest) fail(err error) {
	if b.call == nil {
		return
	}

	b.call.Fail(err)
	b.call = nil
}

// DiscoverServices browses the catalog of the device on behalf of call.
// An empty pattern runs a full browse, otherwise only records of the
// pattern's class are searched. The call is answered with the records.
func (d *Device) DiscoverServices(call Call, pattern string) error {
	if d.browse != nil {
		return errorkinds.ErrInProgress
	}

	var search *uuid.UUID

	if pattern != "" {
		u, err := bluetooth.ParseUUID(pattern)
		if err != nil {
			return errorkinds.ErrInvalidArguments
		}

		search = &u
	}

	return d.browseSDP(call, replyRecords, search, false)
}

// CancelDiscovery cancels a discovery started by DiscoverServices.
// Only the original requestor may cancel it.
func (d *Device) CancelDiscovery(sender string) error {
	req := d.browse
	if req == nil {
		return errorkinds.ErrDoesNotExist
	}

	if req.kind != replyRecords || req.call == nil || req.sender() != sender {
		return errorkinds.ErrNotAuthorized
	}

	req.fail(errorkinds.ErrCanceled)
	d.cancelBrowse(req)

	return nil
}

// Browse discovers the services of the device, answering call with the
// device path. Reverse browses run after a peer-initiated pairing and
// do not forget profiles missing from the answer.
func (d *Device) Browse(call Call, reverse bool) error {
	if d.typ.IsLE() {
		return d.browsePrimary(call, replyDevice, false)
	}

	return d.browseSDP(call, replyDevice, nil, reverse)
}

func (d *Device) browseSDP(call Call, kind replyKind, search *uuid.UUID, reverse bool) error {
	a := d.adapter

	if d.browse != nil {
		return errorkinds.ErrInProgress
	}

	req := &browseRequest{call: call, kind: kind}

	var service uuid.UUID
	if search != nil {
		service = *search
		req.single = true
	} else {
		service = bluetooth.UUID16(mandatoryClasses[0])
		req.index = 1

		// Some devices hide their records while connected, so reverse
		// browses cannot detect removed profiles.
		if !reverse {
			req.removed = slices.Clone(d.uuids)
		}
	}

	if err := a.sdp.Search(a.address, d.address, service, d.searchCallback(req)); err != nil {
		return failed(err, "browse-sdp", "Cannot start service search")
	}

	d.startBrowse(req)

	return nil
}

func (d *Device) browsePrimary(call Call, kind replyKind, secure bool) error {
	a := d.adapter

	if d.browse != nil {
		return errorkinds.ErrInProgress
	}

	if a.gatt == nil {
		return errorkinds.ErrNotSupported
	}

	req := &browseRequest{call: call, kind: kind, primary: true}

	err := a.gatt.DiscoverPrimary(a.address, d.address, secure, func(services []PrimaryService, err error) {
		d.primaryDone(req, services, err)
	})
	if err != nil {
		return failed(err, "browse-primary", "Cannot start primary service discovery")
	}

	d.startBrowse(req)

	return nil
}

// startBrowse installs req and arms its timeout and requestor watch.
func (d *Device) startBrowse(req *browseRequest) {
	r := d.adapter.registry

	d.browse = req

	if req.call != nil && r.exits != nil {
		req.cancelExit = r.exits.WatchExit(req.call.Sender(), func() {
			if d.browse != req {
				return
			}

			d.log.Debug("Discovery requestor exited")
			req.cancelExit = nil
			req.call = nil
			d.cancelBrowse(req)
		})
	}

	req.timer = r.sched.AfterFunc(r.cfg.BrowseTimeout, func() {
		d.browseTimeout(req)
	})
}

func (d *Device) browseTimeout(req *browseRequest) {
	req.timer = 0

	if d.browse != req {
		return
	}

	d.log.Debug("Discovery in progress, cancelling it")

	a := d.adapter
	if req.primary {
		a.gatt.Cancel(a.address, d.address)
		d.primaryDone(req, nil, errorkinds.ErrTimeout)

		return
	}

	a.sdp.Cancel(a.address, d.address)
	d.searchDone(req, nil, errorkinds.ErrTimeout)
}

func (d *Device) searchCallback(req *browseRequest) func([]sdp.Record, error) {
	return func(records []sdp.Record, err error) {
		if d.browse != req {
			return
		}

		if req.single {
			d.searchDone(req, records, err)
			return
		}

		d.browseStep(req, records, err)
	}
}

// browseStep handles one answer of a full browse and issues the next
// mandatory search, rewinding once on a connection reset.
func (d *Device) browseStep(req *browseRequest, records []sdp.Record, err error) {
	if err != nil || (req.index == browseCheckpoint && len(req.records) > 0) {
		if !errors.Is(err, errorkinds.ErrConnectionReset) || req.reconnects >= maxReconnects {
			d.searchDone(req, records, err)
			return
		}

		d.log.Debug("Connection reset, retrying search", zap.Int("index", req.index-1))
		req.index--
		req.reconnects++
	}

	d.updateServices(req, records)

	if req.index < len(mandatoryClasses) {
		a := d.adapter
		service := bluetooth.UUID16(mandatoryClasses[req.index])
		req.index++

		if err := a.sdp.Search(a.address, d.address, service, d.searchCallback(req)); err != nil {
			d.searchDone(req, nil, failed(err, "browse-sdp", "Cannot continue service search"))
		}

		return
	}

	d.searchDone(req, records, nil)
}

// updateServices merges records into the browse, updating the added and
// removed profile sets against the known profiles of the device.
func (d *Device) updateServices(req *browseRequest, records []sdp.Record) {
	r, a := d.adapter.registry, d.adapter

	for _, rec := range records {
		if len(rec.ServiceClasses) == 0 {
			d.log.Debug("Skipping record with no service classes", zap.Uint32("handle", rec.Handle))
			continue
		}

		if id, ok := rec.DeviceID(); ok && id != (bluetooth.DeviceID{}) {
			if err := r.store.SetDeviceID(a.address, d.address, id); err != nil {
				d.log.Warn("Cannot store device id", zap.Error(err))
			}

			d.deviceID = id
		}

		if slices.ContainsFunc(req.records, func(known sdp.Record) bool { return known.Handle == rec.Handle }) {
			continue
		}

		if err := r.store.StoreRecord(a.address, d.address, rec); err != nil {
			d.log.Warn("Cannot store record", zap.Error(err))
		}

		req.records = append(req.records, rec)

		for _, class := range rec.ServiceClasses {
			if !slices.Contains(d.uuids, class) {
				if !slices.Contains(req.added, class) {
					req.added = append(req.added, class)
				}

				continue
			}

			if idx := slices.Index(req.removed, class); idx >= 0 {
				req.removed = slices.Delete(req.removed, idx, idx+1)
			}
		}
	}
}

// searchDone finishes a catalog browse: drivers follow the profile
// changes, the records replace the cached ones and the call is answered.
func (d *Device) searchDone(req *browseRequest, records []sdp.Record, err error) {
	r := d.adapter.registry

	d.stopBrowseTimer(req)

	if err != nil {
		d.log.Error("Error updating services", zap.Error(err))
		r.metrics.BrowseResult(browseResult(err))
	} else {
		d.updateServices(req, records)
		d.records = req.records

		if len(req.added) == 0 && len(req.removed) == 0 {
			d.log.Debug("No service update")
		} else {
			if len(req.added) > 0 {
				d.ProbeDrivers(req.added)
			}

			if len(req.removed) > 0 {
				d.RemoveDrivers(req.removed)
			}

			d.emitUUIDs()
		}

		r.metrics.BrowseResult("success")
	}

	d.browseReply(req, err)

	if !d.temporary {
		d.storeProfiles()
		if err := r.store.SetDeviceType(d.adapter.address, d.address, d.typ); err != nil {
			d.log.Warn("Cannot store device type", zap.Error(err))
		}
	}

	d.finishBrowse(req)
}

// primaryDone finishes a low energy service discovery.
func (d *Device) primaryDone(req *browseRequest, services []PrimaryService, err error) {
	r := d.adapter.registry

	if d.browse != req {
		return
	}

	d.stopBrowseTimer(req)

	if err != nil {
		r.metrics.BrowseResult(browseResult(err))
		req.fail(failed(err, "browse-primary", "Primary service discovery failed"))
		d.finishBrowse(req)

		return
	}

	r.metrics.BrowseResult("success")

	d.temporary = false

	before := len(d.uuids)

	uuids := make(uuid.UUIDs, 0, len(services))
	for _, s := range services {
		uuids = append(uuids, s.UUID)
	}

	d.ProbeDrivers(uuids)

	if len(d.primaries) == 0 {
		d.primaries = services
		d.emit("Services", d.servicePaths())
	}

	if len(d.uuids) != before {
		d.emitUUIDs()
	}

	if req.call != nil {
		req.call.Return(d.path)
		req.call = nil
	}

	d.storeProfiles()
	if err := r.store.SetDeviceType(d.adapter.address, d.address, d.typ); err != nil {
		d.log.Warn("Cannot store device type", zap.Error(err))
	}

	d.finishBrowse(req)
}

// browseReply answers the call of a finished catalog browse.
func (d *Device) browseReply(req *browseRequest, err error) {
	call := req.call
	if call == nil {
		return
	}

	req.call = nil

	switch req.kind {
	case replyRecords:
		if err != nil {
			call.Fail(discoveryError(err))
			return
		}

		call.Return(slices.Clone(d.records))

	case replyPairedDevice:
		call.Return(d.path)

	case replyDevice:
		if err != nil {
			call.Fail(discoveryError(err))
			return
		}

		call.Return(d.path)
		d.temporary = false
	}
}

// cancelBrowse aborts req without answering its call.
func (d *Device) cancelBrowse(req *browseRequest) {
	a := d.adapter

	if d.IsCreating("") {
		d.temporary = true
	}

	d.stopBrowseTimer(req)

	if req.primary {
		a.gatt.Cancel(a.address, d.address)
	} else {
		a.sdp.Cancel(a.address, d.address)
	}

	d.finishBrowse(req)
}

func (d *Device) stopBrowseTimer(req *browseRequest) {
	if req.timer == 0 {
		return
	}

	d.adapter.registry.sched.Cancel(req.timer)
	req.timer = 0
}

func (d *Device) finishBrowse(req *browseRequest) {
	if req.cancelExit != nil {
		req.cancelExit()
		req.cancelExit = nil
	}

	if d.browse == req {
		d.browse = nil
	}
}

// discoveryError maps a discovery failure to the error sent to the caller.
func discoveryError(err error) error {
	switch {
	case errors.Is(err, syscall.EHOSTDOWN):
		return failed(errorkinds.ErrConnectionAttemptFailed, "discover-services", err.Error())

	case errors.Is(err, errorkinds.ErrCanceled), errors.Is(err, errorkinds.ErrTimeout):
		return err
	}

	return failed(errorkinds.ErrFailed, "discover-services", err.Error())
}

func browseResult(err error) string {
	switch {
	case errors.Is(err, errorkinds.ErrTimeout):
		return "timeout"

	case errors.Is(err, errorkinds.ErrConnectionReset):
		return "reset"
	}

	return "failed"
}
