package device

import (
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"go.uber.org/zap"
)

// bondingRequest is a pairing started by a bus client.
type bondingRequest struct {
	call       Call
	cancelExit func()
}

// CreateBonding starts pairing with the device on behalf of call.
// If agentPath is set, the caller's agent at that path serves the
// authentication requests of this bonding. The call is answered when the
// bonding and the following service discovery complete.
func (d *Device) CreateBonding(call Call, agentPath string, capability bluetooth.IOCapability, oob bool) error {
	r, a := d.adapter.registry, d.adapter

	if d.bonding != nil {
		return errorkinds.ErrInProgress
	}

	if !d.typ.IsLE() && r.store.HasLinkKey(a.address, d.address) {
		return errorkinds.ErrAlreadyExists
	}

	if capability == "" {
		capability = bluetooth.CapabilityDisplayYesNo
	}

	d.log.Debug("Requesting bonding", zap.String("capability", string(capability)))

	if err := a.radio.CreateBonding(d.address, capability); err != nil {
		return failed(err, "create-bonding", "Cannot start bonding")
	}

	if agentPath != "" {
		var agent Agent

		agent, err := r.agents.NewAgent(call.Sender(), agentPath, capability, oob, func() {
			d.agentRemoved(agent)
		})
		if err != nil {
			d.log.Error("Unable to create a new agent", zap.Error(err))
			if err := a.radio.CancelBonding(d.address); err != nil {
				d.log.Warn("Cannot cancel bonding", zap.Error(err))
			}

			return failed(err, "create-agent", "Unable to create a new agent")
		}

		d.agent = agent
		d.log.Debug("Temporary agent registered", zap.String("sender", call.Sender()), zap.String("agent", agentPath))
	}

	a.radio.SuspendDiscovery()

	b := &bondingRequest{call: call}
	if r.exits != nil {
		b.cancelExit = r.exits.WatchExit(call.Sender(), func() {
			d.bondingRequestorExited(b)
		})
	}

	d.bonding = b

	return nil
}

func (d *Device) bondingRequestorExited(b *bondingRequest) {
	if d.bonding != b {
		return
	}

	d.log.Debug("Requestor exited before bonding was completed")

	b.cancelExit = nil

	if d.authr != nil {
		d.CancelAuthentication(false)
	}

	d.RequestDisconnect(nil)
}

// BondingComplete handles the end of a pairing, whether it was started
// locally or by the peer.
func (d *Device) BondingComplete(status errorkinds.HCIStatus) {
	r := d.adapter.registry
	b := d.bonding

	d.log.Debug("Bonding complete", zap.Uint8("status", uint8(status)))

	d.cancelNotify()

	if status != errorkinds.HCISuccess {
		if status.PurgesCredentials() {
			d.log.Debug("Removing stored credentials", zap.Uint8("status", uint8(status)))
			d.removeStored()
			d.records = nil
		}

		r.metrics.BondingResult("failed")

		d.CancelAuthentication(true)
		d.CancelBonding(status)
		d.closeAux()

		return
	}

	r.metrics.BondingResult("success")

	d.CancelAuthentication(true)

	d.SetBonded(true)
	d.SetPaired(true)

	if d.records == nil {
		records, err := r.store.Records(d.adapter.address, d.address)
		if err != nil {
			d.log.Warn("Cannot read stored records", zap.Error(err))
		}

		if len(records) > 0 {
			d.records = records
		}
	}

	if d.records != nil {
		d.log.Debug("Services already known")

		if b != nil {
			b.call.Return(d.path)
			d.freeBonding(b)
		}

		return
	}

	if b == nil {
		if d.browse == nil && d.discovTimer == 0 && r.cfg.ReverseDiscovery {
			d.log.Debug("Setting timer for reverse service discovery")
			d.armDiscovery()
		}

		return
	}

	if d.discovTimer != 0 {
		r.sched.Cancel(d.discovTimer)
		d.discovTimer = 0
	}

	var err error
	if d.typ.IsLE() {
		err = d.browsePrimary(b.call, replyPairedDevice, false)
	} else {
		err = d.browseSDP(b.call, replyPairedDevice, nil, false)
	}

	if err != nil {
		d.log.Error("Cannot start service discovery", zap.Error(err))
		b.call.Fail(err)
	}

	d.freeBonding(b)
}

// CancelBonding answers the running bonding with the error matching status
// and aborts the pairing.
func (d *Device) CancelBonding(status errorkinds.HCIStatus) {
	b := d.bonding
	if b == nil {
		return
	}

	d.log.Debug("Canceling bonding request")

	if d.authr != nil {
		d.CancelAuthentication(false)
	}

	if err := errorkinds.FromHCIStatus(status); err != nil {
		b.call.Fail(err)
	} else {
		b.call.Return(nil)
	}

	d.cancelBondingProcedure()
	d.freeBonding(b)
}

func (d *Device) cancelBondingProcedure() {
	if err := d.adapter.radio.CancelBonding(d.address); err != nil {
		d.log.Warn("Cannot cancel bonding", zap.Error(err))
	}
}

func (d *Device) freeBonding(b *bondingRequest) {
	if b.cancelExit != nil {
		b.cancelExit()
		b.cancelExit = nil
	}

	if d.bonding != b {
		return
	}

	d.bonding = nil
	d.adapter.radio.ResumeDiscovery()

	if d.agent != nil {
		d.agent.Cancel()
		d.agent.Release()
		d.agent = nil
	}
}

func (d *Device) armDiscovery() {
	h, a := d.handle, d.adapter

	d.discovTimer = a.registry.sched.AfterFunc(a.registry.cfg.DiscoveryDelay, func() {
		dev, ok := a.devices.Get(h)
		if !ok {
			return
		}

		dev.discovTimer = 0
		if err := dev.Browse(nil, true); err != nil {
			dev.log.Debug("Reverse service discovery not started", zap.Error(err))
		}
	})
}
