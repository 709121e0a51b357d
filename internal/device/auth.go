package device

import (
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"go.uber.org/zap"
)

// AuthRequest is one pairing interaction forwarded to an agent.
// The set of variants is closed: PinCodeRequest, PasskeyRequest,
// ConfirmRequest, NotifyRequest, OOBRequest, ConsentRequest and AutoRequest.
type AuthRequest interface {
	Type() bluetooth.AuthType

	dispatch(d *Device, st *authState) error
	cancel(err error)
}

// PinCodeRequest asks the agent for a legacy PIN code.
type PinCodeRequest struct {
	Reply func(pin string, err error)
}

// PasskeyRequest asks the agent for a numeric passkey.
type PasskeyRequest struct {
	Reply func(passkey uint32, err error)
}

// ConfirmRequest asks the agent to confirm a displayed passkey.
type ConfirmRequest struct {
	Passkey uint32
	Reply   func(err error)
}

// NotifyRequest shows a passkey the user types on the peer. It has no reply.
type NotifyRequest struct {
	Passkey uint32
}

// OOBRequest asks the agent for out-of-band pairing data.
type OOBRequest struct {
	Reply func(data bluetooth.OOBData, err error)
}

// ConsentRequest asks the agent to accept an incoming pairing.
type ConsentRequest struct {
	Reply func(err error)
}

// AutoRequest is a pairing that needs no user interaction.
type AutoRequest struct{}

// authState is the pending authentication of a device. Once replied is
// set, late agent answers are dropped.
type authState struct {
	req     AuthRequest
	agent   Agent
	replied bool
}

// Type returns AuthPinCode.
func (PinCodeRequest) Type() bluetooth.AuthType { return bluetooth.AuthPinCode }

// Type returns AuthPasskey.
func (PasskeyRequest) Type() bluetooth.AuthType { return bluetooth.AuthPasskey }

// Type returns AuthConfirm.
func (ConfirmRequest) Type() bluetooth.AuthType { return bluetooth.AuthConfirm }

// Type returns AuthNotify.
func (NotifyRequest) Type() bluetooth.AuthType { return bluetooth.AuthNotify }

// Type returns AuthOOB.
func (OOBRequest) Type() bluetooth.AuthType { return bluetooth.AuthOOB }

// Type returns AuthPairingConsent.
func (ConsentRequest) Type() bluetooth.AuthType { return bluetooth.AuthPairingConsent }

// Type returns AuthAuto.
func (AutoRequest) Type() bluetooth.AuthType { return bluetooth.AuthAuto }

func (r PinCodeRequest) dispatch(d *Device, st *authState) error {
	if d.adapter.registry.aux(d.address) {
		d.closeAux()
		d.openAux()
	}

	return st.agent.RequestPinCode(d.path, func(pin string, err error) {
		d.closeAux()

		if d.settle(st) {
			r.Reply(pin, err)
		}
	})
}

func (r PasskeyRequest) dispatch(d *Device, st *authState) error {
	return st.agent.RequestPasskey(d.path, func(passkey uint32, err error) {
		if d.settle(st) {
			r.Reply(passkey, err)
		}
	})
}

func (r ConfirmRequest) dispatch(d *Device, st *authState) error {
	return st.agent.RequestConfirmation(d.path, r.Passkey, func(err error) {
		if d.settle(st) {
			r.Reply(err)
		}
	})
}

func (r NotifyRequest) dispatch(d *Device, st *authState) error {
	return st.agent.DisplayPasskey(d.path, r.Passkey)
}

func (r OOBRequest) dispatch(d *Device, st *authState) error {
	return st.agent.RequestOOBData(d.path, func(data bluetooth.OOBData, err error) {
		if d.settle(st) {
			r.Reply(data, err)
		}
	})
}

func (r ConsentRequest) dispatch(d *Device, st *authState) error {
	return st.agent.RequestPairingConsent(d.path, func(err error) {
		if d.settle(st) {
			r.Reply(err)
		}
	})
}

func (AutoRequest) dispatch(_ *Device, st *authState) error {
	st.agent = nil

	return nil
}

func (r PinCodeRequest) cancel(err error) { r.Reply("", err) }
func (r PasskeyRequest) cancel(err error) { r.Reply(0, err) }
func (r ConfirmRequest) cancel(err error) { r.Reply(err) }
func (NotifyRequest) cancel(error)        {}
func (r OOBRequest) cancel(err error)     { r.Reply(bluetooth.OOBData{}, err) }
func (r ConsentRequest) cancel(err error) { r.Reply(err) }
func (AutoRequest) cancel(error)          {}

// settle marks st as answered. It reports false if st is no longer the
// pending request of the device or was already answered.
func (d *Device) settle(st *authState) bool {
	if d.authr != st || st.replied {
		return false
	}

	st.replied = true
	st.agent = nil

	return true
}

// Agent returns the agent serving the device: the one registered with
// the running bonding, else the adapter default.
func (d *Device) Agent() Agent {
	if d.agent != nil {
		return d.agent
	}

	return d.adapter.agent
}

// RequestAuthentication forwards req to the agent of the device.
// Only one request may be pending; it stays pending until the bonding
// completes or it is canceled.
func (d *Device) RequestAuthentication(req AuthRequest) error {
	if d.authr != nil {
		d.log.Error("Authentication already requested")
		return errorkinds.ErrInProgress
	}

	agent := d.Agent()
	if agent == nil {
		d.log.Error("No agent available for request", zap.Stringer("type", req.Type()))
		return errorkinds.ErrNoAgent
	}

	st := &authState{req: req, agent: agent}
	d.authr = st

	d.adapter.registry.metrics.AuthRequest(req.Type().String())

	if err := req.dispatch(d, st); err != nil {
		d.log.Error("Failed requesting authentication", zap.Error(err))
		if d.authr == st {
			d.authr = nil
		}
		d.closeAux()

		return failed(err, "request-authentication", "Failed requesting authentication")
	}

	return nil
}

// CancelAuthentication cancels the pending authentication. The request
// is answered with a canceled error unless aborted is set, which means
// the requestor already knows.
func (d *Device) CancelAuthentication(aborted bool) {
	st := d.authr
	if st == nil {
		return
	}

	d.log.Debug("Canceling authentication request")

	if st.agent != nil {
		st.agent.Cancel()
	}

	if !aborted && !st.replied {
		st.replied = true
		st.req.cancel(errorkinds.ErrCanceled)
	}

	d.closeAux()
	d.authr = nil
}

// RequestOOBAvailability asks the agent whether out-of-band data exists.
func (d *Device) RequestOOBAvailability(cb func(available bool, err error)) error {
	agent := d.Agent()
	if agent == nil {
		d.log.Error("No agent available for OOB request")
		return errorkinds.ErrNoAgent
	}

	if err := agent.RequestOOBAvailability(d.path, cb); err != nil {
		return failed(err, "request-oob-availability", "Failed requesting oob availability")
	}

	return nil
}

// SimplePairingComplete ends a passkey notification still shown by the agent.
func (d *Device) SimplePairingComplete(errorkinds.HCIStatus) {
	d.cancelNotify()
}

func (d *Device) cancelNotify() {
	st := d.authr
	if st == nil || st.agent == nil {
		return
	}

	if _, ok := st.req.(NotifyRequest); ok {
		st.agent.Cancel()
		st.agent = nil
	}
}

// agentRemoved forgets an agent whose owner left the bus.
func (d *Device) agentRemoved(agent Agent) {
	if d.agent == agent {
		d.agent = nil
	}

	if d.authr != nil && d.authr.agent == agent {
		d.authr.agent = nil
	}
}
