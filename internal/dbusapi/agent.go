package dbusapi

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/config"
	"github.com/bluetuith-org/bluez-lifecycle/internal/device"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Agents creates clients of agent objects served by bus clients.
type Agents struct {
	conn    busConn
	sched   reactor.Scheduler
	exits   device.ExitWatcher
	timeout time.Duration

	pending *xsync.MapOf[uint64, context.CancelFunc]
	nextID  atomic.Uint64

	log *zap.Logger
}

var _ device.AgentFactory = (*Agents)(nil)

// NewAgents returns an agent factory. Requests to agents time out after timeout.
func NewAgents(conn busConn, sched reactor.Scheduler, exits device.ExitWatcher, timeout time.Duration, log *zap.Logger) *Agents {
	if log == nil {
		log = zap.NewNop()
	}

	if timeout <= 0 {
		timeout = config.DefaultAuthTimeout
	}

	return &Agents{
		conn:    conn,
		sched:   sched,
		exits:   exits,
		timeout: timeout,
		pending: xsync.NewMapOf[uint64, context.CancelFunc](),
		log:     log.Named("agent"),
	}
}

// NewAgent returns a client of the agent at path of sender. removed is
// called on the loop if sender leaves the bus.
func (f *Agents) NewAgent(sender, path string, capability bluetooth.IOCapability, oob bool, removed func()) (device.Agent, error) {
	return f.newAgent(sender, path, capability, oob, removed), nil
}

func (f *Agents) newAgent(sender, path string, capability bluetooth.IOCapability, oob bool, removed func()) *Agent {
	a := &Agent{
		agents:     f,
		sender:     sender,
		path:       dbus.ObjectPath(path),
		capability: capability,
		oob:        oob,
		log:        f.log.With(zap.String("sender", sender), zap.String("path", path)),
	}

	if f.exits != nil && removed != nil {
		a.cancelExit = f.exits.WatchExit(sender, func() {
			a.cancelExit = nil
			a.log.Debug("Agent exited")
			removed()
		})
	}

	return a
}

// Close aborts every outstanding agent request.
func (f *Agents) Close() {
	f.pending.Range(func(id uint64, cancel context.CancelFunc) bool {
		cancel()
		f.pending.Delete(id)

		return true
	})
}

// Agent is a client of one agent object.
type Agent struct {
	agents *Agents

	sender     string
	path       dbus.ObjectPath
	capability bluetooth.IOCapability
	oob        bool

	cancelExit func()

	log *zap.Logger
}

var _ device.Agent = (*Agent)(nil)

// Sender returns the bus name serving the agent.
func (a *Agent) Sender() string {
	return a.sender
}

// Path returns the object path of the agent.
func (a *Agent) Path() dbus.ObjectPath {
	return a.path
}

// Capability returns the input/output capability announced by the agent.
func (a *Agent) Capability() bluetooth.IOCapability {
	return a.capability
}

// OOB reports whether the agent was registered with out-of-band data.
func (a *Agent) OOB() bool {
	return a.oob
}

// request calls method on the agent and runs done on the loop with the
// completed call.
func (a *Agent) request(method string, done func(*dbus.Call), args ...any) error {
	f := a.agents

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)

	id := f.nextID.Add(1)
	f.pending.Store(id, cancel)

	a.log.Debug("Agent request", zap.String("method", method))

	c := f.conn.Object(a.sender, a.path).GoWithContext(ctx, AgentInterface+"."+method, 0, make(chan *dbus.Call, 1), args...)

	go func() {
		<-c.Done

		f.pending.Delete(id)
		cancel()

		f.sched.Post(func() { done(c) })
	}()

	return nil
}

// notify calls method on the agent without waiting for a reply.
func (a *Agent) notify(method string, args ...any) error {
	return a.agents.conn.Object(a.sender, a.path).Go(AgentInterface+"."+method, dbus.FlagNoReplyExpected, nil, args...).Err
}

func (a *Agent) RequestPinCode(dev string, cb func(string, error)) error {
	return a.request("RequestPinCode", func(c *dbus.Call) {
		var pin string
		if err := c.Store(&pin); err != nil {
			cb("", fromAgentError(err))
			return
		}

		cb(pin, nil)
	}, dbus.ObjectPath(dev))
}

func (a *Agent) RequestPasskey(dev string, cb func(uint32, error)) error {
	return a.request("RequestPasskey", func(c *dbus.Call) {
		var passkey uint32
		if err := c.Store(&passkey); err != nil {
			cb(0, fromAgentError(err))
			return
		}

		cb(passkey, nil)
	}, dbus.ObjectPath(dev))
}

func (a *Agent) RequestConfirmation(dev string, passkey uint32, cb func(error)) error {
	return a.request("RequestConfirmation", func(c *dbus.Call) {
		cb(fromAgentError(c.Err))
	}, dbus.ObjectPath(dev), passkey)
}

func (a *Agent) DisplayPasskey(dev string, passkey uint32) error {
	return a.notify("DisplayPasskey", dbus.ObjectPath(dev), passkey)
}

func (a *Agent) RequestOOBData(dev string, cb func(bluetooth.OOBData, error)) error {
	return a.request("RequestOOBData", func(c *dbus.Call) {
		var data bluetooth.OOBData
		if err := c.Store(&data.Hash, &data.Randomizer); err != nil {
			cb(bluetooth.OOBData{}, fromAgentError(err))
			return
		}

		cb(data, nil)
	}, dbus.ObjectPath(dev))
}

func (a *Agent) RequestPairingConsent(dev string, cb func(error)) error {
	return a.request("RequestPairingConsent", func(c *dbus.Call) {
		cb(fromAgentError(c.Err))
	}, dbus.ObjectPath(dev))
}

func (a *Agent) RequestOOBAvailability(dev string, cb func(bool, error)) error {
	return a.request("OutOfBandAvailable", func(c *dbus.Call) {
		if c.Err != nil {
			cb(false, fromAgentError(c.Err))
			return
		}

		cb(true, nil)
	}, dbus.ObjectPath(dev))
}

// Authorize asks the agent whether dev may use service.
func (a *Agent) Authorize(dev string, service uuid.UUID, cb func(error)) error {
	return a.request("Authorize", func(c *dbus.Call) {
		cb(fromAgentError(c.Err))
	}, dbus.ObjectPath(dev), service.String())
}

// Cancel tells the agent its outstanding request was aborted.
func (a *Agent) Cancel() {
	if err := a.notify("Cancel"); err != nil {
		a.log.Debug("Cannot cancel agent request", zap.Error(err))
	}
}

// Release tells the agent it is no longer used and stops tracking its owner.
func (a *Agent) Release() {
	if a.cancelExit != nil {
		a.cancelExit()
		a.cancelExit = nil
	}

	if err := a.notify("Release"); err != nil {
		a.log.Debug("Cannot release agent", zap.Error(err))
	}
}
