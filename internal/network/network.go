// Package network implements the PAN network servers of the local
// adapters: incoming BNEP connections are authorized, their setup
// request is validated and accepted sessions are attached to a bridge.
//
// All methods must be called from the engine's reactor, and every
// collaborator callback is expected to be delivered on it.
package network

import (
	"context"
	"slices"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/config"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/bluetuith-org/bluez-lifecycle/api/eventbus"
	"github.com/bluetuith-org/bluez-lifecycle/internal/bnep"
	"github.com/bluetuith-org/bluez-lifecycle/internal/metrics"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"github.com/bluetuith-org/bluez-lifecycle/internal/sdp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Condition is a readiness condition of a connection.
type Condition uint8

// The different readiness conditions.
const (
	Readable Condition = 1 << iota
	Hangup
)

// Conn is an incoming L2CAP connection whose setup is deferred until
// Accept is called.
type Conn interface {
	Local() bluetooth.MacAddress
	Remote() bluetooth.MacAddress

	// Accept completes the deferred connection setup. cb is called once.
	Accept(cb func(err error)) error

	Read(b []byte) (int, error)
	Write(b []byte) (int, error)

	// Watch calls fn whenever one of the conditions is met, until the
	// returned function is called.
	Watch(cond Condition, fn func(Condition)) (cancel func())

	// Fd returns the socket descriptor handed to the kernel when the
	// session is added.
	Fd() int

	Shutdown() error
	Close() error
}

// ListenOptions holds the socket options of a network listener.
type ListenOptions struct {
	PSM      uint16
	MTU      uint16
	Security bool
	Master   bool
}

// Transport creates listening sockets.
type Transport interface {
	// Listen calls confirm for every incoming connection.
	Listen(local bluetooth.MacAddress, opts ListenOptions, confirm func(Conn)) (Listener, error)
}

// Listener is a listening socket.
type Listener interface {
	Close() error
}

// Authorizer asks whether a peer may use a local service.
type Authorizer interface {
	// Authorize calls cb once with nil when the connection is allowed.
	Authorize(local, peer bluetooth.MacAddress, service uuid.UUID, cb func(err error)) error
}

// Interfaces manages kernel network interfaces of sessions.
type Interfaces interface {
	// Add creates the network interface of a session and returns its name.
	Add(conn Conn, role bnep.Role) (string, error)
	AttachBridge(ifname, bridge string) error
	Up(ifname string) error
	Down(ifname string) error

	// Kill tears down the session with peer.
	Kill(peer bluetooth.MacAddress) error
}

// RecordPublisher advertises local service records.
type RecordPublisher interface {
	Add(adapter bluetooth.MacAddress, rec sdp.Record) (uint32, error)
	Remove(handle uint32) error
}

// ExitWatcher watches bus clients for disconnection.
type ExitWatcher interface {
	WatchExit(sender string, fn func()) (cancel func())
}

// Options holds the dependencies of a Registry.
type Options struct {
	Scheduler  reactor.Scheduler
	Transport  Transport
	Authorizer Authorizer
	Interfaces Interfaces
	Records    RecordPublisher
	Exits      ExitWatcher
	Events     *eventbus.Emitter
	Config     config.Network
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Registry holds the network adapters.
type Registry struct {
	sched   reactor.Scheduler
	trans   Transport
	auth    Authorizer
	ifaces  Interfaces
	records RecordPublisher
	exits   ExitWatcher
	events  *eventbus.Emitter
	cfg     config.Network
	metrics *metrics.Metrics
	log     *zap.Logger

	adapters map[bluetooth.MacAddress]*Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	events := opts.Events
	if events == nil {
		events = eventbus.New(eventbus.NilHandler())
	}

	return &Registry{
		sched:    opts.Scheduler,
		trans:    opts.Transport,
		auth:     opts.Authorizer,
		ifaces:   opts.Interfaces,
		records:  opts.Records,
		exits:    opts.Exits,
		events:   events,
		cfg:      opts.Config,
		metrics:  opts.Metrics,
		log:      log.Named("network"),
		adapters: make(map[bluetooth.MacAddress]*Adapter),
	}
}

// AddAdapter starts listening for network connections on a local adapter
// and creates a server for each configured role.
func (r *Registry) AddAdapter(local bluetooth.MacAddress, path string) (*Adapter, error) {
	if a, ok := r.adapters[local]; ok {
		return a, nil
	}

	roles := make([]bnep.Role, 0, len(r.cfg.Roles))
	for _, name := range r.cfg.Roles {
		role, ok := bnep.ParseRole(name)
		if !ok {
			return nil, failed(errorkinds.ErrInvalidArguments, "network-add-adapter", "Invalid server role "+name)
		}

		if !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}

	a := &Adapter{
		registry: r,
		address:  local,
		path:     path,
		servers:  make(map[bnep.Role]*Server, len(roles)),
		log:      r.log.With(zap.Stringer("adapter", local)),
	}

	for _, role := range roles {
		a.servers[role] = newServer(a, role)
	}

	l, err := r.trans.Listen(local, ListenOptions{
		PSM:      bnep.PSM,
		MTU:      bnep.MTU,
		Security: r.cfg.Security,
		Master:   r.cfg.Master,
	}, a.confirm)
	if err != nil {
		return nil, failed(err, "network-listen", "Cannot listen for network connections")
	}

	a.listener = l
	r.adapters[local] = a

	a.log.Debug("Network adapter registered", zap.Int("servers", len(roles)))

	return a, nil
}

// RemoveAdapter stops the servers of a local adapter.
func (r *Registry) RemoveAdapter(local bluetooth.MacAddress) {
	a, ok := r.adapters[local]
	if !ok {
		return
	}

	delete(r.adapters, local)
	a.free()
}

// Adapter returns the network adapter of a local adapter.
func (r *Registry) Adapter(local bluetooth.MacAddress) (*Adapter, bool) {
	a, ok := r.adapters[local]
	return a, ok
}

func failed(err error, at, msg string) error {
	return fault.Wrap(err,
		fctx.With(context.Background(), "error_at", at),
		ftag.With(errorkinds.Kind(err)),
		fmsg.With(msg),
	)
}
