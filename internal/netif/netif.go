// Package netif creates the kernel interfaces of network sessions and
// attaches them to bridges.
package netif

import (
	"context"
	"errors"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/config"
	"github.com/bluetuith-org/bluez-lifecycle/internal/bnep"
	"github.com/bluetuith-org/bluez-lifecycle/internal/network"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// ErrNotBridge is returned when the master of a session is not a bridge.
var ErrNotBridge = errors.New("interface is not a bridge")

// Control adds and removes tunnel connections in the kernel.
type Control interface {
	// ConnAdd hands fd over to the kernel and returns the interface name.
	ConnAdd(fd int, role uint16, format string) (string, error)
	ConnDel(peer bluetooth.MacAddress) error
}

// Links manipulates network links.
type Links interface {
	LinkByName(name string) (netlink.Link, error)
	LinkSetMaster(link, master netlink.Link) error
	LinkSetUp(link netlink.Link) error
	LinkSetDown(link netlink.Link) error
}

// Policy is told about interfaces before they are bridged.
type Policy interface {
	Unmanage(ifname string) error
}

// Manager implements network.Interfaces.
type Manager struct {
	ctl    Control
	links  Links
	policy Policy
	format string

	log *zap.Logger
}

var _ network.Interfaces = (*Manager)(nil)

// New returns a manager. policy may be nil.
func New(cfg config.Network, ctl Control, links Links, policy Policy, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}

	if links == nil {
		links = NetlinkLinks{}
	}

	format := cfg.InterfaceFormat
	if format == "" {
		format = "bnep%d"
	}

	return &Manager{
		ctl:    ctl,
		links:  links,
		policy: policy,
		format: format,
		log:    log.Named("netif"),
	}
}

// Add creates the interface of a session.
func (m *Manager) Add(conn network.Conn, role bnep.Role) (string, error) {
	ifname, err := m.ctl.ConnAdd(conn.Fd(), uint16(role), m.format)
	if err != nil {
		return "", wrap(err, "netif-connadd", "Cannot add tunnel connection")
	}

	m.log.Debug("Interface created", zap.String("interface", ifname), zap.Stringer("peer", conn.Remote()))

	return ifname, nil
}

// AttachBridge makes bridge the master of ifname.
func (m *Manager) AttachBridge(ifname, bridge string) error {
	if m.policy != nil {
		if err := m.policy.Unmanage(ifname); err != nil {
			m.log.Warn("Cannot mark interface unmanaged", zap.String("interface", ifname), zap.Error(err))
		}
	}

	master, err := m.links.LinkByName(bridge)
	if err != nil {
		return wrap(err, "netif-bridge", "Cannot find bridge "+bridge)
	}

	if _, ok := master.(*netlink.Bridge); !ok {
		return wrap(ErrNotBridge, "netif-bridge", bridge+" is not a bridge")
	}

	link, err := m.links.LinkByName(ifname)
	if err != nil {
		return wrap(err, "netif-link", "Cannot find interface "+ifname)
	}

	if err := m.links.LinkSetMaster(link, master); err != nil {
		return wrap(err, "netif-master", "Cannot add "+ifname+" to "+bridge)
	}

	return nil
}

// Up brings ifname up.
func (m *Manager) Up(ifname string) error {
	link, err := m.links.LinkByName(ifname)
	if err != nil {
		return wrap(err, "netif-link", "Cannot find interface "+ifname)
	}

	return m.links.LinkSetUp(link)
}

// Down brings ifname down.
func (m *Manager) Down(ifname string) error {
	link, err := m.links.LinkByName(ifname)
	if err != nil {
		return wrap(err, "netif-link", "Cannot find interface "+ifname)
	}

	return m.links.LinkSetDown(link)
}

// Kill removes the tunnel connection with peer.
func (m *Manager) Kill(peer bluetooth.MacAddress) error {
	if err := m.ctl.ConnDel(peer); err != nil {
		return wrap(err, "netif-conndel", "Cannot remove tunnel connection")
	}

	return nil
}

// NetlinkLinks implements Links with rtnetlink.
type NetlinkLinks struct{}

func (NetlinkLinks) LinkByName(name string) (netlink.Link, error) {
	return netlink.LinkByName(name)
}

func (NetlinkLinks) LinkSetMaster(link, master netlink.Link) error {
	return netlink.LinkSetMaster(link, master)
}

func (NetlinkLinks) LinkSetUp(link netlink.Link) error {
	return netlink.LinkSetUp(link)
}

func (NetlinkLinks) LinkSetDown(link netlink.Link) error {
	return netlink.LinkSetDown(link)
}

func wrap(err error, at, msg string) error {
	return fault.Wrap(err,
		fctx.With(context.Background(), "error_at", at),
		ftag.With(ftag.Internal),
		fmsg.With(msg),
	)
}
