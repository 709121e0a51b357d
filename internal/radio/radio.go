// Package radio provides controller backends for local adapters.
//
// The controller management protocol is not implemented by this module;
// Unsupported stands in for it so that the device engine can be served
// over the bus while every radio operation fails with NotSupported.
package radio

import (
	"io"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/bluetuith-org/bluez-lifecycle/internal/device"
	"github.com/bluetuith-org/bluez-lifecycle/internal/sdp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Unsupported is a radio, catalog client and primary service discoverer
// whose operations are not supported.
type Unsupported struct {
	log *zap.Logger
}

var (
	_ device.Radio             = (*Unsupported)(nil)
	_ device.SDPClient         = (*Unsupported)(nil)
	_ device.PrimaryDiscoverer = (*Unsupported)(nil)
)

// NewUnsupported returns the stand-in backend.
func NewUnsupported(log *zap.Logger) *Unsupported {
	if log == nil {
		log = zap.NewNop()
	}

	return &Unsupported{log: log.Named("radio")}
}

func (u *Unsupported) unsupported(op string, peer bluetooth.MacAddress) error {
	u.log.Debug("Operation not supported", zap.String("op", op), zap.Stringer("peer", peer))
	return errorkinds.ErrNotSupported
}

func (u *Unsupported) CreateBonding(peer bluetooth.MacAddress, _ bluetooth.IOCapability) error {
	return u.unsupported("create-bonding", peer)
}

func (u *Unsupported) CancelBonding(peer bluetooth.MacAddress) error {
	return u.unsupported("cancel-bonding", peer)
}

func (u *Unsupported) RemoveBonding(peer bluetooth.MacAddress) error {
	return u.unsupported("remove-bonding", peer)
}

func (u *Unsupported) SuspendDiscovery() {}
func (u *Unsupported) ResumeDiscovery()  {}

func (u *Unsupported) Disconnect(peer bluetooth.MacAddress) error {
	return u.unsupported("disconnect", peer)
}

func (u *Unsupported) Block(peer bluetooth.MacAddress) error {
	return u.unsupported("block", peer)
}

func (u *Unsupported) Unblock(peer bluetooth.MacAddress) error {
	return u.unsupported("unblock", peer)
}

func (u *Unsupported) SetConnectionParams(peer bluetooth.MacAddress, _ device.ConnParams) error {
	return u.unsupported("connection-params", peer)
}

func (u *Unsupported) Search(_, peer bluetooth.MacAddress, _ uuid.UUID, _ func([]sdp.Record, error)) error {
	return u.unsupported("sdp-search", peer)
}

func (u *Unsupported) Cancel(bluetooth.MacAddress, bluetooth.MacAddress) {}

func (u *Unsupported) OpenChannel(_, peer bluetooth.MacAddress) (io.Closer, error) {
	return nil, u.unsupported("sdp-channel", peer)
}

func (u *Unsupported) DiscoverPrimary(_, peer bluetooth.MacAddress, _ bool, _ func([]device.PrimaryService, error)) error {
	return u.unsupported("primary-discovery", peer)
}
