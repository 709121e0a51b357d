//go:build !linux

package platform

import (
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/config"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/bluetuith-org/bluez-lifecycle/internal/netif"
	"github.com/bluetuith-org/bluez-lifecycle/internal/network"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"go.uber.org/zap"
)

type transport struct{}

func (transport) Listen(bluetooth.MacAddress, network.ListenOptions, func(network.Conn)) (network.Listener, error) {
	return nil, errorkinds.ErrNotSupported
}

// NewBackend returns a backend whose operations are not supported.
func NewBackend(_ reactor.Scheduler, cfg config.Network, log *zap.Logger) (*Backend, PlatformInfo) {
	return &Backend{
		Transport:  transport{},
		Interfaces: netif.New(cfg, netif.NewKernelControl(), nil, nil, log),
	}, NewPlatformInfo(UnsupportedStack)
}
