//go:build linux

package platform

import (
	"github.com/bluetuith-org/bluez-lifecycle/api/config"
	"github.com/bluetuith-org/bluez-lifecycle/internal/l2cap"
	"github.com/bluetuith-org/bluez-lifecycle/internal/netif"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"go.uber.org/zap"
)

// NewBackend returns the kernel socket backend.
func NewBackend(sched reactor.Scheduler, cfg config.Network, log *zap.Logger) (*Backend, PlatformInfo) {
	ctl := netif.NewKernelControl()

	var policy netif.Policy
	if cfg.UnmanageInterfaces {
		nm, err := netif.NewNMPolicy()
		if err != nil {
			log.Warn("NetworkManager is unavailable, tunnel interfaces stay managed", zap.Error(err))
		} else {
			policy = nm
		}
	}

	return &Backend{
		Transport:  l2cap.NewTransport(sched, log),
		Interfaces: netif.New(cfg, ctl, nil, policy, log),
		closers:    []func() error{ctl.Close},
	}, NewPlatformInfo(KernelStack)
}
