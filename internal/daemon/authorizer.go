package daemon

import (
	"time"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/bluetuith-org/bluez-lifecycle/internal/device"
	"github.com/bluetuith-org/bluez-lifecycle/internal/network"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// serviceAgent is an agent able to authorize incoming service connections.
type serviceAgent interface {
	Authorize(device string, service uuid.UUID, cb func(error)) error
}

// trustStore reports whether a peer is trusted.
type trustStore interface {
	Trusted(local, peer bluetooth.MacAddress) (bool, error)
}

// authorizer grants incoming service connections. Trusted peers are
// accepted, then the adapter's agent is asked, then the fallback handler.
type authorizer struct {
	sched    reactor.Scheduler
	devices  *device.Registry
	store    trustStore
	fallback bluetooth.ServiceAuthorizer
	timeout  time.Duration

	log *zap.Logger
}

var _ network.Authorizer = (*authorizer)(nil)

func (a *authorizer) Authorize(local, peer bluetooth.MacAddress, service uuid.UUID, cb func(err error)) error {
	log := a.log.With(zap.Stringer("peer", peer), zap.Stringer("service", service))

	trusted, err := a.store.Trusted(local, peer)
	if err != nil {
		log.Warn("Cannot read trust state", zap.Error(err))
	}

	if trusted {
		log.Debug("Trusted peer authorized")
		a.sched.Post(func() { cb(nil) })

		return nil
	}

	if adapter, ok := a.devices.Adapter(local); ok {
		if agent, ok := adapter.Agent().(serviceAgent); ok {
			return agent.Authorize(adapter.DevicePath(peer), service, cb)
		}
	}

	if a.fallback == nil {
		return errorkinds.ErrNoAgent
	}

	go func() {
		timeout := bluetooth.NewAuthTimeout(a.timeout)
		defer timeout.Cancel()

		err := a.fallback.AuthorizeService(timeout, peer, service)
		if err == nil && timeout.Context().Err() != nil {
			err = errorkinds.ErrAuthenticationTimeout
		}

		a.sched.Post(func() { cb(err) })
	}()

	return nil
}
