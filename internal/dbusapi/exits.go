package dbusapi

import (
	"sync/atomic"

	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"github.com/godbus/dbus/v5"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const nameOwnerChanged = "org.freedesktop.DBus.NameOwnerChanged"

// Exits tracks bus clients and reports when they leave the bus.
type Exits struct {
	sched reactor.Scheduler

	watches *xsync.MapOf[uint64, *exitWatch]
	nextID  atomic.Uint64

	signals chan *dbus.Signal

	log *zap.Logger
}

type exitWatch struct {
	sender string
	fn     func()

	// Only touched on the loop.
	canceled bool
}

// NewExits returns an exit tracker delivering notifications on sched.
func NewExits(sched reactor.Scheduler, log *zap.Logger) *Exits {
	if log == nil {
		log = zap.NewNop()
	}

	return &Exits{
		sched:   sched,
		watches: xsync.NewMapOf[uint64, *exitWatch](),
		log:     log.Named("exits"),
	}
}

// Start subscribes to name owner changes on conn.
func (e *Exits) Start(conn *dbus.Conn) error {
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return err
	}

	e.signals = make(chan *dbus.Signal, 16)
	conn.Signal(e.signals)

	go func() {
		for sig := range e.signals {
			e.handleSignal(sig)
		}
	}()

	return nil
}

// WatchExit calls fn on the loop once sender leaves the bus.
// It must be called from the loop.
func (e *Exits) WatchExit(sender string, fn func()) func() {
	w := &exitWatch{sender: sender, fn: fn}

	id := e.nextID.Add(1)
	e.watches.Store(id, w)

	return func() {
		w.canceled = true
		e.watches.Delete(id)
	}
}

func (e *Exits) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Name != nameOwnerChanged || len(sig.Body) != 3 {
		return
	}

	name, _ := sig.Body[0].(string)
	newOwner, _ := sig.Body[2].(string)

	if name == "" || newOwner != "" {
		return
	}

	e.watches.Range(func(id uint64, w *exitWatch) bool {
		if w.sender != name {
			return true
		}

		e.watches.Delete(id)
		e.sched.Post(func() {
			if w.canceled {
				return
			}

			w.canceled = true
			e.log.Debug("Client left the bus", zap.String("sender", name))
			w.fn()
		})

		return true
	})
}
