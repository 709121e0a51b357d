package dbusapi

import (
	"sync"

	"github.com/bluetuith-org/bluez-lifecycle/internal/device"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"github.com/godbus/dbus/v5"
)

// call is a method call whose reply is produced later on the loop.
type call struct {
	sender string

	once  sync.Once
	reply chan callResult
}

type callResult struct {
	value any
	err   error
}

var _ device.Call = (*call)(nil)

func newCall(sender dbus.Sender) *call {
	return &call{sender: string(sender), reply: make(chan callResult, 1)}
}

// Sender returns the unique bus name of the caller.
func (c *call) Sender() string {
	return c.sender
}

// Return answers the call with v.
func (c *call) Return(v any) {
	c.once.Do(func() { c.reply <- callResult{value: v} })
}

// Fail answers the call with err.
func (c *call) Fail(err error) {
	c.once.Do(func() { c.reply <- callResult{err: err} })
}

// deferred starts an operation on the loop and waits for its reply. An
// error returned by start answers the call directly.
func deferred(sched reactor.Scheduler, sender dbus.Sender, start func(c *call) error) (any, error) {
	c := newCall(sender)

	var err error
	if ierr := sched.Invoke(func() { err = start(c) }); ierr != nil {
		return nil, ierr
	}

	if err != nil {
		return nil, err
	}

	res := <-c.reply

	return res.value, res.err
}

// invoke runs fn on the loop and returns its error.
func invoke(sched reactor.Scheduler, fn func() error) error {
	var err error
	if ierr := sched.Invoke(func() { err = fn() }); ierr != nil {
		return ierr
	}

	return err
}
