// Package reactor provides the single-goroutine event loop that owns all
// engine state. Socket readiness, bus replies and timer expiries are posted
// onto the loop as tasks, and each task runs to completion before the next.
package reactor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// TimerID identifies a timer armed with AfterFunc. The zero value is never a live timer.
type TimerID uint64

// Scheduler is the interface shared by the live loop and the manual test scheduler.
type Scheduler interface {
	// Post queues fn to run on the loop. It is safe to call from any goroutine.
	Post(fn func())

	// Invoke runs fn on the loop and waits for it to return.
	// It must not be called from the loop itself.
	Invoke(fn func()) error

	// AfterFunc arms a one-shot timer that runs fn on the loop after d.
	// It must be called from the loop.
	AfterFunc(d time.Duration, fn func()) TimerID

	// Cancel disarms a timer. Once Cancel returns, fn will not run.
	// It must be called from the loop.
	Cancel(id TimerID) bool
}

// ErrStopped is returned by Invoke once the loop has exited.
var ErrStopped = errors.New("event loop stopped")

// Loop is the live Scheduler.
type Loop struct {
	tasks chan func()
	done  chan struct{}

	nextID TimerID
	timers map[TimerID]*time.Timer

	log *zap.Logger
}

// NewLoop returns a loop with a task queue of the given depth.
func NewLoop(depth int, log *zap.Logger) *Loop {
	if depth <= 0 {
		depth = 64
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Loop{
		tasks:  make(chan func(), depth),
		done:   make(chan struct{}),
		timers: make(map[TimerID]*time.Timer),
		log:    log,
	}
}

// Run processes tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	defer func() {
		for id, t := range l.timers {
			t.Stop()
			delete(l.timers, id)
		}
	}()

	l.log.Debug("event loop started")

	for {
		select {
		case <-ctx.Done():
			l.log.Debug("event loop stopped")
			return

		case fn := <-l.tasks:
			fn()
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues fn to run on the loop. Tasks posted after the loop exits are dropped.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Invoke runs fn on the loop and waits for it to return.
func (l *Loop) Invoke(fn func()) error {
	ran := make(chan struct{})

	select {
	case l.tasks <- func() { fn(); close(ran) }:
	case <-l.done:
		return ErrStopped
	}

	select {
	case <-ran:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// AfterFunc arms a one-shot timer.
func (l *Loop) AfterFunc(d time.Duration, fn func()) TimerID {
	l.nextID++
	id := l.nextID

	l.timers[id] = time.AfterFunc(d, func() {
		l.Post(func() {
			if _, ok := l.timers[id]; !ok {
				return
			}

			delete(l.timers, id)
			fn()
		})
	})

	return id
}

// Cancel disarms a timer.
func (l *Loop) Cancel(id TimerID) bool {
	t, ok := l.timers[id]
	if !ok {
		return false
	}

	t.Stop()
	delete(l.timers, id)

	return true
}
