package reactor

import (
	"sort"
	"time"
)

// Manual is a Scheduler driven by the caller, with a virtual clock.
// Tasks run only from RunPending and Advance, which makes callback
// ordering deterministic in tests.
type Manual struct {
	now    time.Duration
	nextID TimerID
	seq    uint64

	tasks  []func()
	timers map[TimerID]*manualTimer
}

type manualTimer struct {
	at  time.Duration
	seq uint64
	fn  func()
}

// NewManual returns an idle manual scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{timers: make(map[TimerID]*manualTimer)}
}

// Post queues fn.
func (m *Manual) Post(fn func()) {
	m.tasks = append(m.tasks, fn)
}

// Invoke runs fn immediately, followed by any tasks it posted.
func (m *Manual) Invoke(fn func()) error {
	fn()
	m.RunPending()

	return nil
}

// AfterFunc arms a virtual timer.
func (m *Manual) AfterFunc(d time.Duration, fn func()) TimerID {
	m.nextID++
	m.seq++
	m.timers[m.nextID] = &manualTimer{at: m.now + d, seq: m.seq, fn: fn}

	return m.nextID
}

// Cancel disarms a virtual timer.
func (m *Manual) Cancel(id TimerID) bool {
	if _, ok := m.timers[id]; !ok {
		return false
	}

	delete(m.timers, id)

	return true
}

// Armed reports whether the timer is still pending.
func (m *Manual) Armed(id TimerID) bool {
	_, ok := m.timers[id]
	return ok
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	return len(m.timers)
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	return m.now
}

// RunPending runs queued tasks until the queue is empty.
func (m *Manual) RunPending() {
	for len(m.tasks) > 0 {
		fn := m.tasks[0]
		m.tasks = m.tasks[1:]
		fn()
	}
}

// Advance moves the virtual clock forward by d, firing due timers in
// deadline order and draining the task queue after each one.
func (m *Manual) Advance(d time.Duration) {
	end := m.now + d

	m.RunPending()

	for {
		id, t := m.next(end)
		if t == nil {
			break
		}

		delete(m.timers, id)
		m.now = t.at
		t.fn()
		m.RunPending()
	}

	m.now = end
}

func (m *Manual) next(end time.Duration) (TimerID, *manualTimer) {
	ids := make([]TimerID, 0, len(m.timers))
	for id, t := range m.timers {
		if t.at <= end {
			ids = append(ids, id)
		}
	}

	if len(ids) == 0 {
		return 0, nil
	}

	sort.Slice(ids, func(i, j int) bool {
		a, b := m.timers[ids[i]], m.timers[ids[j]]
		if a.at != b.at {
			return a.at < b.at
		}

		return a.seq < b.seq
	})

	return ids[0], m.timers[ids[0]]
}
