// Package arena stores objects behind generational handles. A handle
// outlives the object it names; looking it up after removal fails instead
// of returning a recycled slot.
package arena

// Handle is a stable reference to an arena entry.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether the handle was never issued.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

type slot[T any] struct {
	gen   uint32
	live  bool
	value T
}

// Arena owns values of type T. It is not safe for concurrent use.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	count int
}

// New returns an empty arena.
func New[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Insert stores v and returns its handle.
func (a *Arena[T]) Insert(v T) Handle {
	var idx uint32

	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{})
	}

	s := &a.slots[idx]
	s.gen++
	s.live = true
	s.value = v
	a.count++

	return Handle{index: idx, gen: s.gen}
}

// Get returns the value for h, if it is still live.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	var zero T

	if h.IsZero() || int(h.index) >= len(a.slots) {
		return zero, false
	}

	s := &a.slots[h.index]
	if !s.live || s.gen != h.gen {
		return zero, false
	}

	return s.value, true
}

// Remove drops the value for h. It reports whether h was live.
func (a *Arena[T]) Remove(h Handle) bool {
	if _, ok := a.Get(h); !ok {
		return false
	}

	var zero T

	s := &a.slots[h.index]
	s.live = false
	s.value = zero
	a.free = append(a.free, h.index)
	a.count--

	return true
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	return a.count
}

// Each calls fn for every live value in slot order.
// fn may remove entries, including the current one.
func (a *Arena[T]) Each(fn func(h Handle, v T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.live {
			continue
		}

		if !fn(Handle{index: uint32(i), gen: s.gen}, s.value) {
			return
		}
	}
}
