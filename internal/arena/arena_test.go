package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaleHandleAfterReuse(t *testing.T) {
	a := New[string]()

	h1 := a.Insert("first")
	require.True(t, a.Remove(h1))

	h2 := a.Insert("second")
	assert.Equal(t, h1.index, h2.index)

	_, ok := a.Get(h1)
	assert.False(t, ok)

	v, ok := a.Get(h2)
	require.True(t, ok)
	assert.Equal(t, "second", v)
	assert.False(t, a.Remove(h1))
	assert.Equal(t, 1, a.Len())
}

func TestZeroHandle(t *testing.T) {
	a := New[int]()
	a.Insert(1)

	var h Handle
	assert.True(t, h.IsZero())

	_, ok := a.Get(h)
	assert.False(t, ok)
}

func TestEachToleratesRemoval(t *testing.T) {
	a := New[int]()
	for i := range 4 {
		a.Insert(i)
	}

	var seen []int
	a.Each(func(h Handle, v int) bool {
		seen = append(seen, v)
		a.Remove(h)
		return true
	})

	assert.Equal(t, []int{0, 1, 2, 3}, seen)
	assert.Zero(t, a.Len())
}
