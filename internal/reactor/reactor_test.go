package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoopRunsTasksInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLoop(8, zaptest.NewLogger(t))

	go l.Run(ctx)

	var got []int
	for i := range 5 {
		l.Post(func() { got = append(got, i) })
	}

	require.NoError(t, l.Invoke(func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)

	cancel()
	<-l.Done()
	assert.ErrorIs(t, l.Invoke(func() {}), ErrStopped)
}

func TestLoopTimerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLoop(8, nil)
	go l.Run(ctx)

	fired := make(chan string, 2)

	var cancelled bool
	require.NoError(t, l.Invoke(func() {
		id := l.AfterFunc(10*time.Millisecond, func() { fired <- "cancelled" })
		l.AfterFunc(20*time.Millisecond, func() { fired <- "kept" })
		cancelled = l.Cancel(id)
	}))

	assert.True(t, cancelled)

	select {
	case v := <-fired:
		assert.Equal(t, "kept", v)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestManualAdvance(t *testing.T) {
	m := NewManual()

	var order []string
	m.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	a := m.AfterFunc(time.Second, func() {
		order = append(order, "a")
		m.AfterFunc(500*time.Millisecond, func() { order = append(order, "a2") })
	})
	c := m.AfterFunc(3*time.Second, func() { order = append(order, "c") })

	assert.True(t, m.Armed(a))
	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "a2", "b"}, order)

	assert.True(t, m.Cancel(c))
	assert.False(t, m.Cancel(c))
	m.Advance(time.Hour)
	assert.Equal(t, []string{"a", "a2", "b"}, order)
	assert.Zero(t, m.Pending())
}
