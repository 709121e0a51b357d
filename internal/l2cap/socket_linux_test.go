//go:build linux

package l2cap

import (
	"context"
	"testing"
	"time"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"
)

func TestCloseStopsPendingAccept(t *testing.T) {
	log := zaptest.NewLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	loop := reactor.NewLoop(4, log)
	go loop.Run(ctx)

	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})

	// The read end of a pipe never becomes writable.
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	t.Cleanup(func() { unix.Close(p[1]) })

	c := newConn(p[0], bluetooth.MacAddress{}, bluetooth.MacAddress{}, loop, log)

	result := make(chan error, 1)
	require.NoError(t, c.Accept(func(err error) { result <- err }))

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close blocked on the pending accept")
	}

	select {
	case err := <-result:
		assert.ErrorIs(t, err, unix.ECANCELED)
	case <-time.After(time.Second):
		t.Fatal("accept did not report")
	}

	assert.NoError(t, c.Close())
}
