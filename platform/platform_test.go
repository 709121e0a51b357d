package platform

import (
	"errors"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlatformInfo(t *testing.T) {
	info := NewPlatformInfo(KernelStack)

	assert.True(t, strings.HasPrefix(info.OS, runtime.GOOS))
	assert.Equal(t, "BlueZ (kernel sockets)", info.Stack.String())
}

func TestBackendCloseReportsFirstError(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")

	var calls int
	b := &Backend{closers: []func() error{
		func() error { calls++; return nil },
		func() error { calls++; return first },
		func() error { calls++; return second },
	}}

	assert.ErrorIs(t, b.Close(), first)
	assert.Equal(t, 3, calls)
}
