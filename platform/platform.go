// Package platform selects the socket and interface backends of the
// running operating system.
package platform

import (
	"runtime"

	"github.com/bluetuith-org/bluez-lifecycle/internal/network"
)

type BluetoothStack string

const (
	KernelStack      BluetoothStack = "BlueZ (kernel sockets)"
	UnsupportedStack BluetoothStack = "Unsupported"
)

// PlatformInfo describes platform-specific information.
type PlatformInfo struct {
	OS    string         `json:"os,omitempty" codec:"OS,omitempty"`
	Stack BluetoothStack `json:"bluetooth_stack,omitempty" codec:"Stack,omitempty"`
}

// NewPlatformInfo returns a new PlatformInfo.
func NewPlatformInfo(stack BluetoothStack) PlatformInfo {
	return PlatformInfo{
		OS:    runtime.GOOS + " (" + runtime.GOARCH + ")",
		Stack: stack,
	}
}

// String converts a BluetoothStack to a string.
func (b BluetoothStack) String() string {
	return string(b)
}

// Backend holds the operating system facilities used by the network
// sessions.
type Backend struct {
	Transport  network.Transport
	Interfaces network.Interfaces

	closers []func() error
}

// Close releases the resources held by the backend.
func (b *Backend) Close() error {
	var err error
	for _, c := range b.closers {
		if cerr := c(); cerr != nil && err == nil {
			err = cerr
		}
	}

	return err
}
