//go:build !linux

package netif

import (
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
)

// KernelControl is unavailable on this platform.
type KernelControl struct{}

// NewKernelControl returns a control whose operations are not supported.
func NewKernelControl() *KernelControl {
	return &KernelControl{}
}

func (*KernelControl) ConnAdd(int, uint16, string) (string, error) {
	return "", errorkinds.ErrNotSupported
}

func (*KernelControl) ConnDel(bluetooth.MacAddress) error {
	return errorkinds.ErrNotSupported
}

func (*KernelControl) Close() error {
	return nil
}
