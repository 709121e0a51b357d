// Package l2cap provides listening L2CAP sockets whose connections are
// confirmed by the engine before the link setup completes.
package l2cap

import (
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
)

// wireOrder converts an address between display order and the
// little-endian order used by the kernel.
func wireOrder(b [6]byte) [6]byte {
	var r [6]byte
	for i := range b {
		r[i] = b[len(b)-1-i]
	}

	return r
}

// fromWire returns the display form of an address received from the kernel.
func fromWire(b [6]byte) bluetooth.MacAddress {
	return bluetooth.MacAddress(wireOrder(b))
}
