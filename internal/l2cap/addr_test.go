package l2cap

import (
	"testing"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/stretchr/testify/assert"
)

func TestFromWire(t *testing.T) {
	raw := [6]byte{0xff, 0xee, 0xdd, 0xcc, 0xbb, 0xaa}

	assert.Equal(t, bluetooth.MustParseMAC("AA:BB:CC:DD:EE:FF"), fromWire(raw))
	assert.Equal(t, raw, wireOrder(wireOrder(raw)))
}
