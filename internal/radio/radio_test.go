package radio

import (
	"testing"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestUnsupported(t *testing.T) {
	u := NewUnsupported(zaptest.NewLogger(t))
	peer := bluetooth.MustParseMAC("AA:BB:CC:DD:EE:FF")

	assert.ErrorIs(t, u.CreateBonding(peer, bluetooth.CapabilityDisplayYesNo), errorkinds.ErrNotSupported)
	assert.ErrorIs(t, u.Disconnect(peer), errorkinds.ErrNotSupported)
	assert.ErrorIs(t, u.Search(peer, peer, bluetooth.UUID16(bluetooth.L2CAPProtocol), nil), errorkinds.ErrNotSupported)

	_, err := u.OpenChannel(peer, peer)
	assert.ErrorIs(t, err, errorkinds.ErrNotSupported)
}
