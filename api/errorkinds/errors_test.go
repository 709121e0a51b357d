package errorkinds

import (
	"context"
	"testing"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/stretchr/testify/assert"
)

func TestFromHCIStatus(t *testing.T) {
	cases := map[HCIStatus]error{
		0x00: nil,
		0x04: ErrConnectionAttemptFailed,
		0x08: ErrConnectionAttemptFailed,
		0x10: ErrAuthenticationTimeout,
		0x22: ErrAuthenticationTimeout,
		0x28: ErrAuthenticationTimeout,
		0x17: ErrRepeatedAttempts,
		0x06: ErrAuthenticationRejected,
		0x18: ErrAuthenticationRejected,
		0x07: ErrAuthenticationCanceled,
		0x09: ErrAuthenticationCanceled,
		0x0a: ErrAuthenticationCanceled,
		0x0d: ErrAuthenticationCanceled,
		0x13: ErrAuthenticationCanceled,
		0x14: ErrAuthenticationCanceled,
		0x16: ErrAuthenticationCanceled,
		0x05: ErrAuthenticationFailed,
		0x3e: ErrAuthenticationFailed,
	}

	for status, want := range cases {
		assert.Equal(t, want, FromHCIStatus(status), "status 0x%02x", uint8(status))
	}
}

func TestTimeoutStatusCodes(t *testing.T) {
	assert.EqualValues(t, 0x10, HCIConnAcceptTimeout)
	assert.EqualValues(t, 0x22, HCILMPResponseTimeout)
	assert.Equal(t, ErrAuthenticationTimeout, FromHCIStatus(HCIConnAcceptTimeout))
	assert.Equal(t, ErrAuthenticationTimeout, FromHCIStatus(HCILMPResponseTimeout))
}

func TestPurgesCredentials(t *testing.T) {
	assert.True(t, HCIPinOrKeyMissing.PurgesCredentials())
	assert.True(t, HCIPairingNotAllowed.PurgesCredentials())
	assert.True(t, HCIAuthenticationFailure.PurgesCredentials())
	assert.False(t, HCIPageTimeout.PurgesCredentials())
	assert.False(t, HCISuccess.PurgesCredentials())
}

func TestNameFollowsWrappedErrors(t *testing.T) {
	err := fault.Wrap(ErrInProgress,
		fctx.With(context.Background(), "error_at", "create-bonding"),
		ftag.With(KindInProgress),
		fmsg.With("Bonding in progress"),
	)

	assert.Equal(t, "org.bluez.Error.InProgress", Name(err))
	assert.Equal(t, KindInProgress, Kind(err))
	assert.Equal(t, "org.bluez.Error.Failed", Name(assert.AnError))
	assert.Equal(t, ftag.Internal, Kind(assert.AnError))
}
