package device

import (
	"testing"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinCodeRequest(t *testing.T) {
	f := newFixture(t)
	d := f.device(peerAddr)

	var (
		pin     string
		replies int
	)

	require.NoError(t, d.RequestAuthentication(PinCodeRequest{Reply: func(p string, err error) {
		require.NoError(t, err)
		pin = p
		replies++
	}}))
	require.NotNil(t, f.agent.pin)
	assert.True(t, d.IsAuthenticating())
	assert.Zero(t, f.sdp.opened)

	f.agent.pin("0000", nil)
	assert.Equal(t, "0000", pin)

	// The request stays pending until the bonding completes.
	assert.True(t, d.IsAuthenticating())

	f.agent.pin("1234", nil)
	assert.Equal(t, 1, replies)

	d.BondingComplete(errorkinds.HCISuccess)
	assert.False(t, d.IsAuthenticating())
}

func TestPinCodeRequestKeepsCatalogChannelOpen(t *testing.T) {
	f := newFixture(t)
	d := f.device(auxAddr)

	require.NoError(t, d.RequestAuthentication(PinCodeRequest{Reply: func(string, error) {}}))
	assert.Equal(t, 1, f.sdp.opened)
	assert.NotNil(t, d.aux)

	f.agent.pin("0000", nil)
	assert.Equal(t, 1, f.sdp.closed)
	assert.Nil(t, d.aux)
}

func TestAuxChannelPolicyOverride(t *testing.T) {
	f := newFixture(t)
	f.registry.aux = func(bluetooth.MacAddress) bool { return false }

	d := f.device(auxAddr)
	require.NoError(t, d.RequestAuthentication(PinCodeRequest{Reply: func(string, error) {}}))
	assert.Zero(t, f.sdp.opened)
}

func TestSingleAuthenticationRequest(t *testing.T) {
	f := newFixture(t)
	d := f.device(peerAddr)

	require.NoError(t, d.RequestAuthentication(PasskeyRequest{Reply: func(uint32, error) {}}))

	err := d.RequestAuthentication(ConfirmRequest{Passkey: 1, Reply: func(error) {}})
	assert.ErrorIs(t, err, errorkinds.ErrInProgress)
	assert.Nil(t, f.agent.confirm)
}

func TestAuthenticationWithoutAgent(t *testing.T) {
	f := newFixture(t)
	f.adapter.SetAgent(nil)

	d := f.device(peerAddr)

	err := d.RequestAuthentication(ConsentRequest{Reply: func(error) {}})
	assert.ErrorIs(t, err, errorkinds.ErrNoAgent)
	assert.False(t, d.IsAuthenticating())

	err = d.RequestOOBAvailability(func(bool, error) {})
	assert.ErrorIs(t, err, errorkinds.ErrNoAgent)
}

func TestAgentDispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.agent.failWith = errAgent

	d := f.device(peerAddr)

	err := d.RequestAuthentication(OOBRequest{Reply: func(bluetooth.OOBData, error) {}})
	assert.ErrorIs(t, err, errAgent)
	assert.False(t, d.IsAuthenticating())

	// A new request can be made.
	f.agent.failWith = nil
	require.NoError(t, d.RequestAuthentication(OOBRequest{Reply: func(bluetooth.OOBData, error) {}}))
}

func TestCancelAuthenticationDropsLateReply(t *testing.T) {
	f := newFixture(t)
	d := f.device(peerAddr)

	var errs []error

	require.NoError(t, d.RequestAuthentication(ConfirmRequest{Passkey: 123456, Reply: func(err error) {
		errs = append(errs, err)
	}}))

	d.CancelAuthentication(false)

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], errorkinds.ErrCanceled)
	assert.Equal(t, 1, f.agent.canceled)
	assert.False(t, d.IsAuthenticating())

	f.agent.confirm(nil)
	assert.Len(t, errs, 1)
}

func TestAbortedAuthenticationIsNotAnswered(t *testing.T) {
	f := newFixture(t)
	d := f.device(peerAddr)

	replied := false
	require.NoError(t, d.RequestAuthentication(PasskeyRequest{Reply: func(uint32, error) { replied = true }}))

	d.CancelAuthentication(true)

	assert.False(t, replied)
	assert.False(t, d.IsAuthenticating())
	assert.Equal(t, 1, f.agent.canceled)
}

func TestNotifyRequestEndsOnPairingComplete(t *testing.T) {
	f := newFixture(t)
	d := f.device(peerAddr)

	require.NoError(t, d.RequestAuthentication(NotifyRequest{Passkey: 42}))
	assert.Equal(t, []uint32{42}, f.agent.shown)

	d.SimplePairingComplete(errorkinds.HCISuccess)
	assert.Equal(t, 1, f.agent.canceled)
}

func TestAutoRequest(t *testing.T) {
	f := newFixture(t)
	d := f.device(peerAddr)

	require.NoError(t, d.RequestAuthentication(AutoRequest{}))
	assert.True(t, d.IsAuthenticating())

	d.BondingComplete(errorkinds.HCISuccess)
	assert.False(t, d.IsAuthenticating())
}

func TestAgentExitDuringAuthentication(t *testing.T) {
	f := newFixture(t)
	d := f.device(peerAddr)

	require.NoError(t, d.CreateBonding(newCall(":1.5"), "/agent", "", false))

	var errs []error
	require.NoError(t, d.RequestAuthentication(ConsentRequest{Reply: func(err error) { errs = append(errs, err) }}))
	require.NotNil(t, f.agents.agent.consent)

	f.agents.removed()
	d.CancelAuthentication(false)

	// The departed agent is not asked to cancel.
	assert.Zero(t, f.agents.agent.canceled)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], errorkinds.ErrCanceled)
}

func TestAuthTypes(t *testing.T) {
	for _, tc := range []struct {
		req AuthRequest
		typ bluetooth.AuthType
	}{
		{PinCodeRequest{}, bluetooth.AuthPinCode},
		{PasskeyRequest{}, bluetooth.AuthPasskey},
		{ConfirmRequest{}, bluetooth.AuthConfirm},
		{NotifyRequest{}, bluetooth.AuthNotify},
		{OOBRequest{}, bluetooth.AuthOOB},
		{ConsentRequest{}, bluetooth.AuthPairingConsent},
		{AutoRequest{}, bluetooth.AuthAuto},
	} {
		assert.Equal(t, tc.typ, tc.req.Type())
	}
}

func TestPinDispatchFailureClosesCatalogChannel(t *testing.T) {
	f := newFixture(t)
	f.agent.failWith = errAgent

	d := f.device(auxAddr)

	err := d.RequestAuthentication(PinCodeRequest{Reply: func(string, error) {}})
	assert.ErrorIs(t, err, errAgent)
	assert.Equal(t, 1, f.sdp.opened)
	assert.Equal(t, 1, f.sdp.closed)
	assert.Nil(t, d.aux)
}
