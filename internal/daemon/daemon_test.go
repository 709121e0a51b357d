package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/config"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/bluetuith-org/bluez-lifecycle/internal/device"
	"github.com/bluetuith-org/bluez-lifecycle/internal/radio"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"github.com/bluetuith-org/bluez-lifecycle/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	localAddr = bluetooth.MustParseMAC("00:11:22:33:44:55")
	peerAddr  = bluetooth.MustParseMAC("AA:BB:CC:DD:EE:FF")
	service   = bluetooth.UUID16(0x1116)
)

type fakeAgent struct {
	device.Agent

	device  string
	service uuid.UUID
	reply   error
}

func (a *fakeAgent) Authorize(dev string, service uuid.UUID, cb func(error)) error {
	a.device, a.service = dev, service
	cb(a.reply)

	return nil
}

type authorizerFunc func(bluetooth.AuthTimeout, bluetooth.MacAddress, uuid.UUID) error

func (f authorizerFunc) AuthorizeService(t bluetooth.AuthTimeout, address bluetooth.MacAddress, service uuid.UUID) error {
	return f(t, address, service)
}

type authFixture struct {
	loop    *reactor.Loop
	store   *storage.Store
	devices *device.Registry
	auth    *authorizer
}

func newAuthFixture(t *testing.T, fallback bluetooth.ServiceAuthorizer) *authFixture {
	t.Helper()

	log := zaptest.NewLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	loop := reactor.NewLoop(16, log)
	go loop.Run(ctx)

	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})

	store, err := storage.Open(config.Storage{InMemory: true}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	devices := device.NewRegistry(device.Options{
		Scheduler: loop,
		Store:     store,
		Config:    config.New().Device,
		Logger:    log,
	})

	unsupported := radio.NewUnsupported(log)
	require.NoError(t, loop.Invoke(func() {
		_, err = devices.AddAdapter(device.AdapterOptions{
			Address: localAddr,
			Path:    "/org/bluez/hci0",
			Radio:   unsupported,
			SDP:     unsupported,
			GATT:    unsupported,
		})
	}))
	require.NoError(t, err)

	return &authFixture{
		loop:    loop,
		store:   store,
		devices: devices,
		auth: &authorizer{
			sched:    loop,
			devices:  devices,
			store:    store,
			fallback: fallback,
			timeout:  time.Second,
			log:      log,
		},
	}
}

// authorize runs an authorization on the loop and waits for its answer.
func (f *authFixture) authorize(t *testing.T) (error, error) {
	t.Helper()

	result := make(chan error, 1)

	var err error
	require.NoError(t, f.loop.Invoke(func() {
		err = f.auth.Authorize(localAddr, peerAddr, service, func(err error) { result <- err })
	}))

	if err != nil {
		return err, nil
	}

	select {
	case res := <-result:
		return nil, res
	case <-time.After(time.Second):
		t.Fatal("authorization did not complete")
	}

	return nil, nil
}

func TestAuthorizeTrustedPeer(t *testing.T) {
	f := newAuthFixture(t, nil)
	require.NoError(t, f.store.SetTrusted(localAddr, peerAddr, true))

	err, res := f.authorize(t)
	require.NoError(t, err)
	assert.NoError(t, res)
}

func TestAuthorizeAsksAdapterAgent(t *testing.T) {
	f := newAuthFixture(t, nil)

	agent := &fakeAgent{reply: errorkinds.ErrAuthenticationRejected}
	require.NoError(t, f.loop.Invoke(func() {
		a, _ := f.devices.Adapter(localAddr)
		a.SetAgent(agent)
	}))

	err, res := f.authorize(t)
	require.NoError(t, err)
	assert.ErrorIs(t, res, errorkinds.ErrAuthenticationRejected)
	assert.Equal(t, "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", agent.device)
	assert.Equal(t, service, agent.service)
}

func TestAuthorizeFallback(t *testing.T) {
	var got bluetooth.MacAddress

	f := newAuthFixture(t, authorizerFunc(func(_ bluetooth.AuthTimeout, address bluetooth.MacAddress, _ uuid.UUID) error {
		got = address
		return nil
	}))

	err, res := f.authorize(t)
	require.NoError(t, err)
	assert.NoError(t, res)
	assert.Equal(t, peerAddr, got)
}

func TestAuthorizeFallbackTimeout(t *testing.T) {
	f := newAuthFixture(t, authorizerFunc(func(timeout bluetooth.AuthTimeout, _ bluetooth.MacAddress, _ uuid.UUID) error {
		<-timeout.Done()
		return nil
	}))
	f.auth.timeout = 10 * time.Millisecond

	err, res := f.authorize(t)
	require.NoError(t, err)
	assert.ErrorIs(t, res, errorkinds.ErrAuthenticationTimeout)
}

func TestAuthorizeWithoutAgent(t *testing.T) {
	f := newAuthFixture(t, nil)

	err, _ := f.authorize(t)
	assert.ErrorIs(t, err, errorkinds.ErrNoAgent)
}

func TestParseAdapters(t *testing.T) {
	adapters, err := parseAdapters([]config.Adapter{
		{Address: "00:11:22:33:44:55", Path: "/org/bluez/hci0"},
		{Address: "00-11-22-33-44-66", Path: "/org/bluez/hci1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []bluetooth.AdapterData{
		{Address: localAddr, Path: "/org/bluez/hci0"},
		{Address: bluetooth.MustParseMAC("00:11:22:33:44:66"), Path: "/org/bluez/hci1"},
	}, adapters)

	for _, bad := range [][]config.Adapter{
		{{Address: "bogus", Path: "/org/bluez/hci0"}},
		{{Address: "00:11:22:33:44:55", Path: "relative"}},
		{{Address: "00:11:22:33:44:55", Path: ""}},
		{
			{Address: "00:11:22:33:44:55", Path: "/org/bluez/hci0"},
			{Address: "00:11:22:33:44:55", Path: "/org/bluez/hci1"},
		},
	} {
		_, err := parseAdapters(bad)
		assert.Error(t, err)
	}
}

func TestStopIdleDaemon(t *testing.T) {
	d := New(zaptest.NewLogger(t))

	assert.NoError(t, d.Stop())
	assert.Empty(t, d.Adapters())
	assert.Nil(t, d.Events())
}

func TestStartRejectsInvalidAdapters(t *testing.T) {
	d := New(zaptest.NewLogger(t))

	cfg := config.New()
	cfg.Adapters = []config.Adapter{{Address: "bogus", Path: "/org/bluez/hci0"}}

	err := d.Start(nil, cfg)
	require.Error(t, err)
	assert.Empty(t, d.Adapters())
}
