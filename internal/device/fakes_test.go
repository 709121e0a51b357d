package device

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/config"
	"github.com/bluetuith-org/bluez-lifecycle/api/eventbus"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"github.com/bluetuith-org/bluez-lifecycle/internal/sdp"
	"github.com/bluetuith-org/bluez-lifecycle/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	localAddr = bluetooth.MustParseMAC("00:11:22:33:44:55")
	peerAddr  = bluetooth.MustParseMAC("AA:BB:CC:DD:EE:FF")
	auxAddr   = bluetooth.MustParseMAC("00:1A:1B:01:02:03")
)

type fakeRadio struct {
	bondings  []bluetooth.MacAddress
	canceled  int
	removed   int
	suspended int
	resumed   int
	discon    int
	blocked   int
	unblocked int
	params    []ConnParams

	bondErr error
}

func (f *fakeRadio) CreateBonding(peer bluetooth.MacAddress, _ bluetooth.IOCapability) error {
	if f.bondErr != nil {
		return f.bondErr
	}

	f.bondings = append(f.bondings, peer)

	return nil
}

func (f *fakeRadio) CancelBonding(bluetooth.MacAddress) error { f.canceled++; return nil }
func (f *fakeRadio) RemoveBonding(bluetooth.MacAddress) error { f.removed++; return nil }
func (f *fakeRadio) SuspendDiscovery()                        { f.suspended++ }
func (f *fakeRadio) ResumeDiscovery()                         { f.resumed++ }
func (f *fakeRadio) Disconnect(bluetooth.MacAddress) error    { f.discon++; return nil }
func (f *fakeRadio) Block(bluetooth.MacAddress) error         { f.blocked++; return nil }
func (f *fakeRadio) Unblock(bluetooth.MacAddress) error       { f.unblocked++; return nil }

func (f *fakeRadio) SetConnectionParams(_ bluetooth.MacAddress, p ConnParams) error {
	f.params = append(f.params, p)
	return nil
}

type search struct {
	service uuid.UUID
	cb      func([]sdp.Record, error)
}

type fakeSDP struct {
	searches []search
	canceled int
	opened   int
	closed   int
}

func (f *fakeSDP) Search(_, _ bluetooth.MacAddress, service uuid.UUID, cb func([]sdp.Record, error)) error {
	f.searches = append(f.searches, search{service: service, cb: cb})
	return nil
}

func (f *fakeSDP) Cancel(_, _ bluetooth.MacAddress) { f.canceled++ }

func (f *fakeSDP) OpenChannel(_, _ bluetooth.MacAddress) (io.Closer, error) {
	f.opened++
	return closerFunc(func() error { f.closed++; return nil }), nil
}

// answer completes the most recent search.
func (f *fakeSDP) answer(t *testing.T, records []sdp.Record, err error) {
	t.Helper()
	require.NotEmpty(t, f.searches)

	s := f.searches[len(f.searches)-1]
	s.cb(records, err)
}

func (f *fakeSDP) lastService() uint32 {
	v, _ := bluetooth.ShortUUID(f.searches[len(f.searches)-1].service)
	return v
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

type fakeGATT struct {
	cb       func([]PrimaryService, error)
	canceled int
}

func (f *fakeGATT) DiscoverPrimary(_, _ bluetooth.MacAddress, _ bool, cb func([]PrimaryService, error)) error {
	f.cb = cb
	return nil
}

func (f *fakeGATT) Cancel(_, _ bluetooth.MacAddress) { f.canceled++ }

type fakeAgent struct {
	pin      func(string, error)
	passkey  func(uint32, error)
	confirm  func(error)
	oob      func(bluetooth.OOBData, error)
	consent  func(error)
	shown    []uint32
	canceled int
	released int

	failWith error
}

func (f *fakeAgent) RequestPinCode(_ string, cb func(string, error)) error {
	f.pin = cb
	return f.failWith
}

func (f *fakeAgent) RequestPasskey(_ string, cb func(uint32, error)) error {
	f.passkey = cb
	return f.failWith
}

func (f *fakeAgent) RequestConfirmation(_ string, _ uint32, cb func(error)) error {
	f.confirm = cb
	return f.failWith
}

func (f *fakeAgent) DisplayPasskey(_ string, passkey uint32) error {
	f.shown = append(f.shown, passkey)
	return f.failWith
}

func (f *fakeAgent) RequestOOBData(_ string, cb func(bluetooth.OOBData, error)) error {
	f.oob = cb
	return f.failWith
}

func (f *fakeAgent) RequestPairingConsent(_ string, cb func(error)) error {
	f.consent = cb
	return f.failWith
}

func (f *fakeAgent) RequestOOBAvailability(_ string, cb func(bool, error)) error {
	cb(true, nil)
	return nil
}

func (f *fakeAgent) Cancel()  { f.canceled++ }
func (f *fakeAgent) Release() { f.released++ }

type fakeAgents struct {
	agent   *fakeAgent
	removed func()
}

func (f *fakeAgents) NewAgent(_, _ string, _ bluetooth.IOCapability, _ bool, removed func()) (Agent, error) {
	f.agent = &fakeAgent{}
	f.removed = removed

	return f.agent, nil
}

type fakeExits struct {
	watches map[string][]func()
}

func (f *fakeExits) WatchExit(sender string, fn func()) func() {
	if f.watches == nil {
		f.watches = make(map[string][]func())
	}

	active := true
	f.watches[sender] = append(f.watches[sender], func() {
		if active {
			active = false
			fn()
		}
	})

	return func() { active = false }
}

func (f *fakeExits) exit(sender string) {
	for _, fn := range f.watches[sender] {
		fn()
	}
}

type fakeCall struct {
	sender  string
	replies []any
	errs    []error
}

func newCall(sender string) *fakeCall {
	return &fakeCall{sender: sender}
}

func (c *fakeCall) Sender() string { return c.sender }
func (c *fakeCall) Return(v any)   { c.replies = append(c.replies, v) }
func (c *fakeCall) Fail(err error) { c.errs = append(c.errs, err) }

func (c *fakeCall) answered() int {
	return len(c.replies) + len(c.errs)
}

type fakeDriver struct {
	name    string
	uuids   uuid.UUIDs
	probed  []uuid.UUIDs
	removed int
	err     error
}

func (f *fakeDriver) Name() string      { return f.name }
func (f *fakeDriver) UUIDs() uuid.UUIDs { return f.uuids }

func (f *fakeDriver) Probe(_ *Device, uuids uuid.UUIDs) error {
	if f.err != nil {
		return f.err
	}

	f.probed = append(f.probed, uuids)

	return nil
}

func (f *fakeDriver) Remove(*Device) { f.removed++ }

var errAgent = errors.New("agent unreachable")

type published struct {
	id   bluetooth.EventID
	data any
}

// recorder captures published events synchronously.
type recorder struct {
	events []published
}

func (r *recorder) Publish(id uint, _ string, data any) {
	r.events = append(r.events, published{id: bluetooth.EventID(id), data: data})
}

// changes returns the values published for the property name.
func (r *recorder) changes(name string) []any {
	var values []any

	for _, e := range r.events {
		if ev, ok := e.data.(bluetooth.PropertyChangedEvent); ok && ev.Name == name {
			values = append(values, ev.Value)
		}
	}

	return values
}

func (r *recorder) count(id bluetooth.EventID) int {
	n := 0

	for _, e := range r.events {
		if e.id == id {
			n++
		}
	}

	return n
}

type fixture struct {
	sched  *reactor.Manual
	store  *storage.Store
	events *eventbus.Emitter
	rec    *recorder
	radio  *fakeRadio
	sdp    *fakeSDP
	gatt   *fakeGATT
	agent  *fakeAgent
	agents *fakeAgents
	exits  *fakeExits

	registry *Registry
	adapter  *Adapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := zaptest.NewLogger(t)

	store, err := storage.Open(config.Storage{InMemory: true, RecordCacheLife: time.Minute}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		sched:  reactor.NewManual(),
		store:  store,
		events: eventbus.New(eventbus.NilHandler()),
		rec:    &recorder{},
		radio:  &fakeRadio{},
		sdp:    &fakeSDP{},
		gatt:   &fakeGATT{},
		agent:  &fakeAgent{},
		agents: &fakeAgents{},
		exits:  &fakeExits{},
	}

	f.events.RegisterEventHandlers(f.rec, eventbus.NilHandler())

	f.registry = NewRegistry(Options{
		Scheduler: f.sched,
		Store:     store,
		Events:    f.events,
		Agents:    f.agents,
		Exits:     f.exits,
		Config:    config.New().Device,
		Logger:    log,
	})

	f.adapter, err = f.registry.AddAdapter(AdapterOptions{
		Address: localAddr,
		Path:    "/org/bluez/hci0",
		Radio:   f.radio,
		SDP:     f.sdp,
		GATT:    f.gatt,
	})
	require.NoError(t, err)

	f.adapter.SetAgent(f.agent)

	return f
}

func (f *fixture) device(addr bluetooth.MacAddress) *Device {
	return f.adapter.AddDevice(addr, bluetooth.DeviceTypeBREDR)
}

func record(handle uint32, classes ...uint16) sdp.Record {
	rec := sdp.Record{Handle: handle}
	for _, c := range classes {
		rec.ServiceClasses = append(rec.ServiceClasses, bluetooth.UUID16(c))
	}

	return rec
}

func profiles(classes ...uint16) uuid.UUIDs {
	u := make(uuid.UUIDs, 0, len(classes))
	for _, c := range classes {
		u = append(u, bluetooth.UUID16(c))
	}

	return bluetooth.SortUUIDs(u)
}
