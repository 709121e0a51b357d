package network

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/config"
	"github.com/bluetuith-org/bluez-lifecycle/api/eventbus"
	"github.com/bluetuith-org/bluez-lifecycle/internal/bnep"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"github.com/bluetuith-org/bluez-lifecycle/internal/sdp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	localAddr = bluetooth.MustParseMAC("00:11:22:33:44:55")
	peerAddr  = bluetooth.MustParseMAC("AA:BB:CC:DD:EE:FF")
	otherAddr = bluetooth.MustParseMAC("AA:BB:CC:DD:EE:00")
)

type connWatch struct {
	cond Condition
	fn   func(Condition)
}

type fakeConn struct {
	remote bluetooth.MacAddress

	inbox [][]byte
	sent  [][]byte

	watches   map[int]connWatch
	nextWatch int

	accept    func(error)
	acceptErr error

	shutdown int
	closed   int
}

func newConn(remote bluetooth.MacAddress) *fakeConn {
	return &fakeConn{remote: remote, watches: make(map[int]connWatch)}
}

func (c *fakeConn) Local() bluetooth.MacAddress  { return localAddr }
func (c *fakeConn) Remote() bluetooth.MacAddress { return c.remote }
func (c *fakeConn) Fd() int                      { return 3 }
func (c *fakeConn) Shutdown() error              { c.shutdown++; return nil }
func (c *fakeConn) Close() error                 { c.closed++; return nil }

func (c *fakeConn) Accept(cb func(error)) error {
	if c.acceptErr != nil {
		return c.acceptErr
	}

	c.accept = cb

	return nil
}

func (c *fakeConn) Read(b []byte) (int, error) {
	if len(c.inbox) == 0 {
		return 0, io.EOF
	}

	n := copy(b, c.inbox[0])
	c.inbox = c.inbox[1:]

	return n, nil
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.sent = append(c.sent, append([]byte(nil), b...))
	return len(b), nil
}

func (c *fakeConn) Watch(cond Condition, fn func(Condition)) func() {
	c.nextWatch++
	id := c.nextWatch
	c.watches[id] = connWatch{cond: cond, fn: fn}

	return func() { delete(c.watches, id) }
}

// fire delivers cond to the matching watches.
func (c *fakeConn) fire(cond Condition) {
	ids := make([]int, 0, len(c.watches))
	for id := range c.watches {
		ids = append(ids, id)
	}

	for _, id := range ids {
		if w, ok := c.watches[id]; ok && w.cond&cond != 0 {
			w.fn(cond)
		}
	}
}

func (c *fakeConn) dropped() bool {
	return c.closed > 0
}

type fakeListener struct {
	closed int
}

func (l *fakeListener) Close() error { l.closed++; return nil }

type fakeTransport struct {
	opts     ListenOptions
	confirm  func(Conn)
	listener *fakeListener
	err      error
}

func (f *fakeTransport) Listen(_ bluetooth.MacAddress, opts ListenOptions, confirm func(Conn)) (Listener, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.opts = opts
	f.confirm = confirm
	f.listener = &fakeListener{}

	return f.listener, nil
}

type authRequest struct {
	peer    bluetooth.MacAddress
	service uuid.UUID
	cb      func(error)
}

type fakeAuthorizer struct {
	requests []authRequest
	err      error
}

func (f *fakeAuthorizer) Authorize(_, peer bluetooth.MacAddress, service uuid.UUID, cb func(error)) error {
	if f.err != nil {
		return f.err
	}

	f.requests = append(f.requests, authRequest{peer: peer, service: service, cb: cb})

	return nil
}

func (f *fakeAuthorizer) answer(err error) {
	f.requests[len(f.requests)-1].cb(err)
}

type fakeInterfaces struct {
	added    []string
	attached map[string]string
	up       []string
	down     []string
	killed   []bluetooth.MacAddress

	attachErr error
	addErr    error
}

func newInterfaces() *fakeInterfaces {
	return &fakeInterfaces{attached: make(map[string]string)}
}

func (f *fakeInterfaces) Add(_ Conn, _ bnep.Role) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}

	name := "bnep" + string(rune('0'+len(f.added)))
	f.added = append(f.added, name)

	return name, nil
}

func (f *fakeInterfaces) AttachBridge(ifname, bridge string) error {
	if f.attachErr != nil {
		return f.attachErr
	}

	f.attached[ifname] = bridge

	return nil
}

func (f *fakeInterfaces) Up(ifname string) error   { f.up = append(f.up, ifname); return nil }
func (f *fakeInterfaces) Down(ifname string) error { f.down = append(f.down, ifname); return nil }

func (f *fakeInterfaces) Kill(peer bluetooth.MacAddress) error {
	f.killed = append(f.killed, peer)
	return nil
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

type published struct {
	id   bluetooth.EventID
	data any
}

type recorder struct {
	events []published
}

func (r *recorder) Publish(id uint, _ string, data any) {
	r.events = append(r.events, published{id: bluetooth.EventID(id), data: data})
}

func (r *recorder) network(id bluetooth.EventID) []bluetooth.NetworkDeviceEvent {
	var evs []bluetooth.NetworkDeviceEvent

	for _, e := range r.events {
		if ev, ok := e.data.(bluetooth.NetworkDeviceEvent); ok && e.id == id {
			evs = append(evs, ev)
		}
	}

	return evs
}

var errDenied = errors.New("rejected by agent")

type fixture struct {
	sched  *reactor.Manual
	trans  *fakeTransport
	auth   *fakeAuthorizer
	ifaces *fakeInterfaces
	db     *sdp.Database
	exits  *fakeExits
	rec    *recorder

	registry *Registry
	adapter  *Adapter
}

func newFixture(t *testing.T, roles ...string) *fixture {
	t.Helper()

	cfg := config.New().Network
	cfg.SetupTimeout = 5 * time.Second
	if len(roles) > 0 {
		cfg.Roles = roles
	}

	events := eventbus.New(eventbus.NilHandler())

	f := &fixture{
		sched:  reactor.NewManual(),
		trans:  &fakeTransport{},
		auth:   &fakeAuthorizer{},
		ifaces: newInterfaces(),
		db:     sdp.NewDatabase(),
		exits:  &fakeExits{},
		rec:    &recorder{},
	}

	events.RegisterEventHandlers(f.rec, eventbus.NilHandler())

	f.registry = NewRegistry(Options{
		Scheduler:  f.sched,
		Transport:  f.trans,
		Authorizer: f.auth,
		Interfaces: f.ifaces,
		Records:    f.db,
		Exits:      f.exits,
		Events:     events,
		Config:     cfg,
		Logger:     zaptest.NewLogger(t),
	})

	var err error

	f.adapter, err = f.registry.AddAdapter(localAddr, "/org/bluez/hci0")
	require.NoError(t, err)

	return f
}

// incoming delivers an authorized and accepted connection from peer.
func (f *fixture) incoming(t *testing.T, peer bluetooth.MacAddress) *fakeConn {
	t.Helper()

	conn := newConn(peer)
	f.trans.confirm(conn)
	require.NotEmpty(t, f.auth.requests)

	f.auth.answer(nil)
	require.NotNil(t, conn.accept)

	conn.accept(nil)

	return conn
}

// send delivers a frame on conn.
func (f *fixture) send(conn *fakeConn, frame []byte) {
	conn.inbox = append(conn.inbox, frame)
	conn.fire(Readable)
}
