//go:build linux

package l2cap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/internal/network"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Socket options missing from x/sys/unix.
const (
	solL2CAP       = 6
	optOptions     = 0x01
	optLinkMode    = 0x03
	linkModeMaster = 0x0001

	btSecurity   = 4
	btDeferSetup = 7

	securityLow    = 1
	securityMedium = 2

	backlog = 5
)

// options mirrors struct l2cap_options.
type options struct {
	omtu      uint16
	imtu      uint16
	flushTo   uint16
	mode      uint8
	fcs       uint8
	maxTx     uint8
	txwinSize uint16
}

// Transport creates L2CAP listeners on local adapters.
type Transport struct {
	sched reactor.Scheduler
	log   *zap.Logger
}

// NewTransport returns a transport delivering connections on sched.
func NewTransport(sched reactor.Scheduler, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}

	return &Transport{sched: sched, log: log.Named("l2cap")}
}

// Listen binds a deferred-setup listener on local and calls confirm on the
// loop for every incoming connection.
func (t *Transport) Listen(local bluetooth.MacAddress, opts network.ListenOptions, confirm func(network.Conn)) (network.Listener, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, wrap(err, "l2cap-socket", "Cannot create L2CAP socket")
	}

	if err := configure(fd, local, opts); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, wrap(err, "l2cap-listen", "Cannot listen on L2CAP socket")
	}

	wake, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(fd)
		return nil, wrap(err, "l2cap-eventfd", "Cannot create wakeup descriptor")
	}

	l := &Listener{
		fd:      fd,
		wake:    wake,
		local:   local,
		sched:   t.sched,
		confirm: confirm,
		done:    make(chan struct{}),
		log:     t.log.With(zap.Stringer("adapter", local), zap.Uint16("psm", opts.PSM)),
	}

	go l.acceptLoop()

	return l, nil
}

func configure(fd int, local bluetooth.MacAddress, opts network.ListenOptions) error {
	if err := unix.Bind(fd, &unix.SockaddrL2{PSM: opts.PSM, Addr: local}); err != nil {
		return wrap(err, "l2cap-bind", "Cannot bind L2CAP socket")
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_BLUETOOTH, btDeferSetup, 1); err != nil {
		return wrap(err, "l2cap-defer", "Cannot defer connection setup")
	}

	level := byte(securityLow)
	if opts.Security {
		level = securityMedium
	}

	if err := unix.SetsockoptString(fd, unix.SOL_BLUETOOTH, btSecurity, string([]byte{level, 0})); err != nil {
		return wrap(err, "l2cap-security", "Cannot set security level")
	}

	if opts.Master {
		if err := unix.SetsockoptInt(fd, solL2CAP, optLinkMode, linkModeMaster); err != nil {
			return wrap(err, "l2cap-master", "Cannot request the central role")
		}
	}

	if opts.MTU > 0 {
		if err := setMTU(fd, opts.MTU); err != nil {
			return wrap(err, "l2cap-mtu", "Cannot set MTU")
		}
	}

	return nil
}

func setMTU(fd int, mtu uint16) error {
	var o options

	size := uint32(unsafe.Sizeof(o))

	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd), solL2CAP, optOptions,
		uintptr(unsafe.Pointer(&o)), uintptr(unsafe.Pointer(&size)), 0)
	if errno != 0 {
		return errno
	}

	o.imtu, o.omtu = mtu, mtu

	_, _, errno = unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), solL2CAP, optOptions,
		uintptr(unsafe.Pointer(&o)), unsafe.Sizeof(o), 0)
	if errno != 0 {
		return errno
	}

	return nil
}

// Listener is a listening L2CAP socket.
type Listener struct {
	fd   int
	wake int

	local   bluetooth.MacAddress
	sched   reactor.Scheduler
	confirm func(network.Conn)

	closed atomic.Bool
	done   chan struct{}

	log *zap.Logger
}

func (l *Listener) acceptLoop() {
	defer close(l.done)

	fds := []unix.PollFd{
		{Fd: int32(l.fd), Events: unix.POLLIN},
		{Fd: int32(l.wake), Events: unix.POLLIN},
	}

	for {
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			l.log.Error("Poll failed on listening socket", zap.Error(err))
			return
		}

		if fds[1].Revents != 0 || l.closed.Load() {
			return
		}

		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			l.log.Error("Listening socket failed")
			return
		}

		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}

			l.log.Error("Cannot accept connection", zap.Error(err))
			continue
		}

		addr, ok := sa.(*unix.SockaddrL2)
		if !ok {
			unix.Close(nfd)
			continue
		}

		c := newConn(nfd, l.local, fromWire(addr.Addr), l.sched, l.log)
		l.sched.Post(func() {
			if l.closed.Load() {
				c.Close()
				return
			}

			l.confirm(c)
		})
	}
}

// Close stops accepting connections and closes the socket.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	signal(l.wake)
	<-l.done

	unix.Close(l.wake)

	return unix.Close(l.fd)
}

// Conn is an accepted L2CAP connection.
type Conn struct {
	fd     int
	local  bluetooth.MacAddress
	remote bluetooth.MacAddress

	sched reactor.Scheduler
	log   *zap.Logger

	// wake and accepting are set while Accept waits for the link.
	mu        sync.Mutex
	wake      int
	accepting chan struct{}

	closeOnce sync.Once
}

func newConn(fd int, local, remote bluetooth.MacAddress, sched reactor.Scheduler, log *zap.Logger) *Conn {
	return &Conn{
		fd:     fd,
		local:  local,
		remote: remote,
		sched:  sched,
		log:    log.With(zap.Stringer("peer", remote)),
	}
}

// Local returns the local adapter address.
func (c *Conn) Local() bluetooth.MacAddress {
	return c.local
}

// Remote returns the peer address.
func (c *Conn) Remote() bluetooth.MacAddress {
	return c.remote
}

// Fd returns the socket descriptor.
func (c *Conn) Fd() int {
	return c.fd
}

// Accept completes the deferred setup. Reading from a deferred socket
// answers the pending connection request; the link is usable once the
// socket becomes writable.
func (c *Conn) Accept(cb func(error)) error {
	if err := unix.SetNonblock(c.fd, true); err != nil {
		return wrap(err, "l2cap-accept", "Cannot configure socket")
	}

	var b [1]byte
	if _, err := unix.Read(c.fd, b[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return wrap(err, "l2cap-accept", "Cannot authorize connection")
	}

	wake, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return wrap(err, "l2cap-eventfd", "Cannot create wakeup descriptor")
	}

	done := make(chan struct{})

	c.mu.Lock()
	c.wake, c.accepting = wake, done
	c.mu.Unlock()

	go func() {
		err := c.waitConnected(wake)

		c.mu.Lock()
		c.accepting = nil
		c.mu.Unlock()

		unix.Close(wake)
		close(done)

		c.sched.Post(func() { cb(err) })
	}()

	return nil
}

// waitConnected blocks until the socket is writable or wake is signalled.
func (c *Conn) waitConnected(wake int) error {
	fds := []unix.PollFd{
		{Fd: int32(c.fd), Events: unix.POLLOUT},
		{Fd: int32(wake), Events: unix.POLLIN},
	}

	for {
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			return err
		}

		break
	}

	if fds[1].Revents != 0 {
		return unix.ECANCELED
	}

	if fds[0].Revents&unix.POLLNVAL != 0 {
		return unix.EBADF
	}

	soerr, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}

	if soerr != 0 {
		return unix.Errno(soerr)
	}

	if fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
		return unix.ECONNRESET
	}

	return nil
}

// Read reads one frame.
func (c *Conn) Read(b []byte) (int, error) {
	return unix.Read(c.fd, b)
}

// Write sends one frame.
func (c *Conn) Write(b []byte) (int, error) {
	return unix.Write(c.fd, b)
}

// Watch reports the conditions of cond met by the socket until cancelled.
// fn runs on the loop and the socket is not polled again until it returns.
func (c *Conn) Watch(cond network.Condition, fn func(network.Condition)) func() {
	wake, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		c.log.Error("Cannot create wakeup descriptor", zap.Error(err))
		c.sched.Post(func() { fn(network.Hangup & cond) })

		return func() {}
	}

	w := &watch{conn: c, cond: cond, fn: fn, wake: wake}
	go w.run()

	return w.cancel
}

// Shutdown shuts the socket down in both directions.
func (c *Conn) Shutdown() error {
	return unix.Shutdown(c.fd, unix.SHUT_RDWR)
}

// Close closes the socket once. A pending Accept is stopped before the
// descriptor is released.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		done := c.accepting
		if done != nil {
			signal(c.wake)
		}
		c.mu.Unlock()

		if done != nil {
			<-done
		}

		err = unix.Close(c.fd)
	})

	return err
}

type watch struct {
	conn *Conn
	cond network.Condition
	fn   func(network.Condition)

	mu       sync.Mutex
	wake     int
	stopped  bool
	canceled atomic.Bool
}

func (w *watch) run() {
	defer w.stop()

	var events int16 = unix.POLLHUP | unix.POLLERR
	if w.cond&network.Readable != 0 {
		events |= unix.POLLIN
	}

	fds := []unix.PollFd{
		{Fd: int32(w.conn.fd), Events: events},
		{Fd: int32(w.wake), Events: unix.POLLIN},
	}

	for {
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			return
		}

		if fds[1].Revents != 0 || w.canceled.Load() {
			return
		}

		var got network.Condition
		if fds[0].Revents&unix.POLLIN != 0 {
			got |= network.Readable
		}

		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			got |= network.Hangup
		}

		matched := got & w.cond
		if matched == 0 {
			return
		}

		ran := make(chan struct{})
		w.conn.sched.Post(func() {
			defer close(ran)

			if !w.canceled.Load() {
				w.fn(matched)
			}
		})
		<-ran

		if got&network.Hangup != 0 {
			return
		}
	}
}

func (w *watch) cancel() {
	w.canceled.Store(true)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.stopped {
		signal(w.wake)
	}
}

func (w *watch) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	unix.Close(w.wake)
}

func signal(efd int) {
	unix.Write(efd, []byte{1, 0, 0, 0, 0, 0, 0, 0})
}

func wrap(err error, at, msg string) error {
	return fault.Wrap(err,
		fctx.With(context.Background(), "error_at", at),
		ftag.With(ftag.Internal),
		fmsg.With(msg),
	)
}
