package network

import (
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/bluetuith-org/bluez-lifecycle/internal/bnep"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"go.uber.org/zap"
)

// Adapter is the network side of a local adapter: one listening socket,
// at most one connection in setup, and a server per role.
type Adapter struct {
	registry *Registry

	address bluetooth.MacAddress
	path    string

	listener Listener
	setup    *setup
	servers  map[bnep.Role]*Server

	log *zap.Logger
}

// setup is an incoming connection waiting for authorization or for its
// setup connection request.
type setup struct {
	peer bluetooth.MacAddress
	conn Conn

	cancelWatch func()
	timer       reactor.TimerID
}

// Address returns the local adapter address.
func (a *Adapter) Address() bluetooth.MacAddress {
	return a.address
}

// Path returns the object path of the local adapter.
func (a *Adapter) Path() string {
	return a.path
}

// Server returns the server of a role.
func (a *Adapter) Server(role bnep.Role) (*Server, bool) {
	s, ok := a.servers[role]
	return s, ok
}

// InSetup reports whether a connection is being set up.
func (a *Adapter) InSetup() bool {
	return a.setup != nil
}

// confirm handles an incoming connection before its setup completes.
func (a *Adapter) confirm(conn Conn) {
	r := a.registry
	peer := conn.Remote()

	log := a.log.With(zap.Stringer("peer", peer))
	log.Debug("Incoming network connection")

	if a.setup != nil {
		log.Error("Refusing connection: setup in progress")
		drop(conn, log)

		return
	}

	if !a.ready() {
		log.Error("Refusing connection: no server available")
		drop(conn, log)

		return
	}

	st := &setup{peer: peer, conn: conn}
	a.setup = st

	if r.cfg.SetupTimeout > 0 {
		st.timer = r.sched.AfterFunc(r.cfg.SetupTimeout, func() {
			if a.setup != st {
				return
			}

			st.timer = 0
			log.Debug("Setup timed out")
			a.destroySetup(st)
		})
	}

	err := r.auth.Authorize(a.address, peer, bnep.ServiceUUID, func(err error) {
		a.authorized(st, err)
	})
	if err != nil {
		log.Error("Refusing connection", zap.Error(err))
		a.destroySetup(st)
	}
}

// ready reports whether any server can take a session.
func (a *Adapter) ready() bool {
	for _, s := range a.servers {
		if s.Ready() {
			return true
		}
	}

	return false
}

func (a *Adapter) authorized(st *setup, err error) {
	if a.setup != st {
		return
	}

	log := a.log.With(zap.Stringer("peer", st.peer))

	if err != nil {
		log.Error("Access denied", zap.Error(err))
		a.destroySetup(st)

		return
	}

	err = st.conn.Accept(func(err error) {
		if a.setup != st {
			return
		}

		if err != nil {
			log.Error("Cannot accept connection", zap.Error(err))
			a.destroySetup(st)

			return
		}

		st.cancelWatch = st.conn.Watch(Readable|Hangup, func(cond Condition) {
			a.handleSetup(st, cond)
		})
	})
	if err != nil {
		log.Error("Cannot accept connection", zap.Error(err))
		a.destroySetup(st)
	}
}

// handleSetup reads the setup connection request and answers it. The
// setup slot is released after the first frame in every case.
func (a *Adapter) handleSetup(st *setup, cond Condition) {
	if a.setup != st {
		return
	}

	log := a.log.With(zap.Stringer("peer", st.peer))

	if cond&Hangup != 0 {
		log.Error("Hangup or error on network socket")
		a.destroySetup(st)

		return
	}

	frame := make([]byte, bnep.MTU)

	n, err := st.conn.Read(frame)
	if err != nil {
		log.Error("Cannot read setup request", zap.Error(err))
		a.destroySetup(st)

		return
	}

	frame = frame[:n]

	ctrl, err := bnep.ParseControl(frame)
	if err != nil {
		log.Debug("Ignoring non-control frame", zap.Error(err))
		a.destroySetup(st)

		return
	}

	if !ctrl.Command.Known() {
		log.Debug("Control command not understood", zap.Stringer("command", ctrl.Command))
		a.send(st, bnep.EncodeCommandNotUnderstood(ctrl.Command))
		a.destroySetup(st)

		return
	}

	if ctrl.Command != bnep.CmdSetupConnReq {
		log.Debug("Unexpected control command", zap.Stringer("command", ctrl.Command))
		a.destroySetup(st)

		return
	}

	req, rsp := a.negotiate(st, frame)

	a.registry.metrics.SetupResponse(rsp.String())
	a.send(st, bnep.EncodeSetupResponse(rsp))

	if req.Extended {
		replies, err := bnep.FilterReplies(frame, req.ExtensionOffset())
		if err != nil {
			log.Debug("Malformed extension header", zap.Error(err))
		}

		for _, reply := range replies {
			a.send(st, reply)
		}
	}

	if rsp == bnep.ResponseSuccess {
		a.releaseSetup(st)
		return
	}

	a.destroySetup(st)
}

// negotiate validates the setup request and creates the session.
func (a *Adapter) negotiate(st *setup, frame []byte) (bnep.SetupRequest, bnep.ResponseCode) {
	log := a.log.With(zap.Stringer("peer", st.peer))

	req, rsp := bnep.DecodeSetupRequest(frame)
	if rsp != bnep.ResponseSuccess {
		log.Debug("Invalid setup request", zap.Stringer("response", rsp))
		return req, rsp
	}

	if rsp = bnep.CheckRoles(req.Destination, req.Source); rsp != bnep.ResponseSuccess {
		log.Debug("Roles not allowed",
			zap.Stringer("destination", req.Destination),
			zap.Stringer("source", req.Source),
			zap.Stringer("response", rsp),
		)

		return req, rsp
	}

	s, ok := a.servers[req.Destination]
	if !ok {
		log.Error("Server unavailable", zap.Stringer("role", req.Destination))
		return req, bnep.ResponseNotAllowed
	}

	if s.recordID == 0 {
		log.Error("Service record not available", zap.Stringer("role", req.Destination))
		return req, bnep.ResponseNotAllowed
	}

	if s.bridge == "" {
		log.Error("Bridge interface not configured", zap.Stringer("role", req.Destination))
		return req, bnep.ResponseNotAllowed
	}

	if err := s.addSession(st.peer, st.conn, req.Destination); err != nil {
		log.Error("Cannot add session", zap.Error(err))
		return req, bnep.ResponseNotAllowed
	}

	return req, bnep.ResponseSuccess
}

func (a *Adapter) send(st *setup, frame []byte) {
	if _, err := st.conn.Write(frame); err != nil {
		a.log.Debug("Cannot send control frame", zap.Stringer("peer", st.peer), zap.Error(err))
	}
}

// releaseSetup empties the setup slot, leaving the connection to its session.
func (a *Adapter) releaseSetup(st *setup) {
	if st.cancelWatch != nil {
		st.cancelWatch()
		st.cancelWatch = nil
	}

	if st.timer != 0 {
		a.registry.sched.Cancel(st.timer)
		st.timer = 0
	}

	if a.setup == st {
		a.setup = nil
	}
}

// destroySetup empties the setup slot and drops the connection.
func (a *Adapter) destroySetup(st *setup) {
	a.releaseSetup(st)
	drop(st.conn, a.log)
}

// Register publishes the record of the server for role and bridges its
// sessions to bridge. The registration ends when sender leaves the bus.
func (a *Adapter) Register(sender, role, bridge string) error {
	s, err := a.serverFor(role)
	if err != nil {
		return err
	}

	return s.register(sender, bridge)
}

// Unregister withdraws the record of the server for role.
func (a *Adapter) Unregister(role string) error {
	s, err := a.serverFor(role)
	if err != nil {
		return err
	}

	s.unregister()

	return nil
}

// DisconnectDevice tears down the session with peer.
func (a *Adapter) DisconnectDevice(peer bluetooth.MacAddress, ifname string) error {
	var found *Session

	for _, s := range a.servers {
		if sess, ok := s.sessionByAddress(peer); ok {
			found = sess
			break
		}
	}

	if found == nil {
		return failed(errorkinds.ErrFailed, "network-disconnect-device", "No active session")
	}

	if found.conn == nil {
		return errorkinds.ErrNotConnected
	}

	ifaces := a.registry.ifaces

	if err := ifaces.Down(ifname); err != nil {
		a.log.Warn("Cannot bring interface down", zap.String("interface", ifname), zap.Error(err))
	}

	if err := ifaces.Kill(peer); err != nil {
		return failed(err, "network-kill-connection", "Cannot disconnect device")
	}

	return nil
}

func (a *Adapter) serverFor(name string) (*Server, error) {
	role, ok := bnep.ParseRole(name)
	if !ok {
		return nil, failed(errorkinds.ErrInvalidArguments, "network-server", "Invalid UUID")
	}

	s, ok := a.servers[role]
	if !ok {
		return nil, failed(errorkinds.ErrInvalidArguments, "network-server", "Invalid UUID")
	}

	return s, nil
}

func (a *Adapter) free() {
	if a.setup != nil {
		a.destroySetup(a.setup)
	}

	for _, s := range a.servers {
		s.free()
	}

	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			a.log.Debug("Cannot close listener", zap.Error(err))
		}

		a.listener = nil
	}
}

func drop(conn Conn, log *zap.Logger) {
	if err := conn.Shutdown(); err != nil {
		log.Debug("Cannot shut down connection", zap.Error(err))
	}

	if err := conn.Close(); err != nil {
		log.Debug("Cannot close connection", zap.Error(err))
	}
}
