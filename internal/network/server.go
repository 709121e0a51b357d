package network

import (
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/bluetuith-org/bluez-lifecycle/internal/arena"
	"github.com/bluetuith-org/bluez-lifecycle/internal/bnep"
	"github.com/bluetuith-org/bluez-lifecycle/internal/sdp"
	"go.uber.org/zap"
)

// serverName is the advertised name of every network server.
const serverName = "Network service"

// Server serves one role on a local adapter.
type Server struct {
	adapter *Adapter
	role    bnep.Role

	bridge     string
	recordID   uint32
	cancelExit func()

	sessions *arena.Arena[*Session]

	log *zap.Logger
}

// Session is an established network session.
type Session struct {
	handle arena.Handle

	peer        bluetooth.MacAddress
	conn        Conn
	ifname      string
	role        bnep.Role
	cancelWatch func()
}

// Peer returns the remote address.
func (s *Session) Peer() bluetooth.MacAddress {
	return s.peer
}

// Interface returns the name of the network interface.
func (s *Session) Interface() string {
	return s.ifname
}

// Role returns the local role of the session.
func (s *Session) Role() bnep.Role {
	return s.role
}

func newServer(a *Adapter, role bnep.Role) *Server {
	return &Server{
		adapter:  a,
		role:     role,
		sessions: arena.New[*Session](),
		log:      a.log.With(zap.Stringer("role", role)),
	}
}

// Role returns the role served.
func (s *Server) Role() bnep.Role {
	return s.role
}

// Bridge returns the configured bridge, empty if unregistered.
func (s *Server) Bridge() string {
	return s.bridge
}

// Ready reports whether the server has a published record and a bridge.
func (s *Server) Ready() bool {
	return s.recordID != 0 && s.bridge != ""
}

// Sessions returns the active sessions.
func (s *Server) Sessions() []*Session {
	sessions := make([]*Session, 0, s.sessions.Len())
	s.sessions.Each(func(_ arena.Handle, sess *Session) bool {
		sessions = append(sessions, sess)
		return true
	})

	return sessions
}

func (s *Server) register(sender, bridge string) error {
	r := s.adapter.registry

	if s.recordID != 0 {
		return errorkinds.ErrAlreadyExists
	}

	rec := sdp.NewServerRecord(serverName, uint16(s.role), bnep.PSM, r.cfg.Security)

	handle, err := r.records.Add(s.adapter.address, rec)
	if err != nil {
		s.log.Error("Failed to register service record", zap.Error(err))
		return failed(err, "network-register", "SDP record registration failed")
	}

	s.recordID = handle
	s.bridge = bridge

	if r.exits != nil {
		s.cancelExit = r.exits.WatchExit(sender, func() {
			s.log.Debug("Server owner exited", zap.String("sender", sender))

			s.cancelExit = nil
			s.disconnect()
		})
	}

	s.log.Debug("Server registered", zap.Uint32("record", handle), zap.String("bridge", bridge))

	return nil
}

func (s *Server) unregister() {
	if s.cancelExit != nil {
		s.cancelExit()
		s.cancelExit = nil
	}

	s.disconnect()
}

// disconnect withdraws the record and forgets the bridge.
func (s *Server) disconnect() {
	if s.recordID != 0 {
		if err := s.adapter.registry.records.Remove(s.recordID); err != nil {
			s.log.Warn("Cannot remove service record", zap.Error(err))
		}

		s.recordID = 0
	}

	s.bridge = ""
}

// addSession creates the interface of a session, attaches it to the
// bridge and starts watching the connection. If the bridge cannot be
// joined the interface is left to the caller.
func (s *Server) addSession(peer bluetooth.MacAddress, conn Conn, role bnep.Role) error {
	r := s.adapter.registry

	ifname, err := r.ifaces.Add(conn, role)
	if err != nil {
		return failed(err, "network-add-session", "Cannot add connection")
	}

	s.log.Info("Added new connection", zap.String("interface", ifname), zap.Stringer("peer", peer))

	if err := r.ifaces.AttachBridge(ifname, s.bridge); err != nil {
		s.log.Error("Cannot add interface to bridge",
			zap.String("interface", ifname),
			zap.String("bridge", s.bridge),
			zap.Error(err),
		)

		return failed(errorkinds.ErrPermission, "network-attach-bridge", err.Error())
	}

	if err := r.ifaces.Up(ifname); err != nil {
		s.log.Warn("Cannot bring interface up", zap.String("interface", ifname), zap.Error(err))
	}

	sess := &Session{peer: peer, conn: conn, ifname: ifname, role: role}
	sess.handle = s.sessions.Insert(sess)

	r.metrics.SessionAdded()
	r.events.Publish(bluetooth.EventNetworkDeviceConnected, bluetooth.NetworkDeviceEvent{
		AdapterPath: s.adapter.path,
		Address:     peer,
		Interface:   ifname,
		Role:        uint16(role),
	})

	h := sess.handle
	sess.cancelWatch = conn.Watch(Hangup, func(Condition) {
		if cur, ok := s.sessions.Get(h); ok {
			s.hangup(cur)
		}
	})

	return nil
}

// hangup handles the loss of a session connection.
func (s *Server) hangup(sess *Session) {
	r := s.adapter.registry

	s.log.Debug("Session closed", zap.Stringer("peer", sess.peer), zap.String("interface", sess.ifname))

	r.events.Publish(bluetooth.EventNetworkDeviceDisconnected, bluetooth.NetworkDeviceEvent{
		AdapterPath: s.adapter.path,
		Address:     sess.peer,
	})

	s.releaseSession(sess)
}

func (s *Server) releaseSession(sess *Session) {
	if !s.sessions.Remove(sess.handle) {
		return
	}

	if sess.cancelWatch != nil {
		sess.cancelWatch()
		sess.cancelWatch = nil
	}

	if sess.conn != nil {
		drop(sess.conn, s.log)
		sess.conn = nil
	}

	s.adapter.registry.metrics.SessionRemoved()
}

func (s *Server) sessionByAddress(peer bluetooth.MacAddress) (*Session, bool) {
	var found *Session

	s.sessions.Each(func(_ arena.Handle, sess *Session) bool {
		if sess.peer == peer {
			found = sess
			return false
		}

		return true
	})

	return found, found != nil
}

func (s *Server) free() {
	s.unregister()

	for _, sess := range s.Sessions() {
		s.releaseSession(sess)
	}
}
