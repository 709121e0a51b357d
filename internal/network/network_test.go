package network

import (
	"testing"
	"time"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/bluetuith-org/bluez-lifecycle/internal/bnep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAdapterListens(t *testing.T) {
	f := newFixture(t, "nap", "gn", "nap")

	assert.Equal(t, ListenOptions{PSM: bnep.PSM, MTU: bnep.MTU, Security: true}, f.trans.opts)
	assert.Len(t, f.adapter.servers, 2)

	again, err := f.registry.AddAdapter(localAddr, "/org/bluez/hci0")
	require.NoError(t, err)
	assert.Same(t, f.adapter, again)
}

func TestAddAdapterRejectsUnknownRole(t *testing.T) {
	f := newFixture(t)
	f.registry.cfg.Roles = []string{"router"}

	_, err := f.registry.AddAdapter(otherAddr, "/org/bluez/hci1")
	assert.ErrorIs(t, err, errorkinds.ErrInvalidArguments)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.adapter.Register(":1.5", "router", "br0"), errorkinds.ErrInvalidArguments)
	assert.ErrorIs(t, f.adapter.Register(":1.5", "gn", "br0"), errorkinds.ErrInvalidArguments)

	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	s, ok := f.adapter.Server(bnep.RoleNAP)
	require.True(t, ok)
	assert.True(t, s.Ready())
	assert.Equal(t, "br0", s.Bridge())

	local, ok := f.db.Get(s.recordID)
	require.True(t, ok)
	assert.Equal(t, localAddr, local.Adapter)
	assert.True(t, local.Record.HasServiceClass(bnep.RoleNAP.UUID()))

	assert.ErrorIs(t, f.adapter.Register(":1.6", "nap", "br1"), errorkinds.ErrAlreadyExists)

	// Full identifiers name the same server.
	require.NoError(t, f.adapter.Unregister("00001116-0000-1000-8000-00805f9b34fb"))
	assert.False(t, s.Ready())

	_, ok = f.db.Get(local.Record.Handle)
	assert.False(t, ok)
}

func TestServerOwnerExit(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))
	s, _ := f.adapter.Server(bnep.RoleNAP)
	handle := s.recordID

	f.exits.exit(":1.5")

	assert.False(t, s.Ready())
	_, ok := f.db.Get(handle)
	assert.False(t, ok)

	// The server can be registered again.
	require.NoError(t, f.adapter.Register(":1.6", "nap", "br0"))
}

func TestSessionEstablished(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	conn := f.incoming(t, peerAddr)
	assert.Equal(t, bnep.ServiceUUID, f.auth.requests[0].service)
	assert.True(t, f.adapter.InSetup())

	f.send(conn, bnep.EncodeSetupRequest(bnep.RoleNAP, bnep.RolePANU))

	require.Len(t, conn.sent, 1)
	assert.Equal(t, bnep.EncodeSetupResponse(bnep.ResponseSuccess), conn.sent[0])
	assert.False(t, f.adapter.InSetup())
	assert.False(t, conn.dropped())

	assert.Equal(t, map[string]string{"bnep0": "br0"}, f.ifaces.attached)
	assert.Equal(t, []string{"bnep0"}, f.ifaces.up)

	s, _ := f.adapter.Server(bnep.RoleNAP)
	sessions := s.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, peerAddr, sessions[0].Peer())
	assert.Equal(t, "bnep0", sessions[0].Interface())
	assert.Equal(t, bnep.RoleNAP, sessions[0].Role())

	assert.Equal(t, []bluetooth.NetworkDeviceEvent{{
		AdapterPath: "/org/bluez/hci0",
		Address:     peerAddr,
		Interface:   "bnep0",
		Role:        uint16(bnep.RoleNAP),
	}}, f.rec.network(bluetooth.EventNetworkDeviceConnected))

	// Later frames belong to the kernel, not to the setup handler.
	f.send(conn, bnep.EncodeSetupRequest(bnep.RoleNAP, bnep.RolePANU))
	assert.Len(t, conn.sent, 1)

	// A new peer may connect once the setup slot is free.
	f.incoming(t, otherAddr)
}

func TestFullUUIDSetupRequest(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	conn := f.incoming(t, peerAddr)
	f.send(conn, bnep.EncodeSetupRequest128(bnep.RoleNAP.UUID(), bnep.RolePANU.UUID()))

	require.Len(t, conn.sent, 1)
	assert.Equal(t, bnep.EncodeSetupResponse(bnep.ResponseSuccess), conn.sent[0])
}

func TestInvalidSourceRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	conn := f.incoming(t, peerAddr)
	f.send(conn, bnep.EncodeSetupRequest(bnep.RoleNAP, bnep.RoleNAP))

	require.Len(t, conn.sent, 1)
	assert.Equal(t, bnep.EncodeSetupResponse(bnep.ResponseInvalidSource), conn.sent[0])
	assert.Empty(t, f.ifaces.added)
	assert.Empty(t, f.ifaces.attached)
	assert.Empty(t, f.rec.network(bluetooth.EventNetworkDeviceConnected))
	assert.True(t, conn.dropped())
	assert.False(t, f.adapter.InSetup())
}

func TestUnservedRoleNotAllowed(t *testing.T) {
	f := newFixture(t, "nap", "gn")
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	// The group network server exists but is not registered.
	conn := f.incoming(t, peerAddr)
	f.send(conn, bnep.EncodeSetupRequest(bnep.RoleGN, bnep.RolePANU))
	assert.Equal(t, [][]byte{bnep.EncodeSetupResponse(bnep.ResponseNotAllowed)}, conn.sent)

	// No server exists for the user role.
	conn = f.incoming(t, otherAddr)
	f.send(conn, bnep.EncodeSetupRequest(bnep.RolePANU, bnep.RoleNAP))
	assert.Equal(t, [][]byte{bnep.EncodeSetupResponse(bnep.ResponseNotAllowed)}, conn.sent)

	assert.Empty(t, f.ifaces.added)
}

func TestInvalidServiceSize(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	conn := f.incoming(t, peerAddr)
	f.send(conn, []byte{bnep.TypeControl, byte(bnep.CmdSetupConnReq), 3, 0x11, 0x16, 0x00, 0x11, 0x15, 0x00})

	assert.Equal(t, [][]byte{bnep.EncodeSetupResponse(bnep.ResponseInvalidService)}, conn.sent)
	assert.True(t, conn.dropped())
}

func TestCommandNotUnderstood(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	conn := f.incoming(t, peerAddr)
	f.send(conn, []byte{bnep.TypeControl, 0x2a})

	assert.Equal(t, [][]byte{{bnep.TypeControl, byte(bnep.CmdNotUnderstood), 0x2a}}, conn.sent)
	assert.True(t, conn.dropped())
	assert.False(t, f.adapter.InSetup())
}

func TestOtherFramesDropSetup(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	// A known command other than a setup request.
	conn := f.incoming(t, peerAddr)
	f.send(conn, bnep.EncodeControlResponse(bnep.CmdFilterNetTypeRsp, 0))
	assert.Empty(t, conn.sent)
	assert.True(t, conn.dropped())

	// A data frame.
	conn = f.incoming(t, peerAddr)
	f.send(conn, []byte{0x00, 0x01, 0x02})
	assert.Empty(t, conn.sent)
	assert.True(t, conn.dropped())
	assert.False(t, f.adapter.InSetup())
}

func TestFilterExtensionsAreUnsupported(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	frame := bnep.EncodeSetupRequest(bnep.RoleNAP, bnep.RolePANU)
	frame[0] |= bnep.TypeExtHeader
	frame = append(frame,
		bnep.ExtTypeControl|bnep.TypeExtHeader, 3, byte(bnep.CmdFilterNetTypeSet), 0x00, 0x00,
		0x7f|bnep.TypeExtHeader, 1, 0xaa,
		bnep.ExtTypeControl, 1, byte(bnep.CmdFilterMultAddrSet),
	)

	conn := f.incoming(t, peerAddr)
	f.send(conn, frame)

	assert.Equal(t, [][]byte{
		bnep.EncodeSetupResponse(bnep.ResponseSuccess),
		bnep.EncodeControlResponse(bnep.CmdFilterNetTypeRsp, bnep.FilterUnsupported),
		bnep.EncodeControlResponse(bnep.CmdFilterMultAddrRsp, bnep.FilterUnsupported),
	}, conn.sent)
}

func TestTruncatedExtensionIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	frame := bnep.EncodeSetupRequest(bnep.RoleNAP, bnep.RolePANU)
	frame[0] |= bnep.TypeExtHeader
	frame = append(frame, bnep.ExtTypeControl, 8, byte(bnep.CmdFilterNetTypeSet))

	conn := f.incoming(t, peerAddr)
	f.send(conn, frame)

	assert.Equal(t, [][]byte{bnep.EncodeSetupResponse(bnep.ResponseSuccess)}, conn.sent)
	s, _ := f.adapter.Server(bnep.RoleNAP)
	assert.Len(t, s.Sessions(), 1)
}

func TestSingleSetupInFlight(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	first := newConn(peerAddr)
	f.trans.confirm(first)

	second := newConn(otherAddr)
	f.trans.confirm(second)

	assert.True(t, second.dropped())
	assert.False(t, first.dropped())
	assert.Len(t, f.auth.requests, 1)
}

func TestIncomingWithoutServer(t *testing.T) {
	f := newFixture(t)

	conn := newConn(peerAddr)
	f.trans.confirm(conn)

	assert.True(t, conn.dropped())
	assert.Empty(t, f.auth.requests)
	assert.False(t, f.adapter.InSetup())
}

func TestAuthorizationDenied(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	conn := newConn(peerAddr)
	f.trans.confirm(conn)
	f.auth.answer(errDenied)

	assert.Equal(t, 1, conn.shutdown)
	assert.Nil(t, conn.accept)
	assert.False(t, f.adapter.InSetup())
	assert.Zero(t, f.sched.Pending())
}

func TestAuthorizationRequestFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))
	f.auth.err = errDenied

	conn := newConn(peerAddr)
	f.trans.confirm(conn)

	assert.True(t, conn.dropped())
	assert.False(t, f.adapter.InSetup())
}

func TestAcceptFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	conn := newConn(peerAddr)
	f.trans.confirm(conn)
	f.auth.answer(nil)
	conn.accept(errDenied)

	assert.True(t, conn.dropped())
	assert.False(t, f.adapter.InSetup())
}

func TestSetupTimeout(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	conn := f.incoming(t, peerAddr)

	f.sched.Advance(5 * time.Second)

	assert.True(t, conn.dropped())
	assert.False(t, f.adapter.InSetup())
	assert.Empty(t, conn.watches)

	// A late authorization answer is ignored.
	f.auth.answer(nil)
	assert.Equal(t, 1, conn.closed)
}

func TestHangupDuringSetup(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	conn := f.incoming(t, peerAddr)
	conn.fire(Hangup)

	assert.True(t, conn.dropped())
	assert.False(t, f.adapter.InSetup())
	assert.Zero(t, f.sched.Pending())
}

func TestBridgeFailureLeavesInterface(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))
	f.ifaces.attachErr = errDenied

	s, _ := f.adapter.Server(bnep.RoleNAP)
	err := s.addSession(peerAddr, newConn(peerAddr), bnep.RoleNAP)
	assert.ErrorIs(t, err, errorkinds.ErrPermission)
	assert.Equal(t, []string{"bnep0"}, f.ifaces.added)
	assert.Empty(t, f.ifaces.down)
	assert.Empty(t, s.Sessions())

	conn := f.incoming(t, peerAddr)
	f.send(conn, bnep.EncodeSetupRequest(bnep.RoleNAP, bnep.RolePANU))
	assert.Equal(t, [][]byte{bnep.EncodeSetupResponse(bnep.ResponseNotAllowed)}, conn.sent)
	assert.Empty(t, f.rec.network(bluetooth.EventNetworkDeviceConnected))
}

func TestSessionHangup(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	conn := f.incoming(t, peerAddr)
	f.send(conn, bnep.EncodeSetupRequest(bnep.RoleNAP, bnep.RolePANU))

	conn.fire(Hangup)

	assert.Equal(t, []bluetooth.NetworkDeviceEvent{{
		AdapterPath: "/org/bluez/hci0",
		Address:     peerAddr,
	}}, f.rec.network(bluetooth.EventNetworkDeviceDisconnected))

	s, _ := f.adapter.Server(bnep.RoleNAP)
	assert.Empty(t, s.Sessions())
	assert.True(t, conn.dropped())
	assert.Empty(t, conn.watches)

	err := f.adapter.DisconnectDevice(peerAddr, "bnep0")
	assert.ErrorIs(t, err, errorkinds.ErrFailed)
}

func TestDisconnectDevice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	err := f.adapter.DisconnectDevice(peerAddr, "bnep0")
	assert.ErrorIs(t, err, errorkinds.ErrFailed)

	conn := f.incoming(t, peerAddr)
	f.send(conn, bnep.EncodeSetupRequest(bnep.RoleNAP, bnep.RolePANU))

	require.NoError(t, f.adapter.DisconnectDevice(peerAddr, "bnep0"))
	assert.Equal(t, []string{"bnep0"}, f.ifaces.down)
	assert.Equal(t, []bluetooth.MacAddress{peerAddr}, f.ifaces.killed)
}

func TestRemoveAdapter(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Register(":1.5", "nap", "br0"))

	conn := f.incoming(t, peerAddr)
	f.send(conn, bnep.EncodeSetupRequest(bnep.RoleNAP, bnep.RolePANU))

	pending := newConn(otherAddr)
	f.trans.confirm(pending)

	f.registry.RemoveAdapter(localAddr)

	assert.Equal(t, 1, f.trans.listener.closed)
	assert.True(t, conn.dropped())
	assert.True(t, pending.dropped())
	assert.Empty(t, f.db.Records(localAddr))

	_, ok := f.registry.Adapter(localAddr)
	assert.False(t, ok)
}
