package device

import (
	"io"
	"strings"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/internal/sdp"
	"github.com/google/uuid"
)

// The collaborators below deliver their callbacks on the engine's
// reactor. Implementations that complete on other goroutines must post
// the callback through the scheduler before invoking it.

// Radio is the controller of one local adapter.
type Radio interface {
	CreateBonding(peer bluetooth.MacAddress, capability bluetooth.IOCapability) error
	CancelBonding(peer bluetooth.MacAddress) error
	RemoveBonding(peer bluetooth.MacAddress) error

	SuspendDiscovery()
	ResumeDiscovery()

	Disconnect(peer bluetooth.MacAddress) error
	Block(peer bluetooth.MacAddress) error
	Unblock(peer bluetooth.MacAddress) error
	SetConnectionParams(peer bluetooth.MacAddress, params ConnParams) error
}

// ConnParams holds low energy connection parameters.
type ConnParams struct {
	IntervalMin uint16
	IntervalMax uint16
	Latency     uint16
	Timeout     uint16
}

// SDPClient queries the service catalog of remote devices.
type SDPClient interface {
	// Search looks up all records matching service on peer.
	// cb is called exactly once unless Cancel is called first.
	Search(local, peer bluetooth.MacAddress, service uuid.UUID, cb func([]sdp.Record, error)) error

	// Cancel aborts a running search. Completion is not waited for.
	Cancel(local, peer bluetooth.MacAddress)

	// OpenChannel opens an idle catalog connection to peer.
	OpenChannel(local, peer bluetooth.MacAddress) (io.Closer, error)
}

// PrimaryService is a primary service discovered on a low energy device.
type PrimaryService struct {
	UUID  uuid.UUID `json:"uuid" codec:"UUID" cbor:"1,keyasint"`
	Start uint16    `json:"start" codec:"Start" cbor:"2,keyasint"`
	End   uint16    `json:"end" codec:"End" cbor:"3,keyasint"`
}

// PrimaryDiscoverer discovers primary services of low energy devices.
type PrimaryDiscoverer interface {
	DiscoverPrimary(local, peer bluetooth.MacAddress, secure bool, cb func([]PrimaryService, error)) error
	Cancel(local, peer bluetooth.MacAddress)
}

// Agent is an out-of-process consent agent.
// Each request method calls its callback at most once.
type Agent interface {
	RequestPinCode(device string, cb func(pin string, err error)) error
	RequestPasskey(device string, cb func(passkey uint32, err error)) error
	RequestConfirmation(device string, passkey uint32, cb func(err error)) error
	DisplayPasskey(device string, passkey uint32) error
	RequestOOBData(device string, cb func(data bluetooth.OOBData, err error)) error
	RequestPairingConsent(device string, cb func(err error)) error
	RequestOOBAvailability(device string, cb func(available bool, err error)) error

	// Cancel aborts the outstanding request, if any.
	Cancel()

	// Release tells the agent it is no longer used.
	Release()
}

// AgentFactory creates agents registered by bus clients.
type AgentFactory interface {
	// NewAgent returns an agent served by the object at path of sender.
	// removed is called once if sender leaves the bus.
	NewAgent(sender, path string, capability bluetooth.IOCapability, oob bool, removed func()) (Agent, error)
}

// ExitWatcher tracks the lifetime of bus clients.
type ExitWatcher interface {
	// WatchExit calls fn once when sender leaves the bus.
	WatchExit(sender string, fn func()) (cancel func())
}

// Store persists device state. *storage.Store satisfies it.
type Store interface {
	Trusted(local, peer bluetooth.MacAddress) (bool, error)
	SetTrusted(local, peer bluetooth.MacAddress, trusted bool) error
	Blocked(local, peer bluetooth.MacAddress) (bool, error)
	SetBlocked(local, peer bluetooth.MacAddress, blocked bool) error
	Paired(local, peer bluetooth.MacAddress) (bool, error)
	SetPaired(local, peer bluetooth.MacAddress, paired bool) error
	Alias(local, peer bluetooth.MacAddress) (string, error)
	SetAlias(local, peer bluetooth.MacAddress, alias string) error
	Name(local, peer bluetooth.MacAddress) (string, error)
	SetName(local, peer bluetooth.MacAddress, name string) error
	Class(local, peer bluetooth.MacAddress) (uint32, error)
	SetClass(local, peer bluetooth.MacAddress, class uint32) error
	DeviceType(local, peer bluetooth.MacAddress) (bluetooth.DeviceType, error)
	SetDeviceType(local, peer bluetooth.MacAddress, t bluetooth.DeviceType) error
	Profiles(local, peer bluetooth.MacAddress) (uuid.UUIDs, error)
	SetProfiles(local, peer bluetooth.MacAddress, profiles uuid.UUIDs) error
	DeviceID(local, peer bluetooth.MacAddress) (bluetooth.DeviceID, bool, error)
	SetDeviceID(local, peer bluetooth.MacAddress, id bluetooth.DeviceID) error

	HasLinkKey(local, peer bluetooth.MacAddress) bool
	HasLongTermKey(local, peer bluetooth.MacAddress) bool

	Records(local, peer bluetooth.MacAddress) ([]sdp.Record, error)
	StoreRecord(local, peer bluetooth.MacAddress, rec sdp.Record) error
	DeleteRecord(local, peer bluetooth.MacAddress, handle uint32) error

	DeleteBonding(local, peer bluetooth.MacAddress) error
	DeleteDevice(local, peer bluetooth.MacAddress) error
}

// Driver is a profile implementation bound to devices exposing its profiles.
type Driver interface {
	Name() string
	UUIDs() uuid.UUIDs
	Probe(dev *Device, uuids uuid.UUIDs) error
	Remove(dev *Device)
}

// Call is a method call awaiting a deferred reply.
type Call interface {
	Sender() string

	// Return replies with v, which is nil, an object path string,
	// or a []sdp.Record.
	Return(v any)
	Fail(err error)
}

// AuxChannelPolicy reports whether an idle catalog connection must be held
// open while a PIN is requested from peer.
type AuxChannelPolicy func(peer bluetooth.MacAddress) bool

// PrefixPolicy matches peers whose address starts with one of prefixes.
func PrefixPolicy(prefixes []string) AuxChannelPolicy {
	return func(peer bluetooth.MacAddress) bool {
		for _, p := range prefixes {
			if p = strings.TrimSpace(p); p != "" && peer.HasPrefix(p) {
				return true
			}
		}

		return false
	}
}
