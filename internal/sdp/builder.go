package sdp

import (
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/google/uuid"
)

// Network server record constants.
const (
	bnepVersion        = 0x0100
	panProfileVersion  = 0x0100
	etherTypeIPv4      = 0x0800
	etherTypeARP       = 0x0806
	langEnglish        = 0x656e
	langEncodingUTF8   = 106
	netAccessOther     = 0xfffe
	maxNetAccessRate   = 0
	serviceDescription = "Network service"
)

// NewServerRecord builds the catalog record advertised by a tunneling server
// for the given role service class.
func NewServerRecord(name string, role uint16, psm uint16, security bool) Record {
	class := bluetooth.UUID16(role)

	r := Record{
		ServiceClasses: uuid.UUIDs{class},
		Profiles: []ProfileDescriptor{
			{UUID: class, Version: panProfileVersion},
		},
		Protocols: []ProtocolDescriptor{
			{UUID: bluetooth.UUID16(bluetooth.L2CAPProtocol), Params: []uint16{psm}},
			{UUID: bluetooth.UUID16(bluetooth.BNEPProtocol), Params: []uint16{bnepVersion, etherTypeIPv4, etherTypeARP}},
		},
		BrowseGroups: uuid.UUIDs{bluetooth.UUID16(bluetooth.PublicBrowseGroup)},
		Languages: []Language{
			{Code: langEnglish, Encoding: langEncodingUTF8, Base: AttrServiceName},
		},
		Name:        name,
		Description: serviceDescription,
	}

	var desc uint64
	if security {
		desc = 0x0001
	}
	r.SetAttribute(AttrSecurityDescription, Value{Uint: desc})

	if role == bluetooth.NAPService {
		r.SetAttribute(AttrNetAccessType, Value{Uint: netAccessOther})
		r.SetAttribute(AttrMaxNetAccessRate, Value{Uint: maxNetAccessRate})
	}

	return r
}
