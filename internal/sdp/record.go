// Package sdp holds the service catalog record model shared by the browse
// engine, the persisted record cache and the network server advertisement.
package sdp

import (
	"slices"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/google/uuid"
)

// Universal attribute identifiers.
const (
	AttrServiceRecordHandle        uint16 = 0x0000
	AttrServiceClassIDList         uint16 = 0x0001
	AttrProtocolDescriptorList     uint16 = 0x0004
	AttrBrowseGroupList            uint16 = 0x0005
	AttrLanguageBaseList           uint16 = 0x0006
	AttrProfileDescriptorList      uint16 = 0x0009
	AttrAdditionalProtocolDescList uint16 = 0x000d
	AttrServiceName                uint16 = 0x0100
	AttrServiceDescription         uint16 = 0x0101
	AttrGOEPL2CAPPSM               uint16 = 0x0200
	AttrSecurityDescription        uint16 = 0x030a
	AttrNetAccessType              uint16 = 0x030b
	AttrMaxNetAccessRate           uint16 = 0x030c
	AttrSupportedDocFormats        uint16 = 0x0350
)

// PnP information attribute identifiers.
const (
	AttrPnPSpecificationID uint16 = 0x0200
	AttrPnPVendorID        uint16 = 0x0201
	AttrPnPProductID       uint16 = 0x0202
	AttrPnPVersion         uint16 = 0x0203
	AttrPnPPrimaryRecord   uint16 = 0x0204
	AttrPnPVendorIDSource  uint16 = 0x0205
)

// Value is a scalar attribute value.
type Value struct {
	Uint  uint64 `json:"uint,omitempty" codec:"Uint,omitempty" cbor:"1,keyasint,omitempty"`
	Text  string `json:"text,omitempty" codec:"Text,omitempty" cbor:"2,keyasint,omitempty"`
	Bytes []byte `json:"bytes,omitempty" codec:"Bytes,omitempty" cbor:"3,keyasint,omitempty"`
}

// ProtocolDescriptor is one layer of a protocol descriptor list.
type ProtocolDescriptor struct {
	UUID   uuid.UUID `json:"uuid" codec:"UUID" cbor:"1,keyasint"`
	Params []uint16  `json:"params,omitempty" codec:"Params,omitempty" cbor:"2,keyasint,omitempty"`
}

// ProfileDescriptor names a profile and the version implemented.
type ProfileDescriptor struct {
	UUID    uuid.UUID `json:"uuid" codec:"UUID" cbor:"1,keyasint"`
	Version uint16    `json:"version" codec:"Version" cbor:"2,keyasint"`
}

// Language is a language base attribute entry.
type Language struct {
	Code     uint16 `json:"code" codec:"Code" cbor:"1,keyasint"`
	Encoding uint16 `json:"encoding" codec:"Encoding" cbor:"2,keyasint"`
	Base     uint16 `json:"base" codec:"Base" cbor:"3,keyasint"`
}

// Record is a service catalog record.
type Record struct {
	Handle uint32 `json:"handle" codec:"Handle" cbor:"1,keyasint"`

	ServiceClasses      uuid.UUIDs           `json:"service_classes,omitempty" codec:"ServiceClasses,omitempty" cbor:"2,keyasint,omitempty"`
	Protocols           []ProtocolDescriptor `json:"protocols,omitempty" codec:"Protocols,omitempty" cbor:"3,keyasint,omitempty"`
	AdditionalProtocols []ProtocolDescriptor `json:"additional_protocols,omitempty" codec:"AdditionalProtocols,omitempty" cbor:"4,keyasint,omitempty"`
	BrowseGroups        uuid.UUIDs           `json:"browse_groups,omitempty" codec:"BrowseGroups,omitempty" cbor:"5,keyasint,omitempty"`
	Profiles            []ProfileDescriptor  `json:"profiles,omitempty" codec:"Profiles,omitempty" cbor:"6,keyasint,omitempty"`
	Languages           []Language           `json:"languages,omitempty" codec:"Languages,omitempty" cbor:"7,keyasint,omitempty"`

	Name        string `json:"name,omitempty" codec:"Name,omitempty" cbor:"8,keyasint,omitempty"`
	Description string `json:"description,omitempty" codec:"Description,omitempty" cbor:"9,keyasint,omitempty"`

	Attributes map[uint16]Value `json:"attributes,omitempty" codec:"Attributes,omitempty" cbor:"10,keyasint,omitempty"`
}

// ServiceClass returns the dominant (first) service class of the record.
func (r *Record) ServiceClass() (uuid.UUID, bool) {
	if len(r.ServiceClasses) == 0 {
		return uuid.Nil, false
	}

	return r.ServiceClasses[0], true
}

// HasServiceClass reports whether u is in the service class list.
func (r *Record) HasServiceClass(u uuid.UUID) bool {
	return slices.Contains(r.ServiceClasses, u)
}

// HasUUID reports whether u appears anywhere in the record's identifier pattern:
// service classes, protocol layers, browse groups or profiles.
func (r *Record) HasUUID(u uuid.UUID) bool {
	if r.HasServiceClass(u) || slices.Contains(r.BrowseGroups, u) {
		return true
	}

	for _, p := range r.Protocols {
		if p.UUID == u {
			return true
		}
	}

	for _, p := range r.AdditionalProtocols {
		if p.UUID == u {
			return true
		}
	}

	for _, p := range r.Profiles {
		if p.UUID == u {
			return true
		}
	}

	return false
}

// Attribute returns a stored scalar attribute.
func (r *Record) Attribute(id uint16) (Value, bool) {
	v, ok := r.Attributes[id]
	return v, ok
}

// SetAttribute stores a scalar attribute.
func (r *Record) SetAttribute(id uint16, v Value) {
	if r.Attributes == nil {
		r.Attributes = make(map[uint16]Value)
	}

	r.Attributes[id] = v
}

// IsPnPInformation reports whether this is a device identification record.
func (r *Record) IsPnPInformation() bool {
	c, ok := r.ServiceClass()
	return ok && c == bluetooth.UUID16(bluetooth.PnPInformation)
}

// DeviceID extracts the PnP device identification values.
func (r *Record) DeviceID() (bluetooth.DeviceID, bool) {
	if !r.IsPnPInformation() {
		return bluetooth.DeviceID{}, false
	}

	get := func(id uint16) uint16 {
		v, _ := r.Attribute(id)
		return uint16(v.Uint)
	}

	return bluetooth.DeviceID{
		Source:  get(AttrPnPVendorIDSource),
		Vendor:  get(AttrPnPVendorID),
		Product: get(AttrPnPProductID),
		Version: get(AttrPnPVersion),
	}, true
}

// RFCOMMChannel returns the RFCOMM channel of a protocol descriptor list.
func RFCOMMChannel(protos []ProtocolDescriptor) (uint16, bool) {
	rfcomm := bluetooth.UUID16(bluetooth.RFCOMMProtocol)

	for _, p := range protos {
		if p.UUID == rfcomm && len(p.Params) > 0 {
			return p.Params[0], true
		}
	}

	return 0, false
}

// FindByServiceClass returns the first record with u in its service class list.
func FindByServiceClass(records []Record, u uuid.UUID) (Record, bool) {
	for _, r := range records {
		if r.HasServiceClass(u) {
			return r, true
		}
	}

	return Record{}, false
}
