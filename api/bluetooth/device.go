package bluetooth

import "github.com/google/uuid"

// DeviceType describes the transports a device was seen on.
type DeviceType uint8

// The different device types.
const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeBREDR
	DeviceTypeLE
	DeviceTypeDualMode
)

// String converts the DeviceType to a string.
func (d DeviceType) String() string {
	switch d {
	case DeviceTypeBREDR:
		return "BR/EDR"
	case DeviceTypeLE:
		return "LE"
	case DeviceTypeDualMode:
		return "DUALMODE"
	}

	return "UNKNOWN"
}

// IsLE reports whether the device is reachable only over low energy.
func (d DeviceType) IsLE() bool {
	return d == DeviceTypeLE
}

// DeviceID holds the PnP information record values of a device.
type DeviceID struct {
	Source  uint16 `json:"source" codec:"Source" cbor:"1,keyasint"`
	Vendor  uint16 `json:"vendor" codec:"Vendor" cbor:"2,keyasint"`
	Product uint16 `json:"product" codec:"Product" cbor:"3,keyasint"`
	Version uint16 `json:"version" codec:"Version" cbor:"4,keyasint"`
}

// DeviceData holds the properties of a device object.
type DeviceData struct {
	// Address holds the Bluetooth MAC address of the device.
	Address MacAddress `json:"address,omitempty" codec:"Address,omitempty"`

	// Name holds the name reported by the device.
	Name string `json:"name,omitempty" codec:"Name,omitempty"`

	// Alias holds the user-assigned name, or a name derived from
	// Name or Address when no alias is set.
	Alias string `json:"alias,omitempty" codec:"Alias,omitempty"`

	// Class holds the class of device.
	Class uint32 `json:"class,omitempty" codec:"Class,omitempty"`

	Paired    bool `json:"paired,omitempty" codec:"Paired,omitempty"`
	Trusted   bool `json:"trusted,omitempty" codec:"Trusted,omitempty"`
	Blocked   bool `json:"blocked,omitempty" codec:"Blocked,omitempty"`
	Connected bool `json:"connected,omitempty" codec:"Connected,omitempty"`

	// UUIDs holds the sorted list of known service class identifiers.
	UUIDs uuid.UUIDs `json:"uuids,omitempty" codec:"UUIDs,omitempty"`

	// Services holds the object paths of exposed services.
	Services []string `json:"services,omitempty" codec:"Services,omitempty"`

	// Adapter holds the object path of the owning adapter.
	Adapter string `json:"adapter,omitempty" codec:"Adapter,omitempty"`

	// Type holds the device type.
	Type DeviceType `json:"type,omitempty" codec:"Type,omitempty"`

	// DeviceID holds the PnP identification, if the device published one.
	DeviceID DeviceID `json:"device_id,omitempty" codec:"DeviceID,omitempty"`
}
