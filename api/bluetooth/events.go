package bluetooth

// EventID identifies a kind of event published on the event bus.
type EventID uint

// The different event kinds.
const (
	EventNone EventID = iota
	EventDeviceCreated
	EventDeviceRemoved
	EventPropertyChanged
	EventDisconnectRequested
	EventNetworkDeviceConnected
	EventNetworkDeviceDisconnected
)

// Value returns the numeric value of the event.
func (e EventID) Value() uint {
	return uint(e)
}

// String converts the EventID to a string.
func (e EventID) String() string {
	switch e {
	case EventDeviceCreated:
		return "device_created"
	case EventDeviceRemoved:
		return "device_removed"
	case EventPropertyChanged:
		return "property_changed"
	case EventDisconnectRequested:
		return "disconnect_requested"
	case EventNetworkDeviceConnected:
		return "network_device_connected"
	case EventNetworkDeviceDisconnected:
		return "network_device_disconnected"
	}

	return "none"
}

// DeviceEvent is published when a device object is created or removed.
type DeviceEvent struct {
	Path    string     `json:"path" codec:"Path"`
	Adapter string     `json:"adapter" codec:"Adapter"`
	Address MacAddress `json:"address" codec:"Address"`
}

// PropertyChangedEvent is published when a device property changes.
type PropertyChangedEvent struct {
	Path  string `json:"path" codec:"Path"`
	Name  string `json:"name" codec:"Name"`
	Value any    `json:"value" codec:"Value"`
}

// DisconnectRequestedEvent is published when a disconnection of a device was requested.
type DisconnectRequestedEvent struct {
	Path string `json:"path" codec:"Path"`
}

// NetworkDeviceEvent is published when a tunneling session to a device
// is established or torn down. Interface and Role are empty on disconnection.
type NetworkDeviceEvent struct {
	AdapterPath string     `json:"adapter_path" codec:"AdapterPath"`
	Address     MacAddress `json:"address" codec:"Address"`
	Interface   string     `json:"interface,omitempty" codec:"Interface,omitempty"`
	Role        uint16     `json:"role,omitempty" codec:"Role,omitempty"`
}
