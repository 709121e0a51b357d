// Package dbusapi serves the engine on the message bus: device, adapter
// and network server objects, signals for engine events, and the client
// side of pairing agents.
package dbusapi

import (
	"context"
	"errors"

	"github.com/bluetuith-org/bluez-lifecycle/api/errorkinds"
	"github.com/godbus/dbus/v5"
)

// Bus names of the exported and called interfaces.
const (
	ServiceName            = "org.bluez"
	AdapterInterface       = "org.bluez.Adapter"
	DeviceInterface        = "org.bluez.Device"
	NetworkServerInterface = "org.bluez.NetworkServer"
	AgentInterface         = "org.bluez.Agent"
)

// toBusError converts an engine error to a bus error reply.
func toBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}

	return dbus.NewError(errorkinds.Name(err), []any{err.Error()})
}

// fromAgentError converts the error reply of an agent to an engine error.
func fromAgentError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errorkinds.ErrAuthenticationTimeout
	}

	switch busErrorName(err) {
	case "org.bluez.Error.Rejected":
		return errorkinds.ErrAuthenticationRejected

	case "org.bluez.Error.Canceled":
		return errorkinds.ErrAuthenticationCanceled

	case "org.freedesktop.DBus.Error.NoReply":
		return errorkinds.ErrAuthenticationTimeout
	}

	return errors.Join(errorkinds.ErrAuthenticationFailed, err)
}

func busErrorName(err error) string {
	var busErr dbus.Error
	if errors.As(err, &busErr) {
		return busErr.Name
	}

	var busErrPtr *dbus.Error
	if errors.As(err, &busErrPtr) {
		return busErrPtr.Name
	}

	return ""
}
