package bluetooth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuthType describes the kind of an authentication request.
type AuthType uint8

// The different authentication request kinds.
const (
	AuthPinCode AuthType = iota
	AuthPasskey
	AuthConfirm
	AuthNotify
	AuthAuto
	AuthOOB
	AuthPairingConsent
)

// String converts the AuthType to a string.
func (a AuthType) String() string {
	switch a {
	case AuthPinCode:
		return "pincode"
	case AuthPasskey:
		return "passkey"
	case AuthConfirm:
		return "confirm"
	case AuthNotify:
		return "notify"
	case AuthAuto:
		return "auto"
	case AuthOOB:
		return "oob"
	case AuthPairingConsent:
		return "pairing-consent"
	}

	return "unknown"
}

// IOCapability describes the input/output capability of a pairing agent.
type IOCapability string

// The different agent capabilities.
const (
	CapabilityDisplayOnly     IOCapability = "DisplayOnly"
	CapabilityDisplayYesNo    IOCapability = "DisplayYesNo"
	CapabilityKeyboardOnly    IOCapability = "KeyboardOnly"
	CapabilityNoInputNoOutput IOCapability = "NoInputNoOutput"
	CapabilityKeyboardDisplay IOCapability = "KeyboardDisplay"
)

// Valid reports whether the capability is one of the known values.
// An empty capability is treated as DisplayYesNo by the bonding flow.
func (c IOCapability) Valid() bool {
	switch c {
	case "", CapabilityDisplayOnly, CapabilityDisplayYesNo, CapabilityKeyboardOnly,
		CapabilityNoInputNoOutput, CapabilityKeyboardDisplay:
		return true
	}

	return false
}

// OOBData holds out-of-band pairing data supplied by an agent.
type OOBData struct {
	Hash       []byte `json:"hash,omitempty"`
	Randomizer []byte `json:"randomizer,omitempty"`
}

// ServiceAuthorizer describes an access-control interface for incoming service connections.
type ServiceAuthorizer interface {
	// AuthorizeService authorizes a connection from the device to the given service (profile).
	AuthorizeService(timeout AuthTimeout, address MacAddress, service uuid.UUID) error
}

// AuthTimeout describes an authentication timeout duration.
// The context value is created with 'context.WithTimeout()'.
type AuthTimeout struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAuthTimeout returns a new authentication timeout token.
func NewAuthTimeout(timeout time.Duration) AuthTimeout {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	return AuthTimeout{ctx, cancel}
}

// Context returns the inner context.
func (a *AuthTimeout) Context() context.Context {
	return a.ctx
}

// Done returns the inner context's Done() channel.
func (a *AuthTimeout) Done() <-chan struct{} {
	return a.ctx.Done()
}

// Cancel cancels the inner context.
func (a *AuthTimeout) Cancel() {
	a.cancel()
}

// DefaultAuthorizer describes a default authorization handler.
type DefaultAuthorizer struct{}

// AuthorizeService accepts all service (Bluetooth profile) authorization requests.
func (DefaultAuthorizer) AuthorizeService(AuthTimeout, MacAddress, uuid.UUID) error {
	return nil
}
