package errorkinds

import (
	"errors"

	"github.com/Southclaws/fault/ftag"
)

// Fault kinds that have no equivalent in the ftag package.
const (
	KindInProgress ftag.Kind = "IN_PROGRESS"
	KindTimeout    ftag.Kind = "TIMEOUT"
)

// The different error kinds returned by the engine.
var (
	ErrMethodCall       = errors.New("method call error")
	ErrNotSupported     = errors.New("this operation is not supported")
	ErrInProgress       = errors.New("in progress")
	ErrAlreadyExists    = errors.New("already exists")
	ErrDoesNotExist     = errors.New("does not exist")
	ErrNotConnected     = errors.New("not connected")
	ErrNoAgent          = errors.New("no agent available for request type")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrCanceled         = errors.New("operation canceled")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrPermission       = errors.New("operation not permitted")
	ErrFailed           = errors.New("operation failed")
	ErrTimeout          = errors.New("operation timed out")
	ErrConnectionReset  = errors.New("connection reset by peer")

	ErrConnectionAttemptFailed = errors.New("connection attempt failed")
	ErrAuthenticationFailed    = errors.New("authentication failed")
	ErrAuthenticationTimeout   = errors.New("authentication timeout")
	ErrAuthenticationRejected  = errors.New("authentication rejected")
	ErrAuthenticationCanceled  = errors.New("authentication canceled")
	ErrRepeatedAttempts        = errors.New("repeated attempts")
)

// errorPrefix is the namespace of all error names sent over the bus.
const errorPrefix = "org.bluez.Error."

var names = []struct {
	err  error
	name string
}{
	{ErrInProgress, "InProgress"},
	{ErrAlreadyExists, "AlreadyExists"},
	{ErrDoesNotExist, "DoesNotExist"},
	{ErrNotConnected, "NotConnected"},
	{ErrNotSupported, "NotSupported"},
	{ErrNoAgent, "Failed"},
	{ErrInvalidArguments, "InvalidArguments"},
	{ErrCanceled, "Canceled"},
	{ErrNotAuthorized, "NotAuthorized"},
	{ErrPermission, "NotAuthorized"},
	{ErrTimeout, "Failed"},
	{ErrConnectionReset, "Failed"},
	{ErrConnectionAttemptFailed, "ConnectionAttemptFailed"},
	{ErrAuthenticationFailed, "AuthenticationFailed"},
	{ErrAuthenticationTimeout, "AuthenticationTimeout"},
	{ErrAuthenticationRejected, "AuthenticationRejected"},
	{ErrAuthenticationCanceled, "AuthenticationCanceled"},
	{ErrRepeatedAttempts, "RepeatedAttempts"},
}

// Name returns the bus error name for err.
// Errors that do not wrap a known kind map to "org.bluez.Error.Failed".
func Name(err error) string {
	for _, n := range names {
		if errors.Is(err, n.err) {
			return errorPrefix + n.name
		}
	}

	return errorPrefix + "Failed"
}

// Kind returns the fault kind matching a sentinel error.
func Kind(err error) ftag.Kind {
	switch {
	case errors.Is(err, ErrInProgress):
		return KindInProgress

	case errors.Is(err, ErrTimeout), errors.Is(err, ErrAuthenticationTimeout):
		return KindTimeout

	case errors.Is(err, ErrAlreadyExists):
		return ftag.AlreadyExists

	case errors.Is(err, ErrDoesNotExist):
		return ftag.NotFound

	case errors.Is(err, ErrInvalidArguments):
		return ftag.InvalidArgument

	case errors.Is(err, ErrPermission), errors.Is(err, ErrNotAuthorized):
		return ftag.PermissionDenied

	case errors.Is(err, ErrCanceled), errors.Is(err, ErrAuthenticationCanceled):
		return ftag.Cancelled

	case errors.Is(err, ErrAuthenticationFailed), errors.Is(err, ErrAuthenticationRejected):
		return ftag.Unauthenticated
	}

	return ftag.Internal
}
