package bnep

import (
	"strings"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/google/uuid"
)

// Role is the service class a side of a session claims.
type Role uint16

// The different roles.
const (
	RolePANU Role = Role(bluetooth.PANUService)
	RoleNAP  Role = Role(bluetooth.NAPService)
	RoleGN   Role = Role(bluetooth.GNService)
)

// Roles lists every known role.
var Roles = []Role{RolePANU, RoleNAP, RoleGN}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePANU, RoleNAP, RoleGN:
		return true
	}

	return false
}

// UUID returns the full service class identifier of the role.
func (r Role) UUID() uuid.UUID {
	return bluetooth.UUID16(uint16(r))
}

// String converts the Role to a string.
func (r Role) String() string {
	switch r {
	case RolePANU:
		return "panu"
	case RoleNAP:
		return "nap"
	case RoleGN:
		return "gn"
	}

	return "unknown"
}

// Name returns the advertised service name of the role.
func (r Role) Name() string {
	switch r {
	case RolePANU:
		return "Network Client"
	case RoleNAP:
		return "Network Access Point"
	case RoleGN:
		return "Group Network"
	}

	return ""
}

// ParseRole parses a role name ("panu", "nap", "gn") or a service class identifier.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(s) {
	case "panu":
		return RolePANU, true
	case "nap":
		return RoleNAP, true
	case "gn":
		return RoleGN, true
	}

	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		return 0, false
	}

	return roleFromUUID(u)
}

func roleFromUUID(u uuid.UUID) (Role, bool) {
	short, ok := bluetooth.ShortUUID(u)
	if !ok || short > 0xffff {
		return 0, false
	}

	r := Role(short)

	return r, r.Valid()
}

// CheckRoles validates a (destination, source) pair against the allowed scenarios.
// A gateway or hub destination only accepts a client source, and a client
// destination accepts any known source.
func CheckRoles(dst, src Role) ResponseCode {
	switch dst {
	case RoleNAP, RoleGN:
		if src == RolePANU {
			return ResponseSuccess
		}

		return ResponseInvalidSource

	case RolePANU:
		switch src {
		case RolePANU, RoleGN, RoleNAP:
			return ResponseSuccess
		}

		return ResponseInvalidSource
	}

	return ResponseInvalidDestination
}
