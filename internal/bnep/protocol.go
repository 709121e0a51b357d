// Package bnep implements the control frames of the network encapsulation
// protocol used by PAN sessions: setup request decoding, role validation,
// extension header walking and response encoding.
package bnep

import "fmt"

// Transport constants.
const (
	PSM = 0x000f
	MTU = 1691
)

// Packet type values.
const (
	TypeControl    uint8 = 0x01
	TypeExtHeader  uint8 = 0x80
	TypeMask       uint8 = 0x7f
	ExtTypeControl uint8 = 0x00
)

// Command is a control command identifier.
type Command uint8

// The different control commands.
const (
	CmdNotUnderstood     Command = 0x00
	CmdSetupConnReq      Command = 0x01
	CmdSetupConnRsp      Command = 0x02
	CmdFilterNetTypeSet  Command = 0x03
	CmdFilterNetTypeRsp  Command = 0x04
	CmdFilterMultAddrSet Command = 0x05
	CmdFilterMultAddrRsp Command = 0x06
)

// String converts the Command to a string.
func (c Command) String() string {
	switch c {
	case CmdNotUnderstood:
		return "command-not-understood"
	case CmdSetupConnReq:
		return "setup-connection-request"
	case CmdSetupConnRsp:
		return "setup-connection-response"
	case CmdFilterNetTypeSet:
		return "filter-net-type-set"
	case CmdFilterNetTypeRsp:
		return "filter-net-type-response"
	case CmdFilterMultAddrSet:
		return "filter-multicast-address-set"
	case CmdFilterMultAddrRsp:
		return "filter-multicast-address-response"
	}

	return fmt.Sprintf("command(0x%02x)", uint8(c))
}

// Known reports whether the command is defined by the protocol.
func (c Command) Known() bool {
	return c <= CmdFilterMultAddrRsp
}

// ResponseCode is the status carried by a setup connection response.
type ResponseCode uint16

// The different setup response codes.
const (
	ResponseSuccess            ResponseCode = 0x0000
	ResponseInvalidDestination ResponseCode = 0x0001
	ResponseInvalidSource      ResponseCode = 0x0002
	ResponseInvalidService     ResponseCode = 0x0003
	ResponseNotAllowed         ResponseCode = 0x0004
)

// String converts the ResponseCode to a string.
func (r ResponseCode) String() string {
	switch r {
	case ResponseSuccess:
		return "success"
	case ResponseInvalidDestination:
		return "invalid-destination"
	case ResponseInvalidSource:
		return "invalid-source"
	case ResponseInvalidService:
		return "invalid-service"
	case ResponseNotAllowed:
		return "not-allowed"
	}

	return fmt.Sprintf("response(0x%04x)", uint16(r))
}

// FilterUnsupported is the filter response status for unsupported requests.
const FilterUnsupported uint16 = 0x0001
