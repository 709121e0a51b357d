package bnep

import (
	"encoding/binary"
	"errors"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/google/uuid"
)

var (
	// ErrShortFrame is returned when a frame ends before a complete field.
	ErrShortFrame = errors.New("bnep: short frame")

	// ErrNotControl is returned when a frame is not a control frame.
	ErrNotControl = errors.New("bnep: not a control frame")
)

// Control holds the header of a control frame.
type Control struct {
	Command  Command
	Extended bool
}

// ParseControl decodes the packet type and command of a control frame.
func ParseControl(frame []byte) (Control, error) {
	if len(frame) < 2 {
		return Control{}, ErrShortFrame
	}

	if frame[0]&TypeMask != TypeControl {
		return Control{}, ErrNotControl
	}

	return Control{
		Command:  Command(frame[1]),
		Extended: frame[0]&TypeExtHeader != 0,
	}, nil
}

// SetupRequest is a decoded setup connection request.
type SetupRequest struct {
	Destination Role
	Source      Role

	// UUIDSize is the encoded size of each role identifier.
	UUIDSize int

	// Extended is set when extension headers follow the role fields.
	Extended bool
}

// ExtensionOffset returns the offset of the first extension header.
func (s SetupRequest) ExtensionOffset() int {
	return 3 + 2*s.UUIDSize
}

// DecodeSetupRequest decodes a setup connection request frame.
// A non-success response code is returned for any frame which must be rejected;
// the destination role is always validated before the source role.
func DecodeSetupRequest(frame []byte) (SetupRequest, ResponseCode) {
	if len(frame) < 3 {
		return SetupRequest{}, ResponseInvalidService
	}

	req := SetupRequest{
		UUIDSize: int(frame[2]),
		Extended: frame[0]&TypeExtHeader != 0,
	}

	switch req.UUIDSize {
	case 2, 4, 16:
	default:
		return req, ResponseInvalidService
	}

	if len(frame) < req.ExtensionOffset() {
		return req, ResponseInvalidService
	}

	dst := frame[3 : 3+req.UUIDSize]
	src := frame[3+req.UUIDSize : 3+2*req.UUIDSize]

	switch req.UUIDSize {
	case 2:
		req.Destination = Role(binary.BigEndian.Uint16(dst))
		req.Source = Role(binary.BigEndian.Uint16(src))

	case 4:
		d := binary.BigEndian.Uint32(dst)
		if !validShort(d) {
			return req, ResponseInvalidDestination
		}
		req.Destination = Role(d)

		s := binary.BigEndian.Uint32(src)
		if !validShort(s) {
			return req, ResponseInvalidSource
		}
		req.Source = Role(s)

	case 16:
		d, ok := roleFromUUID(uuid.UUID(dst))
		if !ok {
			return req, ResponseInvalidDestination
		}
		req.Destination = d

		s, ok := roleFromUUID(uuid.UUID(src))
		if !ok {
			return req, ResponseInvalidSource
		}
		req.Source = s
	}

	return req, ResponseSuccess
}

func validShort(v uint32) bool {
	return v <= 0xffff && Role(v).Valid()
}

// EncodeSetupRequest builds a setup connection request with 16-bit role identifiers.
func EncodeSetupRequest(dst, src Role) []byte {
	b := []byte{TypeControl, byte(CmdSetupConnReq), 2, 0, 0, 0, 0}
	binary.BigEndian.PutUint16(b[3:], uint16(dst))
	binary.BigEndian.PutUint16(b[5:], uint16(src))

	return b
}

// EncodeSetupRequest128 builds a setup connection request with full role identifiers.
func EncodeSetupRequest128(dst, src uuid.UUID) []byte {
	b := []byte{TypeControl, byte(CmdSetupConnReq), 16}
	b = append(b, dst[:]...)

	return append(b, src[:]...)
}

// EncodeControlResponse builds a 4-byte control response carrying a status.
func EncodeControlResponse(cmd Command, status uint16) []byte {
	b := []byte{TypeControl, byte(cmd), 0, 0}
	binary.BigEndian.PutUint16(b[2:], status)

	return b
}

// EncodeSetupResponse builds a setup connection response.
func EncodeSetupResponse(code ResponseCode) []byte {
	return EncodeControlResponse(CmdSetupConnRsp, uint16(code))
}

// DecodeSetupResponse decodes a setup connection response.
func DecodeSetupResponse(frame []byte) (ResponseCode, error) {
	c, err := ParseControl(frame)
	if err != nil {
		return 0, err
	}

	if c.Command != CmdSetupConnRsp {
		return 0, ErrNotControl
	}

	if len(frame) < 4 {
		return 0, ErrShortFrame
	}

	return ResponseCode(binary.BigEndian.Uint16(frame[2:4])), nil
}

// EncodeCommandNotUnderstood builds the reply to an unknown control command.
func EncodeCommandNotUnderstood(cmd Command) []byte {
	return []byte{TypeControl, byte(CmdNotUnderstood), byte(cmd)}
}

// Extension is one extension header.
type Extension struct {
	Type uint8
	Data []byte
}

// IsControl reports whether the extension carries a control command.
func (e Extension) IsControl() bool {
	return e.Type&TypeMask == ExtTypeControl
}

// WalkExtensions visits the chain of extension headers starting at offset.
// The walk ends at the header whose continuation bit is clear; a truncated
// header stops the walk and is reported as ErrShortFrame after the complete
// headers have been visited.
func WalkExtensions(frame []byte, offset int, fn func(Extension)) error {
	for {
		if offset+2 > len(frame) {
			return ErrShortFrame
		}

		typ, n := frame[offset], int(frame[offset+1])
		end := offset + 2 + n
		if end > len(frame) {
			return ErrShortFrame
		}

		fn(Extension{Type: typ, Data: frame[offset+2 : end]})

		if typ&TypeExtHeader == 0 {
			return nil
		}

		offset = end
	}
}

// FilterReplies walks the extension headers and returns one "unsupported"
// response per recognized filter-set command. Filters are never applied.
func FilterReplies(frame []byte, offset int) ([][]byte, error) {
	var replies [][]byte

	err := WalkExtensions(frame, offset, func(e Extension) {
		if !e.IsControl() || len(e.Data) == 0 {
			return
		}

		switch Command(e.Data[0]) {
		case CmdFilterNetTypeSet:
			replies = append(replies, EncodeControlResponse(CmdFilterNetTypeRsp, FilterUnsupported))

		case CmdFilterMultAddrSet:
			replies = append(replies, EncodeControlResponse(CmdFilterMultAddrRsp, FilterUnsupported))
		}
	})

	return replies, err
}

// ServiceUUID is the service class used when authorizing incoming sessions.
var ServiceUUID = bluetooth.UUID16(bluetooth.BNEPProtocol)
