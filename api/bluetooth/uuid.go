package bluetooth

import (
	"encoding/binary"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// BaseUUID is the Bluetooth base UUID, 00000000-0000-1000-8000-00805F9B34FB.
var BaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// Well known protocol and service class identifiers.
const (
	L2CAPProtocol     uint16 = 0x0100
	RFCOMMProtocol    uint16 = 0x0003
	BNEPProtocol      uint16 = 0x000f
	PublicBrowseGroup uint16 = 0x1002
	PnPInformation    uint16 = 0x1200
	HeadsetHS         uint16 = 0x1108
	HeadsetAG         uint16 = 0x1112
	HandsfreeHS       uint16 = 0x111e
	HandsfreeAG       uint16 = 0x111f
	AdvancedAudio     uint16 = 0x110d
	AudioSource       uint16 = 0x110a
	AudioSink         uint16 = 0x110b
	AVRemoteTarget    uint16 = 0x110c
	AVRemote          uint16 = 0x110e
	PANUService       uint16 = 0x1115
	NAPService        uint16 = 0x1116
	GNService         uint16 = 0x1117
	DirectPrintingBPP uint16 = 0x1118
	GenericAttribute  uint16 = 0x1801
	GenericAccess     uint16 = 0x1800
)

// ErrInvalidUUID is returned when a string is neither a full nor a short UUID.
var ErrInvalidUUID = errors.New("invalid uuid")

// UUID16 expands a 16-bit short identifier against the base UUID.
func UUID16(v uint16) uuid.UUID {
	return UUID32(uint32(v))
}

// UUID32 expands a 32-bit short identifier against the base UUID.
func UUID32(v uint32) uuid.UUID {
	u := BaseUUID
	binary.BigEndian.PutUint32(u[0:4], v)

	return u
}

// ShortUUID returns the 32-bit short form of u, and whether u is derived from the base UUID.
func ShortUUID(u uuid.UUID) (uint32, bool) {
	if [12]byte(u[4:]) != [12]byte(BaseUUID[4:]) {
		return 0, false
	}

	return binary.BigEndian.Uint32(u[0:4]), true
}

// ParseUUID parses a full UUID string, or a hexadecimal 16/32-bit short form
// such as "0x1116" or "1116".
func ParseUUID(s string) (uuid.UUID, error) {
	if u, err := uuid.Parse(s); err == nil {
		return u, nil
	}

	short := strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(short) == 0 || len(short) > 8 {
		return uuid.Nil, ErrInvalidUUID
	}

	var v uint32
	for _, c := range short {
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | uint32(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | uint32(c-'a'+10)
		default:
			return uuid.Nil, ErrInvalidUUID
		}
	}

	return UUID32(v), nil
}

// SortUUIDs sorts and deduplicates a list of identifiers by their string form.
func SortUUIDs(u uuid.UUIDs) uuid.UUIDs {
	slices.SortFunc(u, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})

	return slices.Compact(u)
}

// AudioProfiles lists the profiles whose drivers are bound and unbound as a group.
var AudioProfiles = uuid.UUIDs{
	UUID16(HeadsetHS),
	UUID16(HeadsetAG),
	UUID16(HandsfreeHS),
	UUID16(HandsfreeAG),
	UUID16(AdvancedAudio),
	UUID16(AudioSource),
	UUID16(AudioSink),
	UUID16(AVRemoteTarget),
	UUID16(AVRemote),
}

// IsAudioProfile reports whether u is one of AudioProfiles.
func IsAudioProfile(u uuid.UUID) bool {
	return slices.Contains(AudioProfiles, u)
}
