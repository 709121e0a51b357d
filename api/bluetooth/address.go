package bluetooth

import (
	"encoding/hex"
	"errors"
	"strings"
)

// MacAddress holds a Bluetooth device address in display order.
type MacAddress [6]byte

// ErrInvalidAddress is returned when a string cannot be parsed as a MacAddress.
var ErrInvalidAddress = errors.New("invalid bluetooth address")

// ParseMAC parses an address of the form "XX:XX:XX:XX:XX:XX".
// Dashes and underscores are accepted as separators.
func ParseMAC(s string) (MacAddress, error) {
	var m MacAddress

	if len(s) != 17 {
		return m, ErrInvalidAddress
	}

	for i := range m {
		if i > 0 {
			switch s[i*3-1] {
			case ':', '-', '_':
			default:
				return MacAddress{}, ErrInvalidAddress
			}
		}

		if _, err := hex.Decode(m[i:i+1], []byte(s[i*3:i*3+2])); err != nil {
			return MacAddress{}, ErrInvalidAddress
		}
	}

	return m, nil
}

// MustParseMAC is like ParseMAC but panics on error.
func MustParseMAC(s string) MacAddress {
	m, err := ParseMAC(s)
	if err != nil {
		panic(err)
	}

	return m
}

// String converts the address to its colon-separated uppercase form.
func (m MacAddress) String() string {
	return m.join(':')
}

// DashString converts the address to its dash-separated uppercase form.
func (m MacAddress) DashString() string {
	return m.join('-')
}

// HasPrefix reports whether the textual address starts with prefix.
// The comparison is case-insensitive.
func (m MacAddress) HasPrefix(prefix string) bool {
	return strings.HasPrefix(m.String(), strings.ToUpper(prefix))
}

// IsZero reports whether the address is unset.
func (m MacAddress) IsZero() bool {
	return m == MacAddress{}
}

// MarshalText implements encoding.TextMarshaler.
func (m MacAddress) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MacAddress) UnmarshalText(text []byte) error {
	a, err := ParseMAC(string(text))
	if err != nil {
		return err
	}

	*m = a

	return nil
}

// Reversed returns the address in over-the-air (little-endian) byte order.
func (m MacAddress) Reversed() [6]byte {
	var r [6]byte
	for i := range m {
		r[i] = m[5-i]
	}

	return r
}

// FromReversed builds an address from over-the-air byte order.
func FromReversed(b [6]byte) MacAddress {
	var m MacAddress
	for i := range b {
		m[i] = b[5-i]
	}

	return m
}

func (m MacAddress) join(sep byte) string {
	const digits = "0123456789ABCDEF"

	var sb strings.Builder
	sb.Grow(17)

	for i, b := range m {
		if i > 0 {
			sb.WriteByte(sep)
		}

		sb.WriteByte(digits[b>>4])
		sb.WriteByte(digits[b&0x0f])
	}

	return sb.String()
}
