package bluetooth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMAC(t *testing.T) {
	m, err := ParseMAC("00:1a:1B:02:03:04")
	require.NoError(t, err)
	assert.Equal(t, MacAddress{0x00, 0x1a, 0x1b, 0x02, 0x03, 0x04}, m)
	assert.Equal(t, "00:1A:1B:02:03:04", m.String())
	assert.Equal(t, "00-1A-1B-02-03-04", m.DashString())
	assert.True(t, m.HasPrefix("00:1a:1b"))
	assert.False(t, m.HasPrefix("00:1A:1C"))

	for _, bad := range []string{"", "00:11:22:33:44", "00:11:22:33:44:5G", "00.11.22.33.44.55"} {
		_, err := ParseMAC(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func TestReversedRoundTrip(t *testing.T) {
	m := MustParseMAC("01:02:03:04:05:06")
	assert.Equal(t, [6]byte{6, 5, 4, 3, 2, 1}, m.Reversed())
	assert.Equal(t, m, FromReversed(m.Reversed()))
}

func TestShortUUID(t *testing.T) {
	u := UUID16(NAPService)
	assert.Equal(t, "00001116-0000-1000-8000-00805f9b34fb", u.String())

	v, ok := ShortUUID(u)
	assert.True(t, ok)
	assert.EqualValues(t, 0x1116, v)

	p, err := ParseUUID("0x1116")
	require.NoError(t, err)
	assert.Equal(t, u, p)

	_, err = ParseUUID("nap")
	assert.ErrorIs(t, err, ErrInvalidUUID)
}

func TestSortUUIDs(t *testing.T) {
	got := SortUUIDs([]uuid.UUID{UUID16(AudioSink), UUID16(AudioSource), UUID16(AudioSink)})
	assert.Equal(t, []uuid.UUID{UUID16(AudioSource), UUID16(AudioSink)}, []uuid.UUID(got))
	assert.True(t, IsAudioProfile(UUID16(HandsfreeAG)))
	assert.False(t, IsAudioProfile(UUID16(NAPService)))
}
