package serde

import (
	"testing"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSON(t *testing.T) {
	ev := bluetooth.NetworkDeviceEvent{
		AdapterPath: "/org/bluez/hci0",
		Address:     bluetooth.MustParseMAC("AA:BB:CC:DD:EE:FF"),
		Interface:   "bnep0",
		Role:        0x1116,
	}

	data, err := MarshalJson(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"address":"AA:BB:CC:DD:EE:FF"`)
	assert.Contains(t, string(data), `"interface":"bnep0"`)

	var back bluetooth.NetworkDeviceEvent
	require.NoError(t, UnmarshalJson(data, &back))
	assert.Equal(t, ev, back)
}

func TestMarshalReturnsOwnedSlice(t *testing.T) {
	a, err := MarshalJson(map[string]int{"a": 1})
	require.NoError(t, err)

	_, err = MarshalJson(map[string]int{"b": 2})
	require.NoError(t, err)

	assert.JSONEq(t, `{"a":1}`, string(a))
}
