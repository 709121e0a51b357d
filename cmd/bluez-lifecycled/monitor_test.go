package main

import (
	"strings"
	"testing"

	"github.com/bluetuith-org/bluez-lifecycle/internal/serde"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorEvent(t *testing.T) {
	ev := newMonitorEvent(&dbus.Signal{
		Path: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF",
		Name: "org.bluez.Device.PropertyChanged",
		Body: []any{"Services", dbus.MakeVariant([]dbus.ObjectPath{"/a/service0001"})},
	})

	assert.Equal(t, "org.bluez.Device", ev.Interface)
	assert.Equal(t, "PropertyChanged", ev.Member)
	assert.Equal(t, []any{"Services", []string{"/a/service0001"}}, ev.Body)

	data, err := serde.MarshalJson(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"path": "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF",
		"interface": "org.bluez.Device",
		"member": "PropertyChanged",
		"body": ["Services", ["/a/service0001"]]
	}`, string(data))
}

func TestConfigCommand(t *testing.T) {
	root := newRootCmd()

	var out strings.Builder
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--config", t.TempDir() + "/absent.yaml", "--session-bus"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "system: false")
	assert.Contains(t, out.String(), "path: /org/bluez/hci0")
}
