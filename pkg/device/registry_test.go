package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethan/bambu-lan-gateway/pkg/config"
)

func testRegistryConfig(t *testing.T) *config.Config {
	t.Helper()
	global := testGlobalConfig(t)
	global.Devices = []config.DeviceConfig{
		testDevice(),
		{ID: "printer-2", Name: "Second Printer", Host: "10.0.0.6", Serial: "01S00B000000000", AccessCode: "87654321", RTSPPort: 6000, RTSPPath: "/streaming/live/1"},
	}
	return &global
}

func TestNewRegistry_BuildsOneSupervisorPerDevice(t *testing.T) {
	reg, err := NewRegistry(testRegistryConfig(t), nil)
	require.NoError(t, err)
	require.Len(t, reg.List(), 2)
}

func TestRegistry_GetFindsDeviceByID(t *testing.T) {
	reg, err := NewRegistry(testRegistryConfig(t), nil)
	require.NoError(t, err)

	sup, ok := reg.Get("printer-2")
	require.True(t, ok)
	require.Equal(t, "Second Printer", sup.Device.Name)
}

func TestRegistry_GetMissingDeviceReturnsFalse(t *testing.T) {
	reg, err := NewRegistry(testRegistryConfig(t), nil)
	require.NoError(t, err)

	_, ok := reg.Get("nonexistent")
	require.False(t, ok)
}

func TestRegistry_ListIsSortedByDeviceID(t *testing.T) {
	reg, err := NewRegistry(testRegistryConfig(t), nil)
	require.NoError(t, err)

	sups := reg.List()
	require.Equal(t, "printer-1", sups[0].Device.ID)
	require.Equal(t, "printer-2", sups[1].Device.ID)
}
