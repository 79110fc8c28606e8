package api

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethan/bambu-lan-gateway/pkg/config"
	"github.com/ethan/bambu-lan-gateway/pkg/device"
)

func newTestRegistry(t *testing.T) *device.Registry {
	t.Helper()
	cfg := &config.Config{
		HLSOutputDir:          t.TempDir(),
		HLSTargetDurationSecs: 2.0,
		HLSPartDurationSecs:   0.5,
		HLSWindowSegments:     3,
		HLSBacklogSecs:        10.0,
		MQTTPort:              8883,
		MQTTClientIDPrefix:    "test-gateway",
		MQTTUserID:            "1",
		MQTTKeepAliveSecs:     30,
		Devices: []config.DeviceConfig{
			{ID: "printer-1", Name: "Test Printer", Host: "10.0.0.5", Serial: "01S00A000000000", AccessCode: "12345678", RTSPPort: 6000, RTSPPath: "/streaming/live/1"},
		},
	}
	reg, err := device.NewRegistry(cfg, nil)
	require.NoError(t, err)
	return reg
}
