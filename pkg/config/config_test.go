package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethan/bambu-lan-gateway/pkg/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		for _, prefix := range []string{"PRINTER_", "MQTT_", "RTSP_", "HLS_", "HTTP_"} {
			if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
				key := kv[:indexByte(kv, '=')]
				os.Unsetenv(key)
			}
		}
	}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return len(s)
}

func TestLoad_RequiresAtLeastOnePrinter(t *testing.T) {
	clearEnv(t)
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_SinglePrinterDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("PRINTER_1_HOST", "10.0.0.5")
	os.Setenv("PRINTER_1_SERIAL", "01S00A000000001")
	os.Setenv("PRINTER_1_ACCESS_CODE", "12345678")
	defer clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 1)
	require.Equal(t, "printer-1", cfg.Devices[0].ID)
	require.Equal(t, "01S00A000000001", cfg.Devices[0].Name)
	require.Equal(t, uint16(554), cfg.Devices[0].RTSPPort)
	require.Equal(t, "/streaming/live/1", cfg.Devices[0].RTSPPath)
	require.Equal(t, 2.0, cfg.HLSTargetDurationSecs)
	require.True(t, cfg.MQTTTLSInsecure)
}

func TestLoad_MultiplePrintersStopsAtGap(t *testing.T) {
	clearEnv(t)
	os.Setenv("PRINTER_1_HOST", "10.0.0.5")
	os.Setenv("PRINTER_1_SERIAL", "01S00A000000001")
	os.Setenv("PRINTER_1_ACCESS_CODE", "12345678")
	os.Setenv("PRINTER_3_HOST", "10.0.0.7")
	os.Setenv("PRINTER_3_SERIAL", "01S00A000000003")
	os.Setenv("PRINTER_3_ACCESS_CODE", "87654321")
	defer clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 1)
}

func TestLoad_DuplicateSerialRejected(t *testing.T) {
	clearEnv(t)
	os.Setenv("PRINTER_1_HOST", "10.0.0.5")
	os.Setenv("PRINTER_1_SERIAL", "01S00A000000001")
	os.Setenv("PRINTER_1_ACCESS_CODE", "12345678")
	os.Setenv("PRINTER_2_HOST", "10.0.0.6")
	os.Setenv("PRINTER_2_SERIAL", "01S00A000000001")
	os.Setenv("PRINTER_2_ACCESS_CODE", "87654321")
	defer clearEnv(t)

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_MQTTPortDefaultsFollowTLS(t *testing.T) {
	clearEnv(t)
	os.Setenv("PRINTER_1_HOST", "10.0.0.5")
	os.Setenv("PRINTER_1_SERIAL", "01S00A000000001")
	os.Setenv("PRINTER_1_ACCESS_CODE", "12345678")
	os.Setenv("MQTT_TLS", "false")
	defer clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, uint16(1883), cfg.MQTTPort)
}
