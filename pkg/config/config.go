// Package config loads gateway configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DeviceConfig describes one supervised printer.
type DeviceConfig struct {
	ID         string
	Name       string
	Host       string
	Serial     string
	AccessCode string
	RTSPURL    string // optional; empty means "wait for MQTT report"
	RTSPPort   uint16
	RTSPPath   string
}

// Config holds all settings for the gateway process.
type Config struct {
	Devices []DeviceConfig

	MQTTPort                    uint16
	MQTTTLS                     bool
	MQTTTLSInsecure             bool
	MQTTCACert                  string
	MQTTMaxIncomingPacketSize   uint32
	MQTTMaxOutgoingPacketSize   uint32
	MQTTClientIDPrefix          string
	MQTTKeepAliveSecs           uint64
	MQTTUserID                  string

	RTSPTLSInsecure bool

	HLSOutputDir          string
	HLSTargetDurationSecs float64
	HLSPartDurationSecs   float64
	HLSWindowSegments     int
	HLSBacklogSecs        float64

	HTTPBind string
}

// Load reads configuration from the process environment.
//
// Global knobs use plain names (MQTT_PORT, HLS_OUTPUT_DIR, ...); devices are
// declared as a numbered family starting at 1: PRINTER_1_HOST,
// PRINTER_1_SERIAL, PRINTER_1_ACCESS_CODE, PRINTER_1_NAME (optional),
// PRINTER_1_RTSP_URL (optional). Numbering stops at the first missing HOST.
func Load() (*Config, error) {
	mqttTLS := envBool("MQTT_TLS", true)
	mqttPort := envU16("MQTT_PORT", defaultMQTTPort(mqttTLS))
	mqttCACert := os.Getenv("MQTT_CA_CERT")

	cfg := &Config{
		MQTTPort:                  mqttPort,
		MQTTTLS:                   mqttTLS,
		MQTTTLSInsecure:           envBool("MQTT_TLS_INSECURE", mqttCACert == ""),
		MQTTCACert:                mqttCACert,
		MQTTMaxIncomingPacketSize: envU32("MQTT_MAX_INCOMING_PACKET_SIZE", 256*1024),
		MQTTMaxOutgoingPacketSize: envU32("MQTT_MAX_OUTGOING_PACKET_SIZE", 64*1024),
		MQTTClientIDPrefix:        envString("MQTT_CLIENT_ID", "bambu-lan-gateway"),
		MQTTKeepAliveSecs:         envU64("MQTT_KEEP_ALIVE_SECS", 30),
		MQTTUserID:                envString("MQTT_USER_ID", "1"),

		RTSPTLSInsecure: envBool("RTSP_TLS_INSECURE", true),

		HLSOutputDir:          envString("HLS_OUTPUT_DIR", "hls"),
		HLSTargetDurationSecs: envF64("HLS_TARGET_DURATION_SECS", 2.0),
		HLSPartDurationSecs:   envF64("HLS_PART_DURATION_SECS", 0.333),
		HLSWindowSegments:     int(envU32("HLS_WINDOW_SEGMENTS", 6)),
		HLSBacklogSecs:        envF64("HLS_BACKLOG_SECS", 10.0),

		HTTPBind: envString("HTTP_BIND", "0.0.0.0:8080"),
	}

	devices, err := loadDevices()
	if err != nil {
		return nil, err
	}
	cfg.Devices = devices

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDevices() ([]DeviceConfig, error) {
	var devices []DeviceConfig
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("PRINTER_%d_", i)
		host := os.Getenv(prefix + "HOST")
		if host == "" {
			break
		}
		serial := os.Getenv(prefix + "SERIAL")
		accessCode := os.Getenv(prefix + "ACCESS_CODE")
		if serial == "" {
			return nil, fmt.Errorf("missing required env var: %sSERIAL", prefix)
		}
		if accessCode == "" {
			return nil, fmt.Errorf("missing required env var: %sACCESS_CODE", prefix)
		}
		name := os.Getenv(prefix + "NAME")
		if name == "" {
			name = serial
		}
		devices = append(devices, DeviceConfig{
			ID:         fmt.Sprintf("printer-%d", i),
			Name:       name,
			Host:       host,
			Serial:     serial,
			AccessCode: accessCode,
			RTSPURL:    os.Getenv(prefix + "RTSP_URL"),
			RTSPPort:   envU16(prefix+"RTSP_PORT", 554),
			RTSPPath:   envString(prefix+"RTSP_PATH", "/streaming/live/1"),
		})
	}
	return devices, nil
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if len(c.Devices) == 0 {
		return fmt.Errorf("no printers configured (set PRINTER_1_HOST, PRINTER_1_SERIAL, PRINTER_1_ACCESS_CODE)")
	}
	if c.HLSTargetDurationSecs <= 0 {
		return fmt.Errorf("HLS_TARGET_DURATION_SECS must be positive")
	}
	if c.HLSWindowSegments <= 0 {
		return fmt.Errorf("HLS_WINDOW_SEGMENTS must be positive")
	}
	if c.HTTPBind == "" {
		return fmt.Errorf("missing HTTP_BIND")
	}
	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if seen[d.Serial] {
			return fmt.Errorf("duplicate printer serial: %s", d.Serial)
		}
		seen[d.Serial] = true
	}
	return nil
}

func defaultMQTTPort(tls bool) uint16 {
	if tls {
		return 8883
	}
	return 1883
}

func envString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return def
	}
}

func envU16(name string, def uint16) uint16 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return def
	}
	return uint16(n)
}

func envU32(name string, def uint32) uint32 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return def
	}
	return uint32(n)
}

func envU64(name string, def uint64) uint64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envF64(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return n
}
