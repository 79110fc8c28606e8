package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel  string
	LogFormat string
	LogFile   string
	DebugRTSP bool
	DebugRTP  bool
	DebugNAL  bool
	DebugCMAF bool
	DebugMQTT bool
	DebugHLS  bool
	DebugAll  bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info", "Log level (shorthand)")
	fs.StringVar(&f.LogFormat, "log-format", "text", "Log output format: text, json")
	fs.StringVar(&f.LogFile, "log-file", "", "Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "", "Log output file path (shorthand)")

	fs.BoolVar(&f.DebugRTSP, "debug-rtsp", false, "Enable RTSP protocol debugging")
	fs.BoolVar(&f.DebugRTP, "debug-rtp", false, "Enable RTP packet debugging")
	fs.BoolVar(&f.DebugNAL, "debug-nal", false, "Enable H.264 NAL unit debugging")
	fs.BoolVar(&f.DebugCMAF, "debug-cmaf", false, "Enable CMAF fragmenter debugging")
	fs.BoolVar(&f.DebugMQTT, "debug-mqtt", false, "Enable MQTT device session debugging")
	fs.BoolVar(&f.DebugHLS, "debug-hls", false, "Enable LL-HLS playlist debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		for _, c := range f.enabledCategories() {
			cfg.EnableCategory(c)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

func (f *Flags) enabledCategories() []DebugCategory {
	var cats []DebugCategory
	if f.DebugRTSP {
		cats = append(cats, DebugRTSP)
	}
	if f.DebugRTP {
		cats = append(cats, DebugRTP)
	}
	if f.DebugNAL {
		cats = append(cats, DebugNAL)
	}
	if f.DebugCMAF {
		cats = append(cats, DebugCMAF)
	}
	if f.DebugMQTT {
		cats = append(cats, DebugMQTT)
	}
	if f.DebugHLS {
		cats = append(cats, DebugHLS)
	}
	return cats
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))
	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		for _, c := range f.enabledCategories() {
			debugCategories = append(debugCategories, string(c))
		}
	}
	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
