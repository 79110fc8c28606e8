package state

import (
	"strconv"
	"strings"
)

// lookupValue resolves an RFC 6901 JSON pointer like "/print/bed_temper"
// against a decoded JSON object tree (map[string]any / []any / scalars,
// as produced by encoding/json.Unmarshal into an any). It returns the
// first pointer (in order) that resolves to a non-nil value.
func lookupValue(root map[string]any, pointers ...string) (any, bool) {
	for _, pointer := range pointers {
		if v, ok := resolvePointer(root, pointer); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func resolvePointer(root map[string]any, pointer string) (any, bool) {
	if pointer == "" {
		return root, true
	}
	segments := strings.Split(strings.TrimPrefix(pointer, "/"), "/")

	var current any = root
	for _, seg := range segments {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")

		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, ok := parseIndex(seg)
			if !ok || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func parseIndex(seg string) (int, bool) {
	if seg == "" {
		return 0, false
	}
	n := 0
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func lookupString(root map[string]any, pointers ...string) (string, bool) {
	v, ok := lookupValue(root, pointers...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func lookupFloat64(root map[string]any, pointers ...string) (float64, bool) {
	v, ok := lookupValue(root, pointers...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func lookupUint32(root map[string]any, pointers ...string) (uint32, bool) {
	f, ok := lookupFloat64(root, pointers...)
	if !ok || f < 0 {
		return 0, false
	}
	return uint32(f), true
}

func lookupUint8(root map[string]any, pointers ...string) (uint8, bool) {
	f, ok := lookupFloat64(root, pointers...)
	if !ok || f < 0 || f > 255 {
		return 0, false
	}
	return uint8(f), true
}

// extractLight finds the chamber_light mode from either shape Bambu
// firmware uses for lights_report: an array of {node, mode} entries, or
// a flat object keyed by light name.
func extractLight(report map[string]any) (string, bool) {
	raw, ok := lookupValue(report, "/print/lights_report", "/lights_report")
	if !ok {
		return "", false
	}

	switch lights := raw.(type) {
	case []any:
		for _, entry := range lights {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if node, _ := m["node"].(string); node != "chamber_light" {
				continue
			}
			if mode, ok := m["mode"].(string); ok {
				return normalizeLightMode(mode), true
			}
		}
		return "", false
	case map[string]any:
		v, ok := lights["chamber_light"]
		if !ok {
			return "", false
		}
		switch mode := v.(type) {
		case float64:
			if mode == 0 {
				return "off", true
			}
			return "on", true
		case bool:
			if mode {
				return "on", true
			}
			return "off", true
		case string:
			return normalizeLightMode(mode), true
		default:
			return "", false
		}
	default:
		return "", false
	}
}

// extractAMS parses the AMS unit array at "/print/ams/ams": each unit
// carries an id, a raw humidity reading, and its tray list; each tray
// carries an id, filament type (from a non-empty tray_type), and color
// (tray_color, falling back to the first entry of cols).
func extractAMS(report map[string]any) ([]AMSUnit, bool) {
	raw, ok := lookupValue(report, "/print/ams/ams")
	if !ok {
		return nil, false
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, false
	}

	units := make([]AMSUnit, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		unit := AMSUnit{
			ID:          intField(m, "id"),
			HumidityRaw: stringField(m, "humidity_raw"),
		}
		if trayList, ok := m["tray"].([]any); ok {
			for _, te := range trayList {
				tm, ok := te.(map[string]any)
				if !ok {
					continue
				}
				tray := AMSTray{ID: intField(tm, "id")}
				if t := stringField(tm, "tray_type"); t != "" {
					tray.FilamentType = t
				}
				if c := stringField(tm, "tray_color"); c != "" {
					tray.Color = c
				} else if cols, ok := tm["cols"].([]any); ok && len(cols) > 0 {
					if s, ok := cols[0].(string); ok {
						tray.Color = s
					}
				}
				unit.Trays = append(unit.Trays, tray)
			}
		}
		units = append(units, unit)
	}
	return units, true
}

func intField(m map[string]any, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return int(f)
	default:
		return 0
	}
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func normalizeLightMode(mode string) string {
	switch mode {
	case "on", "off":
		return mode
	case "flashing":
		return "on"
	default:
		return mode
	}
}
