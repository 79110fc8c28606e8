package commands

import (
	"encoding/json"
	"fmt"
)

// wireRequest is the tagged-by-type JSON shape a client POSTs; only the
// fields relevant to Type are meaningful.
type wireRequest struct {
	Type string `json:"type"`

	On bool `json:"on"`

	Axis     string  `json:"axis"`
	Distance float64 `json:"distance"`
	FeedRate *uint32 `json:"feed_rate"`

	TargetC float64 `json:"target_c"`

	AmountMM float64 `json:"amount_mm"`
}

// DecodeRequest parses a JSON command body into a Request, validating
// that Type names a known command and Axis (for "move") names a known
// gantry axis. All numeric fields are sanitized later by ToPayload;
// this only rejects shapes ToPayload couldn't be asked to render at
// all.
func DecodeRequest(data []byte) (Request, error) {
	var wire wireRequest
	if err := json.Unmarshal(data, &wire); err != nil {
		return Request{}, fmt.Errorf("commands: decode: %w", err)
	}

	feedRate := uint32(0)
	if wire.FeedRate != nil {
		feedRate = *wire.FeedRate
	}

	switch wire.Type {
	case "pause":
		return Request{Kind: KindPause}, nil
	case "resume":
		return Request{Kind: KindResume}, nil
	case "stop":
		return Request{Kind: KindStop}, nil
	case "light":
		return Request{Kind: KindLight, LightOn: wire.On}, nil
	case "home":
		return Request{Kind: KindHome}, nil
	case "move":
		axis, ok := parseAxis(wire.Axis)
		if !ok {
			return Request{}, fmt.Errorf("commands: unknown axis %q", wire.Axis)
		}
		return Request{Kind: KindMove, Axis: axis, Distance: wire.Distance, FeedRate: feedRate}, nil
	case "set_nozzle_temp":
		return Request{Kind: KindSetNozzleTemp, TargetC: wire.TargetC}, nil
	case "set_bed_temp":
		return Request{Kind: KindSetBedTemp, TargetC: wire.TargetC}, nil
	case "extrude":
		return Request{Kind: KindExtrude, AmountMM: wire.AmountMM, FeedRate: feedRate}, nil
	default:
		return Request{}, fmt.Errorf("commands: unknown type %q", wire.Type)
	}
}

func parseAxis(s string) (MotionAxis, bool) {
	switch MotionAxis(s) {
	case AxisX, AxisY, AxisZ:
		return MotionAxis(s), true
	default:
		return "", false
	}
}
