// Package commands translates high-level printer commands into the
// JSON/G-code request payloads the Bambu MQTT protocol expects.
package commands

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	maxMoveMM     = 50.0
	maxExtrudeMM  = 50.0
	minFeedRate   = 60
	maxFeedRate   = 12000
	nozzleTempMin = 0.0
	nozzleTempMax = 320.0
	bedTempMin    = 0.0
	bedTempMax    = 120.0
)

// MotionAxis identifies a gantry axis for a relative Move command.
type MotionAxis string

const (
	AxisX MotionAxis = "x"
	AxisY MotionAxis = "y"
	AxisZ MotionAxis = "z"
)

func (a MotionAxis) letter() byte {
	switch a {
	case AxisX:
		return 'X'
	case AxisY:
		return 'Y'
	case AxisZ:
		return 'Z'
	default:
		return 'X'
	}
}

func (a MotionAxis) defaultFeedRate() uint32 {
	if a == AxisZ {
		return 600
	}
	return 3000
}

// Kind distinguishes the command variants a client can request.
type Kind int

const (
	KindPause Kind = iota
	KindResume
	KindStop
	KindLight
	KindHome
	KindMove
	KindSetNozzleTemp
	KindSetBedTemp
	KindExtrude
)

// Request is one command to deliver to a printer over MQTT. Only the
// fields relevant to Kind are meaningful; FeedRate of 0 means "use the
// command's default feed rate".
type Request struct {
	Kind Kind

	LightOn bool

	Axis     MotionAxis
	Distance float64
	FeedRate uint32 // 0 means unset

	TargetC float64

	AmountMM float64
}

// ToPayload renders the command as the JSON object the printer expects
// on its request topic, stamped with the given sequence ID.
func (r Request) ToPayload(userID string, sequenceID uint64) map[string]any {
	seq := strconv.FormatUint(sequenceID, 10)

	switch r.Kind {
	case KindPause:
		return printPayload(userID, seq, "pause", "")
	case KindResume:
		return printPayload(userID, seq, "resume", "")
	case KindStop:
		return printPayload(userID, seq, "stop", "")
	case KindLight:
		mode := "off"
		if r.LightOn {
			mode = "on"
		}
		return map[string]any{
			"user_id": userID,
			"system": map[string]any{
				"sequence_id":   seq,
				"command":       "ledctrl",
				"led_node":      "chamber_light",
				"led_mode":      mode,
				"led_on_time":   500,
				"led_off_time":  500,
				"loop_times":    0,
				"interval_time": 0,
			},
		}
	case KindHome:
		return printPayload(userID, seq, "gcode_line", "G28 \n")
	case KindMove:
		distance := sanitizeDistance(r.Distance)
		feedRate := r.FeedRate
		if feedRate == 0 {
			feedRate = r.Axis.defaultFeedRate()
		}
		feedRate = sanitizeFeedRate(feedRate)
		return printPayload(userID, seq, "gcode_line", motionGcode(r.Axis, distance, feedRate))
	case KindSetNozzleTemp:
		sanitized := sanitizeTemperature(r.TargetC, nozzleTempMin, nozzleTempMax)
		return printPayload(userID, seq, "gcode_line", fmt.Sprintf("M104 S%s\n", formatGcodeNumber(sanitized)))
	case KindSetBedTemp:
		sanitized := sanitizeTemperature(r.TargetC, bedTempMin, bedTempMax)
		return printPayload(userID, seq, "gcode_line", fmt.Sprintf("M140 S%s\n", formatGcodeNumber(sanitized)))
	case KindExtrude:
		amount := sanitizeExtrudeAmount(r.AmountMM)
		feedRate := r.FeedRate
		if feedRate == 0 {
			feedRate = 180
		}
		feedRate = sanitizeFeedRate(feedRate)
		return printPayload(userID, seq, "gcode_line", extrudeGcode(amount, feedRate))
	default:
		return printPayload(userID, seq, "pause", "")
	}
}

func printPayload(userID, seq, command, param string) map[string]any {
	inner := map[string]any{
		"sequence_id": seq,
		"command":     command,
	}
	if param != "" {
		inner["param"] = param
	}
	return map[string]any{
		"user_id": userID,
		"print":   inner,
	}
}

func motionGcode(axis MotionAxis, distance float64, feedRate uint32) string {
	return fmt.Sprintf("M211 X0 Y0 Z0 \nM211 S\nM1002 push_ref_mode\nG91\nG1 %c%s F%d\nM1002 pop_ref_mode\n",
		axis.letter(), formatGcodeNumber(distance), feedRate)
}

func extrudeGcode(amountMM float64, feedRate uint32) string {
	return fmt.Sprintf("M83\nG1 E%s F%d\n", formatGcodeNumber(amountMM), feedRate)
}

func sanitizeDistance(distance float64) float64 {
	if !isFinite(distance) {
		return 0
	}
	return clamp(distance, -maxMoveMM, maxMoveMM)
}

func sanitizeFeedRate(feedRate uint32) uint32 {
	if feedRate < minFeedRate {
		return minFeedRate
	}
	if feedRate > maxFeedRate {
		return maxFeedRate
	}
	return feedRate
}

func sanitizeTemperature(targetC, minC, maxC float64) float64 {
	if !isFinite(targetC) {
		return minC
	}
	return roundToInt(clamp(targetC, minC, maxC))
}

func sanitizeExtrudeAmount(amountMM float64) float64 {
	if !isFinite(amountMM) {
		return 0
	}
	return clamp(amountMM, -maxExtrudeMM, maxExtrudeMM)
}

func isFinite(v float64) bool {
	return v == v && v < 1e308 && v > -1e308
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func roundToInt(v float64) float64 {
	if v < 0 {
		return float64(int64(v - 0.5))
	}
	return float64(int64(v + 0.5))
}

// formatGcodeNumber renders a float with up to 3 decimal places, with
// trailing zeroes (and a trailing dot) stripped, matching the compact
// numeric style Bambu firmware's G-code parser expects.
func formatGcodeNumber(value float64) string {
	rendered := strconv.FormatFloat(value, 'f', 3, 64)
	rendered = strings.TrimRight(rendered, "0")
	rendered = strings.TrimRight(rendered, ".")
	if rendered == "-0" || rendered == "" {
		return "0"
	}
	return rendered
}
