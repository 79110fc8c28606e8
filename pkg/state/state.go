// Package state tracks the most recently reported status of a single
// printer, merging sparse MQTT report payloads into a stable snapshot.
package state

import (
	"time"
)

// PrinterState is the latest known status of one printer, merged
// incrementally from whatever fields each MQTT report happens to
// include — Bambu's firmware sends partial updates, not full snapshots.
type PrinterState struct {
	Connected        bool       `json:"connected"`
	JobState         *string    `json:"jobState,omitempty"`
	Percent          *uint8     `json:"percent,omitempty"`
	RemainingMinutes *uint32    `json:"remainingMinutes,omitempty"`
	NozzleC          *float64   `json:"nozzleC,omitempty"`
	BedC             *float64   `json:"bedC,omitempty"`
	ChamberC         *float64   `json:"chamberC,omitempty"`
	Light            *string    `json:"light,omitempty"`
	AMS              []AMSUnit  `json:"ams,omitempty"`
	RTSPURL          *string    `json:"rtspUrl,omitempty"`
	LastUpdate       *time.Time `json:"lastUpdate,omitempty"`
}

// AMSUnit is one Automatic Material System unit's reported status: its
// humidity reading and the filament trays it holds.
type AMSUnit struct {
	ID           int       `json:"id"`
	HumidityRaw  string    `json:"humidityRaw,omitempty"`
	Trays        []AMSTray `json:"trays"`
}

// AMSTray is one loaded-or-empty filament slot within an AMS unit.
type AMSTray struct {
	ID           int    `json:"id"`
	FilamentType string `json:"filamentType,omitempty"`
	Color        string `json:"color,omitempty"`
}

// Clone returns a deep-enough copy safe to hand to a reader while this
// state continues to be mutated — every pointer field is a freshly
// allocated copy of its pointee.
func (s PrinterState) Clone() PrinterState {
	out := s
	out.JobState = clonePtr(s.JobState)
	out.Percent = clonePtr(s.Percent)
	out.RemainingMinutes = clonePtr(s.RemainingMinutes)
	out.NozzleC = clonePtr(s.NozzleC)
	out.BedC = clonePtr(s.BedC)
	out.ChamberC = clonePtr(s.ChamberC)
	out.Light = clonePtr(s.Light)
	out.RTSPURL = clonePtr(s.RTSPURL)
	out.LastUpdate = clonePtr(s.LastUpdate)
	if s.AMS != nil {
		out.AMS = append([]AMSUnit(nil), s.AMS...)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ApplyReport merges one decoded MQTT report JSON object into the
// state, reading only the sparse subset of fields it understands and
// leaving everything else (and any field this report is silent on)
// untouched. LastUpdate is set to now for every report, even one in
// which no field is recognized, since receiving any report at all is
// itself evidence of liveness.
func (s *PrinterState) ApplyReport(report map[string]any, now time.Time) {
	if v, ok := lookupString(report, "/print/gcode_state"); ok {
		s.JobState = &v
	}

	if v, ok := lookupUint8(report, "/print/mc_percent", "/print/percent"); ok {
		s.Percent = &v
	}

	if v, ok := lookupUint32(report, "/print/mc_remaining_time", "/print/remain_time"); ok {
		s.RemainingMinutes = &v
	}

	if v, ok := lookupFloat64(report,
		"/print/nozzle_temper", "/temp/nozzle_temper", "/print/device/extruder/info/0/temp"); ok {
		s.NozzleC = &v
	}

	if v, ok := lookupFloat64(report,
		"/print/bed_temper", "/temp/bed_temper", "/print/device/bed/info/temp"); ok {
		s.BedC = &v
	}

	if v, ok := lookupFloat64(report,
		"/print/chamber_temper", "/temp/chamber_temper", "/print/device/ctc/info/temp"); ok {
		s.ChamberC = &v
	}

	if v, ok := extractLight(report); ok {
		s.Light = &v
	}

	if units, ok := extractAMS(report); ok {
		s.AMS = units
	}

	if v, ok := lookupString(report, "/print/ipcam/rtsp_url"); ok {
		s.RTSPURL = &v
	}

	s.LastUpdate = &now
}
