package rtp

import (
	"encoding/binary"

	"github.com/ethan/bambu-lan-gateway/pkg/logger"
)

const (
	nalTypeSTAPA = 24
	nalTypeFUA   = 28

	// MaxAccessUnitBytes bounds a single access unit; a stream that never
	// produces a boundary (corrupt marker bits, a stuck timestamp) would
	// otherwise grow without bound.
	MaxAccessUnitBytes = 8 * 1024 * 1024
	// MaxFUBufferBytes bounds one FU-A reassembly; a lost End fragment
	// would otherwise accumulate forever.
	MaxFUBufferBytes = 4 * 1024 * 1024
)

// AccessUnit is one coded picture: the NAL units sharing a single RTP
// timestamp, in network order, without start codes or length prefixes.
type AccessUnit struct {
	NALs         [][]byte
	RTPTimestamp uint32
	IsIDR        bool
}

func nalType(b byte) byte { return b & 0x1F }

func buildAccessUnit(nals [][]byte, timestamp uint32) AccessUnit {
	isIDR := false
	for _, n := range nals {
		if len(n) > 0 && nalType(n[0]) == NALUTypeIFrame {
			isIDR = true
			break
		}
	}
	return AccessUnit{NALs: nals, RTPTimestamp: timestamp, IsIDR: isIDR}
}

// NAL Unit types referenced outside this file (parameter-set detection,
// keyframe detection).
const (
	NALUTypeUnspecified = 0
	NALUTypePFrame      = 1
	NALUTypeIFrame      = 5
	NALUTypeSEI         = 6
	NALUTypeSPS         = 7
	NALUTypePPS         = 8
	NALUTypeAUD         = 9
)

// H264Depacketizer reassembles RTP H.264 payloads (single NAL, STAP-A,
// FU-A) into access units and tracks the most recent SPS/PPS.
//
// Access unit boundaries follow the RTP timestamp, not the marker bit:
// the marker is advisory and some encoders set it unreliably, but all
// NAL units belonging to one coded picture share one RTP timestamp. A
// timestamp change always closes the current access unit before any NAL
// from the new packet is appended; a marker bit closes it as well, as a
// fast path when the encoder does set it correctly.
type H264Depacketizer struct {
	logger *logger.Logger

	currentAU        [][]byte
	currentAUBytes   int
	hasCurrentTs     bool
	currentTimestamp uint32

	fuBuffer      []byte
	fuBufferBytes int
	fuLastSeq     uint16
	fuActive      bool

	sps, pps           []byte
	parameterSetsDirty bool
}

// NewH264Depacketizer returns a depacketizer ready to process a fresh
// RTSP session's RTP stream.
func NewH264Depacketizer(log *logger.Logger) *H264Depacketizer {
	if log == nil {
		log = logger.Default()
	}
	return &H264Depacketizer{logger: log}
}

// TakeParameterSets returns the latest SPS/PPS pair if both are known and
// at least one changed since the last call, clearing the dirty flag.
func (d *H264Depacketizer) TakeParameterSets() (sps, pps []byte, ok bool) {
	if !d.parameterSetsDirty || d.sps == nil || d.pps == nil {
		return nil, nil, false
	}
	d.parameterSetsDirty = false
	return d.sps, d.pps, true
}

// Handle processes one RTP packet and returns zero or more completed
// access units (at most two: a timestamp change flushes the pending unit,
// and a marker bit on the same packet then flushes the unit it started).
func (d *H264Depacketizer) Handle(pkt *Packet) []AccessUnit {
	var emitted []AccessUnit

	if d.hasCurrentTs && len(d.currentAU) > 0 && pkt.Timestamp != d.currentTimestamp {
		emitted = append(emitted, buildAccessUnit(d.currentAU, d.currentTimestamp))
		d.resetAccessUnit()
	}

	for _, nal := range d.extractNALs(pkt.Payload, pkt.SequenceNumber) {
		d.appendNAL(nal, pkt.Timestamp)
	}

	if d.currentAUBytes > MaxAccessUnitBytes {
		d.logger.Warn("access unit exceeded size bound, dropping", "bytes", d.currentAUBytes)
		d.resetAccessUnit()
		return emitted
	}

	if pkt.Marker && len(d.currentAU) > 0 {
		emitted = append(emitted, buildAccessUnit(d.currentAU, d.currentTimestamp))
		d.resetAccessUnit()
	}

	return emitted
}

func (d *H264Depacketizer) resetAccessUnit() {
	d.currentAU = nil
	d.currentAUBytes = 0
	d.hasCurrentTs = false
}

func (d *H264Depacketizer) appendNAL(nal []byte, timestamp uint32) {
	if len(nal) == 0 {
		return
	}
	if !d.hasCurrentTs {
		d.currentTimestamp = timestamp
		d.hasCurrentTs = true
	}
	d.currentAU = append(d.currentAU, nal)
	d.currentAUBytes += len(nal)

	switch nalType(nal[0]) {
	case NALUTypeSPS:
		if d.sps == nil || !bytesEqual(d.sps, nal) {
			d.sps = append([]byte(nil), nal...)
			if d.pps != nil {
				d.parameterSetsDirty = true
			}
		}
	case NALUTypePPS:
		if d.pps == nil || !bytesEqual(d.pps, nal) {
			d.pps = append([]byte(nil), nal...)
			if d.sps != nil {
				d.parameterSetsDirty = true
			}
		}
	}
}

// extractNALs turns one RTP payload into zero or more NAL units (without
// start codes), handling single-NAL, STAP-A aggregation, and FU-A
// fragmentation. Unknown NAL types are ignored.
func (d *H264Depacketizer) extractNALs(payload []byte, seq uint16) [][]byte {
	if len(payload) == 0 {
		return nil
	}
	t := nalType(payload[0])
	switch {
	case t >= 1 && t <= 23:
		return [][]byte{payload}
	case t == nalTypeSTAPA:
		return extractSTAPA(payload)
	case t == nalTypeFUA:
		if nal, ok := d.extractFUA(payload, seq); ok {
			return [][]byte{nal}
		}
		return nil
	default:
		return nil
	}
}

func extractSTAPA(payload []byte) [][]byte {
	var nals [][]byte
	offset := 1 // skip the STAP-A indicator byte
	for offset+2 <= len(payload) {
		size := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
		offset += 2
		if offset+size > len(payload) {
			break
		}
		nals = append(nals, payload[offset:offset+size])
		offset += size
	}
	return nals
}

func (d *H264Depacketizer) extractFUA(payload []byte, seq uint16) ([]byte, bool) {
	if len(payload) < 2 {
		return nil, false
	}
	indicator := payload[0]
	header := payload[1]
	start := header&0x80 != 0
	end := header&0x40 != 0
	fragType := header & 0x1F

	if start {
		reconstructed := (indicator & 0xE0) | fragType
		d.fuBuffer = append([]byte{reconstructed}, payload[2:]...)
		d.fuBufferBytes = len(d.fuBuffer)
		d.fuLastSeq = seq
		d.fuActive = true
		return nil, false
	}

	if d.fuBuffer == nil {
		// Continuation with no Start seen (the Start packet was lost);
		// nothing to append to.
		return nil, false
	}

	if !d.fuActive || seq != d.fuLastSeq+1 {
		// A continuation fragment went missing between the last one we
		// saw and this one: the reassembled NAL would be corrupt, so drop
		// the whole buffer rather than emit it.
		d.logger.Warn("fu-a continuation out of sequence, dropping buffer",
			"expected_seq", d.fuLastSeq+1, "got_seq", seq)
		d.fuBuffer = nil
		d.fuBufferBytes = 0
		d.fuActive = false
		return nil, false
	}

	d.fuBuffer = append(d.fuBuffer, payload[2:]...)
	d.fuBufferBytes += len(payload) - 2
	d.fuLastSeq = seq
	if d.fuBufferBytes > MaxFUBufferBytes {
		d.logger.Warn("fu-a buffer exceeded size bound, dropping", "bytes", d.fuBufferBytes)
		d.fuBuffer = nil
		d.fuBufferBytes = 0
		d.fuActive = false
		return nil, false
	}

	if end {
		nal := d.fuBuffer
		d.fuBuffer = nil
		d.fuBufferBytes = 0
		d.fuActive = false
		return nal, true
	}
	return nil, false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
