// Package rtp decodes RTP packets carrying an H.264 elementary stream and
// reassembles them into access units.
package rtp

import (
	"github.com/pion/rtp"
)

// Packet is the subset of an RTP packet this gateway cares about: header
// fields needed for depacketization plus the raw payload bytes.
type Packet struct {
	PayloadType    uint8
	Marker         bool
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	Payload        []byte
}

// Parse decodes one RTP packet from raw bytes. It fails on truncation
// or an invalid padding length (both rejected by pion/rtp's own
// Unmarshal) and on any RTP version other than 2.
func Parse(data []byte) (*Packet, bool) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		return nil, false
	}
	if pkt.Version != 2 {
		return nil, false
	}
	return &Packet{
		PayloadType:    pkt.PayloadType,
		Marker:         pkt.Marker,
		SequenceNumber: pkt.SequenceNumber,
		Timestamp:      pkt.Timestamp,
		SSRC:           pkt.SSRC,
		Payload:        pkt.Payload,
	}, true
}
