package cmaf

import (
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
)

// BuildInit assembles a CMAF initialization segment (ftyp+moov) for a
// single H.264 video track described by sps/pps, and returns the RFC
// 6381 codec string alongside it so callers can publish it in an HLS
// EXT-X-STREAM-INF or similar without re-parsing the SPS themselves.
func BuildInit(sps, pps []byte) (data []byte, codec string, err error) {
	parsed, err := avc.ParseSPSNALUnit(sps, true)
	if err != nil {
		return nil, "", fmt.Errorf("cmaf: parse sps: %w", err)
	}

	width := uint32(parsed.Width)
	height := uint32(parsed.Height)
	if width == 0 || height == 0 {
		width, height = 1280, 720
	}

	ftyp := buildFtyp()
	moov := buildMoov(sps, pps, width, height)
	out := make([]byte, 0, len(ftyp)+len(moov))
	out = append(out, ftyp...)
	out = append(out, moov...)

	return out, avc.CodecString("avc1", parsed), nil
}

func buildMoov(sps, pps []byte, width, height uint32) []byte {
	mvhd := buildMvhd()
	trak := buildTrak(sps, pps, width, height)
	mvex := buildMvex()

	payload := make([]byte, 0, len(mvhd)+len(trak)+len(mvex))
	payload = append(payload, mvhd...)
	payload = append(payload, trak...)
	payload = append(payload, mvex...)
	return box("moov", payload)
}

func buildTrak(sps, pps []byte, width, height uint32) []byte {
	tkhd := buildTkhd(width, height)
	mdia := buildMdia(sps, pps, width, height)

	payload := make([]byte, 0, len(tkhd)+len(mdia))
	payload = append(payload, tkhd...)
	payload = append(payload, mdia...)
	return box("trak", payload)
}

func buildMdia(sps, pps []byte, width, height uint32) []byte {
	mdhd := buildMdhd()
	hdlr := buildHdlr()
	minf := buildMinf(sps, pps, width, height)

	payload := make([]byte, 0, len(mdhd)+len(hdlr)+len(minf))
	payload = append(payload, mdhd...)
	payload = append(payload, hdlr...)
	payload = append(payload, minf...)
	return box("mdia", payload)
}

func buildMinf(sps, pps []byte, width, height uint32) []byte {
	vmhd := buildVmhd()
	dinf := buildDinf()
	avcC := buildAvcC(sps, pps)
	avc1 := buildAvc1(avcC, uint16(width), uint16(height))
	stbl := buildStbl(avc1)

	payload := make([]byte, 0, len(vmhd)+len(dinf)+len(stbl))
	payload = append(payload, vmhd...)
	payload = append(payload, dinf...)
	payload = append(payload, stbl...)
	return box("minf", payload)
}
