package cmaf

import "encoding/binary"

const (
	// videoTimescale is the mvhd/mdhd timescale: 90kHz matches the RTP
	// clock rate for H.264, so sample durations need no rescaling.
	videoTimescale = 90000

	// sampleFlagSync marks a sample as a sync point (IDR): no "sample
	// depends on others" bit, no "sample is non-sync" bit.
	sampleFlagSync = 0x02000000

	// sampleFlagNonSync marks a sample as depending on a prior sample
	// (non-IDR): "sample depends on others" plus "sample is
	// difference sample". Used as trex's default_sample_flags.
	sampleFlagNonSync = 0x01010000
)

// box wraps payload in an ISO BMFF box: a 4-byte big-endian size
// (including this header) followed by the 4-byte type tag.
func box(tag string, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = appendU32(out, uint32(len(payload)+8))
	out = append(out, tag...)
	return append(out, payload...)
}

func appendU16(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendI32(dst []byte, v int32) []byte {
	return appendU32(dst, uint32(v))
}

func appendU64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func appendUnityMatrix(dst []byte) []byte {
	dst = appendU32(dst, 0x00010000)
	dst = appendU32(dst, 0)
	dst = appendU32(dst, 0)
	dst = appendU32(dst, 0)
	dst = appendU32(dst, 0x00010000)
	dst = appendU32(dst, 0)
	dst = appendU32(dst, 0)
	dst = appendU32(dst, 0)
	dst = appendU32(dst, 0x40000000)
	return dst
}

// buildFtyp declares this as a fragmented CMAF/ISO-BMFF video track.
func buildFtyp() []byte {
	payload := []byte("isom")
	payload = appendU32(payload, 0x200)
	payload = append(payload, "isom"...)
	payload = append(payload, "iso6"...)
	payload = append(payload, "avc1"...)
	payload = append(payload, "cmfc"...)
	return box("ftyp", payload)
}

// buildStyp is the segment-type box that opens each CMAF fragment.
func buildStyp() []byte {
	payload := []byte("msdh")
	payload = appendU32(payload, 0)
	payload = append(payload, "msdh"...)
	payload = append(payload, "msix"...)
	payload = append(payload, "iso6"...)
	payload = append(payload, "avc1"...)
	payload = append(payload, "cmfc"...)
	return box("styp", payload)
}

func buildMvhd() []byte {
	payload := make([]byte, 0, 100)
	payload = appendU32(payload, 0) // version/flags
	payload = appendU32(payload, 0) // creation time
	payload = appendU32(payload, 0) // modification time
	payload = appendU32(payload, videoTimescale)
	payload = appendU32(payload, 0) // duration: unknown, fragmented
	payload = appendU32(payload, 0x00010000) // rate 1.0
	payload = appendU16(payload, 0x0100)     // volume 1.0
	payload = appendU16(payload, 0)          // reserved
	payload = appendU32(payload, 0)
	payload = appendU32(payload, 0)
	payload = appendUnityMatrix(payload)
	for i := 0; i < 6; i++ {
		payload = appendU32(payload, 0)
	}
	payload = appendU32(payload, 2) // next_track_ID
	return box("mvhd", payload)
}

func buildTkhd(width, height uint32) []byte {
	payload := make([]byte, 0, 84)
	payload = appendU32(payload, 0x00000007) // track enabled + in movie + in preview
	payload = appendU32(payload, 0)
	payload = appendU32(payload, 0)
	payload = appendU32(payload, 1) // track_ID
	payload = appendU32(payload, 0)
	payload = appendU32(payload, 0) // duration
	payload = appendU32(payload, 0)
	payload = appendU32(payload, 0)
	payload = appendU16(payload, 0)
	payload = appendU16(payload, 0)
	payload = appendU16(payload, 0)
	payload = appendU16(payload, 0)
	payload = appendUnityMatrix(payload)
	payload = appendU32(payload, width<<16)
	payload = appendU32(payload, height<<16)
	return box("tkhd", payload)
}

func buildMdhd() []byte {
	payload := make([]byte, 0, 32)
	payload = appendU32(payload, 0)
	payload = appendU32(payload, 0)
	payload = appendU32(payload, 0)
	payload = appendU32(payload, videoTimescale)
	payload = appendU32(payload, 0)
	payload = appendU16(payload, 0x55c4) // language: und
	payload = appendU16(payload, 0)
	return box("mdhd", payload)
}

func buildHdlr() []byte {
	payload := make([]byte, 0, 32)
	payload = appendU32(payload, 0)
	payload = appendU32(payload, 0)
	payload = append(payload, "vide"...)
	payload = appendU32(payload, 0)
	payload = appendU32(payload, 0)
	payload = appendU32(payload, 0)
	payload = append(payload, "VideoHandler"...)
	payload = append(payload, 0)
	return box("hdlr", payload)
}

func buildVmhd() []byte {
	payload := make([]byte, 0, 12)
	payload = appendU32(payload, 0x00000001)
	payload = appendU16(payload, 0)
	payload = appendU16(payload, 0)
	payload = appendU16(payload, 0)
	payload = appendU16(payload, 0)
	return box("vmhd", payload)
}

func buildDinf() []byte {
	urlBox := box("url ", appendU32(nil, 0x00000001))
	dref := appendU32(nil, 0)
	dref = appendU32(dref, 1)
	dref = append(dref, urlBox...)
	return box("dinf", box("dref", dref))
}

func buildStbl(avc1 []byte) []byte {
	stsd := appendU32(nil, 0)
	stsd = appendU32(stsd, 1)
	stsd = append(stsd, avc1...)

	payload := make([]byte, 0)
	payload = append(payload, box("stsd", stsd)...)
	payload = append(payload, box("stts", make([]byte, 8))...)
	payload = append(payload, box("stsc", make([]byte, 8))...)
	payload = append(payload, box("stsz", make([]byte, 12))...)
	payload = append(payload, box("stco", make([]byte, 8))...)
	return box("stbl", payload)
}

func buildAvc1(avcC []byte, width, height uint16) []byte {
	payload := make([]byte, 6) // reserved
	payload = appendU16(payload, 1)  // data_reference_index
	payload = appendU16(payload, 0)  // pre_defined
	payload = appendU16(payload, 0)  // reserved
	payload = appendU32(payload, 0)
	payload = appendU32(payload, 0)
	payload = appendU32(payload, 0)
	payload = appendU16(payload, width)
	payload = appendU16(payload, height)
	payload = appendU32(payload, 0x00480000) // horizresolution 72dpi
	payload = appendU32(payload, 0x00480000) // vertresolution 72dpi
	payload = appendU32(payload, 0)          // reserved
	payload = appendU16(payload, 1)          // frame_count
	payload = append(payload, make([]byte, 32)...) // compressorname
	payload = appendU16(payload, 0x0018)     // depth
	payload = appendU16(payload, 0xffff)     // pre_defined
	payload = append(payload, avcC...)
	return box("avc1", payload)
}

func buildAvcC(sps, pps []byte) []byte {
	profileIDC := byteAt(sps, 1)
	profileCompat := byteAt(sps, 2)
	levelIDC := byteAt(sps, 3)

	payload := []byte{
		1, // configurationVersion
		profileIDC,
		profileCompat,
		levelIDC,
		0xFF, // 6 reserved bits + lengthSizeMinusOne=3 (4-byte NAL lengths)
		0xE1, // 3 reserved bits + numOfSequenceParameterSets=1
	}
	payload = appendU16(payload, uint16(len(sps)))
	payload = append(payload, sps...)
	payload = append(payload, 1) // numOfPictureParameterSets
	payload = appendU16(payload, uint16(len(pps)))
	payload = append(payload, pps...)
	return box("avcC", payload)
}

func buildMvex() []byte {
	trex := appendU32(nil, 0)
	trex = appendU32(trex, 1)          // track_ID
	trex = appendU32(trex, 1)          // default_sample_description_index
	trex = appendU32(trex, 0)          // default_sample_duration
	trex = appendU32(trex, 0)          // default_sample_size
	trex = appendU32(trex, sampleFlagNonSync)
	return box("mvex", box("trex", trex))
}

// buildMoof constructs the movie fragment header for one CMAF part:
// mfhd (fragment sequence number) + traf (tfhd/tfdt/trun for the
// track's samples in this part).
//
// trun's data_offset counts from the start of moof to the start of this
// part's sample data in the following mdat. Every box in this fragment
// has a fixed, a-priori known size (tfhd, tfdt, mfhd never vary; trun
// varies only with sample count, already known up front), so the offset
// is computed arithmetically before any box is serialized rather than
// built once and patched after the fact.
func buildMoof(sequence uint32, baseDecodeTime uint64, durations, sizes, flags []uint32) []byte {
	sampleCount := len(durations)

	const (
		trunFixedSize  = 8 + 4 + 4 + 4 // header + version/flags + sample_count + data_offset
		trunEntrySize  = 12            // duration + size + flags per sample
		tfhdSize       = 8 + 4 + 4     // header + version/flags + track_ID
		tfdtSize       = 8 + 4 + 8     // header + version/flags + base_media_decode_time
		mfhdSize       = 8 + 4 + 4     // header + version/flags + sequence_number
		trafHeaderSize = 8
		moofHeaderSize = 8
		mdatHeaderSize = 8
	)

	trunSize := trunFixedSize + sampleCount*trunEntrySize
	trafSize := trafHeaderSize + tfhdSize + tfdtSize + trunSize
	moofSize := moofHeaderSize + mfhdSize + trafSize
	dataOffset := int32(moofSize + mdatHeaderSize)

	// trun flags: data-offset-present | sample-duration-present |
	// sample-size-present | sample-flags-present.
	trun := appendU32(nil, 0x000001|0x000100|0x000200|0x000400)
	trun = appendU32(trun, uint32(sampleCount))
	trun = appendI32(trun, dataOffset)
	for i := range durations {
		trun = appendU32(trun, durations[i])
		trun = appendU32(trun, sizes[i])
		trun = appendU32(trun, flags[i])
	}
	trunBox := box("trun", trun)

	tfhd := appendU32(nil, 0x020000) // default-base-is-moof
	tfhd = appendU32(tfhd, 1)        // track_ID
	tfhdBox := box("tfhd", tfhd)

	tfdt := appendU32(nil, 0x01000000) // version 1: 64-bit base media decode time
	tfdt = appendU64(tfdt, baseDecodeTime)
	tfdtBox := box("tfdt", tfdt)

	traf := append(append([]byte{}, tfhdBox...), tfdtBox...)
	traf = append(traf, trunBox...)
	trafBox := box("traf", traf)

	mfhd := appendU32(nil, 0)
	mfhd = appendU32(mfhd, sequence)
	mfhdBox := box("mfhd", mfhd)

	moofPayload := append(append([]byte{}, mfhdBox...), trafBox...)
	return box("moof", moofPayload)
}

// findBox returns the byte offset of the first top-level box with the
// given 4-character tag within buf, or -1 if absent. It does not
// recurse — callers pass a slice already scoped to the parent box
// they're searching inside.
func findBox(buf []byte, tag string) int {
	offset := 0
	for offset+8 <= len(buf) {
		size := int(binary.BigEndian.Uint32(buf[offset : offset+4]))
		if size < 8 || offset+size > len(buf) {
			return -1
		}
		if string(buf[offset+4:offset+8]) == tag {
			return offset
		}
		offset += size
	}
	return -1
}

func buildMdat(samples [][]byte) []byte {
	total := 0
	for _, s := range samples {
		total += len(s)
	}
	payload := make([]byte, 0, total)
	for _, s := range samples {
		payload = append(payload, s...)
	}
	return box("mdat", payload)
}

// buildAVCSample concatenates a NAL list into AVC (length-prefixed)
// sample format, as required inside an mdat referenced by an avcC
// sample entry.
func buildAVCSample(nals [][]byte) []byte {
	total := 0
	for _, n := range nals {
		total += 4 + len(n)
	}
	out := make([]byte, 0, total)
	for _, n := range nals {
		out = appendU32(out, uint32(len(n)))
		out = append(out, n...)
	}
	return out
}

func byteAt(b []byte, i int) byte {
	if i < len(b) {
		return b[i]
	}
	return 0
}
