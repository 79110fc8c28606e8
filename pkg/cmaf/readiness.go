package cmaf

import (
	"strconv"
	"strings"
)

// PlaylistReadiness summarizes enough of a rendered playlist to answer
// an LL-HLS blocking-reload query without re-parsing the whole segment
// model: the sequence number of the oldest retained segment, the
// sequence of the last fully completed one, and how many parts have
// been written so far for each segment sequence currently referenced.
type PlaylistReadiness struct {
	MediaSequence        uint64
	LastCompletedSeq      uint64
	HasCompletedSegment   bool
	PartCountBySeq        map[uint64]int
}

// ParsePlaylistReadiness scans a rendered stream.m3u8's text for the
// `#EXT-X-MEDIA-SEQUENCE` value, one `#EXTINF` per fully completed
// retained segment, and one `#EXT-X-PART` per emitted part (attributing
// each to the segment sequence encoded in its URI's seg{NNNNNN}.m4s
// filename).
func ParsePlaylistReadiness(playlist string) PlaylistReadiness {
	var r PlaylistReadiness
	r.PartCountBySeq = make(map[uint64]int)

	completedSegments := 0
	for _, line := range strings.Split(playlist, "\n") {
		switch {
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			seq, err := strconv.ParseUint(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			if err == nil {
				r.MediaSequence = seq
			}
		case strings.HasPrefix(line, "#EXTINF:"):
			completedSegments++
		case strings.HasPrefix(line, "#EXT-X-PART:"):
			if seq, ok := segSeqFromPartLine(line); ok {
				r.PartCountBySeq[seq]++
			}
		}
	}

	if completedSegments > 0 {
		r.HasCompletedSegment = true
		r.LastCompletedSeq = r.MediaSequence + uint64(completedSegments) - 1
	}
	return r
}

// segSeqFromPartLine extracts the numeric sequence from a
// `#EXT-X-PART:...,URI="segNNNNNN.m4s",...` line.
func segSeqFromPartLine(line string) (uint64, bool) {
	const marker = `URI="seg`
	idx := strings.Index(line, marker)
	if idx < 0 {
		return 0, false
	}
	rest := line[idx+len(marker):]
	end := strings.IndexByte(rest, '.')
	if end < 0 {
		return 0, false
	}
	seq, err := strconv.ParseUint(rest[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Ready reports whether the blocking-reload condition for sequence m
// (and, if hasPart, part p) is satisfied by this playlist snapshot.
func (r PlaylistReadiness) Ready(m uint64, p int, hasPart bool) bool {
	if hasPart {
		return r.PartCountBySeq[m] > p
	}
	return r.HasCompletedSegment && m <= r.LastCompletedSeq
}
