package cmaf

import (
	"fmt"
	"math"
	"strings"
)

// renderPlaylist builds the full LL-HLS media playlist text, including
// the trailing in-progress segment's parts (if current is non-nil) so a
// blocking-reload client sees new parts as soon as they land.
func (s *Segmenter) renderPlaylist(current *segmentBuffer) string {
	maxSegment := 0.0
	for _, seg := range s.segments {
		maxSegment = math.Max(maxSegment, seg.duration)
	}
	targetDuration := uint64(math.Ceil(math.Max(s.targetDuration, maxSegment)))

	maxPart := s.partDuration
	for _, seg := range s.segments {
		for _, part := range seg.parts {
			if part.duration > maxPart {
				maxPart = part.duration
			}
		}
	}
	if current != nil {
		for _, part := range current.parts {
			if part.duration > maxPart {
				maxPart = part.duration
			}
		}
	}

	var mediaSequence uint64
	if len(s.segments) > 0 {
		mediaSequence = s.segments[0].seq
	} else if current != nil {
		mediaSequence = current.seq
	}

	partHoldBack := math.Max(maxPart*3.0, maxPart+0.1)
	holdBack := math.Max(float64(targetDuration)*3.0, partHoldBack*2.0)

	var lines []string
	lines = append(lines,
		"#EXTM3U",
		"#EXT-X-VERSION:9",
		"#EXT-X-INDEPENDENT-SEGMENTS",
		fmt.Sprintf("#EXT-X-TARGETDURATION:%d", targetDuration),
		fmt.Sprintf("#EXT-X-PART-INF:PART-TARGET=%.3f", maxPart),
		fmt.Sprintf("#EXT-X-SERVER-CONTROL:CAN-BLOCK-RELOAD=YES,PART-HOLD-BACK=%.3f,HOLD-BACK=%.3f", partHoldBack, holdBack),
		`#EXT-X-MAP:URI="init.mp4"`,
		fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d", mediaSequence),
	)

	for _, seg := range s.segments {
		lines = appendParts(lines, seg.filename, seg.parts)
		lines = append(lines, fmt.Sprintf("#EXTINF:%.3f,", seg.duration), seg.filename)
	}

	if current != nil {
		lines = appendParts(lines, current.filename, current.parts)
	}

	return strings.Join(lines, "\n") + "\n"
}

func appendParts(lines []string, filename string, parts []partInfo) []string {
	for _, part := range parts {
		line := fmt.Sprintf(`#EXT-X-PART:DURATION=%.3f,URI="%s",BYTERANGE="%d@%d"`,
			part.duration, filename, part.byteLength, part.byteStart)
		if part.independent {
			line += ",INDEPENDENT=YES"
		}
		lines = append(lines, line)
	}
	return lines
}
