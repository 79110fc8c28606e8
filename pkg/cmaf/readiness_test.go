package cmaf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePlaylistReadiness_NoCompletedSegments(t *testing.T) {
	playlist := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:0\n" +
		`#EXT-X-PART:DURATION=0.5,URI="seg000000.m4s",BYTERANGE="10@0"` + "\n"

	r := ParsePlaylistReadiness(playlist)
	require.False(t, r.HasCompletedSegment)
	require.Equal(t, 1, r.PartCountBySeq[0])
	require.False(t, r.Ready(0, 0, false))
	require.True(t, r.Ready(0, 0, true))
	require.False(t, r.Ready(0, 1, true))
}

func TestParsePlaylistReadiness_CompletedSegments(t *testing.T) {
	playlist := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:3\n" +
		`#EXT-X-PART:DURATION=0.5,URI="seg000003.m4s",BYTERANGE="10@0"` + "\n" +
		"#EXTINF:2.000,\nseg000003.m4s\n" +
		`#EXT-X-PART:DURATION=0.5,URI="seg000004.m4s",BYTERANGE="10@0"` + "\n"

	r := ParsePlaylistReadiness(playlist)
	require.True(t, r.HasCompletedSegment)
	require.Equal(t, uint64(3), r.LastCompletedSeq)
	require.True(t, r.Ready(3, 0, false))
	require.False(t, r.Ready(4, 0, false))
	require.True(t, r.Ready(4, 0, true))
}
