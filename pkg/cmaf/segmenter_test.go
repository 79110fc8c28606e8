package cmaf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethan/bambu-lan-gateway/pkg/rtp"
)

func newTestSegmenter(t *testing.T, targetDuration, partDuration float64, window int) *Segmenter {
	t.Helper()
	dir := t.TempDir()
	seg, err := NewSegmenter(dir, targetDuration, window, partDuration, NewBroadcaster(0), nil)
	require.NoError(t, err)
	return seg
}

func idrAU(ts uint32) rtp.AccessUnit {
	return rtp.AccessUnit{NALs: [][]byte{{0x65, 0xAA}}, RTPTimestamp: ts, IsIDR: true}
}

func nonIDRAU(ts uint32) rtp.AccessUnit {
	return rtp.AccessUnit{NALs: [][]byte{{0x41, 0xBB}}, RTPTimestamp: ts, IsIDR: false}
}

func TestSegmenter_IgnoresAccessUnitsBeforeFirstIDR(t *testing.T) {
	seg := newTestSegmenter(t, 2.0, 0.5, 3)
	require.NoError(t, seg.PushAccessUnit(nonIDRAU(0), 0))
	require.Nil(t, seg.current)
}

func TestSegmenter_StartsSegmentOnFirstIDR(t *testing.T) {
	seg := newTestSegmenter(t, 2.0, 0.5, 3)
	require.NoError(t, seg.PushAccessUnit(idrAU(0), 0))
	require.NotNil(t, seg.current)
	require.Equal(t, uint64(0), seg.current.seq)
}

func TestSegmenter_RotatesPartOnPartDurationElapsed(t *testing.T) {
	seg := newTestSegmenter(t, 2.0, 0.2, 3)
	require.NoError(t, seg.PushAccessUnit(idrAU(0), 0))
	// part_duration=0.2s => 18000 ticks at 90kHz
	require.NoError(t, seg.PushAccessUnit(nonIDRAU(9000), 9000))
	require.NoError(t, seg.PushAccessUnit(nonIDRAU(20000), 20000))

	require.Len(t, seg.current.parts, 1)
	require.Equal(t, uint32(0), seg.current.parts[0].index)
}

func TestSegmenter_RotatesSegmentOnTargetDurationAndIDR(t *testing.T) {
	seg := newTestSegmenter(t, 1.0, 1.0, 3)
	require.NoError(t, seg.PushAccessUnit(idrAU(0), 0))
	require.NoError(t, seg.PushAccessUnit(nonIDRAU(45000), 45000))
	// 1.0s == 90000 ticks, next IDR past that boundary should rotate segments
	require.NoError(t, seg.PushAccessUnit(idrAU(95000), 95000))

	require.Equal(t, uint64(1), seg.current.seq)
	require.Len(t, seg.segments, 1)
	require.Equal(t, uint64(0), seg.segments[0].seq)
}

func TestSegmenter_FinalizeSegmentWritesPlaylist(t *testing.T) {
	seg := newTestSegmenter(t, 2.0, 0.5, 3)
	require.NoError(t, seg.PushAccessUnit(idrAU(0), 0))
	require.NoError(t, seg.PushAccessUnit(nonIDRAU(9000), 9000))
	require.NoError(t, seg.FinalizeSegment())

	require.Nil(t, seg.current)
	require.Len(t, seg.segments, 1)

	playlistPath := filepath.Join(seg.OutputDir(), "stream.m3u8")
	body, err := os.ReadFile(playlistPath)
	require.NoError(t, err)
	require.Contains(t, string(body), "#EXTM3U")
	require.Contains(t, string(body), "#EXT-X-MAP:URI=\"init.mp4\"")
	require.Contains(t, string(body), seg.segments[0].filename)
}

func TestSegmenter_WindowEvictsOldSegments(t *testing.T) {
	seg := newTestSegmenter(t, 0.1, 0.1, 1)
	ts := uint32(0)
	for i := 0; i < 3; i++ {
		require.NoError(t, seg.PushAccessUnit(idrAU(ts), uint64(ts)))
		ts += 20000
		require.NoError(t, seg.FinalizeSegment())
	}
	require.LessOrEqual(t, len(seg.segments), 1)
}

func TestComputeSampleDurations_UsesNextSamplePTSDelta(t *testing.T) {
	seg := newTestSegmenter(t, 2.0, 0.5, 3)
	samples := []sample{{pts90k: 0}, {pts90k: 3000}, {pts90k: 6000}}
	durations, total := seg.computeSampleDurations(samples)
	require.Equal(t, []uint32{3000, 3000, 3000}, durations)
	require.Equal(t, uint64(9000), total)
}
