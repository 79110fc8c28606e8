package cmaf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// A real 1280x720 High-profile SPS/PPS pair, commonly used as a fixture
// for fMP4/CMAF init-segment tooling.
var (
	fixtureSPS = []byte{0x67, 0x64, 0x00, 0x1F, 0xAC, 0xD9, 0x40, 0x50, 0x05, 0xBB, 0x01,
		0x10, 0x00, 0x00, 0x03, 0x00, 0x10, 0x00, 0x00, 0x03, 0x03, 0x20, 0xF1, 0x42, 0x99, 0x60}
	fixturePPS = []byte{0x68, 0xEB, 0xE3, 0xCB, 0x22, 0xC0}
)

func TestBuildInit_ProducesFtypMoovWithCodecString(t *testing.T) {
	data, codec, err := BuildInit(fixtureSPS, fixturePPS)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(codec, "avc1."))

	require.Equal(t, "ftyp", string(data[4:8]))
	moofOffset := findBox(data, "moov")
	require.GreaterOrEqual(t, moofOffset, 0)
}

func TestBuildInit_RejectsGarbageSPS(t *testing.T) {
	_, _, err := BuildInit([]byte{0x00, 0x01}, fixturePPS)
	require.Error(t, err)
}
