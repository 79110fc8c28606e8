package sdp_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethan/bambu-lan-gateway/pkg/sdp"
)

const describeBody = "v=0\r\n" +
	"o=- 0 0 IN IP4 192.168.1.50\r\n" +
	"s=bambu-camera\r\n" +
	"t=0 0\r\n" +
	"a=control:*\r\n" +
	"m=video 0 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=fmtp:96 packetization-mode=1;sprop-parameter-sets=Z0IAH5WoFAFuQA==,aM4xEg==\r\n" +
	"a=control:streamid=0\r\n"

func TestParse_ExtractsVideoTrack(t *testing.T) {
	info, err := sdp.Parse([]byte(describeBody))
	require.NoError(t, err)
	require.True(t, info.HasPayloadType)
	require.Equal(t, uint8(96), info.PayloadType)
	require.Equal(t, "streamid=0", info.VideoControl)
	require.Equal(t, "*", info.SessionControl)
	require.NotEmpty(t, info.SPS)
	require.NotEmpty(t, info.PPS)
}

func TestParse_NoVideoMedia(t *testing.T) {
	body := "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"
	info, err := sdp.Parse([]byte(body))
	require.NoError(t, err)
	require.False(t, info.HasPayloadType)
}

func TestInfo_ResolvedVideoControlURL_Relative(t *testing.T) {
	info := &sdp.Info{VideoControl: "streamid=0"}
	base, _ := url.Parse("rtsp://10.0.0.5:554/streaming/live/1")
	require.Equal(t, "rtsp://10.0.0.5:554/streaming/live/streamid=0", info.ResolvedVideoControlURL(base))
}

func TestInfo_ResolvedVideoControlURL_Absolute(t *testing.T) {
	info := &sdp.Info{VideoControl: "rtsp://10.0.0.5:554/streaming/live/1/track1"}
	base, _ := url.Parse("rtsp://10.0.0.5:554/streaming/live/1")
	require.Equal(t, "rtsp://10.0.0.5:554/streaming/live/1/track1", info.ResolvedVideoControlURL(base))
}

func TestInfo_ResolvedVideoControlURL_Absent(t *testing.T) {
	info := &sdp.Info{}
	base, _ := url.Parse("rtsp://10.0.0.5:554/streaming/live/1")
	require.Equal(t, base.String(), info.ResolvedVideoControlURL(base))
}

func TestInfo_ResolvedPlayURL_Wildcard(t *testing.T) {
	info := &sdp.Info{SessionControl: "*"}
	base, _ := url.Parse("rtsp://10.0.0.5:554/streaming/live/1")
	require.Equal(t, base.String(), info.ResolvedPlayURL(base))
}

func TestInfo_ResolvedPlayURL_Explicit(t *testing.T) {
	info := &sdp.Info{SessionControl: "rtsp://10.0.0.5:554/streaming/live/1"}
	base, _ := url.Parse("rtsp://10.0.0.5:554/streaming/live/1")
	require.Equal(t, "rtsp://10.0.0.5:554/streaming/live/1", info.ResolvedPlayURL(base))
}
