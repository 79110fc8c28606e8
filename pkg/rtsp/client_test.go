package rtsp

import (
	"bufio"
	"context"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildRequest_IncludesAuthAndHeaders(t *testing.T) {
	req := buildRequest("DESCRIBE", "rtsp://10.0.0.5/streaming/live/1", 5,
		map[string]string{"Accept": "application/sdp"}, "Basic Zm9vOmJhcg==")
	require.Contains(t, req, "DESCRIBE rtsp://10.0.0.5/streaming/live/1 RTSP/1.0\r\n")
	require.Contains(t, req, "CSeq: 5\r\n")
	require.Contains(t, req, "Accept: application/sdp\r\n")
	require.Contains(t, req, "Authorization: Basic Zm9vOmJhcg==\r\n")
	require.Contains(t, req, "\r\n\r\n")
}

func TestParseInterleavedChannels(t *testing.T) {
	resp := Response{Headers: map[string]string{
		"transport": "RTP/AVP/TCP;unicast;interleaved=0-1",
	}}
	rtpCh, rtcpCh, ok := parseInterleavedChannels(resp)
	require.True(t, ok)
	require.Equal(t, byte(0), rtpCh)
	require.Equal(t, byte(1), rtcpCh)
}

func TestParseInterleavedChannels_Absent(t *testing.T) {
	_, _, ok := parseInterleavedChannels(Response{Headers: map[string]string{}})
	require.False(t, ok)
}

func TestParseSessionInfo_WithTimeout(t *testing.T) {
	resp := Response{Headers: map[string]string{"session": "12345678;timeout=60"}}
	id, timeout, ok := parseSessionInfo(resp)
	require.True(t, ok)
	require.Equal(t, "12345678", id)
	require.Equal(t, 60*time.Second, timeout)
}

func TestParseSessionInfo_NoTimeout(t *testing.T) {
	resp := Response{Headers: map[string]string{"session": "abc"}}
	id, timeout, ok := parseSessionInfo(resp)
	require.True(t, ok)
	require.Equal(t, "abc", id)
	require.Equal(t, time.Duration(0), timeout)
}

func TestNormalizeBaseURL_FillsInMissingPort(t *testing.T) {
	fallback, _ := url.Parse("rtsp://10.0.0.5:554/streaming/live/1")
	resolved, ok := normalizeBaseURL("rtsp://10.0.0.5/streaming/live/1/", fallback)
	require.True(t, ok)
	require.Equal(t, "554", resolved.Port())
}

func TestNormalizeBaseURL_RelativePath(t *testing.T) {
	fallback, _ := url.Parse("rtsp://10.0.0.5:554/streaming/live/1")
	resolved, ok := normalizeBaseURL("other/", fallback)
	require.True(t, ok)
	require.Equal(t, "10.0.0.5", resolved.Hostname())
}

// fakeServer is a minimal RTSP responder used to drive Client.Start end
// to end without a real camera: it replies 200 OK to DESCRIBE, SETUP,
// and PLAY in sequence, then goes quiet (as if streaming).
func fakeServer(t *testing.T, ln net.Listener) {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	reader := bufio.NewReader(conn)

	readRequest := func() string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			lines = append(lines, line)
			if line == "\r\n" {
				break
			}
		}
		return lines[0]
	}

	sdpBody := "v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=test\r\n" +
		"t=0 0\r\n" +
		"m=video 0 RTP/AVP 96\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"a=control:streamid=0\r\n"

	_ = readRequest() // DESCRIBE
	conn.Write([]byte("RTSP/1.0 200 OK\r\nCSeq: 1\r\nContent-Base: " + "rtsp://" + ln.Addr().String() + "/\r\n" +
		"Content-Length: " + itoa(len(sdpBody)) + "\r\n\r\n" + sdpBody))

	_ = readRequest() // SETUP
	conn.Write([]byte("RTSP/1.0 200 OK\r\nCSeq: 2\r\nTransport: RTP/AVP/TCP;unicast;interleaved=0-1\r\n" +
		"Session: deadbeef;timeout=60\r\nContent-Length: 0\r\n\r\n"))

	_ = readRequest() // PLAY
	conn.Write([]byte("RTSP/1.0 200 OK\r\nCSeq: 3\r\nSession: deadbeef;timeout=60\r\nContent-Length: 0\r\n\r\n"))
}

func TestClient_Start_FullHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go fakeServer(t, ln)

	client, err := NewClient("rtsp://"+ln.Addr().String()+"/streaming/live/1", nil, false, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := client.Start(ctx)
	require.NoError(t, err)
	defer session.Close()

	require.Equal(t, byte(0), session.RTPChannel)
	require.Equal(t, byte(1), session.RTCPChannel)
	require.True(t, session.SDP.HasPayloadType)
	require.Equal(t, uint8(96), session.SDP.PayloadType)
}
