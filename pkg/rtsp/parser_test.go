package rtsp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamParser_SimpleResponse(t *testing.T) {
	p := NewStreamParser()
	data := "RTSP/1.0 200 OK\r\nCSeq: 1\r\nContent-Length: 0\r\n\r\n"
	events := p.Append([]byte(data))
	require.Len(t, events, 1)
	require.Equal(t, EventResponse, events[0].Kind)
	require.Equal(t, 200, events[0].Response.StatusCode)
	cseq, ok := events[0].Response.CSeq()
	require.True(t, ok)
	require.Equal(t, uint32(1), cseq)
}

func TestStreamParser_ResponseWithBody(t *testing.T) {
	p := NewStreamParser()
	body := "v=0\r\ns=test\r\n"
	data := "RTSP/1.0 200 OK\r\nCSeq: 2\r\nContent-Length: " + itoa(len(body)) + "\r\n\r\n" + body
	events := p.Append([]byte(data))
	require.Len(t, events, 1)
	require.Equal(t, []byte(body), events[0].Response.Body)
}

func TestStreamParser_PartialThenComplete(t *testing.T) {
	p := NewStreamParser()
	events := p.Append([]byte("RTSP/1.0 200 OK\r\nCSeq: 3\r\n"))
	require.Empty(t, events)

	events = p.Append([]byte("Content-Length: 0\r\n\r\n"))
	require.Len(t, events, 1)
	require.Equal(t, 200, events[0].Response.StatusCode)
}

func TestStreamParser_InterleavedFrame(t *testing.T) {
	p := NewStreamParser()
	frame := []byte{0x24, 0x00, 0x00, 0x03, 0xAA, 0xBB, 0xCC}
	events := p.Append(frame)
	require.Len(t, events, 1)
	require.Equal(t, EventInterleaved, events[0].Kind)
	require.Equal(t, byte(0), events[0].Channel)
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC}, events[0].Payload)
}

func TestStreamParser_InterleavedThenResponse(t *testing.T) {
	p := NewStreamParser()
	frame := []byte{0x24, 0x01, 0x00, 0x02, 0x11, 0x22}
	response := []byte("RTSP/1.0 200 OK\r\nCSeq: 4\r\nContent-Length: 0\r\n\r\n")
	events := p.Append(append(frame, response...))
	require.Len(t, events, 2)
	require.Equal(t, EventInterleaved, events[0].Kind)
	require.Equal(t, EventResponse, events[1].Kind)
}

func TestStreamParser_MalformedStatusLineStillDrainsFrame(t *testing.T) {
	p := NewStreamParser()
	malformed := "GARBAGE NOT A STATUS LINE\r\nCSeq: 5\r\nContent-Length: 0\r\n\r\n"
	good := "RTSP/1.0 200 OK\r\nCSeq: 6\r\nContent-Length: 0\r\n\r\n"
	events := p.Append([]byte(malformed + good))
	require.Len(t, events, 2)
	require.True(t, events[0].Response.MalformedStatusLine)
	require.False(t, events[1].Response.MalformedStatusLine)
	cseq, ok := events[1].Response.CSeq()
	require.True(t, ok)
	require.Equal(t, uint32(6), cseq)
}

func TestStreamParser_IncompleteInterleavedFrame(t *testing.T) {
	p := NewStreamParser()
	events := p.Append([]byte{0x24, 0x00, 0x00, 0x05, 0xAA})
	require.Empty(t, events)

	events = p.Append([]byte{0xBB, 0xCC, 0xDD, 0xEE})
	require.Len(t, events, 1)
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}, events[0].Payload)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
