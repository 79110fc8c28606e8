package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ethan/bambu-lan-gateway/pkg/cmaf"
)

func TestHandleCMAFWebSocket_PushesCodecInitAndFragments(t *testing.T) {
	reg := newTestRegistry(t)
	sup, ok := reg.Get("printer-1")
	require.True(t, ok)

	broadcaster := sup.Broadcaster()
	broadcaster.UpdateInit(cmaf.Init{Bytes: []byte("init-bytes"), Codec: "avc1.640028"})
	broadcaster.SendFragment([]byte("fragment-1"))

	s := NewServer(reg, nil, nil)
	srv := httptest.NewServer(s.router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/devices/printer-1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	msgType, codecMsg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	require.Equal(t, "codec:avc1.640028", string(codecMsg))

	msgType, initMsg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)
	require.Equal(t, "init-bytes", string(initMsg))

	msgType, fragMsg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)
	require.Equal(t, "fragment-1", string(fragMsg))

	broadcaster.SendFragment([]byte("fragment-2"))
	_, fragMsg2, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "fragment-2", string(fragMsg2))
}

func TestHandleCMAFWebSocket_ReturnsServiceUnavailableWhenInitNeverPublished(t *testing.T) {
	reg := newTestRegistry(t)
	s := NewServer(reg, nil, nil)

	req := httptest.NewRequest("GET", "/devices/printer-1/ws", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.router().ServeHTTP(rec, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatal("handler did not return within expected init-wait timeout")
	}

	require.Equal(t, 503, rec.Code)
}

func TestHandleCMAFWebSocket_UnknownDeviceReturns404(t *testing.T) {
	reg := newTestRegistry(t)
	s := NewServer(reg, nil, nil)

	req := httptest.NewRequest("GET", "/devices/nonexistent/ws", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	require.Equal(t, 404, rec.Code)
}
