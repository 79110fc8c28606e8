package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethan/bambu-lan-gateway/pkg/device"
)

func writeDeviceFile(t *testing.T, reg *device.Registry, deviceID, name string, content []byte) string {
	t.Helper()
	sup, ok := reg.Get(deviceID)
	require.True(t, ok)
	path := filepath.Join(sup.OutputDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestHandlePlaylist_ServesImmediatelyWithoutBlockingParams(t *testing.T) {
	reg := newTestRegistry(t)
	writeDeviceFile(t, reg, "printer-1", "stream.m3u8", []byte("#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:0\n"))
	s := NewServer(reg, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices/printer-1/hls/stream.m3u8", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "#EXTM3U")
}

func TestHandlePlaylist_ReturnsOnceRequestedPartAppears(t *testing.T) {
	reg := newTestRegistry(t)
	path := writeDeviceFile(t, reg, "printer-1", "stream.m3u8", []byte("#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:0\n"))
	s := NewServer(reg, nil, nil)

	go func() {
		time.Sleep(250 * time.Millisecond)
		ready := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:0\n#EXT-X-PART:DURATION=0.5,URI=\"seg000000.m4s\",BYTERANGE=\"10@0\"\n"
		_ = os.WriteFile(path, []byte(ready), 0o644)
	}()

	req := httptest.NewRequest(http.MethodGet, "/devices/printer-1/hls/stream.m3u8?_HLS_msn=0&_HLS_part=0", nil)
	rec := httptest.NewRecorder()

	start := time.Now()
	s.router().ServeHTTP(rec, req)
	elapsed := time.Since(start)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "EXT-X-PART")
	require.Less(t, elapsed, 4*time.Second)
}

func TestHandleSegmentFile_ServesFullFileWithoutRange(t *testing.T) {
	reg := newTestRegistry(t)
	writeDeviceFile(t, reg, "printer-1", "init.mp4", []byte("0123456789"))
	s := NewServer(reg, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices/printer-1/hls/init.mp4", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0123456789", rec.Body.String())
	require.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
}

func TestHandleSegmentFile_ServesRangeRequest(t *testing.T) {
	reg := newTestRegistry(t)
	writeDeviceFile(t, reg, "printer-1", "seg000000.m4s", []byte("0123456789"))
	s := NewServer(reg, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices/printer-1/hls/seg000000.m4s", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "234", rec.Body.String())
	require.Equal(t, "bytes 2-4/10", rec.Header().Get("Content-Range"))
}

func TestHandleSegmentFile_ServesSuffixRange(t *testing.T) {
	reg := newTestRegistry(t)
	writeDeviceFile(t, reg, "printer-1", "seg000000.m4s", []byte("0123456789"))
	s := NewServer(reg, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices/printer-1/hls/seg000000.m4s", nil)
	req.Header.Set("Range", "bytes=-3")
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "789", rec.Body.String())
}

func TestHandleSegmentFile_RejectsPathTraversal(t *testing.T) {
	reg := newTestRegistry(t)
	s := NewServer(reg, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices/printer-1/hls/..%2Fescape.m4s", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHandleSegmentFile_WaitsForPendingBytesThenServes(t *testing.T) {
	reg := newTestRegistry(t)
	path := writeDeviceFile(t, reg, "printer-1", "seg000000.m4s", []byte("01234"))
	s := NewServer(reg, nil, nil)

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = os.WriteFile(path, []byte("0123456789"), 0o644)
	}()

	req := httptest.NewRequest(http.MethodGet, "/devices/printer-1/hls/seg000000.m4s", nil)
	req.Header.Set("Range", "bytes=5-9")
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "56789", rec.Body.String())
}
