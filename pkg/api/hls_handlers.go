package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ethan/bambu-lan-gateway/pkg/cmaf"
)

var errInvalidRange = errors.New("invalid range header")

const (
	blockingReloadDeadline = 5 * time.Second
	blockingReloadPoll     = 200 * time.Millisecond

	pendingByteDeadline = 5 * time.Second
	pendingBytePoll     = 150 * time.Millisecond
)

// handlePlaylist serves stream.m3u8, optionally blocking up to 5s when
// `_HLS_msn` (and optional `_HLS_part`) query parameters request a part
// or segment that hasn't been written yet.
func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	sup := supervisorFromContext(r)
	path := filepath.Join(sup.OutputDir(), "stream.m3u8")

	msn, hasMSN, part, hasPart, err := parseBlockingReloadParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	deadline := time.Now().Add(blockingReloadDeadline)
	for {
		body, readErr := os.ReadFile(path)
		if readErr == nil {
			if !hasMSN || cmaf.ParsePlaylistReadiness(string(body)).Ready(msn, part, hasPart) {
				w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
				w.WriteHeader(http.StatusOK)
				w.Write(body)
				return
			}
		} else if !os.IsNotExist(readErr) {
			http.Error(w, "failed to read playlist", http.StatusInternalServerError)
			return
		}

		if time.Now().After(deadline) {
			if readErr == nil {
				w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
				w.WriteHeader(http.StatusOK)
				w.Write(body)
				return
			}
			http.Error(w, "playlist not available", http.StatusNotFound)
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-time.After(blockingReloadPoll):
		}
	}
}

func parseBlockingReloadParams(r *http.Request) (msn uint64, hasMSN bool, part int, hasPart bool, err error) {
	q := r.URL.Query()
	if raw := q.Get("_HLS_msn"); raw != "" {
		hasMSN = true
		msn, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, false, 0, false, err
		}
	}
	if raw := q.Get("_HLS_part"); raw != "" {
		hasPart = true
		var p uint64
		p, err = strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return 0, false, 0, false, err
		}
		part = int(p)
	}
	return msn, hasMSN, part, hasPart, nil
}

// handleSegmentFile serves init.mp4 or a segNNNNNN.m4s segment file,
// honoring HTTP Range (including suffix ranges) and waiting up to 5s
// for a still-growing segment to reach the requested range's end.
func (s *Server) handleSegmentFile(w http.ResponseWriter, r *http.Request) {
	sup := supervisorFromContext(r)
	name := chi.URLParam(r, "file")

	if name != filepath.Base(name) || name == "" {
		http.Error(w, "invalid file name", http.StatusBadRequest)
		return
	}
	if name != "init.mp4" && !(strings.HasPrefix(name, "seg") && strings.HasSuffix(name, ".m4s")) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	path := filepath.Join(sup.OutputDir(), name)
	file, err := os.Open(path)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	size := info.Size()

	start, end, hasRange, rangeErr := parseRange(r.Header.Get("Range"), size)
	if rangeErr != nil {
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		http.Error(w, rangeErr.Error(), http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if hasRange && end >= 0 {
		size, err = waitForPendingBytes(r.Context(), path, end+1)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if end >= size {
			end = size - 1
		}
	}

	w.Header().Set("Content-Type", contentTypeFor(name))
	w.Header().Set("Accept-Ranges", "bytes")

	if !hasRange {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		io.CopyN(w, file, size)
		return
	}

	if start >= size {
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end < 0 || end >= size {
		end = size - 1
	}

	length := end - start + 1
	w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(size, 10))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return
	}
	io.CopyN(w, file, length)
}

func contentTypeFor(name string) string {
	if strings.HasSuffix(name, ".mp4") || strings.HasSuffix(name, ".m4s") {
		return "video/mp4"
	}
	return "application/octet-stream"
}

// parseRange parses a single-range `Range: bytes=...` header, supporting
// `start-end`, `start-` (open-ended), and `-suffixLength` forms. end is
// -1 when open-ended. Returns hasRange=false (no error) when the header
// is absent.
func parseRange(header string, knownSize int64) (start, end int64, hasRange bool, err error) {
	if header == "" {
		return 0, 0, false, nil
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false, errInvalidRange
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, false, errInvalidRange
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false, errInvalidRange
	}

	if parts[0] == "" {
		// Suffix range: last N bytes.
		n, perr := strconv.ParseInt(parts[1], 10, 64)
		if perr != nil || n <= 0 {
			return 0, 0, false, errInvalidRange
		}
		if n > knownSize {
			n = knownSize
		}
		return knownSize - n, knownSize - 1, true, nil
	}

	start, perr := strconv.ParseInt(parts[0], 10, 64)
	if perr != nil || start < 0 {
		return 0, 0, false, errInvalidRange
	}
	if parts[1] == "" {
		return start, -1, true, nil
	}
	end, perr = strconv.ParseInt(parts[1], 10, 64)
	if perr != nil || end < start {
		return 0, 0, false, errInvalidRange
	}
	return start, end, true, nil
}

// waitForPendingBytes polls path's size until it reaches at least
// wantBytes or pendingByteDeadline elapses, returning whatever size was
// last observed.
func waitForPendingBytes(ctx context.Context, path string, wantBytes int64) (int64, error) {
	deadline := time.Now().Add(pendingByteDeadline)
	for {
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		if info.Size() >= wantBytes || time.Now().After(deadline) {
			return info.Size(), nil
		}
		select {
		case <-ctx.Done():
			return info.Size(), nil
		case <-time.After(pendingBytePoll):
		}
	}
}
