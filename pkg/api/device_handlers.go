package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ethan/bambu-lan-gateway/pkg/commands"
)

const sseHeartbeatInterval = 15 * time.Second

// deviceSummary is the per-device entry in the device list.
type deviceSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	sups := s.registry.List()
	out := make([]deviceSummary, 0, len(sups))
	for _, sup := range sups {
		out = append(out, deviceSummary{ID: sup.Device.ID, Name: sup.Device.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeviceState(w http.ResponseWriter, r *http.Request) {
	sup := supervisorFromContext(r)
	writeJSON(w, http.StatusOK, sup.Status())
}

// handleDeviceEvents streams the device's status as server-sent events:
// an initial snapshot, then one "status" event per watch change, with a
// 15s heartbeat comment to keep intermediaries from closing an idle
// connection.
func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	sup := supervisorFromContext(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot, notify := sup.Watch().Get()
	if err := writeSSEEvent(w, snapshot); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-notify:
			snapshot, notify = sup.Watch().Get()
			if err := writeSSEEvent(w, snapshot); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "event: status\ndata: "); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n\n")
	return err
}

const maxCommandBodyBytes = 16 * 1024

type commandResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// handleDeviceCommand parses the tagged JSON command body and hands it
// to the device's supervisor. A disconnected device or a closed/full
// command queue is reported as 503, never logged as an error — per the
// queue-full/disconnected command error policy.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	sup := supervisorFromContext(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, commandResponse{Error: "failed to read request body"})
		return
	}
	if len(body) > maxCommandBodyBytes {
		writeJSON(w, http.StatusBadRequest, commandResponse{Error: "request body too large"})
		return
	}

	req, err := commands.DecodeRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, commandResponse{Error: err.Error()})
		return
	}

	if err := sup.EnqueueCommand(r.Context(), req); err != nil {
		if s.metrics != nil {
			s.metrics.ObserveCommand(sup.Device.ID, "rejected")
		}
		writeJSON(w, http.StatusServiceUnavailable, commandResponse{Error: err.Error()})
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveCommand(sup.Device.ID, "accepted")
	}
	writeJSON(w, http.StatusOK, commandResponse{OK: true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
