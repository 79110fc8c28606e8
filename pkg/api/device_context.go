package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ethan/bambu-lan-gateway/pkg/device"
)

type contextKey int

const supervisorContextKey contextKey = iota

// deviceContext resolves the {deviceID} path parameter against the
// registry and stores the supervisor in the request context, replying
// 404 if no such device is configured.
func (s *Server) deviceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "deviceID")
		sup, ok := s.registry.Get(id)
		if !ok {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		ctx := context.WithValue(r.Context(), supervisorContextKey, sup)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func supervisorFromContext(r *http.Request) *device.Supervisor {
	sup, _ := r.Context().Value(supervisorContextKey).(*device.Supervisor)
	return sup
}
