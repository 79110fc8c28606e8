// Package api exposes the HTTP boundary of the gateway: per-device
// status and command endpoints, the LL-HLS playlist/segment file
// server, and the CMAF push WebSocket.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ethan/bambu-lan-gateway/pkg/device"
	"github.com/ethan/bambu-lan-gateway/pkg/logger"
	"github.com/ethan/bambu-lan-gateway/pkg/metrics"
)

// Server is the gateway's HTTP boundary: one router serving every
// configured device out of a single process.
type Server struct {
	registry *device.Registry
	metrics  *metrics.Metrics
	logger   *logger.Logger

	httpServer *http.Server
}

// NewServer builds a Server backed by registry. metrics may be nil, in
// which case request metrics are not recorded and /metrics is omitted.
func NewServer(registry *device.Registry, m *metrics.Metrics, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{registry: registry, metrics: m, logger: log.With("component", "api")}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Get("/devices", s.withMetrics("devices", s.handleListDevices))

	r.Route("/devices/{deviceID}", func(r chi.Router) {
		r.Use(s.deviceContext)
		r.Get("/state", s.withMetrics("state", s.handleDeviceState))
		r.Get("/events", s.withMetrics("events", s.handleDeviceEvents))
		r.Post("/command", s.withMetrics("command", s.handleDeviceCommand))
		r.Get("/hls/stream.m3u8", s.withMetrics("playlist", s.handlePlaylist))
		r.Get("/hls/{file}", s.withMetrics("segment", s.handleSegmentFile))
		r.Get("/ws", s.withMetrics("ws", s.handleCMAFWebSocket))
	})

	return r
}

func (s *Server) withMetrics(routeGroup string, h http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return h
	}
	return s.metrics.Middleware(routeGroup)(h).ServeHTTP
}

// Start builds the router and begins serving on addr in a background
// goroutine, returning once the listener is confirmed up (or an
// immediate bind error is observed).
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // long-lived SSE/WebSocket/blocking-playlist connections
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("http server started", "address", addr)
		return nil
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("stopping http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}
