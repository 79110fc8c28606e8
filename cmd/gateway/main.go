package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethan/bambu-lan-gateway/pkg/api"
	"github.com/ethan/bambu-lan-gateway/pkg/config"
	"github.com/ethan/bambu-lan-gateway/pkg/device"
	"github.com/ethan/bambu-lan-gateway/pkg/logger"
	"github.com/ethan/bambu-lan-gateway/pkg/metrics"
)

func main() {
	fs := flag.NewFlagSet("gateway", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "LAN gateway for Bambu Lab printers: RTSP -> LL-HLS, MQTT status/control\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting bambu lan gateway", "log_config", logFlags.String())

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "devices", len(cfg.Devices), "http_bind", cfg.HTTPBind)

	registry, err := device.NewRegistry(cfg, log.With("component", "device"))
	if err != nil {
		log.Error("failed to build device registry", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	registry.SetMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Start the HTTP server before any device supervisor so the
	// playlist/WebSocket/status endpoints are reachable immediately,
	// even while the first RTSP/MQTT sessions are still connecting.
	apiServer := api.NewServer(registry, m, log.With("component", "api"))
	if err := apiServer.Start(ctx, cfg.HTTPBind); err != nil {
		log.Error("failed to start http server", "error", err)
		os.Exit(1)
	}
	log.Info("http server started", "address", cfg.HTTPBind)

	registry.StartAll(ctx)
	log.Info("all device supervisors started", "count", len(cfg.Devices))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error stopping http server", "error", err)
	}

	registry.ShutdownAll()

	log.Info("shutdown complete")
}
