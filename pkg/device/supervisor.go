// Package device supervises one printer's two long-lived sessions — the
// RTSP/video pipeline and the MQTT control channel — restarting either
// independently on failure, and owns the per-device state snapshot,
// command queue, CMAF broadcaster, and output directory.
package device

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethan/bambu-lan-gateway/pkg/cmaf"
	"github.com/ethan/bambu-lan-gateway/pkg/commands"
	"github.com/ethan/bambu-lan-gateway/pkg/config"
	"github.com/ethan/bambu-lan-gateway/pkg/logger"
	"github.com/ethan/bambu-lan-gateway/pkg/media"
	"github.com/ethan/bambu-lan-gateway/pkg/metrics"
	"github.com/ethan/bambu-lan-gateway/pkg/mqtt"
	"github.com/ethan/bambu-lan-gateway/pkg/rtp"
	"github.com/ethan/bambu-lan-gateway/pkg/rtsp"
	"github.com/ethan/bambu-lan-gateway/pkg/state"
)

const reconnectDelay = 2 * time.Second

// commandRateLimit and commandBurst bound how fast one device accepts
// commands before EnqueueCommand starts making the caller wait — a
// printer's local broker has no flow control of its own, and a client
// retry loop or a stuck UI button should back off rather than flood it.
const (
	commandRateLimit = 5 // commands per second
	commandBurst     = 10
)

// Supervisor owns one printer's runtime state and both of its
// background sessions. All of its exported accessors are safe to call
// from HTTP handlers concurrently with the background sessions.
type Supervisor struct {
	Device config.DeviceConfig

	outputDir   string
	broadcaster *cmaf.Broadcaster
	status      *StatusWatch
	mqttSession *mqtt.Session
	limiter     *rate.Limiter

	global config.Config
	logger *logger.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	state state.PrinterState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New allocates a supervisor for one device: its output directory, CMAF
// broadcaster, status watch, and MQTT session, but does not start any
// background work — call Start for that.
func New(dev config.DeviceConfig, global config.Config, log *logger.Logger) (*Supervisor, error) {
	if log == nil {
		log = logger.Default()
	}
	outputDir := filepath.Join(global.HLSOutputDir, dev.ID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("device %s: create output dir: %w", dev.ID, err)
	}

	backlogCapacity := 0
	if global.HLSPartDurationSecs > 0 {
		backlogCapacity = int(global.HLSBacklogSecs / global.HLSPartDurationSecs)
	}

	s := &Supervisor{
		Device:      dev,
		outputDir:   outputDir,
		broadcaster: cmaf.NewBroadcaster(backlogCapacity),
		status:      NewStatusWatch(),
		limiter:     rate.NewLimiter(rate.Limit(commandRateLimit), commandBurst),
		global:      global,
		logger:      log.With("device", dev.ID),
	}

	s.mqttSession = mqtt.NewSession(mqtt.Options{
		Host:           dev.Host,
		Port:           global.MQTTPort,
		Serial:         dev.Serial,
		AccessCode:     dev.AccessCode,
		ClientIDPrefix: global.MQTTClientIDPrefix,
		UserID:         global.MQTTUserID,
		KeepAlive:      time.Duration(global.MQTTKeepAliveSecs) * time.Second,
		TLS:            global.MQTTTLS,
		TLSInsecure:    global.MQTTTLSInsecure,
		TLSConfig:      caCertTLSConfig(global.MQTTCACert, dev.Host, s.logger),
	}, s.handleReport, s.handleMQTTStatus, s.logger)

	return s, nil
}

// caCertTLSConfig builds a tls.Config trusting only the given CA
// certificate file when one is configured, so an operator-supplied
// printer CA doesn't require disabling verification entirely. Returns
// nil (use paho's default system trust store) when no CA cert is set
// or it can't be read/parsed — connect will then fall back to
// TLSInsecure or ordinary system trust, per the session's own TLS
// branching.
func caCertTLSConfig(caCertPath, serverName string, log *logger.Logger) *tls.Config {
	if caCertPath == "" {
		return nil
	}
	pem, err := os.ReadFile(caCertPath)
	if err != nil {
		log.Warn("failed to read mqtt ca cert", "path", caCertPath, "error", err)
		return nil
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		log.Warn("mqtt ca cert contained no usable certificates", "path", caCertPath)
		return nil
	}
	return &tls.Config{RootCAs: pool, ServerName: serverName}
}

// Start spawns the RTSP/video session and the MQTT session as
// independent long-lived goroutines. Safe to call once.
func (s *Supervisor) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.mqttSession.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.runVideoLoop(s.ctx)
	}()
}

// Shutdown aborts both sessions at their next suspension point and
// waits for them to exit. It does not remove the output directory.
func (s *Supervisor) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// SetMetrics wires a metrics sink for this device. Optional; a
// supervisor with none simply doesn't record anything.
func (s *Supervisor) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// OutputDir is the directory segments, parts, init.mp4, and the
// playlist for this device are written to.
func (s *Supervisor) OutputDir() string {
	return s.outputDir
}

// Broadcaster exposes the CMAF fragment/init fan-out for this device's
// WebSocket push endpoint.
func (s *Supervisor) Broadcaster() *cmaf.Broadcaster {
	return s.broadcaster
}

// Status returns the current state snapshot.
func (s *Supervisor) Status() state.PrinterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Watch returns a live view onto status changes for SSE-style streaming.
func (s *Supervisor) Watch() *StatusWatch {
	return s.status
}

// EnqueueCommand submits a command to the MQTT session's outbound
// queue. It fails fast with an error (the HTTP layer maps this to 503)
// if the device isn't currently connected, and otherwise waits for this
// device's command rate limiter before handing the command to the MQTT
// session.
func (s *Supervisor) EnqueueCommand(ctx context.Context, req commands.Request) error {
	s.mu.RLock()
	connected := s.state.Connected
	s.mu.RUnlock()
	if !connected {
		return fmt.Errorf("device %s: not connected", s.Device.ID)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("device %s: rate limited: %w", s.Device.ID, err)
	}
	return s.mqttSession.Enqueue(ctx, req)
}

func (s *Supervisor) handleReport(report mqtt.Report) {
	now := time.Now().UTC()
	s.mu.Lock()
	wasConnected := s.state.Connected
	s.state.Connected = true
	s.state.ApplyReport(report, now)
	snapshot := s.state.Clone()
	s.mu.Unlock()
	s.status.Set(snapshot)

	if s.metrics != nil {
		s.metrics.ObserveMQTTReport(s.Device.ID)
		if !wasConnected {
			s.metrics.ObserveMQTTReconnect(s.Device.ID)
		}
	}
}

func (s *Supervisor) handleMQTTStatus(connected bool) {
	s.mu.Lock()
	s.state.Connected = connected
	if !connected {
		s.state.LastUpdate = nil
	}
	snapshot := s.state.Clone()
	s.mu.Unlock()
	s.status.Set(snapshot)
}

// resolveRTSPURL prefers an explicitly configured URL; otherwise it
// waits on whatever the printer's own MQTT reports have told us about
// its ipcam RTSP endpoint, falling back to the conventional
// rtsp://host:port/path address Bambu firmware serves by default.
func (s *Supervisor) resolveRTSPURL() string {
	if s.Device.RTSPURL != "" {
		return s.Device.RTSPURL
	}
	s.mu.RLock()
	reported := s.state.RTSPURL
	s.mu.RUnlock()
	if reported != nil && *reported != "" {
		return *reported
	}
	return fmt.Sprintf("rtsp://%s:%d%s", s.Device.Host, s.Device.RTSPPort, s.Device.RTSPPath)
}

// purgeOutputDir removes every file in the device's output directory.
// Called before each fresh session so a crashed or aborted prior
// session never leaves stale segments a new playlist could reference.
func (s *Supervisor) purgeOutputDir() {
	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		_ = os.Remove(filepath.Join(s.outputDir, entry.Name()))
	}
}

func (s *Supervisor) runVideoLoop(ctx context.Context) {
	credentials := &rtsp.Credentials{Username: "bblp", Password: s.Device.AccessCode}

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.runVideoSession(ctx, credentials)
		if err != nil {
			s.logger.Warn("rtsp session ended", "error", err)
		}
		if s.metrics != nil {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			s.metrics.ObserveRTSPSession(s.Device.ID, outcome)
		}

		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(reconnectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Supervisor) runVideoSession(ctx context.Context, credentials *rtsp.Credentials) error {
	s.purgeOutputDir()

	segmenter, err := cmaf.NewSegmenter(
		s.outputDir,
		s.global.HLSTargetDurationSecs,
		s.global.HLSWindowSegments,
		s.global.HLSPartDurationSecs,
		s.broadcaster,
		s.logger,
	)
	if err != nil {
		return fmt.Errorf("create segmenter: %w", err)
	}
	if s.metrics != nil {
		segmenter.SetOnSegmentFinalized(func() {
			s.metrics.ObserveSegmentWritten(s.Device.ID)
		})
	}

	rtspURL := s.resolveRTSPURL()
	client, err := rtsp.NewClient(rtspURL, credentials, s.global.RTSPTLSInsecure, s.logger)
	if err != nil {
		return fmt.Errorf("build rtsp client: %w", err)
	}

	session, err := client.Start(ctx)
	if err != nil {
		return fmt.Errorf("start rtsp session: %w", err)
	}
	defer session.Close()

	depacketizer := rtp.NewH264Depacketizer(s.logger)
	clock := media.NewRTPClock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt, ok := <-session.Interleaved:
			if !ok {
				return fmt.Errorf("rtsp interleaved channel closed")
			}
			if pkt.Channel != session.RTPChannel {
				continue
			}
			rtpPacket, ok := rtp.Parse(pkt.Payload)
			if !ok {
				continue
			}
			for _, au := range depacketizer.Handle(rtpPacket) {
				if sps, pps, ok := depacketizer.TakeParameterSets(); ok {
					segmenter.SetParameterSets(sps, pps)
				}
				pts := clock.PTS90k(au.RTPTimestamp)
				if err := segmenter.PushAccessUnit(au, pts); err != nil {
					return fmt.Errorf("push access unit: %w", err)
				}
			}
		}
	}
}
