// Package mqtt maintains one printer's MQTT control-channel session:
// connecting to the printer's local broker, subscribing to its report
// topic, and publishing outbound commands to its request topic, with
// automatic reconnection on any connection loss.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/ethan/bambu-lan-gateway/pkg/commands"
	"github.com/ethan/bambu-lan-gateway/pkg/logger"
)

// Options configures a Session's connection to one printer's broker.
type Options struct {
	Host              string
	Port              uint16
	Serial            string
	AccessCode        string
	ClientIDPrefix    string
	UserID            string
	KeepAlive         time.Duration
	TLS               bool
	TLSInsecure       bool
	TLSConfig   *tls.Config // used when TLS && !TLSInsecure && non-nil; overrides default verification
}

// Report is one decoded "device/<serial>/report" publish from the
// printer, handed to the session's report callback.
type Report map[string]any

// Session owns the MQTT client lifecycle for a single printer: connect,
// resubscribe, republish pending commands, and reconnect transparently
// whenever the broker connection drops. Commands are accepted on a
// channel so the caller (a device supervisor) never blocks on MQTT I/O.
type Session struct {
	opts   Options
	logger *logger.Logger

	onReport func(Report)
	onStatus func(connected bool)

	commandCh chan commands.Request
	sequence  uint64

	client paho.Client
}

// NewSession constructs a Session. Call Run to start it; Run blocks
// until ctx is canceled, reconnecting as needed in between.
func NewSession(opts Options, onReport func(Report), onStatus func(connected bool), log *logger.Logger) *Session {
	if log == nil {
		log = logger.Default()
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 30 * time.Second
	}
	return &Session{
		opts:      opts,
		logger:    log,
		onReport:  onReport,
		onStatus:  onStatus,
		commandCh: make(chan commands.Request, 32),
		sequence:  1,
	}
}

// Enqueue submits a command for delivery on the request topic without
// waiting for room: if the outbound queue (32 commands) is full it
// returns an error at once and the command is not queued.
func (s *Session) Enqueue(ctx context.Context, req commands.Request) error {
	select {
	case s.commandCh <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("mqtt: command queue full")
	}
}

// Run connects to the printer's broker and services the session until
// ctx is canceled. On any connection loss it reports disconnected and
// retries after a short delay, exactly like a supervised MQTT client
// should: the printer may reboot or drop Wi-Fi at any time.
func (s *Session) Run(ctx context.Context) {
	reportTopic := fmt.Sprintf("device/%s/report", s.opts.Serial)
	requestTopic := fmt.Sprintf("device/%s/request", s.opts.Serial)

	for {
		if ctx.Err() != nil {
			return
		}

		client, err := s.connect(ctx, reportTopic)
		if err != nil {
			s.logger.Warn("mqtt connect failed", "serial", s.opts.Serial, "error", err)
			s.setConnected(false)
			if !sleepOrDone(ctx, 2*time.Second) {
				return
			}
			continue
		}
		s.client = client
		s.logger.Info("mqtt connected", "serial", s.opts.Serial)

		s.serviceCommands(ctx, client, requestTopic)

		client.Disconnect(250)
		s.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		if !sleepOrDone(ctx, 2*time.Second) {
			return
		}
	}
}

func (s *Session) connect(ctx context.Context, reportTopic string) (paho.Client, error) {
	scheme := "tcp"
	if s.opts.TLS {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, s.opts.Host, s.opts.Port)

	clientID := fmt.Sprintf("%s-%s-%s", s.opts.ClientIDPrefix, s.opts.Serial, randomSuffix(6))

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetUsername("bblp").
		SetPassword(s.opts.AccessCode).
		SetKeepAlive(s.opts.KeepAlive).
		SetAutoReconnect(false).
		SetConnectTimeout(10 * time.Second)

	if s.opts.TLS {
		if s.opts.TLSInsecure {
			s.logger.Warn("mqtt tls verification disabled", "serial", s.opts.Serial)
			opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
		} else if s.opts.TLSConfig != nil {
			opts.SetTLSConfig(s.opts.TLSConfig)
		} else {
			opts.SetTLSConfig(&tls.Config{ServerName: s.opts.Host})
		}
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect: %w", err)
	}

	subToken := client.Subscribe(reportTopic, 0, s.handleReport)
	if !subToken.WaitTimeout(10 * time.Second) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: subscribe timed out")
	}
	if err := subToken.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: subscribe: %w", err)
	}

	s.setConnected(true)
	return client, nil
}

// serviceCommands drains the command channel onto the request topic
// until the client disconnects or ctx is canceled. It runs on the
// caller's goroutine (Run) rather than its own, so there is exactly one
// point where connection loss is noticed and the outer reconnect loop
// takes over. The connection is checked once a second and before each
// publish.
func (s *Session) serviceCommands(ctx context.Context, client paho.Client, requestTopic string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !client.IsConnectionOpen() {
				return
			}
		case req, ok := <-s.commandCh:
			if !ok {
				return
			}
			if !client.IsConnectionOpen() {
				return
			}
			payload := req.ToPayload(s.opts.UserID, s.sequence)
			s.sequence++

			token := client.Publish(requestTopic, 1, false, payload)
			if !token.WaitTimeout(5 * time.Second) {
				s.logger.Warn("mqtt publish timed out", "serial", s.opts.Serial)
				return
			}
			if err := token.Error(); err != nil {
				s.logger.Warn("mqtt publish failed", "serial", s.opts.Serial, "error", err)
				return
			}
		}
	}
}

func (s *Session) handleReport(_ paho.Client, msg paho.Message) {
	if s.onReport == nil {
		return
	}
	var payload Report
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		s.logger.Warn("failed to parse mqtt report payload", "serial", s.opts.Serial, "error", err)
		return
	}
	s.onReport(payload)
}

func (s *Session) setConnected(connected bool) {
	if s.onStatus != nil {
		s.onStatus(connected)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func randomSuffix(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	out := make([]byte, n)
	for i := range out {
		out[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(out)
}
