// Package rtsp implements the slice of RTSP/1.0 this gateway needs to
// pull an H.264 stream from a Bambu Lab printer's camera: DESCRIBE,
// SETUP with interleaved TCP transport, PLAY, and an OPTIONS
// keep-alive — plus Basic/Digest authentication and the wire-level
// framing (pkg/rtsp's parser.go and auth.go) that supports it.
package rtsp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/bambu-lan-gateway/pkg/logger"
	"github.com/ethan/bambu-lan-gateway/pkg/sdp"
)

const (
	defaultRTSPPort      = "554"
	requestTimeout       = 10 * time.Second
	defaultKeepaliveSecs = 5
	readBufferSize       = 16 * 1024
	interleavedQueueSize = 64
)

// InterleavedPacket is one RTP-over-TCP ($-framed) payload delivered on
// the channel number SETUP negotiated.
type InterleavedPacket struct {
	Channel byte
	Payload []byte
}

// Session is an established, playing RTSP session: the parsed SDP, the
// negotiated interleaved channel numbers, and a channel of incoming RTP
// packets. Closing it tears down the TCP connection and stops the
// keep-alive loop.
type Session struct {
	SDP         *sdp.Info
	RTPChannel  byte
	RTCPChannel byte
	Interleaved <-chan InterleavedPacket

	conn *connection
}

// Close tears down the underlying connection and keep-alive goroutine.
func (s *Session) Close() error {
	return s.conn.close()
}

// Client drives one RTSP session against a single camera URL.
type Client struct {
	url         *url.URL
	credentials *Credentials // nil disables authentication entirely
	tlsInsecure bool
	logger      *logger.Logger
}

// NewClient parses rawURL and returns a client ready to Start a
// session. credentials may be nil for cameras that don't require auth.
func NewClient(rawURL string, credentials *Credentials, tlsInsecure bool, log *logger.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("rtsp: parse url: %w", err)
	}
	if log == nil {
		log = logger.Default()
	}
	return &Client{url: u, credentials: credentials, tlsInsecure: tlsInsecure, logger: log}, nil
}

// Start performs the full DESCRIBE/SETUP/PLAY handshake and returns a
// live session. The returned session's keep-alive loop and reader loop
// run until ctx is cancelled or Session.Close is called.
func (c *Client) Start(ctx context.Context) (*Session, error) {
	conn, interleaved, err := dialConnection(ctx, c.url, c.credentials, c.tlsInsecure, c.logger)
	if err != nil {
		return nil, err
	}

	describe, err := conn.sendWithRetry(ctx, "DESCRIBE", c.url.String(), map[string]string{
		"Accept": "application/sdp",
	})
	if err != nil {
		conn.close()
		return nil, fmt.Errorf("rtsp: describe: %w", err)
	}
	if describe.StatusCode != 200 {
		conn.close()
		return nil, fmt.Errorf("rtsp: describe failed: %d %s", describe.StatusCode, describe.ReasonPhrase)
	}

	sdpInfo, err := sdp.Parse(describe.Body)
	if err != nil {
		conn.close()
		return nil, fmt.Errorf("rtsp: invalid sdp: %w", err)
	}

	baseURL := c.url
	if value, ok := describe.Header("content-base"); ok {
		if resolved, ok := normalizeBaseURL(value, c.url); ok {
			baseURL = resolved
		}
	} else if value, ok := describe.Header("content-location"); ok {
		if resolved, ok := normalizeBaseURL(value, c.url); ok {
			baseURL = resolved
		}
	}

	setupURI := sdpInfo.ResolvedVideoControlURL(baseURL)
	setup, err := conn.sendWithRetry(ctx, "SETUP", setupURI, map[string]string{
		"Transport": "RTP/AVP/TCP;unicast;interleaved=0-1",
	})
	if err != nil {
		conn.close()
		return nil, fmt.Errorf("rtsp: setup: %w", err)
	}
	if setup.StatusCode != 200 {
		conn.close()
		return nil, fmt.Errorf("rtsp: setup failed: %d %s", setup.StatusCode, setup.ReasonPhrase)
	}
	rtpChannel, rtcpChannel, ok := parseInterleavedChannels(setup)
	if !ok {
		rtpChannel, rtcpChannel = 0, 1
	}

	playURI := sdpInfo.ResolvedPlayURL(baseURL)
	c.logger.Info("rtsp control urls",
		"base_url", baseURL.String(),
		"video_control", sdpInfo.VideoControl,
		"session_control", sdpInfo.SessionControl,
		"setup_uri", setupURI,
		"play_uri", playURI)

	play, err := conn.sendWithRetry(ctx, "PLAY", playURI, map[string]string{
		"Range": "npt=0-",
	})
	if err != nil {
		conn.close()
		return nil, fmt.Errorf("rtsp: play: %w", err)
	}
	if play.StatusCode != 200 {
		conn.close()
		return nil, fmt.Errorf("rtsp: play failed: %d %s", play.StatusCode, play.ReasonPhrase)
	}

	conn.startKeepalive(playURI)

	return &Session{
		SDP:         sdpInfo,
		RTPChannel:  rtpChannel,
		RTCPChannel: rtcpChannel,
		Interleaved: interleaved,
		conn:        conn,
	}, nil
}

// connection owns the TCP/TLS socket for one RTSP session: a single
// writer (guarded against concurrent requests and keep-alive pings) and
// a reader goroutine that demultiplexes responses (matched to the
// request that's waiting on them by CSeq) from interleaved RTP frames.
type connection struct {
	conn   net.Conn
	writer *bufio.Writer

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint32]chan Response

	authMu sync.Mutex
	auth   *Authenticator

	sessionMu      sync.Mutex
	sessionID      string
	sessionTimeout time.Duration

	cseq uint32 // atomic

	logger *logger.Logger

	cancel    context.CancelFunc
	closeOnce sync.Once
}

func dialConnection(ctx context.Context, target *url.URL, credentials *Credentials, tlsInsecure bool, log *logger.Logger) (*connection, <-chan InterleavedPacket, error) {
	host := target.Hostname()
	port := target.Port()
	if port == "" {
		port = defaultRTSPPort
	}
	addr := net.JoinHostPort(host, port)

	dialer := &net.Dialer{Timeout: requestTimeout, KeepAlive: 30 * time.Second}

	var rawConn net.Conn
	var err error
	if strings.EqualFold(target.Scheme, "rtsps") {
		tlsConfig := &tls.Config{ServerName: host, InsecureSkipVerify: tlsInsecure}
		rawConn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	} else {
		rawConn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("rtsp: dial %s: %w", addr, err)
	}
	if tcpConn, ok := rawConn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	var authenticator *Authenticator
	if credentials != nil {
		authenticator = NewAuthenticator(*credentials)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &connection{
		conn:    rawConn,
		writer:  bufio.NewWriter(rawConn),
		pending: make(map[uint32]chan Response),
		auth:    authenticator,
		cseq:    1,
		logger:  log,
		cancel:  cancel,
	}

	interleavedTx := make(chan InterleavedPacket, interleavedQueueSize)
	go c.readerLoop(connCtx, interleavedTx)

	return c, interleavedTx, nil
}

func (c *connection) close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
	})
	return nil
}

func (c *connection) readerLoop(ctx context.Context, interleavedTx chan<- InterleavedPacket) {
	defer close(interleavedTx)
	parser := NewStreamParser()
	buf := make([]byte, readBufferSize)

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("rtsp reader loop ended", "error", err)
			}
			return
		}
		for _, event := range parser.Append(buf[:n]) {
			switch event.Kind {
			case EventInterleaved:
				select {
				case interleavedTx <- InterleavedPacket{Channel: event.Channel, Payload: event.Payload}:
				case <-ctx.Done():
					return
				}
			case EventResponse:
				c.handleResponse(event.Response)
			}
		}
	}
}

func (c *connection) handleResponse(resp Response) {
	if sessionID, timeout, ok := parseSessionInfo(resp); ok {
		c.sessionMu.Lock()
		c.sessionID = sessionID
		if timeout > 0 {
			c.sessionTimeout = timeout
		}
		c.sessionMu.Unlock()
	}

	cseq, ok := resp.CSeq()
	if !ok {
		return
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[cseq]
	if ok {
		delete(c.pending, cseq)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

// sendWithRetry sends a request and, if challenged with a 401 that the
// authenticator can turn into a Digest response, retries exactly once
// with the upgraded Authorization header.
func (c *connection) sendWithRetry(ctx context.Context, method, uri string, headers map[string]string) (Response, error) {
	var last Response
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := c.sendRequest(ctx, method, uri, headers)
		if err != nil {
			return Response{}, err
		}
		last = resp
		if resp.StatusCode != 401 {
			return resp, nil
		}
		challenge, ok := resp.Header("www-authenticate")
		if !ok {
			return resp, nil
		}
		c.authMu.Lock()
		if c.auth == nil {
			c.authMu.Unlock()
			return resp, nil
		}
		updated := c.auth.UpdateChallenge(challenge)
		c.authMu.Unlock()
		if !updated {
			return resp, nil
		}
	}
	return last, nil
}

func (c *connection) sendRequest(ctx context.Context, method, uri string, headers map[string]string) (Response, error) {
	cseq := atomic.AddUint32(&c.cseq, 1) - 1

	req := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		req[k] = v
	}
	if _, hasSession := req["Session"]; !hasSession && method != "DESCRIBE" {
		c.sessionMu.Lock()
		sessionID := c.sessionID
		c.sessionMu.Unlock()
		if sessionID != "" {
			req["Session"] = sessionID
		}
	}

	var authHeader string
	c.authMu.Lock()
	if c.auth != nil {
		authHeader = c.auth.AuthorizationHeader(method, uri)
	}
	c.authMu.Unlock()

	wire := buildRequest(method, uri, cseq, req, authHeader)

	respCh := make(chan Response, 1)
	c.pendingMu.Lock()
	c.pending[cseq] = respCh
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	_, writeErr := c.writer.WriteString(wire)
	if writeErr == nil {
		writeErr = c.writer.Flush()
	}
	c.writeMu.Unlock()
	if writeErr != nil {
		c.pendingMu.Lock()
		delete(c.pending, cseq)
		c.pendingMu.Unlock()
		return Response{}, fmt.Errorf("rtsp: write request: %w", writeErr)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-timeoutCtx.Done():
		c.pendingMu.Lock()
		delete(c.pending, cseq)
		c.pendingMu.Unlock()
		return Response{}, fmt.Errorf("rtsp: %s timed out waiting for response", method)
	}
}

// startKeepalive periodically sends OPTIONS against uri to hold the
// session open. The interval follows the server's advertised session
// timeout (halved, clamped so it always fires at least a second before
// expiry) when one was seen, or a conservative default otherwise. It
// logs a warning and stops once a keep-alive request fails, which
// includes any request sent after the connection is closed.
func (c *connection) startKeepalive(uri string) {
	c.sessionMu.Lock()
	timeout := c.sessionTimeout
	c.sessionMu.Unlock()

	interval := defaultKeepaliveSecs * time.Second
	if timeout > 0 {
		secs := timeout.Seconds()
		half := secs * 0.5
		switch {
		case half < 1:
			half = 1
		case half > secs-1 && secs > 1:
			half = secs - 1
		}
		interval = time.Duration(half * float64(time.Second))
	}

	go func() {
		ctx := context.Background()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := c.sendWithRetry(ctx, "OPTIONS", uri, nil); err != nil {
				c.logger.Warn("rtsp keepalive failed", "error", err)
				return
			}
		}
	}()
}

func buildRequest(method, uri string, cseq uint32, headers map[string]string, authHeader string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", method, uri)
	fmt.Fprintf(&b, "CSeq: %d\r\n", cseq)
	b.WriteString("User-Agent: bambu-lan-gateway/1.0\r\n")
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	if authHeader != "" {
		fmt.Fprintf(&b, "Authorization: %s\r\n", authHeader)
	}
	b.WriteString("\r\n")
	return b.String()
}

func parseInterleavedChannels(resp Response) (rtp, rtcp byte, ok bool) {
	transport, present := resp.Header("transport")
	if !present {
		return 0, 0, false
	}
	for _, part := range strings.Split(transport, ";") {
		part = strings.TrimSpace(part)
		value, found := strings.CutPrefix(part, "interleaved=")
		if !found {
			continue
		}
		fields := strings.SplitN(value, "-", 2)
		if len(fields) != 2 {
			continue
		}
		rtpN, err1 := strconv.ParseUint(fields[0], 10, 8)
		rtcpN, err2 := strconv.ParseUint(fields[1], 10, 8)
		if err1 != nil || err2 != nil {
			continue
		}
		return byte(rtpN), byte(rtcpN), true
	}
	return 0, 0, false
}

func parseSessionInfo(resp Response) (sessionID string, timeout time.Duration, ok bool) {
	session, present := resp.Header("session")
	if !present {
		return "", 0, false
	}
	parts := strings.Split(session, ";")
	id := strings.TrimSpace(parts[0])
	if id == "" {
		return "", 0, false
	}
	for _, part := range parts[1:] {
		value, found := strings.CutPrefix(strings.TrimSpace(part), "timeout=")
		if !found {
			continue
		}
		if seconds, err := strconv.ParseUint(value, 10, 32); err == nil {
			timeout = time.Duration(seconds) * time.Second
		}
	}
	return id, timeout, true
}

// normalizeBaseURL resolves a Content-Base/Content-Location header
// value into an absolute URL, filling in scheme/host/port from fallback
// wherever the header left them unspecified (some cameras emit a
// Content-Base with no port, or a bare path).
func normalizeBaseURL(value string, fallback *url.URL) (*url.URL, bool) {
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, false
	}
	resolved := fallback.ResolveReference(parsed)
	if resolved.Port() == "" && fallback.Port() != "" {
		resolved.Host = net.JoinHostPort(resolved.Hostname(), fallback.Port())
	}
	if resolved.Scheme == "" {
		resolved.Scheme = fallback.Scheme
	}
	return resolved, true
}
