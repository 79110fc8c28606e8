package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ethan/bambu-lan-gateway/pkg/cmaf"
)

const wsInitWaitTimeout = 5 * time.Second

var errInitNotReady = errors.New("init segment not available within timeout")

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleCMAFWebSocket upgrades to a WebSocket and pushes the device's
// live CMAF fragments: a codec text message, the init segment, the
// subscriber's replay backlog, then every fragment as it's produced.
// If no init segment becomes available within 5s, the connection is
// closed without upgrading further use.
func (s *Server) handleCMAFWebSocket(w http.ResponseWriter, r *http.Request) {
	sup := supervisorFromContext(r)
	broadcaster := sup.Broadcaster()

	init, err := waitForInit(r.Context(), broadcaster, wsInitWaitTimeout)
	if err != nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(sub)

	if s.metrics != nil {
		s.metrics.SetWSSubscribers(sup.Device.ID, broadcaster.SubscriberCount())
		defer s.metrics.SetWSSubscribers(sup.Device.ID, broadcaster.SubscriberCount()-1)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("codec:"+init.Codec)); err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, init.Bytes); err != nil {
		return
	}

	// Subscribe already pre-populated sub.Fragments with the backlog, in
	// order, ahead of any live fragment sent after subscription — one
	// read loop forwards backlog and live fragments alike.
	for {
		select {
		case frag, ok := <-sub.Fragments:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frag); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func waitForInit(ctx context.Context, broadcaster *cmaf.Broadcaster, timeout time.Duration) (*cmaf.Init, error) {
	if init := broadcaster.CurrentInit(); init != nil {
		return init, nil
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if init := broadcaster.CurrentInit(); init != nil {
				return init, nil
			}
		case <-deadline:
			return nil, errInitNotReady
		case <-ctx.Done():
			return nil, errInitNotReady
		}
	}
}
