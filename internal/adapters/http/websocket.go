package httpadapter

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

const (
	wsSendBuffer   = 32
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var errClientSlow = errors.New("websocket client send buffer full")

// wsClient is one browser connection subscribed to progress events. When
// sessionID is set only that session's events are forwarded.
type wsClient struct {
	id        string
	sessionID string
	send      chan domain.ProgressEvent
	done      chan struct{}
}

func newWSClient(sessionID string) *wsClient {
	return &wsClient{
		id:        "ws-" + uuid.NewString(),
		sessionID: sessionID,
		send:      make(chan domain.ProgressEvent, wsSendBuffer),
		done:      make(chan struct{}),
	}
}

func (c *wsClient) ID() string { return c.id }

// Send never blocks on the network. A full buffer drops the event and
// reports the client as slow.
func (c *wsClient) Send(_ context.Context, event domain.ProgressEvent) error {
	if c.sessionID != "" && event.SessionID != c.sessionID {
		return nil
	}
	select {
	case <-c.done:
		return errors.New("websocket client closed")
	default:
	}
	select {
	case c.send <- event:
		return nil
	default:
		return errClientSlow
	}
}

func (rt *Router) upgrader() websocket.Upgrader {
	allowed := rt.cfg.CORSAllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), r.Host, allowed)
		},
	}
}

// originAllowed accepts same-host requests, requests without an Origin
// header and any origin listed for CORS. "*" allows everything.
func originAllowed(origin, host string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

func (rt *Router) streamProgress(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Hub == nil {
		writeErrorMessage(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "progress stream is not configured")
		return
	}

	upgrader := rt.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.logger.Warn("websocket_upgrade_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		return
	}

	client := newWSClient(strings.TrimSpace(r.URL.Query().Get("session_id")))
	rt.deps.Hub.Subscribe(client)
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.WebsocketConnected()
	}
	rt.logger.Info("websocket_connected", "client_id", client.id, "session_id", client.sessionID, "clients", rt.deps.Hub.Count())

	defer func() {
		close(client.done)
		rt.deps.Hub.Unsubscribe(client)
		if rt.deps.Metrics != nil {
			rt.deps.Metrics.WebsocketDisconnected()
		}
		_ = conn.Close()
		rt.logger.Info("websocket_disconnected", "client_id", client.id, "clients", rt.deps.Hub.Count())
	}()

	readDone := make(chan struct{})
	go readPump(conn, readDone)
	writePump(r.Context(), conn, client, readDone)
}

// readPump drains client frames so control messages are processed. The
// stream is server-push only.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, client *wsClient, readDone <-chan struct{}) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case event := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
