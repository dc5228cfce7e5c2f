// Package binary serves the binary update relay: every websocket binary frame
// is one opaque document update, relayed unchanged to the other clients of the
// document named by the request path.
package binary

import (
	"net/http"
	"time"

	"collab-server/collab"
	"collab-server/core"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultPingTimeout  = 10 * time.Second
	bufSize             = 1024
)

type Options struct {
	PingInterval   time.Duration
	PingTimeout    time.Duration
	MaxMessageSize int64
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

type Handler struct {
	hub      *collab.Hub
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(hub *collab.Hub, opts Options) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Handler{
		hub:  hub,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  bufSize,
			WriteBufferSize: bufSize,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	documentID := collab.DocumentIDFromPath(r.URL.Path)
	log := logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"remote_addr": r.RemoteAddr,
	})

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	if h.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(h.opts.MaxMessageSize)
	}

	conn, err := h.hub.Register(&wsTransport{ws: ws, writeTimeout: h.opts.PingTimeout}, core.ModeBlob, "")
	if err != nil {
		log.WithError(err).Warn("Rejecting websocket")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server unavailable"),
			time.Now().Add(time.Second))
		ws.Close()
		return
	}
	defer h.hub.Unregister(conn.ID())
	log = log.WithField("conn_id", conn.ID())

	if _, err := h.hub.Join(conn, documentID, nil); err != nil {
		log.WithError(err).Warn("Join failed")
		return
	}

	deadline := h.opts.PingInterval + h.opts.PingTimeout
	_ = ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})

	done := make(chan struct{})
	defer close(done)
	go h.keepAlive(ws, done)

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("Websocket closed")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(deadline))

		switch kind {
		case websocket.BinaryMessage:
			_ = h.hub.RelayFrame(conn, documentID, data)
		default:
			log.WithField("bytes", len(data)).Debug("Ignoring text frame")
		}
	}
}

// keepAlive pings every PingInterval. A peer that stops answering runs into
// the read deadline.
func (h *Handler) keepAlive(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.PingTimeout)); err != nil {
				return
			}
		}
	}
}

// wsTransport writes frames as binary messages and events (errors) as JSON
// text messages {"event": ..., "data": ...}.
type wsTransport struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) Send(msg collab.Message) error {
	if err := t.ws.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	if msg.IsFrame() {
		return t.ws.WriteMessage(websocket.BinaryMessage, msg.Frame)
	}
	return t.ws.WriteJSON(map[string]any{
		"event": msg.Event,
		"data":  msg.Payload,
	})
}

func (t *wsTransport) Close() error {
	return t.ws.Close()
}
