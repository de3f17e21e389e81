package http

import (
	"net/http"
	"time"

	"crisis-monitor/pkg/correlation"
	"crisis-monitor/pkg/protocol"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ingestHandler accepts protocol envelopes over a WebSocket and writes one
// reply per message. Messages on a connection are handled in order.
type ingestHandler struct {
	handler  *protocol.Handler
	upgrader *websocket.Upgrader
	allow    func(clientIP string) bool
	logger   *logrus.Logger
}

func newIngestHandler(handler *protocol.Handler, upgrader *websocket.Upgrader, allow func(string) bool, logger *logrus.Logger) *ingestHandler {
	return &ingestHandler{handler: handler, upgrader: upgrader, allow: allow, logger: logger}
}

func (h *ingestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := correlation.Entry(r.Context(), h.logger.WithField("component", "ingest"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("Failed to upgrade ingest connection")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	logger.Info("Ingest connection opened")

	ctx := r.Context()
	clientIP := correlation.ClientIPFromContext(ctx)
	processed := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Warn("Ingest connection closed unexpectedly")
			}
			break
		}
		var reply protocol.Reply
		if h.allow(clientIP) {
			reply = h.handler.Handle(ctx, data)
			processed++
		} else {
			reply = &protocol.ErrorReply{
				Header:  protocol.Header{Type: protocol.ReplyError},
				Message: "rate limit exceeded, retry later",
				Code:    "RESOURCE_EXHAUSTED",
			}
		}
		if reply == nil {
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(reply); err != nil {
			logger.WithError(err).Warn("Failed to write ingest reply")
			break
		}
	}

	logger.WithField("messages", processed).Info("Ingest connection closed")
}
