package handler

import (
	"net/http"
	"time"

	"bushu/pkg/logger"
	"bushu/pkg/stream"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait    = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the dashboard may be served from another origin
	},
}

// StreamHandler pushes new execution records to dashboard clients
type StreamHandler struct {
	hub          *stream.Hub
	pingInterval time.Duration
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(hub *stream.Hub) *StreamHandler {
	return &StreamHandler{hub: hub, pingInterval: streamPingInterval}
}

// Records upgrades to a websocket and writes every new record as JSON until the client leaves
// @Router /api/records/stream [get]
func (h *StreamHandler) Records(c *gin.Context) {
	ctx := c.Request.Context()

	ws, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(ctx, "Failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)
	logger.DebugCtx(ctx, "record stream subscriber connected, total: %d", h.hub.Count())

	// the read loop only notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case record, ok := <-sub.C:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(streamWriteWait))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteJSON(record); err != nil {
				logger.DebugCtx(ctx, "record stream write failed: %v", err)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
