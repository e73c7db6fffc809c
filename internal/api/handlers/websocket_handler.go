package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/roofscope/backend/internal/events"
	"github.com/roofscope/backend/internal/metrics"
	"github.com/roofscope/backend/pkg/logger"
)

type WebSocketHandler struct {
	hub *events.Hub
}

func NewWebSocketHandler(hub *events.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
	}
}

// HandleConnection streams one session's events to a connected device until it
// disconnects. Inbound frames are only read to detect the close.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	sessionID := c.Params("id")
	if sessionID == "" {
		c.Close()
		return
	}

	ch := h.hub.Subscribe(sessionID)
	metrics.WebSocketSubscribers.Inc()
	logger.Info("WebSocket subscriber connected", zap.String("session_id", sessionID))

	defer func() {
		h.hub.Unsubscribe(sessionID, ch)
		metrics.WebSocketSubscribers.Dec()
		c.Close()
		logger.Info("WebSocket subscriber disconnected", zap.String("session_id", sessionID))
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteJSON(event); err != nil {
				logger.Debug("Failed to write event, dropping subscriber",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
				return
			}
		case <-done:
			return
		}
	}
}
