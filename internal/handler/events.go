package handler

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"webgate/internal/notify"
)

const (
	eventsWriteWait    = 10 * time.Second
	eventsPingInterval = 30 * time.Second
)

// EventSource hands out notification subscriptions.
type EventSource interface {
	Subscribe() (<-chan notify.Event, func())
}

// EventsHandler streams notification events over a WebSocket.
type EventsHandler struct {
	source   EventSource
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler creates an EventsHandler. Cross-origin upgrades are
// refused.
func NewEventsHandler(source EventSource, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: logger.With("component", "events_handler"),
	}
}

// Stream upgrades the connection and writes each event as a JSON text
// message until either side goes away. Client messages are ignored.
func (h *EventsHandler) Stream(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already answered the request.
		h.logger.Warn("websocket upgrade failed", "err", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	events, cancel := h.source.Subscribe()
	defer cancel()

	h.logger.Debug("events subscriber connected", "remote_ip", c.RealIP())

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("events write failed", "err", err)
				return nil
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return nil
			}
		case <-gone:
			h.logger.Debug("events subscriber disconnected")
			return nil
		}
	}
}
