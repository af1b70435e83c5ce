package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adbtoolkit/agent/internal/logger"
)

// Event is a UI notification pushed to connected platform shells, e.g. a
// pairing request waiting for the local user's confirmation.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	At   int64          `json:"at"`
}

// EventHub fans UI events out to websocket subscribers. The surrounding
// platform UI subscribes at /api/events to learn about pairing requests.
type EventHub struct {
	log      logger.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewEventHub creates an empty hub.
func NewEventHub(log logger.Logger) *EventHub {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &EventHub{
		log:   log.WithFields(logger.String("component", "events")),
		conns: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Publish sends an event to every subscriber. Slow or dead subscribers
// are dropped rather than blocking the publisher.
func (h *EventHub) Publish(eventType string, data map[string]any) {
	ev := Event{Type: eventType, Data: data, At: time.Now().UnixMilli()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteJSON(ev); err != nil {
			h.log.Debug("dropping event subscriber", logger.Error(err))
			c.Close()
			delete(h.conns, c)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ServeHTTP upgrades the connection and keeps it registered until the
// subscriber goes away. Subscribers only receive; inbound frames are
// discarded.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				h.mu.Lock()
				delete(h.conns, conn)
				h.mu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

// Close disconnects all subscribers.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.Close()
		delete(h.conns, c)
	}
}
