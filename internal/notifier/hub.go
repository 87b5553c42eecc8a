// Package notifier pushes status events to the live sessions of one user.
package notifier

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/cuongbtq/vidshare/internal/domain"
	"github.com/cuongbtq/vidshare/internal/metrics"
)

// EventVideoStatusUpdate is the event name of status and progress frames
const EventVideoStatusUpdate = "videoStatusUpdate"

var (
	// ErrHubClosed is returned by Subscribe after Close
	ErrHubClosed = errors.New("notifier is closed")

	// ErrEmptyUserID is returned when subscribing without a routing key
	ErrEmptyUserID = errors.New("user id is required")
)

// Conn is one live client session. Send must not block: it reports false
// when the frame could not be queued.
type Conn interface {
	Send(frame []byte) bool
	Close()
}

// Event is the wire frame written to clients
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// StatusUpdate is the payload of a videoStatusUpdate frame
type StatusUpdate struct {
	VideoID string        `json:"videoId"`
	Status  domain.Status `json:"status"`
	Percent int           `json:"percent"`
}

// Hub is the registry of live connections keyed by user id
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	rooms  map[string]map[Conn]struct{}
	owners map[Conn]string
	closed bool
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		rooms:  make(map[string]map[Conn]struct{}),
		owners: make(map[Conn]string),
	}
}

// Subscribe adds conn under userID. A connection belongs to one user; subscribing
// it again moves it.
func (h *Hub) Subscribe(conn Conn, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	if prev, ok := h.owners[conn]; ok {
		h.removeLocked(conn, prev)
	}

	room, ok := h.rooms[userID]
	if !ok {
		room = make(map[Conn]struct{})
		h.rooms[userID] = room
	}
	room[conn] = struct{}{}
	h.owners[conn] = userID

	metrics.SetNotifierConnections(len(h.owners))
	return nil
}

// Unsubscribe removes conn from whatever user it belongs to
func (h *Hub) Unsubscribe(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if userID, ok := h.owners[conn]; ok {
		h.removeLocked(conn, userID)
		metrics.SetNotifierConnections(len(h.owners))
	}
}

func (h *Hub) removeLocked(conn Conn, userID string) {
	delete(h.owners, conn)
	if room, ok := h.rooms[userID]; ok {
		delete(room, conn)
		if len(room) == 0 {
			delete(h.rooms, userID)
		}
	}
}

// Publish delivers an event to every connection of userID and returns how many
// accepted it. Events for users without connections are dropped.
func (h *Hub) Publish(userID, event string, payload any) int {
	h.mu.RLock()
	room := h.rooms[userID]
	conns := make([]Conn, 0, len(room))
	for conn := range room {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		metrics.AddNotifierEvents(metrics.PublishNoSubscribers, 1)
		return 0
	}

	frame, err := json.Marshal(Event{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("Failed to encode event",
			slog.String("event", event),
			slog.Any("error", err),
		)
		return 0
	}

	delivered := 0
	for _, conn := range conns {
		if conn.Send(frame) {
			delivered++
		}
	}

	metrics.AddNotifierEvents(metrics.PublishDelivered, delivered)
	if dropped := len(conns) - delivered; dropped > 0 {
		metrics.AddNotifierEvents(metrics.PublishDropped, dropped)
		h.logger.Debug("Event dropped for slow connections",
			slog.String("user_id", userID),
			slog.String("event", event),
			slog.Int("dropped", dropped),
		)
	}

	return delivered
}

// PublishStatus sends a videoStatusUpdate frame to the video's owner
func (h *Hub) PublishStatus(userID string, update StatusUpdate) int {
	return h.Publish(userID, EventVideoStatusUpdate, update)
}

// Connections returns the number of live connections of userID
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

// Close disconnects every client and rejects further subscriptions
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true

	conns := make([]Conn, 0, len(h.owners))
	for conn := range h.owners {
		conns = append(conns, conn)
	}
	h.rooms = make(map[string]map[Conn]struct{})
	h.owners = make(map[Conn]string)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	metrics.SetNotifierConnections(0)
	h.logger.Info("Notifier closed", slog.Int("connections", len(conns)))
}
