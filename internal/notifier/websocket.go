package notifier

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cuongbtq/vidshare/internal/auth"
	"github.com/gorilla/websocket"
)

const maxClientMessageSize = 4096

// Authenticator resolves the session identity of an upgrade request
type Authenticator interface {
	Authenticate(r *http.Request) (*auth.Claims, error)
}

// Config holds websocket delivery settings
type Config struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
}

// Handler upgrades authenticated requests and subscribes them to the hub
type Handler struct {
	hub      *Hub
	auth     Authenticator
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the websocket endpoint
func NewHandler(hub *Hub, authenticator Authenticator, cfg Config, logger *slog.Logger) *Handler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}

	h := &Handler{
		hub:    hub,
		auth:   authenticator,
		cfg:    cfg,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		conn:   ws,
		hub:    h.hub,
		userID: claims.UserID,
		cfg:    h.cfg,
		send:   make(chan []byte, h.cfg.SendBuffer),
		done:   make(chan struct{}),
		logger: h.logger.With(slog.String("user_id", claims.UserID)),
	}

	if err := h.hub.Subscribe(c, c.userID); err != nil {
		h.logger.Warn("Rejecting websocket session", slog.Any("error", err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()),
			time.Now().Add(h.cfg.WriteTimeout))
		ws.Close()
		return
	}

	c.logger.Info("Websocket client connected", slog.String("remote_addr", r.RemoteAddr))

	go c.writePump()
	c.readPump()
}

// clientMessage is a frame sent by the browser
type clientMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// client is one websocket session
type client struct {
	conn   *websocket.Conn
	hub    *Hub
	userID string
	cfg    Config
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.Close()
		c.logger.Info("Websocket client disconnected")
	}()

	c.conn.SetReadLimit(maxClientMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Websocket read failed", slog.Any("error", err))
			}
			return
		}

		c.handleMessage(data)
	}
}

// handleMessage answers join requests. The room is fixed by the session token;
// a join naming another user is refused.
func (c *client) handleMessage(data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("error", map[string]string{"message": "malformed message"})
		return
	}

	switch msg.Type {
	case "join":
		if msg.UserID != "" && msg.UserID != c.userID {
			c.logger.Warn("Refused join for another user", slog.String("requested", msg.UserID))
			c.reply("error", map[string]string{"message": "cannot join another user's room"})
			return
		}
		c.reply("joined", map[string]string{"userId": c.userID})
	default:
		c.logger.Debug("Ignoring client message", slog.String("type", msg.Type))
	}
}

func (c *client) reply(event string, data any) {
	frame, err := json.Marshal(Event{Event: event, Data: data})
	if err != nil {
		return
	}
	c.Send(frame)
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}

// flush writes frames still queued when the session closes
func (c *client) flush() {
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
