package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ManishKarki1997/VirtualClassroomServer/internal/hub"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/interfaces"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

// Dispatcher is the event loop the transport feeds; *hub.Hub in production.
type Dispatcher interface {
	Connect(connID string, h interfaces.Handle) error
	Dispatch(connID string, env types.Envelope) error
	Disconnect(connID string) error
}

// Handler upgrades HTTP requests and pumps their frames into a Dispatcher.
// ARCHITECTURAL DISCOVERY: The transport knows nothing about rooms or peers; it
// only turns frames into envelopes and socket closure into Disconnect
type Handler struct {
	hub      Dispatcher
	upgrader websocket.Upgrader
	opts     Options
	logger   *slog.Logger
	newID    func() string
}

// NewHandler creates a handler feeding hub.
func NewHandler(d Dispatcher, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub: d,
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: Browser clients are served from a separate
			// origin; CORS policy is enforced at the HTTP layer instead
			CheckOrigin:      func(*http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		opts:   opts.withDefaults(),
		logger: logger.With("component", "websocket"),
		newID:  uuid.NewString,
	}
}

// HandleWebSocket upgrades the request and starts the session.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	id := h.newID()
	conn := NewConnection(ws, id, h.opts, h.logger)

	// The connected frame is queued before the hub knows the connection, so it
	// is always the first frame the client reads.
	if err := conn.Send(types.EventConnected, types.Connected{Socket: id}); err != nil {
		h.logger.Warn("failed to queue connected frame", "conn", id, "err", err)
		_ = conn.Close()
		return
	}
	if err := h.hub.Connect(id, conn); err != nil {
		h.logger.Warn("hub rejected connection", "conn", id, "err", err)
		_ = conn.Close()
		return
	}

	h.logger.Debug("connection accepted", "conn", id, "remote", r.RemoteAddr)
	go h.handleConnection(conn)
}

// handleConnection runs the read pump and heartbeat until the socket closes.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		if err := h.hub.Disconnect(conn.ID()); err != nil {
			h.logger.Debug("disconnect not queued", "conn", conn.ID(), "err", err)
		}
		_ = conn.Close()
	}()

	ws := conn.conn
	ws.SetReadLimit(h.opts.MaxMessageSize)
	// TECHNICAL DISCOVERY: read deadline is twice the ping interval by default,
	// so one lost pong is tolerated before the session is declared dead
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		h.logger.Debug("failed to set read deadline", "conn", conn.ID(), "err", err)
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.heartbeat(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Info("websocket closed unexpectedly", "conn", conn.ID(), "err", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			h.logger.Debug("dropping malformed frame", "conn", conn.ID(), "err", err)
			continue
		}

		switch err := h.hub.Dispatch(conn.ID(), env); {
		case err == nil:
		case errors.Is(err, hub.ErrEventQueueFull):
			h.logger.Warn("event queue full, dropping event", "conn", conn.ID(), "event", env.Event)
		case errors.Is(err, hub.ErrHubNotRunning):
			return
		default:
			h.logger.Warn("dispatch failed", "conn", conn.ID(), "event", env.Event, "err", err)
		}
	}
}

func (h *Handler) heartbeat(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				h.logger.Debug("ping failed", "conn", conn.ID(), "err", err)
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}
