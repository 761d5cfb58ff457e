package hub

import (
	"encoding/json"
	"log/slog"

	"github.com/ManishKarki1997/VirtualClassroomServer/internal/metrics"
	"github.com/ManishKarki1997/VirtualClassroomServer/internal/presence"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

// Gateway is the sole path from state changes to outbound events.
// Delivery failures are swallowed and counted; nothing here returns an error.
type Gateway struct {
	registry *presence.Registry
	rooms    *presence.Rooms
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewGateway creates a gateway resolving recipients through registry and rooms.
func NewGateway(registry *presence.Registry, rooms *presence.Rooms, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		registry: registry,
		rooms:    rooms,
		metrics:  m,
		logger:   logger.With("component", "gateway"),
	}
}

// ToConnection unicasts one event. Reports whether it was queued.
func (g *Gateway) ToConnection(connID, event string, data any) bool {
	payload, ok := g.encode(event, data)
	if !ok {
		return false
	}
	return g.send(connID, event, payload, metrics.ScopeConnection)
}

// ToRoom sends one event to every connection joined to roomID at call time.
// Returns the number of connections it was queued for.
func (g *Gateway) ToRoom(roomID, event string, data any) int {
	payload, ok := g.encode(event, data)
	if !ok {
		return 0
	}
	sent := 0
	for _, connID := range g.rooms.Members(roomID) {
		if g.send(connID, event, payload, metrics.ScopeRoom) {
			sent++
		}
	}
	return sent
}

// ToAll sends one event to every live connection, announced or not.
func (g *Gateway) ToAll(event string, data any) int {
	payload, ok := g.encode(event, data)
	if !ok {
		return 0
	}
	sent := 0
	for _, connID := range g.registry.Connections() {
		if g.send(connID, event, payload, metrics.ScopeAll) {
			sent++
		}
	}
	return sent
}

// ActiveUsers broadcasts the recomputed active-member list of roomID to the room.
func (g *Gateway) ActiveUsers(roomID string) int {
	return g.ToRoom(roomID, types.EventClassActiveUsers, g.rooms.ActiveMembers(roomID))
}

func (g *Gateway) send(connID, event string, payload json.RawMessage, scope string) bool {
	h, ok := g.registry.Handle(connID)
	if !ok {
		g.logger.Debug("delivery target gone", "event", event, "conn", connID, "scope", scope)
		g.metrics.Dropped(scope)
		return false
	}
	if err := h.Send(event, payload); err != nil {
		g.logger.Debug("delivery failed", "event", event, "conn", connID, "scope", scope, "err", err)
		g.metrics.Dropped(scope)
		return false
	}
	g.metrics.Delivered(scope)
	return true
}

// encode marshals once per broadcast instead of once per recipient.
func (g *Gateway) encode(event string, data any) (json.RawMessage, bool) {
	if raw, ok := data.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage("null"), true
		}
		return raw, true
	}
	b, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to encode outbound event", "event", event, "err", err)
		return nil, false
	}
	return b, true
}
