package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/interfaces"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

// handlerFunc handles one inbound event on the loop goroutine.
type handlerFunc func(connID string, data json.RawMessage)

func (h *Hub) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		types.EventUserIsOnline:      h.handleAnnounce(types.EventUserIsOnline),
		types.EventUserOnline:        h.handleAnnounce(types.EventUserOnline),
		types.EventJoinClass:         h.handleJoinClass,
		types.EventLeaveClassroom:    h.handleLeaveClassroom,
		types.EventGetAllOnlineUsers: h.handleGetAllOnlineUsers,

		types.EventClassStreamingStarted: h.handleStreamingStarted,
		types.EventGetAllLiveClasses:     h.handleGetAllLiveClasses,

		types.EventInitialiseClass:         h.handlePeerRegistration(types.EventInitialiseClass),
		types.EventStudentJoinClass:        h.handlePeerRegistration(types.EventStudentJoinClass),
		types.EventTeacherAddAnotherStream: h.handlePeerRegistration(types.EventTeacherAddAnotherStream),
		types.EventSignal:                  h.handleSignal,
		types.EventInitSend:                h.handleInitSend,

		types.EventSomeoneDrew:      h.handleSomeoneDrew,
		types.EventMessageSent:      h.handleMessageSent,
		types.EventSomeoneIsTyping:  h.handleSomeoneIsTyping,
		types.EventNotTyping:        h.handleNotTyping,
		types.EventCodeEditorTyping: h.handleCodeEditorTyping,

		types.EventNewNotification: h.handleNewNotification,
		types.EventJoinClassChat:   h.handleJoinClassChat,
		types.EventSendNewMessage:  h.handleSendNewMessage,
	}
}

// throttled lists the events the per-connection limiter counts. Announce,
// membership, signaling and notTyping always pass, since dropping one would
// leave stale state behind or break a peer link.
var throttled = map[string]bool{
	types.EventGetAllOnlineUsers: true,
	types.EventGetAllLiveClasses: true,
	types.EventSomeoneDrew:       true,
	types.EventMessageSent:       true,
	types.EventSomeoneIsTyping:   true,
	types.EventCodeEditorTyping:  true,
	types.EventNewNotification:   true,
	types.EventSendNewMessage:    true,
}

type validator interface {
	Validate() error
}

// decode reads and validates a payload. Anything it rejects is dropped before
// it can touch shared state.
func decode[T validator](h *Hub, event, connID string, data json.RawMessage) (T, bool) {
	var v T
	if len(data) == 0 {
		h.logger.Debug("dropping event without payload", "event", event, "conn", connID)
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		h.logger.Debug("dropping malformed payload", "event", event, "conn", connID, "err", err)
		return v, false
	}
	if err := v.Validate(); err != nil {
		h.logger.Debug("dropping invalid payload", "event", event, "conn", connID, "err", err)
		return v, false
	}
	return v, true
}

// Presence

func (h *Hub) handleAnnounce(event string) handlerFunc {
	return func(connID string, data json.RawMessage) {
		p, ok := decode[types.Profile](h, event, connID, data)
		if !ok {
			return
		}
		if !h.registry.Announce(connID, p) {
			return
		}
		// A connection may join rooms before it announces; those rooms learn the
		// new profile now rather than on their next membership change.
		for _, roomID := range h.rooms.RoomsOf(connID) {
			h.gateway.ActiveUsers(roomID)
		}
	}
}

func (h *Hub) handleJoinClass(connID string, data json.RawMessage) {
	p, ok := decode[types.JoinClassPayload](h, types.EventJoinClass, connID, data)
	if !ok {
		return
	}
	h.rooms.Join(p.ClassroomID, connID)
	h.gateway.ActiveUsers(p.ClassroomID)
}

func (h *Hub) handleLeaveClassroom(connID string, data json.RawMessage) {
	ref, ok := decode[types.ClassroomRef](h, types.EventLeaveClassroom, connID, data)
	if !ok {
		return
	}
	if !h.rooms.Leave(ref.ClassroomID, connID) {
		return
	}
	h.releaseTyping(connID, ref.ClassroomID)
	h.gateway.ActiveUsers(ref.ClassroomID)
}

func (h *Hub) handleGetAllOnlineUsers(connID string, data json.RawMessage) {
	ref, ok := decode[types.ClassroomRef](h, types.EventGetAllOnlineUsers, connID, data)
	if !ok {
		return
	}
	h.gateway.ActiveUsers(ref.ClassroomID)
}

// Live classes

func (h *Hub) handleStreamingStarted(connID string, data json.RawMessage) {
	lc, ok := decode[types.LiveClass](h, types.EventClassStreamingStarted, connID, data)
	if !ok {
		return
	}
	h.live.Announce(lc)
	h.gateway.ToAll(types.EventClassHasStarted, types.ClassHasStarted{
		ClassroomName: lc.ClassroomName,
		ClassroomID:   lc.ClassroomID,
		TeacherID:     lc.TeacherID,
	})
	h.rooms.Join(lc.ClassroomID, connID)
	h.gateway.ActiveUsers(lc.ClassroomID)
}

func (h *Hub) handleGetAllLiveClasses(connID string, data json.RawMessage) {
	q, ok := decode[types.LiveClassesQuery](h, types.EventGetAllLiveClasses, connID, data)
	if !ok {
		return
	}
	h.lookup(connID, types.EventGetAllLiveClasses, func(ctx context.Context, dir interfaces.Directory) (func(), error) {
		joined, err := dir.JoinedClasses(ctx, q.UserID)
		if err != nil {
			return nil, fmt.Errorf("joined classes of %s: %w", q.UserID, err)
		}
		return func() {
			h.gateway.ToConnection(connID, types.EventAllLiveClasses, h.live.ForClasses(joined))
		}, nil
	})
}

// Signaling

// handlePeerRegistration serves all three registration events. Only the
// payload's classroomId is read; it scopes the fan-out.
func (h *Hub) handlePeerRegistration(event string) handlerFunc {
	return func(connID string, data json.RawMessage) {
		var ann types.PeerAnnouncement
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ann); err != nil {
				h.logger.Debug("dropping malformed payload", "event", event, "conn", connID, "err", err)
				return
			}
		}
		handle, live := h.registry.Handle(connID)
		if !live {
			return
		}
		h.relay.RegisterPeer(connID, ann.ClassroomID, handle)
		h.metrics.SetPeers(h.relay.Count())

		notified := h.relay.NotifyPeers(connID)
		h.logger.Debug("peer registered", "event", event, "conn", connID, "scope", ann.ClassroomID, "notified", len(notified))
	}
}

func (h *Hub) handleSignal(connID string, data json.RawMessage) {
	p, ok := decode[types.SignalPayload](h, types.EventSignal, connID, data)
	if !ok {
		return
	}
	h.metrics.Signal(h.relay.Relay(connID, p.SocketID, p.Signal))
}

func (h *Hub) handleInitSend(connID string, data json.RawMessage) {
	target, ok := decode[types.TargetRef](h, types.EventInitSend, connID, data)
	if !ok {
		return
	}
	h.metrics.Signal(h.relay.InitSend(connID, target.SocketID))
}

// Room rebroadcasts

func (h *Hub) handleSomeoneDrew(connID string, data json.RawMessage) {
	p, ok := decode[types.DrawingPayload](h, types.EventSomeoneDrew, connID, data)
	if !ok {
		return
	}
	h.gateway.ToRoom(p.ClassroomID, types.EventDrawingData, p.Drawing)
}

func (h *Hub) handleMessageSent(connID string, data json.RawMessage) {
	p, ok := decode[types.RoomMessagePayload](h, types.EventMessageSent, connID, data)
	if !ok {
		return
	}
	h.gateway.ToRoom(p.ClassroomID, types.EventMessageReceived, p.Message)
}

func (h *Hub) handleCodeEditorTyping(connID string, data json.RawMessage) {
	ref, ok := decode[types.ClassroomRef](h, types.EventCodeEditorTyping, connID, data)
	if !ok {
		return
	}
	h.gateway.ToRoom(ref.ClassroomID, types.EventCodeEditorTyping, data)
}

// Typing

func (h *Hub) handleSomeoneIsTyping(connID string, data json.RawMessage) {
	p, ok := decode[types.TypingPayload](h, types.EventSomeoneIsTyping, connID, data)
	if !ok {
		return
	}
	users := h.typing.SetTyping(p.ClassroomID, p.User)

	rooms := h.typists[connID]
	if rooms == nil {
		rooms = make(map[string]string)
		h.typists[connID] = rooms
	}
	rooms[p.ClassroomID] = p.User

	h.gateway.ToRoom(p.ClassroomID, types.EventTypingUsers, users)
}

func (h *Hub) handleNotTyping(connID string, data json.RawMessage) {
	p, ok := decode[types.TypingPayload](h, types.EventNotTyping, connID, data)
	if !ok {
		return
	}
	users, changed := h.typing.ClearTyping(p.ClassroomID, p.User)

	for id, rooms := range h.typists {
		if rooms[p.ClassroomID] == p.User {
			delete(rooms, p.ClassroomID)
			if len(rooms) == 0 {
				delete(h.typists, id)
			}
		}
	}

	if changed {
		h.gateway.ToRoom(p.ClassroomID, types.EventTypingUsers, users)
	}
}

// releaseTyping forgets connID's typing flag in roomID and clears it when no
// other connection still holds it.
func (h *Hub) releaseTyping(connID, roomID string) {
	rooms := h.typists[connID]
	user, ok := rooms[roomID]
	if !ok {
		return
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(h.typists, connID)
	}
	h.clearAbandonedTyping(roomID, user)
}

// clearAbandonedTyping clears user's typing flag in roomID unless another
// connection still in the room raised it.
func (h *Hub) clearAbandonedTyping(roomID, user string) {
	for other, rooms := range h.typists {
		if rooms[roomID] == user && h.rooms.IsMember(roomID, other) {
			return
		}
	}
	if users, changed := h.typing.ClearTyping(roomID, user); changed {
		h.gateway.ToRoom(roomID, types.EventTypingUsers, users)
	}
}

// Notifications and class chat

func (h *Hub) handleNewNotification(connID string, data json.RawMessage) {
	p, ok := decode[types.NotificationPayload](h, types.EventNewNotification, connID, data)
	if !ok {
		return
	}
	h.lookup(connID, types.EventNewNotification, func(ctx context.Context, dir interfaces.Directory) (func(), error) {
		class, err := dir.ClassSummary(ctx, p.ClassID)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", p.ClassID, err)
		}
		content := notificationContent(p.Notification.Type, class)
		return func() {
			for _, recipient := range h.registry.ConnectionsOfUsers(class.Members) {
				if recipient == connID {
					continue
				}
				h.gateway.ToConnection(recipient, types.EventNewNotification, content)
			}
		}, nil
	})
}

// notificationContent renders the text shown to class members. Only
// RESOURCE_CREATED has a template; other types go out empty.
func notificationContent(kind string, class *types.ClassSummary) string {
	if kind == types.NotificationResourceCreated {
		return fmt.Sprintf("%s has added a new file in %s", class.TeacherName, class.Name)
	}
	return ""
}

func (h *Hub) handleJoinClassChat(connID string, data json.RawMessage) {
	ref, ok := decode[types.ClassChatRef](h, types.EventJoinClassChat, connID, data)
	if !ok {
		return
	}
	h.rooms.Join(ref.ClassID, connID)
}

func (h *Hub) handleSendNewMessage(connID string, data json.RawMessage) {
	p, ok := decode[types.SendChatPayload](h, types.EventSendNewMessage, connID, data)
	if !ok {
		return
	}
	h.lookup(connID, types.EventSendNewMessage, func(ctx context.Context, dir interfaces.Directory) (func(), error) {
		msg, err := dir.StoreChatMessage(ctx, p.ClassID, p.Author.ID, p.Message)
		if err != nil {
			return nil, fmt.Errorf("store chat message in %s: %w", p.ClassID, err)
		}
		return func() {
			h.gateway.ToRoom(p.ClassID, types.EventNewMessage, msg)
		}, nil
	})
}
