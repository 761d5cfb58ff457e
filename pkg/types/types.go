package types

import (
	"encoding/json"
	"time"
)

// Envelope is the single frame shape on the wire, in both directions.
// ARCHITECTURAL DISCOVERY: Data stays raw until the hub knows which payload
// type the event name selects, so unknown events never cost a full decode
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Connected is the first frame every connection receives, carrying its own id.
type Connected struct {
	Socket string `json:"socket"`
}

// Profile is the display metadata a client announces about itself.
type Profile struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Presence is one resolved Connection Registry record as clients see it.
type Presence struct {
	Socket string `json:"socket"`
	Profile
}

// LiveClass is a live-class announcement. Teacher and start time are opaque
// client metadata and are echoed back untouched.
type LiveClass struct {
	ClassroomID      string          `json:"classroomId"`
	ClassroomName    string          `json:"classroomName,omitempty"`
	ClassroomTeacher json.RawMessage `json:"classroomTeacher,omitempty"`
	ClassroomImage   string          `json:"classroomImage,omitempty"`
	TeacherID        string          `json:"teacherId,omitempty"`
	StartTime        json.RawMessage `json:"startTime,omitempty"`
}

// ClassHasStarted is the global announcement sent when a teacher goes live.
type ClassHasStarted struct {
	ClassroomName string `json:"classroomName,omitempty"`
	ClassroomID   string `json:"classroomId"`
	TeacherID     string `json:"teacherId,omitempty"`
}

// ClassroomRef names a room. Clients send it either as a bare string or as
// {"classroomId": "..."}; both decode to the same value.
type ClassroomRef struct {
	ClassroomID string `json:"classroomId"`
}

func (r *ClassroomRef) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		r.ClassroomID = id
		return nil
	}
	type plain ClassroomRef
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = ClassroomRef(p)
	return nil
}

// TargetRef names a connection. Accepts a bare string or {"socketId": "..."}.
type TargetRef struct {
	SocketID string `json:"socketId"`
}

func (r *TargetRef) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		r.SocketID = id
		return nil
	}
	type plain TargetRef
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = TargetRef(p)
	return nil
}

// JoinClassPayload is sent with join_class.
type JoinClassPayload struct {
	ClassroomID        string `json:"classroomId"`
	IsClassroomTeacher bool   `json:"isClassroomTeacher"`
}

// LiveClassesQuery is sent with get_all_live_classes.
type LiveClassesQuery struct {
	UserID string `json:"userId"`
}

// PeerAnnouncement is the part of a peer registration payload the relay reads.
// The rest of the payload is ignored.
type PeerAnnouncement struct {
	ClassroomID string `json:"classroomId"`
}

// SignalPayload is an inbound signal addressed to another connection.
type SignalPayload struct {
	SocketID string          `json:"socketId"`
	Signal   json.RawMessage `json:"signal"`
}

// RelayedSignal is what the target of a signal receives. SocketID is the source.
type RelayedSignal struct {
	SocketID string          `json:"socketId"`
	Signal   json.RawMessage `json:"signal"`
}

// DrawingPayload is sent with someone_drew.
type DrawingPayload struct {
	ClassroomID string          `json:"classroomId"`
	Drawing     json.RawMessage `json:"drawing"`
}

// RoomMessagePayload is sent with message_sent.
type RoomMessagePayload struct {
	ClassroomID string          `json:"classroomId"`
	Message     json.RawMessage `json:"message"`
}

// TypingPayload is sent with someoneIsTyping and notTyping.
type TypingPayload struct {
	ClassroomID string `json:"classroomId"`
	User        string `json:"user"`
}

// NotificationPayload is sent with new_notification.
type NotificationPayload struct {
	ClassID      string `json:"classId"`
	Notification struct {
		Type string `json:"type"`
	} `json:"notification"`
}

// ClassChatRef is sent with JOIN_CLASS_CHAT.
type ClassChatRef struct {
	ClassID string `json:"classId"`
}

// SendChatPayload is sent with SEND_NEW_MESSAGE.
type SendChatPayload struct {
	ClassID string `json:"classId"`
	Message string `json:"message"`
	Author  struct {
		ID string `json:"_id"`
	} `json:"author"`
}

// User is a persisted account as the directory stores it.
type User struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar"`
	Contact   string    `json:"contact,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Class is a persisted classroom. Users holds member user ids.
type Class struct {
	ID              string    `json:"_id"`
	Name            string    `json:"name"`
	Subject         string    `json:"subject"`
	Description     string    `json:"description"`
	BackgroundImage string    `json:"backgroundImage,omitempty"`
	Private         bool      `json:"private"`
	CreatedBy       string    `json:"createdBy"`
	Users           []string  `json:"users"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ClassSummary is what notification fan-out needs from the directory.
type ClassSummary struct {
	ID          string
	Name        string
	TeacherName string
	Members     []string
}

// ChatMessage is a stored class chat message with its author populated.
type ChatMessage struct {
	ID        string    `json:"_id"`
	ClassID   string    `json:"classId"`
	Message   string    `json:"message"`
	Author    *User     `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}
