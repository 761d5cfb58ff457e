package types

import (
	"regexp"
	"strings"
)

// FUNCTIONAL DISCOVERY: Identifiers are opaque (document ids, uuids, emails),
// so validation only rejects empty, oversized or whitespace-bearing values
var idRegex = regexp.MustCompile(`^[^\s]{1,128}$`)

// MaxMessageLength bounds a single chat message body.
const MaxMessageLength = 65536

// IsValidID reports whether s is usable as a room, user or connection id.
func IsValidID(s string) bool {
	return idRegex.MatchString(s)
}

func validID(s string, missing error) error {
	if s == "" {
		return missing
	}
	if !IsValidID(s) {
		return ErrInvalidID
	}
	return nil
}

// Validate checks the classroom reference.
func (r ClassroomRef) Validate() error {
	return validID(r.ClassroomID, ErrMissingClassroomID)
}

// Validate checks the connection reference.
func (r TargetRef) Validate() error {
	return validID(r.SocketID, ErrMissingTarget)
}

func (p JoinClassPayload) Validate() error {
	return validID(p.ClassroomID, ErrMissingClassroomID)
}

func (q LiveClassesQuery) Validate() error {
	return validID(q.UserID, ErrMissingUser)
}

func (l LiveClass) Validate() error {
	return validID(l.ClassroomID, ErrMissingClassroomID)
}

func (p SignalPayload) Validate() error {
	return validID(p.SocketID, ErrMissingTarget)
}

func (p DrawingPayload) Validate() error {
	return validID(p.ClassroomID, ErrMissingClassroomID)
}

func (p RoomMessagePayload) Validate() error {
	return validID(p.ClassroomID, ErrMissingClassroomID)
}

// Validate requires both the room and the typing user.
func (p TypingPayload) Validate() error {
	if err := validID(p.ClassroomID, ErrMissingClassroomID); err != nil {
		return err
	}
	if strings.TrimSpace(p.User) == "" {
		return ErrMissingUser
	}
	return nil
}

func (p NotificationPayload) Validate() error {
	return validID(p.ClassID, ErrMissingClassID)
}

func (r ClassChatRef) Validate() error {
	return validID(r.ClassID, ErrMissingClassID)
}

// Validate checks room, author and message body size.
func (p SendChatPayload) Validate() error {
	if err := validID(p.ClassID, ErrMissingClassID); err != nil {
		return err
	}
	if err := validID(p.Author.ID, ErrMissingAuthor); err != nil {
		return err
	}
	if strings.TrimSpace(p.Message) == "" {
		return ErrEmptyMessage
	}
	if len(p.Message) > MaxMessageLength {
		return ErrContentTooLarge
	}
	return nil
}

// Validate requires at least one identifying field.
func (p Profile) Validate() error {
	if p.UserID == "" && p.Email == "" && p.Name == "" {
		return ErrMissingUser
	}
	if p.UserID != "" && !IsValidID(p.UserID) {
		return ErrInvalidID
	}
	return nil
}
