package types

import "errors"

// Payload validation errors. A payload that fails validation is dropped
// before it can touch shared state.
var (
	ErrMissingClassroomID = errors.New("classroomId is required")
	ErrMissingClassID     = errors.New("classId is required")
	ErrMissingTarget      = errors.New("target socketId is required")
	ErrMissingUser        = errors.New("user is required")
	ErrMissingAuthor      = errors.New("author _id is required")
	ErrEmptyMessage       = errors.New("message cannot be empty")
	ErrInvalidID          = errors.New("identifier must be 1-128 printable characters")
	ErrContentTooLarge    = errors.New("message exceeds 64KB limit")
)
