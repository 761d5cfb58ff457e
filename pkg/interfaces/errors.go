package interfaces

import "errors"

// Common lookup errors returned by Directory implementations
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrClassNotFound = errors.New("class not found")
)
