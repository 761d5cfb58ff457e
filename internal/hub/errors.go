package hub

import "errors"

// Hub lifecycle and queueing errors
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrHubStopped        = errors.New("hub has been stopped and cannot be restarted")
	ErrEventQueueFull    = errors.New("event queue is full")
	ErrNoDirectory       = errors.New("hub requires a directory")
)
