package interfaces

// Handle delivers outbound events to one live transport session.
// ARCHITECTURAL DISCOVERY: The relay and the broadcast gateway only ever see
// this interface, so both are testable with a recording fake
type Handle interface {
	// Send queues one event for delivery. It must not block the caller;
	// a closed or saturated session reports an error instead.
	Send(event string, data any) error
}

// HandleFunc adapts a plain function to the Handle interface.
type HandleFunc func(event string, data any) error

// Send calls f(event, data).
func (f HandleFunc) Send(event string, data any) error {
	return f(event, data)
}
