package session

// EventSink receives session lifecycle events for the registry/room broker to
// relay onward. Implementations must not block the caller for long; the
// registry's implementation hands these off to a NATS-backed bus.
type EventSink interface {
	SessionOnline(sessionID string)
	SessionOffline(sessionID string)
	SessionClosed(sessionID string, reason CloseReason)
	TerminalClosed(sessionID, terminalName string, exitCode int)
}

// NopEventSink discards every event; useful in tests that don't assert on
// event emission.
type NopEventSink struct{}

func (NopEventSink) SessionOnline(string)               {}
func (NopEventSink) SessionOffline(string)               {}
func (NopEventSink) SessionClosed(string, CloseReason)   {}
func (NopEventSink) TerminalClosed(string, string, int) {}
