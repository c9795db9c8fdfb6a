package session

import "fmt"

// Error is a typed session-layer error. Callers (internal/server) map these
// to websocket close codes and HTTP statuses.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("session: %s: %s", e.Kind, e.Message) }

func newError(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error kinds, one per failure mode a caller must distinguish.
const (
	KindNotFound         = "SessionNotFound"
	KindNotReady         = "SessionNotReady"
	KindAlreadyConnected = "SessionAlreadyConnected"
	KindNotOwner         = "NotOwner"
	KindUnauthenticated  = "Unauthenticated"
	KindSetupTimeout     = "SetupTimeout"
	KindInvalidMessage   = "InvalidMessage"
	KindSpawnFailure     = "SpawnFailure"
	KindSlowConsumer     = "SlowConsumer"
	KindTerminalNotFound = "TerminalNotFound"
	KindSessionClosed    = "SessionClosed"
)

func ErrNotFound(id string) error {
	return newError(KindNotFound, "session %q not found", id)
}

func ErrNotReady(id string, state State) error {
	return newError(KindNotReady, "session %q is %s, not READY", id, state)
}

func ErrAlreadyConnected(id string) error {
	return newError(KindAlreadyConnected, "session %q already has a connected producer", id)
}

func ErrNotOwner(subject string) error {
	return newError(KindNotOwner, "subject %q is not the session owner", subject)
}

func ErrUnauthenticated() error {
	return newError(KindUnauthenticated, "no authenticated principal")
}

func ErrSetupTimeout(name string) error {
	return newError(KindSetupTimeout, "no terminal_started response for %q before deadline", name)
}

func ErrInvalidMessage(reason string) error {
	return newError(KindInvalidMessage, reason)
}

func ErrSpawnFailure(name, reason string) error {
	return newError(KindSpawnFailure, "producer refused to start %q: %s", name, reason)
}

func ErrSlowConsumer(viewerID int) error {
	return newError(KindSlowConsumer, "viewer %d's outbound queue overflowed", viewerID)
}

func ErrTerminalNotFound(name string) error {
	return newError(KindTerminalNotFound, "terminal %q not found", name)
}

func ErrSessionClosed(id string) error {
	return newError(KindSessionClosed, "session %q is closed", id)
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind string) bool {
	se, ok := err.(*Error)
	return ok && se.Kind == kind
}

// message extracts a *Error's bare Message, for callers (e.g. setup_response
// payloads) that want the reason without the "session: Kind: " prefix
// Error() adds.
func message(err error) string {
	if se, ok := err.(*Error); ok {
		return se.Message
	}
	return err.Error()
}
