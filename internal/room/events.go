package room

import "github.com/avshare/termrelay/internal/events"

// onSessionEvent fans a registry event out to every room that either has the
// session in its pool, or has the session's owner currently connected.
func (b *Broker) onSessionEvent(ev events.Event) {
	s, hasSession := b.reg.Get(ev.SessionID)
	var ownerSubject string
	if hasSession {
		if o := s.Owner(); o != nil {
			ownerSubject = o.Subject
		}
	}

	b.mu.Lock()
	rooms := make([]*roomState, 0, len(b.rooms))
	for _, r := range b.rooms {
		rooms = append(rooms, r)
	}
	b.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		_, inPool := r.pool[ev.SessionID]
		_, ownerConnected := r.participants[ownerSubject]
		r.mu.Unlock()
		if !inPool && !(ownerSubject != "" && ownerConnected) {
			continue
		}

		switch ev.Type {
		case events.EventSessionOnline:
			r.broadcast(SessionStatusUpdate{Type: TypeSessionStatusUpdate, SessionID: ev.SessionID, Status: "online"})
		case events.EventSessionOffline:
			r.broadcast(SessionStatusUpdate{Type: TypeSessionStatusUpdate, SessionID: ev.SessionID, Status: "offline"})
		case events.EventSessionClosed:
			status := "closed"
			if ev.Reason != "graceful" {
				status = "offline"
			}
			r.broadcast(SessionStatusUpdate{Type: TypeSessionStatusUpdate, SessionID: ev.SessionID, Status: status, Reason: ev.Reason})
		case events.EventTerminalClosed:
			r.broadcast(TerminalClosedUpdate{
				Type: TypeTerminalClosedUpdate, SessionID: ev.SessionID, TerminalName: ev.TerminalName, ExitCode: ev.ExitCode,
			})
		}
	}
}
