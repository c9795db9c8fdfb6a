// Package registry is the process-wide session table: it creates and looks
// up sessions by id, remembers a bounded history of recently closed ones,
// and runs a periodic sweep that reclaims sessions past their max age.
package registry

import (
	"sync"
	"time"

	"github.com/avshare/termrelay/internal/events"
	"github.com/avshare/termrelay/internal/session"
)

// ClosedRecord is what the registry remembers about a session after it's
// gone, enough for a late-arriving room broker query to explain why. The
// registry fills ID, Owner, ClosedAt and Reason; Hostname and WorkingDir are
// left empty.
type ClosedRecord struct {
	ID         string
	Owner      *session.Principal
	Hostname   string
	WorkingDir string
	ClosedAt   time.Time
	Reason     session.CloseReason
}

// Registry holds every live session plus a ring of the most recently closed
// ones. Lock ordering: registry before session (callers must not hold a
// session's own lock while calling into the registry).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	closed *Ring[ClosedRecord]

	bus    *events.Bus
	cfg    session.Config
	maxAge time.Duration

	stop chan struct{}
}

func New(bus *events.Bus, cfg session.Config, maxAge time.Duration, closedRingSize int) *Registry {
	r := &Registry{
		sessions: make(map[string]*session.Session),
		closed:   NewRing[ClosedRecord](closedRingSize),
		bus:      bus,
		cfg:      cfg,
		maxAge:   maxAge,
		stop:     make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// GetOrCreate returns the session for id, creating a PENDING one if absent.
func (r *Registry) GetOrCreate(id string) (s *session.Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[id]; ok {
		return existing, false
	}
	s = session.New(id, r.cfg, &sessionEventAdapter{id: id, reg: r})
	r.sessions[id] = s
	return s, true
}

func (r *Registry) Get(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) remove(id string, reason session.CloseReason) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.closed.Add(ClosedRecord{
			ID:       id,
			Owner:    s.Owner(),
			ClosedAt: time.Now(),
			Reason:   reason,
		})
	}
	r.mu.Unlock()
}

// RecentlyClosed returns the ring's contents, oldest first.
func (r *Registry) RecentlyClosed() []ClosedRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed.Items()
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

func (r *Registry) sweep() {
	r.mu.RLock()
	var stale []*session.Session
	for _, s := range r.sessions {
		if s.State() == session.StateClosed || time.Since(s.CreatedAt) > r.maxAge {
			stale = append(stale, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		s.Close(session.CloseTimeout)
	}
}

// Shutdown stops the sweep loop. It does not close any live sessions.
func (r *Registry) Shutdown() {
	close(r.stop)
}

// sessionEventAdapter implements session.EventSink by publishing onto the
// shared event bus and updating the registry's closed-session ring.
type sessionEventAdapter struct {
	id  string
	reg *Registry
}

func (a *sessionEventAdapter) SessionOnline(string) {
	a.reg.bus.Publish(events.Event{Type: events.EventSessionOnline, SessionID: a.id})
}

func (a *sessionEventAdapter) SessionOffline(string) {
	a.reg.bus.Publish(events.Event{Type: events.EventSessionOffline, SessionID: a.id})
}

func (a *sessionEventAdapter) SessionClosed(id string, reason session.CloseReason) {
	a.reg.remove(id, reason)
	a.reg.bus.Publish(events.Event{Type: events.EventSessionClosed, SessionID: id, Reason: string(reason)})
}

func (a *sessionEventAdapter) TerminalClosed(sessionID, terminalName string, exitCode int) {
	a.reg.bus.Publish(events.Event{
		Type: events.EventTerminalClosed, SessionID: sessionID, TerminalName: terminalName, ExitCode: exitCode,
	})
}
