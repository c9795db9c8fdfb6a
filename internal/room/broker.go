package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/avshare/termrelay/internal/events"
	"github.com/avshare/termrelay/internal/identity"
	"github.com/avshare/termrelay/internal/registry"
	"github.com/avshare/termrelay/internal/session"
	"github.com/avshare/termrelay/internal/store"
)

// ParticipantSocket is the minimal socket surface a connected room
// participant needs, mirroring internal/session.ViewerSink's shape so both
// packages can be driven by the same kind of gorilla/websocket adapter.
type ParticipantSocket interface {
	SendJSON(v any) error
	Close(code int, reason string) error
}

const broadcastQueueSize = 128

type participantConn struct {
	subject string
	login   string
	socket  ParticipantSocket
}

// roomState is one room's live, in-memory connection set plus a cached view
// of its pool (to resolve which rooms a session event touches without a
// store round trip on every event). All broadcasts for this room go through
// jobs, a single-consumer channel, so clients observe one consistent order
// (design note: per-room serialized sender).
type roomState struct {
	id    string
	owner string

	mu           sync.Mutex
	participants map[string]*participantConn
	pool         map[string]struct{}

	jobs chan func()
	stop chan struct{}
}

func newRoomState(id, owner string) *roomState {
	r := &roomState{
		id:           id,
		owner:        owner,
		participants: make(map[string]*participantConn),
		pool:         make(map[string]struct{}),
		jobs:         make(chan func(), broadcastQueueSize),
		stop:         make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *roomState) run() {
	for {
		select {
		case job := <-r.jobs:
			job()
		case <-r.stop:
			return
		}
	}
}

func (r *roomState) enqueue(job func()) {
	select {
	case r.jobs <- job:
	default:
		// Room broadcast queue is saturated; drop rather than block the
		// registry/event-bus caller. A participant can always re-request
		// jam_state on reconnect.
	}
}

func (r *roomState) broadcast(v any) {
	r.enqueue(func() {
		r.mu.Lock()
		targets := make([]*participantConn, 0, len(r.participants))
		for _, c := range r.participants {
			targets = append(targets, c)
		}
		r.mu.Unlock()
		for _, c := range targets {
			_ = c.socket.SendJSON(v)
		}
	})
}

// Broker owns every live room's connection set. It subscribes to the shared
// session-event bus and fans session-lifecycle changes out to the rooms that
// care about them.
type Broker struct {
	store store.Store
	reg   *registry.Registry

	mu    sync.Mutex
	rooms map[string]*roomState
}

func NewBroker(st store.Store, reg *registry.Registry, bus *events.Bus) (*Broker, error) {
	b := &Broker{store: st, reg: reg, rooms: make(map[string]*roomState)}
	_, err := bus.Subscribe("termrelay.session.>", b.onSessionEvent)
	if err != nil {
		return nil, fmt.Errorf("room: subscribe to session events: %w", err)
	}
	return b, nil
}

func (b *Broker) roomFor(ctx context.Context, roomID string) (*roomState, error) {
	b.mu.Lock()
	r, ok := b.rooms[roomID]
	b.mu.Unlock()
	if ok {
		return r, nil
	}

	rec, err := b.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("room: room %q not found", roomID)
	}
	pool, err := b.store.GetPool(ctx, roomID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rooms[roomID]; ok {
		return r, nil
	}
	r = newRoomState(roomID, rec.OwnerSubject)
	for _, e := range pool {
		r.pool[e.SessionID] = struct{}{}
	}
	b.rooms[roomID] = r
	return r, nil
}

// Connect admits a participant, verifying membership, and sends the initial
// jam_state snapshot enriched with live session status from the registry.
func (b *Broker) Connect(ctx context.Context, roomID string, p identity.Participant, subject string, socket ParticipantSocket) error {
	isMember, err := b.store.IsRoomMember(ctx, roomID, subject)
	if err != nil {
		return err
	}
	if !isMember {
		return fmt.Errorf("room: %q is not a member of room %q", subject, roomID)
	}

	r, err := b.roomFor(ctx, roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.participants[subject] = &participantConn{subject: subject, login: p.Login, socket: socket}
	r.mu.Unlock()

	snapshot, err := b.snapshot(ctx, r)
	if err != nil {
		return err
	}
	_ = socket.SendJSON(snapshot)

	r.broadcast(ParticipantUpdate{Type: TypeParticipantUpdate, Action: "joined", Subject: subject, Login: p.Login})
	return nil
}

func (b *Broker) snapshot(ctx context.Context, r *roomState) (JamState, error) {
	parts, err := b.store.ListParticipants(ctx, r.id)
	if err != nil {
		return JamState{}, err
	}
	pool, err := b.store.GetPool(ctx, r.id)
	if err != nil {
		return JamState{}, err
	}
	left, right, err := b.store.GetSharedPanelState(ctx, r.id)
	if err != nil {
		return JamState{}, err
	}

	js := JamState{Type: TypeJamState, RoomID: r.id, OwnerSubject: r.owner}
	for _, p := range parts {
		js.Participants = append(js.Participants, ParticipantInfo{Subject: p.Subject, Login: p.Login})
	}
	for _, e := range pool {
		js.Pool = append(js.Pool, SessionInfo{
			SessionID: e.SessionID, Hostname: e.Hostname, WorkingDir: e.WorkingDir, Status: b.liveStatus(e.SessionID),
		})
	}
	if left != nil {
		js.Left = &PanelSnapshot{SessionID: left.SessionID, TerminalName: left.TerminalName}
	}
	if right != nil {
		js.Right = &PanelSnapshot{SessionID: right.SessionID, TerminalName: right.TerminalName}
	}
	return js, nil
}

func (b *Broker) liveStatus(sessionID string) string {
	s, ok := b.reg.Get(sessionID)
	if !ok {
		return "offline"
	}
	if s.State() == session.StateClosed {
		return "closed"
	}
	if s.State() == session.StatePending {
		return "offline"
	}
	return "online"
}

// Disconnect removes a participant and tells the rest of the room.
func (b *Broker) Disconnect(roomID, subject string) {
	b.mu.Lock()
	r, ok := b.rooms[roomID]
	b.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	conn, existed := r.participants[subject]
	delete(r.participants, subject)
	r.mu.Unlock()
	if !existed {
		return
	}
	r.broadcast(ParticipantUpdate{Type: TypeParticipantUpdate, Action: "left", Subject: subject, Login: conn.login})
}

// HandleMessage dispatches one client->server message for an already
// connected participant.
func (b *Broker) HandleMessage(ctx context.Context, roomID, subject string, raw []byte) error {
	typ, err := decodeType(raw)
	if err != nil {
		return err
	}

	b.mu.Lock()
	r, ok := b.rooms[roomID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("room: %q has no live connection state", roomID)
	}

	switch typ {
	case TypePanelSelect:
		return b.handlePanelSelect(ctx, r, subject, raw)
	case TypeAddSession:
		return b.handleAddSession(ctx, r, subject, raw)
	case TypeRemoveSession:
		return b.handleRemoveSession(ctx, r, subject, raw)
	case TypeCloseTerminal:
		return b.handleCloseTerminal(ctx, r, subject, raw)
	default:
		return fmt.Errorf("room: unknown message type %q", typ)
	}
}
