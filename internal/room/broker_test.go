package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/avshare/termrelay/internal/events"
	"github.com/avshare/termrelay/internal/identity"
	"github.com/avshare/termrelay/internal/registry"
	"github.com/avshare/termrelay/internal/session"
	"github.com/avshare/termrelay/internal/store"
)

type memStore struct {
	mu           sync.Mutex
	rooms        map[string]*store.Room
	participants map[string][]store.Participant
	pool         map[string][]store.PoolEntry
	left, right  map[string]*store.PanelState
}

func newMemStore() *memStore {
	return &memStore{
		rooms:        make(map[string]*store.Room),
		participants: make(map[string][]store.Participant),
		pool:         make(map[string][]store.PoolEntry),
		left:         make(map[string]*store.PanelState),
		right:        make(map[string]*store.PanelState),
	}
}

func (m *memStore) GetRoom(_ context.Context, id string) (*store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[id], nil
}

func (m *memStore) CreateRoom(_ context.Context, id, ownerSubject, ownerLogin string) (*store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &store.Room{ID: id, OwnerSubject: ownerSubject, OwnerLogin: ownerLogin, CreatedAt: time.Now()}
	m.rooms[id] = r
	m.participants[id] = append(m.participants[id], store.Participant{Subject: ownerSubject, Login: ownerLogin, AddedAt: time.Now()})
	return r, nil
}

func (m *memStore) ArchiveRoom(context.Context, string) error { return nil }

func (m *memStore) IsRoomMember(_ context.Context, roomID, subject string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants[roomID] {
		if p.Subject == subject {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListParticipants(_ context.Context, roomID string) ([]store.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Participant(nil), m.participants[roomID]...), nil
}

func (m *memStore) AddParticipant(_ context.Context, roomID, subject, login string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[roomID] = append(m.participants[roomID], store.Participant{Subject: subject, Login: login, AddedAt: time.Now()})
	return nil
}

func (m *memStore) GetPool(_ context.Context, roomID string) ([]store.PoolEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.PoolEntry(nil), m.pool[roomID]...), nil
}

func (m *memStore) AddToPool(_ context.Context, roomID, sessionID, adderSubject, hostname, workingDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool[roomID] = append(m.pool[roomID], store.PoolEntry{SessionID: sessionID, AdderSubject: adderSubject, Hostname: hostname, WorkingDir: workingDir, AddedAt: time.Now()})
	return nil
}

func (m *memStore) RemoveFromPool(_ context.Context, roomID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.pool[roomID]
	for i, e := range entries {
		if e.SessionID == sessionID {
			m.pool[roomID] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memStore) MarkPoolSessionClosed(context.Context, string, string, bool) error { return nil }
func (m *memStore) MarkPoolSessionOnline(context.Context, string, string) error       { return nil }

func (m *memStore) GetSharedPanelState(_ context.Context, roomID string) (*store.PanelState, *store.PanelState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.left[roomID], m.right[roomID], nil
}

func (m *memStore) SetSharedPanelState(_ context.Context, roomID string, panel store.Panel, sessionID, terminalName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := &store.PanelState{SessionID: sessionID, TerminalName: terminalName}
	if panel == store.PanelLeft {
		m.left[roomID] = ps
	} else {
		m.right[roomID] = ps
	}
	return nil
}

func (m *memStore) ListPendingInvitations(context.Context, string) ([]store.Invitation, error) {
	return nil, nil
}
func (m *memStore) CreateInvitation(context.Context, string, string, string) (*store.Invitation, error) {
	return &store.Invitation{}, nil
}
func (m *memStore) ResolveInvitation(context.Context, string, string) error { return nil }

type fakeParticipantSocket struct {
	mu     sync.Mutex
	json   []any
	closed bool
}

func (f *fakeParticipantSocket) SendJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.json = append(f.json, v)
	return nil
}

func (f *fakeParticipantSocket) Close(int, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeParticipantSocket) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.json...)
}

func newTestBroker(t *testing.T) (*Broker, *memStore, *registry.Registry) {
	t.Helper()
	bus, err := events.NewBus("")
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	reg := registry.New(bus, session.DefaultConfig(), time.Hour, 10)
	t.Cleanup(reg.Shutdown)

	st := newMemStore()
	b, err := NewBroker(st, reg, bus)
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	return b, st, reg
}

func TestConnectSendsJamStateAndBroadcastsJoin(t *testing.T) {
	b, st, _ := newTestBroker(t)
	ctx := context.Background()
	st.CreateRoom(ctx, "room-1", "owner", "Owner")
	st.AddParticipant(ctx, "room-1", "p2", "P2")

	ownerSocket := &fakeParticipantSocket{}
	if err := b.Connect(ctx, "room-1", identity.Participant{ID: "owner", Login: "Owner"}, "owner", ownerSocket); err != nil {
		t.Fatalf("Connect owner: %v", err)
	}

	p2Socket := &fakeParticipantSocket{}
	if err := b.Connect(ctx, "room-1", identity.Participant{ID: "p2", Login: "P2"}, "p2", p2Socket); err != nil {
		t.Fatalf("Connect p2: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	ownerMsgs := ownerSocket.messages()
	foundJoin := false
	for _, m := range ownerMsgs {
		if _, ok := m.(ParticipantUpdate); ok {
			foundJoin = true
		}
	}
	if !foundJoin {
		t.Fatalf("owner did not receive participant_update for p2's join: %v", ownerMsgs)
	}
}

func TestConnectRejectsNonMember(t *testing.T) {
	b, st, _ := newTestBroker(t)
	ctx := context.Background()
	st.CreateRoom(ctx, "room-1", "owner", "Owner")

	err := b.Connect(ctx, "room-1", identity.Participant{ID: "stranger"}, "stranger", &fakeParticipantSocket{})
	if err == nil {
		t.Fatal("expected membership error")
	}
}

func TestPanelSelectAccessControl(t *testing.T) {
	b, st, _ := newTestBroker(t)
	ctx := context.Background()
	st.CreateRoom(ctx, "room-1", "owner", "Owner")
	st.AddParticipant(ctx, "room-1", "p2", "P2")

	_ = b.Connect(ctx, "room-1", identity.Participant{ID: "owner"}, "owner", &fakeParticipantSocket{})
	_ = b.Connect(ctx, "room-1", identity.Participant{ID: "p2"}, "p2", &fakeParticipantSocket{})

	ownerLeft := mustJSON(PanelSelectRequest{Type: TypePanelSelect, Panel: store.PanelLeft, SessionID: "sess-1"})
	if err := b.HandleMessage(ctx, "room-1", "owner", ownerLeft); err != nil {
		t.Fatalf("owner setting left: %v", err)
	}
	p2Left := mustJSON(PanelSelectRequest{Type: TypePanelSelect, Panel: store.PanelLeft, SessionID: "sess-2"})
	if err := b.HandleMessage(ctx, "room-1", "p2", p2Left); err == nil {
		t.Fatal("non-owner should not be able to set left with 2 participants connected")
	}
	p2Right := mustJSON(PanelSelectRequest{Type: TypePanelSelect, Panel: store.PanelRight, SessionID: "sess-2"})
	if err := b.HandleMessage(ctx, "room-1", "p2", p2Right); err != nil {
		t.Fatalf("non-owner setting right: %v", err)
	}
}

func TestAddThenRemoveSessionRestoresPool(t *testing.T) {
	b, st, reg := newTestBroker(t)
	ctx := context.Background()
	st.CreateRoom(ctx, "room-1", "owner", "Owner")
	_ = b.Connect(ctx, "room-1", identity.Participant{ID: "owner"}, "owner", &fakeParticipantSocket{})

	s, _ := reg.GetOrCreate("sess-1")
	_ = s.AttachControl(&noopControl{}, session.Principal{Subject: "owner"})

	before, _ := st.GetPool(ctx, "room-1")

	add := mustJSON(AddSessionRequest{Type: TypeAddSession, SessionID: "sess-1"})
	if err := b.HandleMessage(ctx, "room-1", "owner", add); err != nil {
		t.Fatalf("add_session: %v", err)
	}
	remove := mustJSON(RemoveSessionRequest{Type: TypeRemoveSession, SessionID: "sess-1"})
	if err := b.HandleMessage(ctx, "room-1", "owner", remove); err != nil {
		t.Fatalf("remove_session: %v", err)
	}

	after, _ := st.GetPool(ctx, "room-1")
	if len(after) != len(before) {
		t.Fatalf("pool not restored: before=%v after=%v", before, after)
	}
}

type noopControl struct{}

func (noopControl) SendLine([]byte) error   { return nil }
func (noopControl) Close(int, string) error { return nil }

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
