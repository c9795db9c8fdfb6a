package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avshare/termrelay/internal/config"
	"github.com/avshare/termrelay/internal/events"
	"github.com/avshare/termrelay/internal/frame"
	"github.com/avshare/termrelay/internal/identity"
	"github.com/avshare/termrelay/internal/registry"
	"github.com/avshare/termrelay/internal/room"
	"github.com/avshare/termrelay/internal/session"
	"github.com/avshare/termrelay/internal/store"
)

// noopStore is a minimal store.Store with nothing in it; these tests never
// exercise the jam/room endpoint, so every method is unreachable dead weight
// needed only to satisfy room.NewBroker's constructor.
type noopStore struct{}

func (noopStore) GetRoom(context.Context, string) (*store.Room, error)    { return nil, nil }
func (noopStore) CreateRoom(context.Context, string, string, string) (*store.Room, error) {
	return nil, nil
}
func (noopStore) ArchiveRoom(context.Context, string) error { return nil }

func (noopStore) IsRoomMember(context.Context, string, string) (bool, error) { return false, nil }
func (noopStore) ListParticipants(context.Context, string) ([]store.Participant, error) {
	return nil, nil
}
func (noopStore) AddParticipant(context.Context, string, string, string) error { return nil }

func (noopStore) GetPool(context.Context, string) ([]store.PoolEntry, error) { return nil, nil }
func (noopStore) AddToPool(context.Context, string, string, string, string, string) error {
	return nil
}
func (noopStore) RemoveFromPool(context.Context, string, string) error          { return nil }
func (noopStore) MarkPoolSessionClosed(context.Context, string, string, bool) error { return nil }
func (noopStore) MarkPoolSessionOnline(context.Context, string, string) error   { return nil }

func (noopStore) GetSharedPanelState(context.Context, string) (*store.PanelState, *store.PanelState, error) {
	return nil, nil, nil
}
func (noopStore) SetSharedPanelState(context.Context, string, store.Panel, string, string) error {
	return nil
}

func (noopStore) ListPendingInvitations(context.Context, string) ([]store.Invitation, error) {
	return nil, nil
}
func (noopStore) CreateInvitation(context.Context, string, string, string) (*store.Invitation, error) {
	return nil, nil
}
func (noopStore) ResolveInvitation(context.Context, string, string) error { return nil }

// stubTokenVerifier treats any non-empty bearer token as valid, naming the
// principal after the token itself.
type stubTokenVerifier struct{}

func (stubTokenVerifier) VerifyProducerToken(_ context.Context, token, _ string) (identity.Principal, error) {
	if token == "" {
		return identity.Principal{}, identity.ErrNoSession
	}
	return identity.Principal{Subject: token, Username: token}, nil
}

// stubParticipantAuth is unused by the control/data/viewer tests below but
// required to build a Server.
type stubParticipantAuth struct{}

func (stubParticipantAuth) Authenticate(*http.Request) (identity.Participant, error) {
	return identity.Participant{}, identity.ErrNoSession
}

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.Auth = "token"
	bus, err := events.NewBus("")
	if err != nil {
		t.Fatalf("events.NewBus: %v", err)
	}
	reg := registry.New(bus, session.DefaultConfig(), time.Hour, 10)
	broker, err := room.NewBroker(&noopStore{}, reg, bus)
	if err != nil {
		t.Fatalf("room.NewBroker: %v", err)
	}

	srv := New(cfg, bus, reg, broker, stubTokenVerifier{}, stubParticipantAuth{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, reg
}

func dialWS(t *testing.T, ts *httptest.Server, path string, header http.Header) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestControlRequiresBearerToken(t *testing.T) {
	ts, _ := newTestServer(t)

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/control/sess-1"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("expected dial without a bearer token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %#v", resp)
	}
}

func TestViewerSpawnRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)

	control := dialWS(t, ts, "/control/sess-1", http.Header{"Authorization": {"Bearer prod-token"}})

	hs, _ := frame.EncodeControlHandshake(frame.ControlHandshakeMsg{Version: "test/1"})
	if err := control.WriteMessage(websocket.TextMessage, hs); err != nil {
		t.Fatalf("send handshake: %v", err)
	}

	viewer := dialWS(t, ts, "/terminal/sess-1", nil)
	setup, _ := json.Marshal(frame.Setup{Type: frame.ViewerSetup, Action: frame.ActionNew, Name: "main", Cols: 80, Rows: 24})
	if err := viewer.WriteMessage(websocket.TextMessage, setup); err != nil {
		t.Fatalf("send setup: %v", err)
	}

	_, line, err := control.ReadMessage()
	if err != nil {
		t.Fatalf("read start_terminal: %v", err)
	}
	start, err := frame.DecodeStartTerminal(line)
	if err != nil {
		t.Fatalf("decode start_terminal: %v", err)
	}
	if start.Type != frame.ControlStartTerminal || start.Name != "main" {
		t.Fatalf("unexpected start_terminal: %+v", start)
	}

	reply, _ := frame.EncodeTerminalStarted(frame.TerminalStarted{Name: start.Name, RequestID: start.RequestID, Success: true})
	if err := control.WriteMessage(websocket.TextMessage, reply); err != nil {
		t.Fatalf("send terminal_started: %v", err)
	}

	if err := viewer.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, respLine, err := viewer.ReadMessage()
	if err != nil {
		t.Fatalf("read setup_response: %v", err)
	}
	var resp frame.SetupResponse
	if err := json.Unmarshal(respLine, &resp); err != nil {
		t.Fatalf("decode setup_response: %v", err)
	}
	if !resp.Success || resp.Name != "main" {
		t.Fatalf("unexpected setup_response: %+v", resp)
	}
}

func TestViewerMirrorMissingTerminalRejected(t *testing.T) {
	ts, _ := newTestServer(t)

	dialWS(t, ts, "/control/sess-2", http.Header{"Authorization": {"Bearer prod-token"}})

	viewer := dialWS(t, ts, "/terminal/sess-2", nil)
	setup, _ := json.Marshal(frame.Setup{Type: frame.ViewerSetup, Action: frame.ActionMirror, Name: "ghost"})
	if err := viewer.WriteMessage(websocket.TextMessage, setup); err != nil {
		t.Fatalf("send setup: %v", err)
	}

	if err := viewer.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, respLine, err := viewer.ReadMessage()
	if err != nil {
		t.Fatalf("read setup_response: %v", err)
	}
	var resp frame.SetupResponse
	if err := json.Unmarshal(respLine, &resp); err != nil {
		t.Fatalf("decode setup_response: %v", err)
	}
	if resp.Success {
		t.Fatalf("expected mirror-of-missing-terminal to fail, got %+v", resp)
	}

	if _, _, err := viewer.ReadMessage(); err == nil {
		t.Fatal("expected connection to close after setup rejection")
	} else if ce, ok := err.(*websocket.CloseError); ok && ce.Code != websocket.CloseNormalClosure {
		t.Fatalf("expected normal closure, got code %d", ce.Code)
	}
}

func TestViewerUnknownSessionNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	viewer := dialWS(t, ts, "/terminal/does-not-exist", nil)
	setup, _ := json.Marshal(frame.Setup{Type: frame.ViewerSetup, Action: frame.ActionMirror, Name: "main"})
	if err := viewer.WriteMessage(websocket.TextMessage, setup); err != nil {
		t.Fatalf("send setup: %v", err)
	}

	_, _, err := viewer.ReadMessage()
	if err == nil {
		t.Fatal("expected connection to close for an unknown session")
	}
	ce, ok := err.(*websocket.CloseError)
	if !ok || ce.Code != CloseNotFound {
		t.Fatalf("expected close code %d, got %v", CloseNotFound, err)
	}
}
