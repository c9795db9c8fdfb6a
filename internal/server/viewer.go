package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/avshare/termrelay/internal/frame"
	"github.com/avshare/termrelay/internal/session"
)

// nameBox holds the terminal name a viewer ends up attached to. For a join
// against an already-running terminal this is known immediately; for a
// fresh spawn it resolves later, once the producer answers start_terminal.
type nameBox struct {
	mu sync.Mutex
	v  string
}

func (b *nameBox) get() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}

func (b *nameBox) set(v string) {
	b.mu.Lock()
	b.v = v
	b.mu.Unlock()
}

// setupSpawnSink wraps a viewer's socket during RequestSpawn so the handler
// learns the producer-assigned terminal name from the first setup_response
// that flows back through it, without session exposing spawn internals.
type setupSpawnSink struct {
	session.ViewerSink
	box  *nameBox
	once sync.Once
}

func (s *setupSpawnSink) SendJSON(v any) error {
	s.once.Do(func() {
		if raw, err := json.Marshal(v); err == nil {
			var resp frame.SetupResponse
			if json.Unmarshal(raw, &resp) == nil && resp.Type == frame.ViewerSetupResponse {
				s.box.set(resp.Name)
			}
		}
	})
	return s.ViewerSink.SendJSON(v)
}

// handleViewer is the viewer endpoint: one websocket per browser tab, setup
// frame first, then a mix of raw input bytes and control JSON for the rest
// of the connection's life.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("viewer: upgrade %s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	setupTimeout := time.Duration(s.cfg.Server.ViewerSetupTimeoutMs) * time.Millisecond
	if setupTimeout <= 0 {
		setupTimeout = 10 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(setupTimeout))

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		closeWithCode(conn, CloseSetupTimeout, "no setup frame received")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if msgType != websocket.TextMessage {
		closeWithCode(conn, CloseBadSetup, "first frame must be setup JSON")
		return
	}
	setup, err := frame.DecodeSetup(data)
	if err != nil {
		closeWithCode(conn, CloseBadSetup, err.Error())
		return
	}

	sess, ok := s.reg.Get(sessionID)
	if !ok {
		closeWithCode(conn, CloseNotFound, session.ErrNotFound(sessionID).Error())
		return
	}

	sock := newViewerSocket(conn)
	box, viewerID, open, err := s.dispatchViewerSetup(sess, sock, setup)
	if err != nil {
		closeWithCode(conn, CloseBadSetup, err.Error())
		return
	}
	if !open {
		closeWithCode(conn, 1000, "setup rejected")
		return
	}

	defer func() {
		if name := box.get(); name != "" {
			sess.DisconnectViewer(name, viewerID)
		} else {
			sess.CancelPendingSpawn(viewerID)
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		name := box.get()
		if name == "" {
			continue
		}
		switch msgType {
		case websocket.BinaryMessage:
			sess.OnInput(name, viewerID, data)
		case websocket.TextMessage:
			s.dispatchViewerFrame(sess, name, viewerID, data)
		}
	}
}

// dispatchViewerSetup implements the three setup dispatch rules: joining an
// already-running terminal (mirror, or "new" against an existing name) goes
// through JoinExistingTerminal with a snapshot; "new" against no such
// terminal requests a fresh spawn.
func (s *Server) dispatchViewerSetup(sess *session.Session, sock *viewerSocket, setup frame.Setup) (box *nameBox, viewerID int, open bool, err error) {
	box = &nameBox{}

	switch setup.Action {
	case frame.ActionMirror:
		viewerID, _, joinErr := sess.JoinExistingTerminal(sock, setup.Name, session.RoleMirror)
		if joinErr != nil {
			resp, _ := frame.EncodeSetupResponse(false, setup.Name, 0, 0, "Terminal not found")
			_ = sock.SendJSON(json.RawMessage(resp))
			return box, 0, false, nil
		}
		cols, rows, _ := sess.TerminalGeometry(setup.Name)
		_ = sock.SendJSON(frame.SetupResponse{Type: frame.ViewerSetupResponse, Success: true, Name: setup.Name, Cols: cols, Rows: rows})
		box.set(setup.Name)
		return box, viewerID, true, nil

	case frame.ActionNew:
		viewerID, _, joinErr := sess.JoinExistingTerminal(sock, setup.Name, session.RoleInteractive)
		if joinErr == nil {
			cols, rows, _ := sess.TerminalGeometry(setup.Name)
			_ = sock.SendJSON(frame.SetupResponse{Type: frame.ViewerSetupResponse, Success: true, Name: setup.Name, Cols: cols, Rows: rows})
			box.set(setup.Name)
			return box, viewerID, true, nil
		}
		if !session.IsKind(joinErr, session.KindTerminalNotFound) {
			return box, 0, false, joinErr
		}

		var creator *session.Principal
		if setup.CreatedBy != nil {
			creator = &session.Principal{Subject: setup.CreatedBy.Subject, Username: setup.CreatedBy.Username}
		}
		spawnSink := &setupSpawnSink{ViewerSink: sock, box: box}
		_, spawnViewerID, spawnErr := sess.RequestSpawn(spawnSink, setup.Name, setup.Cols, setup.Rows, creator)
		if spawnErr != nil {
			return box, 0, false, spawnErr
		}
		return box, spawnViewerID, true, nil

	default:
		return box, 0, false, fmt.Errorf("unknown setup action %q", setup.Action)
	}
}

// dispatchViewerFrame handles one steady-state JSON frame from a viewer
// already past setup: input sent control-framed, or a resize request.
func (s *Server) dispatchViewerFrame(sess *session.Session, name string, viewerID int, data []byte) {
	typ, ok := frame.DecodeViewerType(data)
	if !ok {
		sess.OnInput(name, viewerID, data)
		return
	}

	switch typ {
	case frame.ViewerInput:
		in, err := frame.DecodeInput(data)
		if err != nil {
			return
		}
		sess.OnInput(name, viewerID, []byte(in.Data))
	case frame.ViewerResize:
		rs, err := frame.DecodeResizeMsg(data)
		if err != nil {
			return
		}
		_ = sess.OnResize(name, viewerID, rs.Cols, rs.Rows)
	default:
		log.Printf("viewer: %s: unexpected frame type %q", sess.ID, typ)
	}
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
