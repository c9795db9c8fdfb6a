package server

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/avshare/termrelay/internal/frame"
	"github.com/avshare/termrelay/internal/session"
)

// handleData is the producer data endpoint: one binary frame channel per
// terminal, carrying output/handshake/exit/snapshot one way and
// input/resize/pause/resume/snapshot-request the other.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	terminalName := chi.URLParam(r, "terminalName")

	sess, ok := s.reg.Get(sessionID)
	if !ok {
		http.Error(w, session.ErrNotFound(sessionID).Error(), http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("data: upgrade %s/%s: %v", sessionID, terminalName, err)
		return
	}
	defer conn.Close()

	sock := newDataSocket(conn)
	sess.AttachData(terminalName, sock)

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		s.dispatchDataFrame(sess, terminalName, raw)
	}
}

func (s *Server) dispatchDataFrame(sess *session.Session, terminalName string, raw []byte) {
	df, err := frame.DecodeData(raw)
	if err != nil {
		log.Printf("data: %s/%s: %v", sess.ID, terminalName, err)
		return
	}

	switch df.Kind {
	case frame.KindHandshake:
		hs, err := frame.DecodeHandshake(df.Payload)
		if err != nil {
			log.Printf("data: %s/%s: decode handshake: %v", sess.ID, terminalName, err)
			return
		}
		sess.OnDataHandshake(terminalName, session.DataHandshake{
			Version: hs.Version, Shell: hs.Shell, Cols: hs.Cols, Rows: hs.Rows,
		})
	case frame.KindOutput:
		sess.OnOutput(terminalName, df.Payload)
	case frame.KindExit:
		ex, err := frame.DecodeExit(df.Payload)
		if err != nil {
			log.Printf("data: %s/%s: decode exit: %v", sess.ID, terminalName, err)
			return
		}
		sess.OnTerminalClosed(terminalName, ex.Code)
	case frame.KindSnapshot:
		sn, err := frame.DecodeSnapshot(df.Payload)
		if err != nil {
			log.Printf("data: %s/%s: decode snapshot: %v", sess.ID, terminalName, err)
			return
		}
		sess.OnSnapshot(terminalName, sn.RequestID, sn.Screen)
	default:
		log.Printf("data: %s/%s: unexpected frame kind 0x%02x", sess.ID, terminalName, df.Kind)
	}
}
