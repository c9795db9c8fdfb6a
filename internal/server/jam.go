package server

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/avshare/termrelay/internal/identity"
)

// handleJam is the room participant endpoint: participant identity comes
// from the ambient session cookie, not a bearer token.
func (s *Server) handleJam(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")

	participant := identity.Participant{}
	if s.cfg.AuthEnabled() {
		p, err := s.partAuth.Authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		participant = p
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("jam: upgrade %s: %v", roomID, err)
		return
	}
	defer conn.Close()

	sock := newParticipantSocket(conn)
	ctx := r.Context()
	if err := s.broker.Connect(ctx, roomID, participant, participant.ID, sock); err != nil {
		closeWithCode(conn, CloseNotFound, err.Error())
		return
	}
	defer s.broker.Disconnect(roomID, participant.ID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := s.broker.HandleMessage(ctx, roomID, participant.ID, data); err != nil {
			log.Printf("jam: %s/%s: %v", roomID, participant.ID, err)
			_ = sock.SendJSON(struct {
				Type string `json:"type"`
				Code string `json:"code"`
			}{Type: "error", Code: err.Error()})
		}
	}
}
