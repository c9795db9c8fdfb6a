package server

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/avshare/termrelay/internal/frame"
	"github.com/avshare/termrelay/internal/session"
)

// handleControl is the producer control endpoint: one bidirectional JSON
// line channel per session, for the lifetime of the producer process.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	principal := session.Principal{}
	if s.cfg.AuthEnabled() {
		p, err := s.authenticateProducer(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		principal = p
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("control: upgrade %s: %v", sessionID, err)
		return
	}

	sock := newControlSocket(conn)
	sess, _ := s.reg.GetOrCreate(sessionID)

	if err := sess.AttachControl(sock, principal); err != nil {
		code := CloseNotOwner
		switch {
		case session.IsKind(err, session.KindAlreadyConnected):
			code = CloseAlreadyConnected
		case session.IsKind(err, session.KindSessionClosed):
			code = CloseNotFound
		}
		_ = sock.Close(code, err.Error())
		_ = conn.Close()
		return
	}

	var closeCode = 1000
	var closeReason = ""
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("control: %s: recovered: %v", sessionID, rec)
			sess.Close(session.CloseError)
			_ = conn.Close()
			return
		}
		sess.DetachControl(closeCode, closeReason)
		_ = conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				closeCode, closeReason = ce.Code, ce.Text
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.dispatchControlLine(sess, data)
	}
}

// dispatchControlLine decodes one producer->relay control JSON line and
// routes it to the matching session method.
func (s *Server) dispatchControlLine(sess *session.Session, line []byte) {
	typ, err := frame.DecodeControlType(line)
	if err != nil {
		log.Printf("control: %s: %v", sess.ID, err)
		return
	}

	switch typ {
	case frame.ControlHandshake:
		hs, err := frame.DecodeControlHandshake(line)
		if err != nil {
			log.Printf("control: %s: decode handshake: %v", sess.ID, err)
			return
		}
		sess.OnControlHandshake(session.ControlHandshake{
			Version: hs.Version, Hostname: hs.Hostname, Username: hs.Username, WorkingDir: hs.WorkingDir,
		})
	case frame.ControlTerminalStart:
		ts, err := frame.DecodeTerminalStarted(line)
		if err != nil {
			log.Printf("control: %s: decode terminal_started: %v", sess.ID, err)
			return
		}
		sess.OnTerminalStarted(ts.Name, ts.RequestID, ts.Success, ts.Error)
	case frame.ControlTerminalClose:
		tc, err := frame.DecodeTerminalClosed(line)
		if err != nil {
			log.Printf("control: %s: decode terminal_closed: %v", sess.ID, err)
			return
		}
		sess.OnTerminalClosed(tc.Name, tc.ExitCode)
	default:
		log.Printf("control: %s: unknown message type %q", sess.ID, typ)
	}
}

// authenticateProducer extracts and verifies the bearer token on a producer
// control attach, binding it to this request's own control URL so a token
// minted for one session can't be replayed against another.
func (s *Server) authenticateProducer(r *http.Request) (session.Principal, error) {
	authz := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok || token == "" {
		return session.Principal{}, session.ErrUnauthenticated()
	}
	p, err := s.tokens.VerifyProducerToken(context.Background(), token, resourceURL(r))
	if err != nil {
		return session.Principal{}, err
	}
	return session.Principal{Subject: p.Subject, Username: p.Username}, nil
}

// resourceURL reconstructs the HTTP(S) URL a producer's minted token should
// have been bound to for this request, mirroring how the producer computes
// the same URL before signing (see cmd/refproducer).
func resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}
