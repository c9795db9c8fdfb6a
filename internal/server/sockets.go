package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsSocket wraps a gorilla/websocket connection with a write mutex, since
// the library forbids concurrent writers on one connection. Every adapter
// below embeds it and layers the session/room package's narrower sink
// interface on top.
type wsSocket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSocket) writeBinary(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *wsSocket) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsSocket) close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}

// viewerSocket implements session.ViewerSink over a websocket connection.
type viewerSocket struct{ wsSocket }

func newViewerSocket(conn *websocket.Conn) *viewerSocket {
	return &viewerSocket{wsSocket{conn: conn}}
}

func (v *viewerSocket) SendBinary(data []byte) error        { return v.writeBinary(data) }
func (v *viewerSocket) SendJSON(val any) error               { return v.writeJSON(val) }
func (v *viewerSocket) Close(code int, reason string) error  { return v.close(code, reason) }

// controlSocket implements session.ControlSink: outbound control lines are
// sent as websocket text frames.
type controlSocket struct{ wsSocket }

func newControlSocket(conn *websocket.Conn) *controlSocket {
	return &controlSocket{wsSocket{conn: conn}}
}

func (c *controlSocket) SendLine(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *controlSocket) Close(code int, reason string) error { return c.close(code, reason) }

// dataSocket implements session.DataSink over the producer data channel.
type dataSocket struct{ wsSocket }

func newDataSocket(conn *websocket.Conn) *dataSocket {
	return &dataSocket{wsSocket{conn: conn}}
}

func (d *dataSocket) SendFrame(data []byte) error { return d.writeBinary(data) }
func (d *dataSocket) Close() error                { return d.close(1000, "") }

// participantSocket implements room.ParticipantSocket.
type participantSocket struct{ wsSocket }

func newParticipantSocket(conn *websocket.Conn) *participantSocket {
	return &participantSocket{wsSocket{conn: conn}}
}

func (p *participantSocket) SendJSON(val any) error         { return p.writeJSON(val) }
func (p *participantSocket) Close(code int, reason string) error { return p.close(code, reason) }
