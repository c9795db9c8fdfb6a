package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avshare/termrelay/internal/frame"
)

// Session is one producer's lifespan: a control channel, zero or more
// terminals, and the viewers attached to them. All mutable state is guarded
// by mu; callers must never hold mu across a blocking socket send — snapshot
// the target sockets under the lock, release, then write.
type Session struct {
	ID        string
	CreatedAt time.Time

	cfg    Config
	events EventSink

	mu                sync.Mutex
	state             State
	owner             *Principal
	control           ControlSink
	controlHandshake  *ControlHandshake
	terminals         map[string]*Terminal
	pending           map[string]*PendingSpawn
	pendingByViewer   map[int]string
	reconnectTimer    *time.Timer
	nextViewerID      int
}

func New(id string, cfg Config, events EventSink) *Session {
	if events == nil {
		events = NopEventSink{}
	}
	return &Session{
		ID:              id,
		CreatedAt:       time.Now(),
		cfg:             cfg,
		events:          events,
		state:           StatePending,
		terminals:       make(map[string]*Terminal),
		pending:         make(map[string]*PendingSpawn),
		pendingByViewer: make(map[int]string),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Owner() *Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// AttachControl installs the producer's control socket (invariant 1 and 6).
func (s *Session) AttachControl(socket ControlSink, principal Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosing || s.state == StateClosed {
		return ErrSessionClosed(s.ID)
	}
	if s.control != nil {
		return ErrAlreadyConnected(s.ID)
	}
	if s.owner == nil {
		o := principal
		s.owner = &o
	} else if s.owner.Subject != principal.Subject {
		return ErrNotOwner(principal.Subject)
	}

	s.control = socket
	s.stopReconnectTimerLocked()
	return nil
}

// OnControlHandshake records the producer's self-description and moves
// PENDING -> READY.
func (s *Session) OnControlHandshake(hs ControlHandshake) {
	s.mu.Lock()
	s.controlHandshake = &hs
	wasPending := s.state == StatePending
	if wasPending {
		s.state = StateReady
	}
	s.mu.Unlock()

	if wasPending {
		s.events.SessionOnline(s.ID)
	}
}

// DetachControl handles producer-control loss, graceful or not.
func (s *Session) DetachControl(code int, reason string) {
	graceful := code == 1000 && reason == "client shutdown"

	s.mu.Lock()
	s.control = nil
	if graceful {
		viewers := s.allViewerSinksLocked()
		s.mu.Unlock()
		broadcastDisconnect(viewers, "session_ended")
		s.Close(CloseGraceful)
		return
	}

	deadline := s.cfg.ReconnectWindow
	s.reconnectTimer = time.AfterFunc(deadline, func() { s.onReconnectTimeout() })
	s.mu.Unlock()

	s.events.SessionOffline(s.ID)
}

func (s *Session) onReconnectTimeout() {
	s.mu.Lock()
	if s.control != nil || s.state == StateClosed || s.state == StateClosing {
		s.mu.Unlock()
		return
	}
	viewers := s.allViewerSinksLocked()
	s.mu.Unlock()

	broadcastDisconnect(viewers, "producer_timeout")
	s.Close(CloseTimeout)
}

func (s *Session) stopReconnectTimerLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

// RequestSpawn asks the producer to start a brand new terminal. The returned
// viewerID identifies the caller for subsequent OnInput/OnResize/Disconnect
// calls once the spawn resolves.
func (s *Session) RequestSpawn(viewer ViewerSink, requestedName string, cols, rows int, creator *Principal) (requestID string, viewerID int, err error) {
	s.mu.Lock()
	if s.control == nil {
		s.mu.Unlock()
		return "", 0, ErrNotReady(s.ID, s.state)
	}
	control := s.control
	if cols == 0 {
		cols = s.cfg.DefaultCols
	}
	if rows == 0 {
		rows = s.cfg.DefaultRows
	}
	requestID = uuid.NewString()
	viewerID = s.allocViewerIDLocked()
	ps := &PendingSpawn{
		RequestID: requestID,
		Name:      requestedName,
		Cols:      cols,
		Rows:      rows,
		Viewer:    viewer,
		CreatedAt: time.Now(),
		Creator:   creator,
		viewerID:  viewerID,
	}
	ps.timer = time.AfterFunc(s.cfg.SpawnTimeout, func() { s.onSpawnTimeout(requestID) })
	s.pending[requestID] = ps
	s.pendingByViewer[viewerID] = requestID
	s.mu.Unlock()

	if err := control.SendLine(mustMarshalStartTerminal(requestedName, cols, rows, requestID)); err != nil {
		s.mu.Lock()
		delete(s.pending, requestID)
		delete(s.pendingByViewer, viewerID)
		s.mu.Unlock()
		return "", 0, err
	}
	return requestID, viewerID, nil
}

func mustMarshalStartTerminal(name string, cols, rows int, requestID string) []byte {
	raw, err := frame.EncodeStartTerminal(name, cols, rows, requestID)
	if err != nil {
		return nil
	}
	return raw
}

func (s *Session) onSpawnTimeout(requestID string) {
	s.mu.Lock()
	ps, ok := s.pending[requestID]
	if !ok || ps.done {
		s.mu.Unlock()
		return
	}
	ps.done = true
	delete(s.pending, requestID)
	delete(s.pendingByViewer, ps.viewerID)
	s.mu.Unlock()

	resp, _ := frame.EncodeSetupResponse(false, ps.Name, 0, 0, message(ErrSetupTimeout(ps.Name)))
	_ = ps.Viewer.SendJSON(jsonRaw(resp))
}

// OnTerminalStarted resolves a pending spawn (testable property #12: unknown
// requestId is a silent no-op).
func (s *Session) OnTerminalStarted(name, requestID string, success bool, errMsg string) {
	s.mu.Lock()
	ps, ok := s.pending[requestID]
	if !ok || ps.done {
		s.mu.Unlock()
		return
	}
	ps.done = true
	if ps.timer != nil {
		ps.timer.Stop()
	}
	delete(s.pending, requestID)
	delete(s.pendingByViewer, ps.viewerID)

	if !success {
		s.mu.Unlock()
		resp, _ := frame.EncodeSetupResponse(false, name, 0, 0, message(ErrSpawnFailure(name, errMsg)))
		_ = ps.Viewer.SendJSON(jsonRaw(resp))
		return
	}

	t, exists := s.terminals[name]
	if exists {
		// A data channel for this name attached first; keep its placeholder
		// (and data sink) and give it the requested geometry and creator.
		t.Cols, t.Rows, t.Creator = ps.Cols, ps.Rows, ps.Creator
	} else {
		t = newTerminal(name, ps.Cols, ps.Rows, ps.Creator)
		s.terminals[name] = t
	}
	vs := &ViewerState{ID: ps.viewerID, Role: RoleInteractive, Sink: ps.Viewer}
	vs.writer = newViewerWriter(ps.Viewer)
	t.Interactive[vs.ID] = vs

	if s.state == StateReady {
		s.state = StateActive
	}
	s.mu.Unlock()

	resp, _ := frame.EncodeSetupResponse(true, name, t.Cols, t.Rows, "")
	_ = ps.Viewer.SendJSON(jsonRaw(resp))
}

// AttachData installs the producer's per-terminal data channel, creating a
// placeholder terminal for a straggling data connection that beat its
// control-channel acknowledgement.
func (s *Session) AttachData(name string, socket DataSink) *Terminal {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.terminals[name]
	if !ok {
		t = newTerminal(name, s.cfg.DefaultCols, s.cfg.DefaultRows, nil)
		s.terminals[name] = t
		if s.state == StateReady {
			s.state = StateActive
		}
	}
	t.Data = socket
	return t
}

// OnDataHandshake records the data-channel handshake and replies with the
// terminal's current geometry.
func (s *Session) OnDataHandshake(name string, hs DataHandshake) {
	s.mu.Lock()
	t, ok := s.terminals[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	t.Handshake = &hs
	data := t.Data
	cols, rows := t.Cols, t.Rows
	s.mu.Unlock()

	if data != nil {
		if raw, err := frame.EncodeResize(cols, rows); err == nil {
			_ = data.SendFrame(raw)
		}
	}
}

// JoinExistingTerminal attaches a viewer to an already-running terminal with
// snapshot sync (used for both "mirror" and "new against an existing name").
func (s *Session) JoinExistingTerminal(viewer ViewerSink, name string, role Role) (viewerID int, snapshotID string, err error) {
	s.mu.Lock()
	t, ok := s.terminals[name]
	if !ok {
		s.mu.Unlock()
		return 0, "", ErrTerminalNotFound(name)
	}

	viewerID = s.allocViewerIDLocked()
	snapshotID = uuid.NewString()
	vs := &ViewerState{ID: viewerID, Role: role, Sink: viewer, NeedsSnapshot: true, PendingSnapshotID: snapshotID}
	vs.writer = newViewerWriter(viewer)
	if role == RoleInteractive {
		t.Interactive[viewerID] = vs
	} else {
		t.Mirror[viewerID] = vs
	}
	data := t.Data
	s.mu.Unlock()

	if data != nil {
		if raw, err := frame.EncodeSnapshotRequest(snapshotID); err == nil {
			_ = data.SendFrame(raw)
		}
	}
	return viewerID, snapshotID, nil
}

// TerminalGeometry returns a terminal's current column/row count, for a
// caller that needs to echo it back (e.g. a viewer setup_response) without
// reaching into terminal internals.
func (s *Session) TerminalGeometry(name string) (cols, rows int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.terminals[name]
	if !ok {
		return 0, 0, false
	}
	return t.Cols, t.Rows, true
}

// OnSnapshot delivers the screen state then the buffered output to the one
// viewer this snapshot id belongs to, in that order, then clears its buffer
// (invariants 4 and 5).
func (s *Session) OnSnapshot(name, snapshotID string, screen []byte) {
	s.mu.Lock()
	t, ok := s.terminals[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	vs := t.findBySnapshotID(snapshotID)
	if vs == nil {
		s.mu.Unlock()
		return
	}
	buffered := vs.bufferedOutput
	vs.bufferedOutput = nil
	vs.NeedsSnapshot = false
	vs.PendingSnapshotID = ""
	writer := vs.writer
	s.mu.Unlock()

	_ = writer.enqueue(screen)
	for _, chunk := range buffered {
		if err := writer.enqueue(chunk); err != nil {
			s.closeSlowConsumer(name, vs.ID)
			return
		}
	}
}

// OnOutput fans terminal bytes out to every viewer of the terminal, in
// producer order, buffering for any viewer still awaiting its snapshot.
func (s *Session) OnOutput(name string, data []byte) {
	s.mu.Lock()
	t, ok := s.terminals[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	type target struct {
		vs *ViewerState
	}
	var live []target
	for _, vs := range t.allViewers() {
		if vs.NeedsSnapshot {
			vs.bufferedOutput = append(vs.bufferedOutput, data)
			continue
		}
		live = append(live, target{vs})
	}
	s.mu.Unlock()

	for _, tg := range live {
		if err := tg.vs.writer.enqueue(data); err != nil {
			s.closeSlowConsumer(name, tg.vs.ID)
		}
	}
}

func (s *Session) closeSlowConsumer(name string, viewerID int) {
	s.mu.Lock()
	t, ok := s.terminals[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	vs, inInteractive := t.Interactive[viewerID]
	if !inInteractive {
		vs, ok = t.Mirror[viewerID]
		if !ok {
			s.mu.Unlock()
			return
		}
		delete(t.Mirror, viewerID)
	} else {
		delete(t.Interactive, viewerID)
	}
	vs.writer.stop()
	s.mu.Unlock()

	_ = vs.Sink.Close(CloseSlowConsumer, message(ErrSlowConsumer(viewerID)))
}

// OnInput forwards viewer keystrokes to the producer, dropping silently if
// the viewer is not (or no longer) interactive on this terminal.
func (s *Session) OnInput(name string, viewerID int, data []byte) {
	s.mu.Lock()
	t, ok := s.terminals[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, ok := t.Interactive[viewerID]; !ok {
		s.mu.Unlock()
		return
	}
	dataSink := t.Data
	s.mu.Unlock()

	if dataSink != nil {
		if raw := frame.EncodeInput(data); raw != nil {
			_ = dataSink.SendFrame(raw)
		}
	}
}

// OnResize forwards a geometry change, permitted only for interactive viewers.
func (s *Session) OnResize(name string, viewerID int, cols, rows int) error {
	s.mu.Lock()
	t, ok := s.terminals[name]
	if !ok {
		s.mu.Unlock()
		return ErrTerminalNotFound(name)
	}
	if _, ok := t.Interactive[viewerID]; !ok {
		s.mu.Unlock()
		return ErrInvalidMessage("resize from a non-interactive viewer")
	}
	t.Cols, t.Rows = cols, rows
	dataSink := t.Data
	s.mu.Unlock()

	if dataSink != nil {
		if raw, err := frame.EncodeResize(cols, rows); err == nil {
			_ = dataSink.SendFrame(raw)
		}
	}
	return nil
}

// OnTerminalClosed tears a terminal down: every viewer gets an exit message
// and is closed, the data channel closes, and the terminal is forgotten.
func (s *Session) OnTerminalClosed(name string, exitCode int) {
	s.mu.Lock()
	t, ok := s.terminals[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	viewers := t.allViewers()
	data := t.Data
	delete(s.terminals, name)
	becameReady := s.state == StateActive && len(s.terminals) == 0
	if becameReady {
		s.state = StateReady
	}
	s.mu.Unlock()

	exitMsg, _ := frame.EncodeExitMsg(exitCode)
	for _, vs := range viewers {
		vs.writer.stop()
		_ = vs.Sink.SendJSON(jsonRaw(exitMsg))
		_ = vs.Sink.Close(1000, "Terminal closed")
	}
	if data != nil {
		_ = data.Close()
	}
	s.events.TerminalClosed(s.ID, name, exitCode)
}

// CloseTerminal asks the producer to terminate a terminal's process.
func (s *Session) CloseTerminal(name, signal string) error {
	s.mu.Lock()
	if s.control == nil {
		s.mu.Unlock()
		return ErrNotReady(s.ID, s.state)
	}
	control := s.control
	s.mu.Unlock()

	raw, err := frame.EncodeCloseTerminal(name, signal)
	if err != nil {
		return err
	}
	return control.SendLine(raw)
}

// DisconnectViewer removes a viewer from a terminal (normal viewer-socket
// close, not part of a slow-consumer teardown).
func (s *Session) DisconnectViewer(name string, viewerID int) {
	s.mu.Lock()
	t, ok := s.terminals[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	vs, ok := t.Interactive[viewerID]
	if ok {
		delete(t.Interactive, viewerID)
	} else if vs, ok = t.Mirror[viewerID]; ok {
		delete(t.Mirror, viewerID)
	}
	s.mu.Unlock()

	if vs != nil {
		vs.writer.stop()
	}
}

// CancelPendingSpawn drops a PendingSpawn whose viewer disconnected before
// the producer answered (VIEWER_GONE in the spawn state machine).
func (s *Session) CancelPendingSpawn(viewerID int) {
	s.mu.Lock()
	requestID, ok := s.pendingByViewer[viewerID]
	if !ok {
		s.mu.Unlock()
		return
	}
	ps := s.pending[requestID]
	delete(s.pending, requestID)
	delete(s.pendingByViewer, viewerID)
	s.mu.Unlock()

	if ps != nil && ps.timer != nil {
		ps.timer.Stop()
	}
}

// Close tears the whole session down: every terminal, the control channel,
// and finally the state itself. Idempotent.
func (s *Session) Close(reason CloseReason) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.stopReconnectTimerLocked()
	names := make([]string, 0, len(s.terminals))
	for name := range s.terminals {
		names = append(names, name)
	}
	control := s.control
	s.control = nil
	s.mu.Unlock()

	for _, name := range names {
		s.OnTerminalClosed(name, 0)
	}
	if control != nil {
		_ = control.Close(1000, "session closed")
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.events.SessionClosed(s.ID, reason)
}

func (s *Session) allocViewerIDLocked() int {
	s.nextViewerID++
	return s.nextViewerID
}

func (s *Session) allViewerSinksLocked() []ViewerSink {
	var out []ViewerSink
	for _, t := range s.terminals {
		for _, vs := range t.allViewers() {
			out = append(out, vs.Sink)
		}
	}
	return out
}

func broadcastDisconnect(viewers []ViewerSink, reason string) {
	msg, err := frame.EncodeDisconnectMsg(reason)
	if err != nil {
		return
	}
	for _, v := range viewers {
		_ = v.SendJSON(jsonRaw(msg))
		_ = v.Close(1000, reason)
	}
}

// jsonRaw lets an already-encoded JSON payload pass through ViewerSink.SendJSON
// (implementations marshal the value they're given; a []byte marshals back
// to itself only when wrapped so encoding/json doesn't base64 it as bytes).
type jsonRaw []byte

func (j jsonRaw) MarshalJSON() ([]byte, error) { return j, nil }
