package session

import "time"

// Principal is the {subject, username} pair a producer control attach
// resolves to, mirrored here so this package has no dependency on how
// identity is actually verified (see internal/identity).
type Principal struct {
	Subject  string
	Username string
}

// State is a session's lifecycle stage. ACTIVE returns to READY when the
// last terminal closes; CLOSING and CLOSED are terminal.
type State int

const (
	StatePending State = iota
	StateReady
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateReady:
		return "READY"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ControlHandshake is the producer's one-time control-channel introduction.
type ControlHandshake struct {
	Version    string
	Hostname   string
	Username   string
	WorkingDir string
}

// CloseReason classifies why a session was torn down, carried on the single
// sessionClosed event a session ever emits.
type CloseReason string

const (
	CloseGraceful CloseReason = "graceful"
	CloseTimeout  CloseReason = "timeout"
	CloseError    CloseReason = "error"
)

// Role distinguishes what a viewer may do on a terminal. A viewer belongs to
// exactly one of a terminal's Interactive or Mirror sets at a time.
type Role int

const (
	RoleInteractive Role = iota
	RoleMirror
)

// ViewerState tracks one viewer's attachment to one terminal.
type ViewerState struct {
	ID                int
	Role              Role
	Sink              ViewerSink
	writer            *viewerWriter
	NeedsSnapshot     bool
	PendingSnapshotID string
	bufferedOutput    [][]byte
}

// PendingSpawn tracks one in-flight "start a new terminal" request from a
// viewer, correlated by RequestID until the producer's terminal_started
// response (or the viewer's disconnect, or a timeout) resolves it.
type PendingSpawn struct {
	RequestID string
	Name      string
	Cols      int
	Rows      int
	Viewer    ViewerSink
	CreatedAt time.Time
	Creator   *Principal
	viewerID  int
	timer     *time.Timer
	done      bool
}

// Terminal is one pseudo-terminal within a session.
type Terminal struct {
	Name        string
	Data        DataSink
	Cols        int
	Rows        int
	Creator     *Principal
	Interactive map[int]*ViewerState
	Mirror      map[int]*ViewerState
	Handshake   *DataHandshake // data-channel handshake, once received
}

// DataHandshake is the data-channel handshake shape, distinct from the
// control-channel's ControlHandshake.
type DataHandshake struct {
	Version string
	Shell   string
	Cols    int
	Rows    int
}

func newTerminal(name string, cols, rows int, creator *Principal) *Terminal {
	return &Terminal{
		Name:        name,
		Cols:        cols,
		Rows:        rows,
		Creator:     creator,
		Interactive: make(map[int]*ViewerState),
		Mirror:      make(map[int]*ViewerState),
	}
}

func (t *Terminal) viewerSets() [2]map[int]*ViewerState {
	return [2]map[int]*ViewerState{t.Interactive, t.Mirror}
}

func (t *Terminal) allViewers() []*ViewerState {
	out := make([]*ViewerState, 0, len(t.Interactive)+len(t.Mirror))
	for _, vs := range t.Interactive {
		out = append(out, vs)
	}
	for _, vs := range t.Mirror {
		out = append(out, vs)
	}
	return out
}

func (t *Terminal) findBySnapshotID(id string) *ViewerState {
	for _, set := range t.viewerSets() {
		for _, vs := range set {
			if vs.NeedsSnapshot && vs.PendingSnapshotID == id {
				return vs
			}
		}
	}
	return nil
}
