// Package room implements the collaboration "jam" broker: an in-memory,
// per-room set of authenticated participant sockets that relays JSON state
// deltas derived from session-registry events and from participants'
// panel/pool/terminal actions.
package room

import (
	"encoding/json"
	"fmt"

	"github.com/avshare/termrelay/internal/store"
)

// Server->participant message types.
const (
	TypeJamState            = "jam_state"
	TypeParticipantUpdate   = "participant_update"
	TypeSessionPoolUpdate   = "session_pool_update"
	TypePanelStateUpdate    = "panel_state_update"
	TypeSessionStatusUpdate = "session_status_update"
	TypeTerminalClosedUpdate = "terminal_closed_update"
	TypeError               = "error"
)

// Participant->server message types.
const (
	TypePanelSelect    = "panel_select"
	TypeAddSession     = "add_session"
	TypeRemoveSession  = "remove_session"
	TypeCloseTerminal  = "close_terminal"
)

type ParticipantInfo struct {
	Subject string `json:"subject"`
	Login   string `json:"login"`
}

type SessionInfo struct {
	SessionID  string `json:"sessionId"`
	Hostname   string `json:"hostname,omitempty"`
	WorkingDir string `json:"workingDir,omitempty"`
	Status     string `json:"status"`
}

type PanelSnapshot struct {
	SessionID    string `json:"sessionId,omitempty"`
	TerminalName string `json:"terminalName,omitempty"`
}

// JamState is the initial snapshot sent to a newly connected participant.
type JamState struct {
	Type         string            `json:"type"`
	RoomID       string            `json:"roomId"`
	OwnerSubject string            `json:"ownerSubject"`
	Participants []ParticipantInfo `json:"participants"`
	Pool         []SessionInfo     `json:"pool"`
	Left         *PanelSnapshot    `json:"left,omitempty"`
	Right        *PanelSnapshot    `json:"right,omitempty"`
}

type ParticipantUpdate struct {
	Type    string `json:"type"`
	Action  string `json:"action"` // "joined" | "left"
	Subject string `json:"subject"`
	Login   string `json:"login"`
}

type SessionPoolUpdate struct {
	Type    string      `json:"type"`
	Action  string      `json:"action"` // "added" | "removed"
	Session SessionInfo `json:"session"`
}

type PanelStateUpdate struct {
	Type  string         `json:"type"`
	Panel store.Panel    `json:"panel"`
	State *PanelSnapshot `json:"state"`
}

type SessionStatusUpdate struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status"` // "online" | "offline" | "closed"
	Reason    string `json:"reason,omitempty"`
}

type TerminalClosedUpdate struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	TerminalName string `json:"terminalName"`
	ExitCode     int    `json:"exitCode"`
}

type ErrorMsg struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// Client request envelopes.
type PanelSelectRequest struct {
	Type         string      `json:"type"`
	Panel        store.Panel `json:"panel"`
	SessionID    string      `json:"sessionId"`
	TerminalName string      `json:"terminalName"`
}

type AddSessionRequest struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId"`
	Hostname   string `json:"hostname"`
	WorkingDir string `json:"workingDir"`
}

type RemoveSessionRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type CloseTerminalRequest struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	TerminalName string `json:"terminalName"`
}

func decodeType(raw []byte) (string, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("room: decode message type: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("room: message missing type")
	}
	return env.Type, nil
}
