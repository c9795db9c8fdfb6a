package frame

import (
	"encoding/json"
	"fmt"
)

// ControlMessage is the envelope every control-channel JSON line shares; Type
// selects how the rest of the object is interpreted.
type ControlMessage struct {
	Type string `json:"type"`
}

// Relay->producer control message types.
const (
	ControlStartTerminal = "start_terminal"
	ControlCloseTerminal = "close_terminal"
)

// Producer->relay control message types.
const (
	ControlHandshake     = "control_handshake"
	ControlTerminalStart = "terminal_started"
	ControlTerminalClose = "terminal_closed"
)

// StartTerminal is sent relay->producer to spawn a new terminal.
type StartTerminal struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
	RequestID string `json:"requestId"`
}

// CloseTerminal is sent relay->producer to close an existing terminal.
type CloseTerminal struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Signal string `json:"signal,omitempty"`
}

// ControlHandshakeMsg is sent producer->relay once, on control attach.
type ControlHandshakeMsg struct {
	Type       string `json:"type"`
	Version    string `json:"version"`
	Hostname   string `json:"hostname,omitempty"`
	Username   string `json:"username,omitempty"`
	WorkingDir string `json:"workingDir,omitempty"`
}

// TerminalStarted is sent producer->relay in reply to StartTerminal.
type TerminalStarted struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// TerminalClosedMsg is sent producer->relay when a terminal's process exits.
type TerminalClosedMsg struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	ExitCode int    `json:"exitCode"`
}

// EncodeStartTerminal marshals a start_terminal control line (without trailing newline).
func EncodeStartTerminal(name string, cols, rows int, requestID string) ([]byte, error) {
	return json.Marshal(StartTerminal{Type: ControlStartTerminal, Name: name, Cols: cols, Rows: rows, RequestID: requestID})
}

// EncodeCloseTerminal marshals a close_terminal control line.
func EncodeCloseTerminal(name, signal string) ([]byte, error) {
	return json.Marshal(CloseTerminal{Type: ControlCloseTerminal, Name: name, Signal: signal})
}

// EncodeControlHandshake marshals a control_handshake control line.
func EncodeControlHandshake(m ControlHandshakeMsg) ([]byte, error) {
	m.Type = ControlHandshake
	return json.Marshal(m)
}

// EncodeTerminalStarted marshals a terminal_started control line.
func EncodeTerminalStarted(m TerminalStarted) ([]byte, error) {
	m.Type = ControlTerminalStart
	return json.Marshal(m)
}

// EncodeTerminalClosed marshals a terminal_closed control line.
func EncodeTerminalClosed(name string, exitCode int) ([]byte, error) {
	return json.Marshal(TerminalClosedMsg{Type: ControlTerminalClose, Name: name, ExitCode: exitCode})
}

// DecodeControlType peeks at a control line's "type" field so the caller can
// dispatch to the right concrete decoder.
func DecodeControlType(line []byte) (string, error) {
	if len(line) == 0 {
		return "", ErrEmptyFrame
	}
	var env ControlMessage
	if err := json.Unmarshal(line, &env); err != nil {
		return "", fmt.Errorf("frame: decode control envelope: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("frame: control line missing type")
	}
	return env.Type, nil
}

func DecodeControlHandshake(line []byte) (ControlHandshakeMsg, error) {
	var m ControlHandshakeMsg
	err := json.Unmarshal(line, &m)
	return m, err
}

func DecodeTerminalStarted(line []byte) (TerminalStarted, error) {
	var m TerminalStarted
	err := json.Unmarshal(line, &m)
	return m, err
}

func DecodeTerminalClosed(line []byte) (TerminalClosedMsg, error) {
	var m TerminalClosedMsg
	err := json.Unmarshal(line, &m)
	return m, err
}

func DecodeStartTerminal(line []byte) (StartTerminal, error) {
	var m StartTerminal
	err := json.Unmarshal(line, &m)
	return m, err
}

func DecodeCloseTerminal(line []byte) (CloseTerminal, error) {
	var m CloseTerminal
	err := json.Unmarshal(line, &m)
	return m, err
}
