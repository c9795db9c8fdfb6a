package frame

import (
	"encoding/json"
	"fmt"
)

// Viewer->relay setup message kinds.
const (
	ViewerSetup  = "setup"
	ViewerInput  = "input"
	ViewerResize = "resize"
)

// Relay->viewer message kinds.
const (
	ViewerSetupResponse = "setup_response"
	ViewerExit          = "exit"
	ViewerDisconnect    = "disconnect"
)

// SetupAction selects whether a setup request creates/joins a fresh terminal
// or mirrors an existing one read-only.
type SetupAction string

const (
	ActionNew    SetupAction = "new"
	ActionMirror SetupAction = "mirror"
)

// CreatedBy identifies the viewer that caused a terminal spawn, echoing
// identity.Principal's shape over the wire.
type CreatedBy struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
}

// Setup is the first frame a viewer must send.
type Setup struct {
	Type      string      `json:"type"`
	Action    SetupAction `json:"action"`
	Name      string      `json:"name"`
	Cols      int         `json:"cols,omitempty"`
	Rows      int         `json:"rows,omitempty"`
	CreatedBy *CreatedBy  `json:"createdBy,omitempty"`
}

// SetupResponse is the relay's reply to Setup.
type SetupResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Name    string `json:"name"`
	Cols    int    `json:"cols"`
	Rows    int    `json:"rows"`
	Error   string `json:"error,omitempty"`
}

// Input is a viewer->relay control-framed input message (the alternative to
// sending raw input bytes directly).
type Input struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Resize is a viewer->relay resize request.
type Resize struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// Exit is a relay->viewer notification that the terminal's process ended.
type Exit struct {
	Type string `json:"type"`
	Code int    `json:"code"`
}

// Disconnect is a relay->viewer notification that the session is tearing down.
type Disconnect struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// DecodeViewerType peeks at a viewer JSON message's "type" field. Raw,
// non-JSON bytes are the caller's cue to treat the frame as literal input —
// this function only classifies frames that parse as a JSON object.
func DecodeViewerType(data []byte) (string, bool) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		return "", false
	}
	return env.Type, true
}

func DecodeSetup(data []byte) (Setup, error) {
	var s Setup
	if err := json.Unmarshal(data, &s); err != nil {
		return Setup{}, fmt.Errorf("frame: decode setup: %w", err)
	}
	if s.Action != ActionNew && s.Action != ActionMirror {
		return Setup{}, fmt.Errorf("frame: invalid setup action %q", s.Action)
	}
	if s.Name == "" {
		return Setup{}, fmt.Errorf("frame: setup missing name")
	}
	return s, nil
}

func DecodeInput(data []byte) (Input, error) {
	var m Input
	err := json.Unmarshal(data, &m)
	return m, err
}

func DecodeResizeMsg(data []byte) (Resize, error) {
	var m Resize
	err := json.Unmarshal(data, &m)
	return m, err
}

func EncodeSetupResponse(success bool, name string, cols, rows int, errMsg string) ([]byte, error) {
	return json.Marshal(SetupResponse{
		Type: ViewerSetupResponse, Success: success, Name: name, Cols: cols, Rows: rows, Error: errMsg,
	})
}

func EncodeExitMsg(code int) ([]byte, error) {
	return json.Marshal(Exit{Type: ViewerExit, Code: code})
}

func EncodeDisconnectMsg(reason string) ([]byte, error) {
	return json.Marshal(Disconnect{Type: ViewerDisconnect, Reason: reason})
}
