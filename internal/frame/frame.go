// Package frame implements the wire codecs for the relay's three channel
// kinds: the producer data channel (prefix-byte binary frames), the
// producer control channel (UTF-8 JSON lines), and the viewer channel
// (JSON control messages plus raw bytes). Every decoder here fails closed:
// an empty frame, an unknown prefix, or malformed JSON yields an error that
// the caller logs and drops — it never panics.
package frame

import (
	"encoding/json"
	"fmt"
)

// DataKind is the first byte of a producer-data-channel frame.
type DataKind byte

// Relay->producer data kinds.
const (
	KindInput          DataKind = 0x30
	KindResize         DataKind = 0x31
	KindPause          DataKind = 0x32
	KindResume         DataKind = 0x33
	KindSnapshotReq    DataKind = 0x34
)

// Producer->relay data kinds. Output and Handshake share 0x30/0x31 with the
// opposite direction's Input/Resize — direction, not value, disambiguates
// them.
const (
	KindOutput    DataKind = 0x30
	KindHandshake DataKind = 0x31
	KindExit      DataKind = 0x32
	KindSnapshot  DataKind = 0x33
)

// ErrEmptyFrame is returned for a zero-length frame.
var ErrEmptyFrame = fmt.Errorf("frame: empty frame")

// ErrUnknownKind is returned for an unrecognized prefix byte.
type ErrUnknownKind byte

func (e ErrUnknownKind) Error() string { return fmt.Sprintf("frame: unknown kind 0x%02x", byte(e)) }

// DataFrame is a decoded producer-data-channel frame.
type DataFrame struct {
	Kind    DataKind
	Payload []byte
}

// EncodeData prefixes payload with kind and returns the wire frame. The
// returned slice is newly allocated; payload is not retained.
func EncodeData(kind DataKind, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(kind)
	copy(out[1:], payload)
	return out
}

// DecodeData splits a raw data-channel frame into kind + payload. A prefix
// outside 0x30-0x34 (the kinds of both directions together) yields
// ErrUnknownKind.
func DecodeData(raw []byte) (DataFrame, error) {
	if len(raw) == 0 {
		return DataFrame{}, ErrEmptyFrame
	}
	if k := DataKind(raw[0]); k < KindInput || k > KindSnapshotReq {
		return DataFrame{}, ErrUnknownKind(raw[0])
	}
	return DataFrame{Kind: DataKind(raw[0]), Payload: raw[1:]}, nil
}

// ResizePayload is the JSON body of a 0x31 resize frame.
type ResizePayload struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// SnapshotRequestPayload is the JSON body of a 0x34 relay->producer frame.
type SnapshotRequestPayload struct {
	RequestID string `json:"requestId"`
}

// HandshakePayload is the JSON body of a 0x31 producer->relay data-channel
// handshake, sent once a data channel opens.
type HandshakePayload struct {
	Version string `json:"version"`
	Shell   string `json:"shell"`
	Cols    int    `json:"cols,omitempty"`
	Rows    int    `json:"rows,omitempty"`
}

// ExitPayload is the JSON body of a 0x32 producer->relay exit frame.
type ExitPayload struct {
	Code int `json:"code"`
}

// SnapshotPayload is the JSON body of a 0x33 producer->relay snapshot frame.
type SnapshotPayload struct {
	RequestID string `json:"requestId"`
	Screen    []byte `json:"screen"` // base64 via encoding/json's []byte handling
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
	CursorX   int    `json:"cursorX"`
	CursorY   int    `json:"cursorY"`
}

// EncodeResize builds a 0x31 relay->producer resize frame.
func EncodeResize(cols, rows int) ([]byte, error) {
	return encodeJSONFrame(KindResize, ResizePayload{Cols: cols, Rows: rows})
}

// EncodeSnapshotRequest builds a 0x34 relay->producer snapshot-request frame.
func EncodeSnapshotRequest(requestID string) ([]byte, error) {
	return encodeJSONFrame(KindSnapshotReq, SnapshotRequestPayload{RequestID: requestID})
}

// EncodeInput builds a 0x30 relay->producer input frame.
func EncodeInput(data []byte) []byte {
	return EncodeData(KindInput, data)
}

// EncodePause builds a 0x32 relay->producer pause frame (no payload).
func EncodePause() []byte { return EncodeData(KindPause, nil) }

// EncodeResume builds a 0x33 relay->producer resume frame (no payload).
func EncodeResume() []byte { return EncodeData(KindResume, nil) }

// EncodeOutput builds a 0x30 producer->relay output frame.
func EncodeOutput(data []byte) []byte {
	return EncodeData(KindOutput, data)
}

// EncodeHandshake builds a 0x31 producer->relay handshake frame.
func EncodeHandshake(p HandshakePayload) ([]byte, error) {
	return encodeJSONFrame(KindHandshake, p)
}

// EncodeExit builds a 0x32 producer->relay exit frame.
func EncodeExit(code int) ([]byte, error) {
	return encodeJSONFrame(KindExit, ExitPayload{Code: code})
}

// EncodeSnapshot builds a 0x33 producer->relay snapshot frame.
func EncodeSnapshot(p SnapshotPayload) ([]byte, error) {
	return encodeJSONFrame(KindSnapshot, p)
}

func encodeJSONFrame(kind DataKind, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("frame: encode %v: %w", kind, err)
	}
	return EncodeData(kind, body), nil
}

func decodeJSONPayload(payload []byte, v any) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("frame: decode json: %w", err)
	}
	return nil
}

// DecodeResize decodes a 0x31 relay->producer resize payload.
func DecodeResize(payload []byte) (ResizePayload, error) {
	var p ResizePayload
	err := decodeJSONPayload(payload, &p)
	return p, err
}

// DecodeSnapshotRequest decodes a 0x34 relay->producer snapshot-request payload.
func DecodeSnapshotRequest(payload []byte) (SnapshotRequestPayload, error) {
	var p SnapshotRequestPayload
	err := decodeJSONPayload(payload, &p)
	return p, err
}

// DecodeHandshake decodes a 0x31 producer->relay handshake payload.
func DecodeHandshake(payload []byte) (HandshakePayload, error) {
	var p HandshakePayload
	err := decodeJSONPayload(payload, &p)
	return p, err
}

// DecodeExit decodes a 0x32 producer->relay exit payload.
func DecodeExit(payload []byte) (ExitPayload, error) {
	var p ExitPayload
	err := decodeJSONPayload(payload, &p)
	return p, err
}

// DecodeSnapshot decodes a 0x33 producer->relay snapshot payload.
func DecodeSnapshot(payload []byte) (SnapshotPayload, error) {
	var p SnapshotPayload
	err := decodeJSONPayload(payload, &p)
	return p, err
}
