package session

import (
	"encoding/json"
	"sync"
)

type fakeViewer struct {
	mu       sync.Mutex
	binary   [][]byte
	json     []any
	closed   bool
	closeCode int
	closeReason string
}

func (f *fakeViewer) SendBinary(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.binary = append(f.binary, cp)
	return nil
}

func (f *fakeViewer) SendJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.json = append(f.json, v)
	return nil
}

// Close records the first close only: like a real websocket, the peer sees
// the first close frame and later Close calls on a closed socket change nothing.
func (f *fakeViewer) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
	return nil
}

func (f *fakeViewer) binaryChunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.binary...)
}

func (f *fakeViewer) jsonMessages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.json...)
}

func (f *fakeViewer) isClosed() (bool, int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeCode, f.closeReason
}

type fakeControl struct {
	mu     sync.Mutex
	lines  [][]byte
	closed bool
}

func (f *fakeControl) SendLine(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, append([]byte(nil), data...))
	return nil
}

func (f *fakeControl) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeControl) sentLines() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.lines...)
}

type fakeData struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeData) SendFrame(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeData) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeData) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

type recordingEvents struct {
	mu     sync.Mutex
	online []string
	offline []string
	closed []string
	closedReasons []CloseReason
	terminalClosed []string
}

func (r *recordingEvents) SessionOnline(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = append(r.online, id)
}

func (r *recordingEvents) SessionOffline(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = append(r.offline, id)
}

func (r *recordingEvents) SessionClosed(id string, reason CloseReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, id)
	r.closedReasons = append(r.closedReasons, reason)
}

func (r *recordingEvents) TerminalClosed(sessionID, name string, exitCode int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminalClosed = append(r.terminalClosed, name)
}

func (r *recordingEvents) closedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closed)
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
