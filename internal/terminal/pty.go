// Package terminal wraps a spawned shell's pseudo-terminal for the reference
// producer: starting it, feeding it input, resizing it, and keeping a
// bounded tail of its output so a freshly attached viewer can be handed a
// snapshot instead of a blank screen.
package terminal

import (
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// PTY owns one spawned command's pseudo-terminal.
type PTY struct {
	cmd *exec.Cmd
	pty *os.File

	mu     sync.Mutex
	closed bool
}

// Start spawns cmd attached to a new pseudo-terminal sized cols x rows.
func Start(cmd *exec.Cmd, cols, rows int) (*PTY, error) {
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, err
	}
	return &PTY{cmd: cmd, pty: ptmx}, nil
}

// Read reads raw output from the PTY.
func (p *PTY) Read(buf []byte) (int, error) {
	return p.pty.Read(buf)
}

// Write writes input to the PTY.
func (p *PTY) Write(data []byte) (int, error) {
	return p.pty.Write(data)
}

// Resize changes the PTY's window size.
func (p *PTY) Resize(cols, rows int) error {
	return pty.Setsize(p.pty, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Close terminates the process group and closes the PTY file.
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if p.cmd.Process != nil {
		syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM)
	}
	return p.pty.Close()
}

// Wait blocks until the underlying process exits and returns its exit code.
func (p *PTY) Wait() int {
	err := p.cmd.Wait()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// ScrollbackBuffer keeps the last N bytes of output written to it, so a
// terminal can answer a snapshot request without re-reading PTY history it
// no longer has.
type ScrollbackBuffer struct {
	mu  sync.Mutex
	cap int
	buf []byte
}

// NewScrollbackBuffer returns a buffer that retains at most capBytes of the
// most recently written output.
func NewScrollbackBuffer(capBytes int) *ScrollbackBuffer {
	return &ScrollbackBuffer{cap: capBytes}
}

// Write appends data, trimming from the front if the buffer exceeds its cap.
func (s *ScrollbackBuffer) Write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, data...)
	if over := len(s.buf) - s.cap; over > 0 {
		s.buf = s.buf[over:]
	}
}

// Snapshot returns a copy of the currently retained tail.
func (s *ScrollbackBuffer) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}
