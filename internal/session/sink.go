package session

import "fmt"

// ViewerSink is the minimal socket surface a viewer attachment needs: send
// binary terminal bytes, send a JSON control message, or close with a code
// and reason. internal/server implements this over a gorilla/websocket
// connection; this package never imports gorilla directly so the FSM and
// fan-out logic stay testable without a real socket.
type ViewerSink interface {
	SendBinary(data []byte) error
	SendJSON(v any) error
	Close(code int, reason string) error
}

// DataSink is the producer-data-channel equivalent of ViewerSink.
type DataSink interface {
	SendFrame(data []byte) error
	Close() error
}

// ControlSink is the producer-control-channel equivalent of ViewerSink.
type ControlSink interface {
	SendLine(data []byte) error
	Close(code int, reason string) error
}

// DefaultSubscriberBuffer bounds each live viewer's outbound queue. Overflow
// is a SlowConsumer: the connection is closed with 1011 rather than dropping
// terminal bytes, preserving the producer-order guarantee for every other
// viewer of the same terminal.
const DefaultSubscriberBuffer = 256

// CloseSlowConsumer is the close code used when a viewer's outbound queue
// overflows.
const CloseSlowConsumer = 1011

// ErrQueueFull is returned by writer.enqueue when the bounded queue is full.
var ErrQueueFull = fmt.Errorf("session: viewer outbound queue full")
