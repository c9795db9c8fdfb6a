package session

import "sync"

// viewerWriter serializes output delivery to one viewer's socket through a
// bounded FIFO channel, so bytes from the data channel's single reader task
// reach this viewer strictly in arrival order without the sender ever
// blocking on a slow peer.
type viewerWriter struct {
	sink  ViewerSink
	queue chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newViewerWriter(sink ViewerSink) *viewerWriter {
	w := &viewerWriter{
		sink:  sink,
		queue: make(chan []byte, DefaultSubscriberBuffer),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *viewerWriter) run() {
	for {
		select {
		case chunk, ok := <-w.queue:
			if !ok {
				return
			}
			if err := w.sink.SendBinary(chunk); err != nil {
				w.stop()
				return
			}
		case <-w.done:
			return
		}
	}
}

// enqueue attempts a non-blocking send. It returns ErrQueueFull when the
// bounded buffer is saturated — the caller (Session) treats that as a
// SlowConsumer and closes this one viewer with code 1011.
func (w *viewerWriter) enqueue(chunk []byte) error {
	select {
	case w.queue <- chunk:
		return nil
	default:
		return ErrQueueFull
	}
}

// stop terminates the writer goroutine without closing the socket itself
// (the caller owns the socket's lifetime via ViewerSink.Close).
func (w *viewerWriter) stop() {
	w.closeOnce.Do(func() { close(w.done) })
}
