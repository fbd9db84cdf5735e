package relay

import (
	"io"
	"net/http"
	"sync"
)

// FrameWriter emits encoded events to the client
type FrameWriter interface {
	WriteEvent(Event) error
}

// Writer writes SSE frames and flushes after each one
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w. Flushing happens when w implements http.Flusher.
func NewWriter(w io.Writer) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// SetHeaders prepares an HTTP response for an event stream
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteEvent encodes and writes one frame
func (s *Writer) WriteEvent(ev Event) error {
	frame, err := ev.Frame()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
