package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// sseWriter streams JSON events over Server-Sent Events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets the SSE headers and returns a writer, or an error if
// the underlying ResponseWriter cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &sseWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends a named event with a JSON payload.
func (s *sseWriter) WriteEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return s.writeData(event, string(data))
}

// WriteError sends an error event.
func (s *sseWriter) WriteError(code, message string) error {
	return s.WriteEvent("error", map[string]string{"code": code, "message": message})
}

// writeData writes data in SSE format, handling multi-line content.
// Each line of data must be prefixed with "data: ".
func (s *sseWriter) writeData(event, content string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write event name: %w", err)
	}
	for _, line := range strings.Split(content, "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", line); err != nil {
			return fmt.Errorf("write data line: %w", err)
		}
	}
	// Empty line terminates the event
	if _, err := s.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}
	s.flusher.Flush()
	return nil
}
