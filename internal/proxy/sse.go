package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/leanb525/aq2api/internal/chatadapter"
)

// SSEWriter writes server-sent events and flushes after every record.
type SSEWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

// NewSSEWriter commits the event-stream headers and flushes them. It fails
// when the response cannot be flushed incrementally.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Disable response buffering in nginx-style reverse proxies.
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("flushing SSE headers: %w", err)
	}
	return &SSEWriter{w: w, rc: rc}, nil
}

// WriteEvent writes the event tag of the next record.
func (s *SSEWriter) WriteEvent(name string) error {
	_, err := fmt.Fprintf(s.w, "event: %s\n", name)
	return err
}

// WriteData writes v as a JSON data line and ends the record.
func (s *SSEWriter) WriteData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling event data: %w", err)
	}
	return s.WriteRaw(string(data))
}

// WriteRaw writes data verbatim as the data line and ends the record.
func (s *SSEWriter) WriteRaw(data string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.rc.Flush()
}

// Write writes one rendered event.
func (s *SSEWriter) Write(ev chatadapter.Event) error {
	if ev.Name != "" {
		if err := s.WriteEvent(ev.Name); err != nil {
			return err
		}
	}
	if ev.Raw != "" {
		return s.WriteRaw(ev.Raw)
	}
	return s.WriteData(ev.Data)
}

// WriteAll writes events in order and stops at the first failure.
func (s *SSEWriter) WriteAll(events []chatadapter.Event) error {
	for _, ev := range events {
		if err := s.Write(ev); err != nil {
			return err
		}
	}
	return nil
}
