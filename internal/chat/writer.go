package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// StreamHeader marks a response as a UI message stream.
const StreamHeader = "x-vercel-ai-ui-message-stream"

var errStreamingUnsupported = errors.New("chat: response writer does not support flushing")

// sseWriter writes stream events as server-sent events, flushing after each.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(StreamHeader, "v1")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) WriteEvent(ev StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("chat: encode %s event: %w", ev.Type, err)
	}
	return s.write(payload)
}

// WriteDone sends the end-of-stream sentinel.
func (s *sseWriter) WriteDone() error {
	return s.write([]byte("[DONE]"))
}

func (s *sseWriter) write(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
