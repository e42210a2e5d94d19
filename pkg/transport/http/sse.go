package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/transport"
)

// writerState tracks the state of an SSE ResponseWriter.
type writerState int

const (
	writerIdle      writerState = iota // Initial state, no writes yet
	writerStreaming                    // WriteEvent has been called at least once
	writerCompleted                    // Terminal event sent or WriteResult called
)

// terminalEvents are the event types that end a streaming response.
var terminalEvents = map[api.EventType]bool{
	api.EventDone:  true,
	api.EventError: true,
}

// aguiPrefix namespaces the fan-out mirror frame required alongside every
// raw-tagged SSE frame, so a generic AG-UI-aware client and a raw-tag
// client can both follow the same stream without the sink knowing which
// one is listening.
const aguiPrefix = "agui."

// sseResponseWriter implements transport.ResponseWriter for HTTP/SSE responses.
// It handles both streaming (SSE) and non-streaming (JSON) output.
type sseResponseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState

	// onStreamStart is called when the first stream.start event is written,
	// providing the request ID for in-flight registry registration.
	onStreamStart func(id string)
}

var _ transport.ResponseWriter = (*sseResponseWriter)(nil)

// newSSEResponseWriter creates a new ResponseWriter wrapping an http.ResponseWriter.
// The onStart callback is called with the request ID when the first
// stream.start event is written (may be nil if not needed).
func newSSEResponseWriter(w http.ResponseWriter, onStart func(id string)) *sseResponseWriter {
	return &sseResponseWriter{
		w:             w,
		rc:            http.NewResponseController(w),
		onStreamStart: onStart,
	}
}

// WriteEvent sends a single normalized event as a pair of SSE frames: the
// raw tag, then the "agui."-namespaced mirror, both carrying the identical
// JSON payload. After a terminal event (done or error), it also sends
// "data: [DONE]\n\n".
//
//	event: {type}\n
//	data: {json}\n
//	\n
//	event: agui.{type}\n
//	data: {json}\n
//	\n
func (s *sseResponseWriter) WriteEvent(ctx context.Context, event api.NormalizedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errors.New("cannot write event: writer is completed")
	}

	// First event: set SSE headers.
	if s.state == writerIdle {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.state = writerStreaming
	}

	// Intercept stream.start to extract the request ID.
	if event.Type == api.EventStreamStart && s.onStreamStart != nil {
		if d, ok := event.Data.(api.StreamStartData); ok {
			s.onStreamStart(d.RequestID)
		}
		s.onStreamStart = nil // Only call once.
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s%s\ndata: %s\n\n", aguiPrefix, event.Type, data); err != nil {
		return fmt.Errorf("failed to write mirrored event: %w", err)
	}

	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	if terminalEvents[event.Type] {
		if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
			return fmt.Errorf("failed to write [DONE]: %w", err)
		}
		if err := s.rc.Flush(); err != nil {
			return fmt.Errorf("failed to flush [DONE]: %w", err)
		}
		s.state = writerCompleted
	}

	return nil
}

// WriteResult sends a complete non-streaming JSON result.
// This is mutually exclusive with WriteEvent.
func (s *sseResponseWriter) WriteResult(ctx context.Context, result *api.FinalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerStreaming {
		return errors.New("cannot write result: streaming has already started")
	}
	if s.state == writerCompleted {
		return errors.New("cannot write result: writer is completed")
	}

	s.w.Header().Set("Content-Type", "application/json")
	s.state = writerCompleted

	if err := json.NewEncoder(s.w).Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	return nil
}

// Flush ensures buffered data is sent to the client.
func (s *sseResponseWriter) Flush() error {
	return s.rc.Flush()
}

// hasStartedStreaming returns true if at least one SSE event has been written.
func (s *sseResponseWriter) hasStartedStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == writerStreaming || (s.state == writerCompleted && s.w.Header().Get("Content-Type") == "text/event-stream")
}
