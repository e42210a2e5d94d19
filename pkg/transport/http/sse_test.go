package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relaybridge/relaybridge/pkg/api"
)

func TestWriteResultJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newSSEResponseWriter(rec, nil)

	result := &api.FinalResult{
		RequestID: "req_abc123",
		Status:    api.FinalStatusCompleted,
		Model:     "test-model",
	}

	if err := rw.WriteResult(context.Background(), result); err != nil {
		t.Fatalf("WriteResult error: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var got api.FinalResult
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.RequestID != "req_abc123" {
		t.Errorf("RequestID = %q, want %q", got.RequestID, "req_abc123")
	}
	if got.Status != api.FinalStatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, api.FinalStatusCompleted)
	}
}

func TestWriteEventSSEFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newSSEResponseWriter(rec, nil)

	event := api.NormalizedEvent{
		Type: api.EventMessageDelta,
		Data: api.MessageDeltaData{Text: "Hello"},
	}

	if err := rw.WriteEvent(context.Background(), event); err != nil {
		t.Fatalf("WriteEvent error: %v", err)
	}

	body := rec.Body.String()

	// Check SSE format: event: {type}\ndata: {json}\n\n
	if !strings.Contains(body, "event: message.delta\n") {
		t.Errorf("missing event type line in:\n%s", body)
	}
	if !strings.Contains(body, "event: agui.message.delta\n") {
		t.Errorf("missing mirrored event type line in:\n%s", body)
	}
	if !strings.Contains(body, "data: ") {
		t.Errorf("missing data line in:\n%s", body)
	}

	// Extract and parse the JSON data.
	lines := strings.Split(body, "\n")
	found := false
	for _, line := range lines {
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "Hello") {
			jsonStr := strings.TrimPrefix(line, "data: ")
			var got api.NormalizedEvent
			if err := json.Unmarshal([]byte(jsonStr), &got); err != nil {
				t.Fatalf("failed to parse event JSON: %v", err)
			}
			if got.Type != api.EventMessageDelta {
				t.Errorf("event type = %q, want %q", got.Type, api.EventMessageDelta)
			}
			d, ok := got.Data.(api.MessageDeltaData)
			if !ok {
				t.Fatalf("data = %T, want MessageDeltaData", got.Data)
			}
			if d.Text != "Hello" {
				t.Errorf("text = %q, want %q", d.Text, "Hello")
			}
			found = true
		}
	}
	if !found {
		t.Errorf("no data line carried the expected payload in:\n%s", body)
	}
}

func TestWriteEventSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newSSEResponseWriter(rec, nil)

	event := api.NormalizedEvent{Type: api.EventStreamStart, Data: api.StreamStartData{RequestID: "req_1"}}
	rw.WriteEvent(context.Background(), event)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want %q", cc, "no-cache")
	}
	if conn := rec.Header().Get("Connection"); conn != "keep-alive" {
		t.Errorf("Connection = %q, want %q", conn, "keep-alive")
	}
}

func TestWriteEventTerminalSendsDone(t *testing.T) {
	tests := []struct {
		name      string
		eventType api.EventType
	}{
		{"done", api.EventDone},
		{"error", api.EventError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rw := newSSEResponseWriter(rec, nil)

			var data any = api.DoneData{}
			if tt.eventType == api.EventError {
				data = api.ErrorData{Kind: api.ErrorKindUpstream, Message: "boom"}
			}

			if err := rw.WriteEvent(context.Background(), api.NormalizedEvent{Type: tt.eventType, Data: data}); err != nil {
				t.Fatalf("WriteEvent error: %v", err)
			}

			body := rec.Body.String()
			if !strings.Contains(body, "data: [DONE]\n") {
				t.Errorf("missing [DONE] sentinel in:\n%s", body)
			}
		})
	}
}

func TestWriteEventAfterTerminalReturnsError(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newSSEResponseWriter(rec, nil)

	// Send terminal event.
	rw.WriteEvent(context.Background(), api.NormalizedEvent{Type: api.EventDone, Data: api.DoneData{}})

	// Attempt another write.
	err := rw.WriteEvent(context.Background(), api.NormalizedEvent{
		Type: api.EventMessageDelta,
		Data: api.MessageDeltaData{Text: "should fail"},
	})
	if err == nil {
		t.Error("expected error after terminal event, got nil")
	}
}

func TestWriteResultAfterWriteEventReturnsError(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newSSEResponseWriter(rec, nil)

	// Start streaming.
	rw.WriteEvent(context.Background(), api.NormalizedEvent{Type: api.EventStreamStart, Data: api.StreamStartData{RequestID: "req_1"}})

	// Attempt non-streaming result.
	err := rw.WriteResult(context.Background(), &api.FinalResult{})
	if err == nil {
		t.Error("expected error for WriteResult after WriteEvent, got nil")
	}
}

func TestWriteEventAfterWriteResultReturnsError(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newSSEResponseWriter(rec, nil)

	// Send non-streaming result.
	rw.WriteResult(context.Background(), &api.FinalResult{})

	// Attempt streaming event.
	err := rw.WriteEvent(context.Background(), api.NormalizedEvent{
		Type: api.EventMessageDelta,
		Data: api.MessageDeltaData{Text: "x"},
	})
	if err == nil {
		t.Error("expected error for WriteEvent after WriteResult, got nil")
	}
}

func TestOnStreamStartCallback(t *testing.T) {
	rec := httptest.NewRecorder()
	var capturedID string

	rw := newSSEResponseWriter(rec, func(id string) {
		capturedID = id
	})

	event := api.NormalizedEvent{
		Type: api.EventStreamStart,
		Data: api.StreamStartData{RequestID: "req_test123"},
	}
	rw.WriteEvent(context.Background(), event)

	if capturedID != "req_test123" {
		t.Errorf("captured ID = %q, want %q", capturedID, "req_test123")
	}

	// Second stream.start should not trigger callback again.
	capturedID = ""
	rw.WriteEvent(context.Background(), api.NormalizedEvent{
		Type: api.EventStreamStart,
		Data: api.StreamStartData{RequestID: "req_second"},
	})
	if capturedID != "" {
		t.Error("callback should only be called once")
	}
}
