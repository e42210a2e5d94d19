package engine

import (
	"context"
	"testing"
	"time"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/provider"
	"github.com/relaybridge/relaybridge/pkg/tools"
)

func TestDedupeToolCalls_DuplicateIDRejected(t *testing.T) {
	calls := []api.ToolCallCompleteData{
		{CallIndex: 0, ID: "call_1", Name: "a"},
		{CallIndex: 1, ID: "call_1", Name: "b"},
		{CallIndex: 2, ID: "call_2", Name: "c"},
	}

	var emitted []api.NormalizedEvent
	out := dedupeToolCalls(calls, func(ev api.NormalizedEvent) error {
		emitted = append(emitted, ev)
		return nil
	})

	if len(out) != 2 {
		t.Fatalf("expected duplicate dropped, got %d calls: %+v", len(out), out)
	}
	if out[0].ID != "call_1" || out[1].ID != "call_2" {
		t.Errorf("unexpected surviving calls: %+v", out)
	}

	if len(emitted) != 1 || emitted[0].Type != api.EventError {
		t.Fatalf("expected one error event for the duplicate, got %+v", emitted)
	}
	data := emitted[0].Data.(api.ErrorData)
	if data.Kind != api.ErrorKindProtocolViolation {
		t.Errorf("error kind = %q, want ProtocolViolation", data.Kind)
	}
}

func TestExecuteTools_SequentialPreservesCallOrder(t *testing.T) {
	var order []string
	exec := sequencingExecutor{onExecute: func(call tools.ToolCall) { order = append(order, call.ID) }}

	eng, _ := New(&turnAwareProvider{name: "m", caps: provider.ProviderCapabilities{Streaming: true}}, nil, Config{
		Executors: []tools.ToolExecutor{exec},
	})

	calls := []api.ToolCallCompleteData{
		{ID: "call_1", Name: "t"},
		{ID: "call_2", Name: "t"},
		{ID: "call_3", Name: "t"},
	}
	results := eng.executeTools(context.Background(), calls, false, time.Second, func(api.NormalizedEvent) error { return nil })

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if order[0] != "call_1" || order[1] != "call_2" || order[2] != "call_3" {
		t.Errorf("sequential dispatch out of order: %v", order)
	}
}

func TestExecuteTools_EmitsToolResultPerCall(t *testing.T) {
	exec := &echoExecutor{}
	eng, _ := New(&turnAwareProvider{name: "m", caps: provider.ProviderCapabilities{Streaming: true}}, nil, Config{
		Executors: []tools.ToolExecutor{exec},
	})

	var emitted []api.NormalizedEvent
	calls := []api.ToolCallCompleteData{{ID: "call_1", Name: "t"}, {ID: "call_2", Name: "t"}}
	eng.executeTools(context.Background(), calls, true, time.Second, func(ev api.NormalizedEvent) error {
		emitted = append(emitted, ev)
		return nil
	})

	if len(emitted) != 2 {
		t.Fatalf("expected 2 tool_result events, got %d", len(emitted))
	}
	for _, ev := range emitted {
		if ev.Type != api.EventToolResult {
			t.Errorf("unexpected event type %q", ev.Type)
		}
	}
}

func TestOrchestrate_IterationCapExceededStillRecordsLastAssistantMessage(t *testing.T) {
	toolTurn := func(id string) []provider.ProviderEvent {
		return []provider.ProviderEvent{
			{Type: provider.ProviderEventToolCallDelta, ToolCallIndex: 0, ToolCallID: id, FunctionName: "loop_tool", Delta: `{}`},
			{Type: provider.ProviderEventToolCallDone, ToolCallIndex: 0, Delta: `{}`},
			{Type: provider.ProviderEventDone, FinishKind: provider.FinishToolCalls},
		}
	}

	// More tool-call turns than the configured cap, so the loop always has
	// pending calls when the cap is hit.
	turns := make([][]provider.ProviderEvent, 0, 5)
	for i := 0; i < 5; i++ {
		turns = append(turns, toolTurn("call_n"))
	}

	prov := &turnAwareProvider{name: "m", caps: provider.ProviderCapabilities{Streaming: true, ToolCalling: true}, turns: turns}
	exec := &echoExecutor{}
	eng, _ := New(prov, nil, Config{Executors: []tools.ToolExecutor{exec}, IterationCap: 2})

	req := baseRequest("m")
	req.Tools = []api.ToolDefinition{{Type: "function", Name: "loop_tool"}}
	w := &mockResponseWriter{}
	if err := eng.CreateResponse(context.Background(), req, w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	if w.result.Status != api.FinalStatusIncomplete {
		t.Errorf("status = %q, want incomplete", w.result.Status)
	}
	// Last iteration's assistant message (carrying the pending tool call) is
	// still recorded, but no tool execution happens for it.
	last := w.result.Messages[len(w.result.Messages)-1]
	if last.Role != api.RoleAssistant || len(last.ToolCalls) != 1 {
		t.Fatalf("expected the capped-out turn's assistant message to be recorded, got %+v", last)
	}
}

func TestOrchestrate_TruncatedFinishMarksIncompleteWithoutToolCalls(t *testing.T) {
	turn := []provider.ProviderEvent{
		{Type: provider.ProviderEventTextDelta, Delta: "cut off"},
		{Type: provider.ProviderEventDone, FinishKind: provider.FinishTruncated},
	}
	prov := &turnAwareProvider{name: "m", caps: provider.ProviderCapabilities{Streaming: true}, turns: [][]provider.ProviderEvent{turn}}
	eng, _ := New(prov, nil, Config{})

	w := &mockResponseWriter{}
	if err := eng.CreateResponse(context.Background(), baseRequest("m"), w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if w.result.Status != api.FinalStatusIncomplete {
		t.Errorf("status = %q, want incomplete", w.result.Status)
	}
	if w.result.Message != "cut off" {
		t.Errorf("message = %q", w.result.Message)
	}
}

func TestOrchestrate_TransportErrorIsStreamFatal(t *testing.T) {
	turn := []provider.ProviderEvent{
		{Type: provider.ProviderEventTextDelta, Delta: "partial"},
		{Type: provider.ProviderEventError, ErrorKind: api.ErrorKindTransport, Err: errString("connection reset")},
	}
	prov := &turnAwareProvider{name: "m", caps: provider.ProviderCapabilities{Streaming: true}, turns: [][]provider.ProviderEvent{turn}}
	eng, _ := New(prov, nil, Config{})

	w := &mockResponseWriter{}
	req := baseRequest("m")
	req.Stream = true
	if err := eng.CreateResponse(context.Background(), req, w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	foundError, foundDone := false, false
	for _, ev := range w.events {
		if ev.Type == api.EventError {
			foundError = true
		}
		if ev.Type == api.EventDone {
			foundDone = true
		}
	}
	if !foundError || !foundDone {
		t.Fatalf("expected an error event followed by done, got %+v", w.events)
	}
	last := w.events[len(w.events)-1]
	if last.Type != api.EventDone {
		t.Errorf("done must be the terminal event even after a stream-fatal error, last = %q", last.Type)
	}
}

// sequencingExecutor records the order tool calls are invoked in, for
// testing sequential-vs-concurrent dispatch.
type sequencingExecutor struct {
	onExecute func(tools.ToolCall)
}

func (e sequencingExecutor) Kind() tools.ToolKind        { return tools.ToolKindMCP }
func (e sequencingExecutor) CanExecute(name string) bool { return true }
func (e sequencingExecutor) Execute(_ context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	if e.onExecute != nil {
		e.onExecute(call)
	}
	return &tools.ToolResult{CallID: call.ID, Output: "ok"}, nil
}
