package engine

import (
	"testing"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/provider"
)

func TestMapTextDelta(t *testing.T) {
	state := newTurnState()

	events := mapProviderEvent(provider.ProviderEvent{Type: provider.ProviderEventTextDelta, Delta: "Hello"}, state)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.Type != api.EventMessageDelta {
		t.Errorf("type = %q, want %q", got.Type, api.EventMessageDelta)
	}
	if state.text.String() != "Hello" {
		t.Errorf("accumulated text = %q, want %q", state.text.String(), "Hello")
	}
}

func TestMapTextDelta_EmptyDeltaSwallowed(t *testing.T) {
	state := newTurnState()
	events := mapProviderEvent(provider.ProviderEvent{Type: provider.ProviderEventTextDelta, Delta: ""}, state)
	if events != nil {
		t.Errorf("expected no events for empty delta, got %v", events)
	}
}

func TestMapThinkingAndReasoningDelta(t *testing.T) {
	state := newTurnState()

	events := mapProviderEvent(provider.ProviderEvent{Type: provider.ProviderEventThinkingDelta, Delta: "pondering"}, state)
	if len(events) != 1 || events[0].Type != api.EventThinkingDelta {
		t.Fatalf("unexpected thinking events: %+v", events)
	}
	if state.thinking.String() != "pondering" {
		t.Errorf("thinking = %q", state.thinking.String())
	}

	events = mapProviderEvent(provider.ProviderEvent{Type: provider.ProviderEventReasoningDelta, Delta: "because"}, state)
	if len(events) != 1 || events[0].Type != api.EventReasoningDelta {
		t.Fatalf("unexpected reasoning events: %+v", events)
	}
}

func TestMapCitation(t *testing.T) {
	state := newTurnState()
	c := api.CitationAddedData{URL: "https://example.com", Title: "Example"}
	events := mapProviderEvent(provider.ProviderEvent{Type: provider.ProviderEventCitation, Citation: &c}, state)
	if len(events) != 1 || events[0].Type != api.EventCitationAdded {
		t.Fatalf("unexpected citation events: %+v", events)
	}
	if len(state.citations) != 1 {
		t.Fatalf("expected 1 accumulated citation, got %d", len(state.citations))
	}
}

func TestMapToolCallDelta_AccumulatesByIndex(t *testing.T) {
	state := newTurnState()

	mapProviderEvent(provider.ProviderEvent{
		Type: provider.ProviderEventToolCallDelta, ToolCallIndex: 0, ToolCallID: "call_1", FunctionName: "get_weather", Delta: `{"city":`,
	}, state)
	mapProviderEvent(provider.ProviderEvent{
		Type: provider.ProviderEventToolCallDelta, ToolCallIndex: 0, Delta: `"sf"}`,
	}, state)

	completions := state.toolCallCompletions()
	if len(completions) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(completions))
	}
	if completions[0].ID != "call_1" || completions[0].Name != "get_weather" {
		t.Errorf("unexpected tool call identity: %+v", completions[0])
	}
	if completions[0].ArgumentsJSON != `{"city":"sf"}` {
		t.Errorf("arguments = %q", completions[0].ArgumentsJSON)
	}
}

func TestMapToolCallDone_ReplacesArgumentsWithFinalAssembly(t *testing.T) {
	state := newTurnState()
	mapProviderEvent(provider.ProviderEvent{
		Type: provider.ProviderEventToolCallDelta, ToolCallIndex: 0, ToolCallID: "call_1", FunctionName: "f", Delta: "partial",
	}, state)
	events := mapProviderEvent(provider.ProviderEvent{
		Type: provider.ProviderEventToolCallDone, ToolCallIndex: 0, Delta: `{"complete":true}`,
	}, state)
	if len(events) != 1 || events[0].Type != api.EventToolCallComplete {
		t.Fatalf("unexpected events: %+v", events)
	}
	data := events[0].Data.(api.ToolCallCompleteData)
	if data.ArgumentsJSON != `{"complete":true}` {
		t.Errorf("arguments = %q", data.ArgumentsJSON)
	}
}

func TestMapToolCallOrder_PreservesCallIndexOrder(t *testing.T) {
	state := newTurnState()
	mapProviderEvent(provider.ProviderEvent{Type: provider.ProviderEventToolCallDelta, ToolCallIndex: 1, ToolCallID: "c2", FunctionName: "b"}, state)
	mapProviderEvent(provider.ProviderEvent{Type: provider.ProviderEventToolCallDelta, ToolCallIndex: 0, ToolCallID: "c1", FunctionName: "a"}, state)

	completions := state.toolCallCompletions()
	if len(completions) != 2 || completions[0].ID != "c1" || completions[1].ID != "c2" {
		t.Fatalf("expected ascending call_index order regardless of arrival order, got %+v", completions)
	}
}

func TestMapError(t *testing.T) {
	state := newTurnState()
	events := mapProviderEvent(provider.ProviderEvent{
		Type: provider.ProviderEventError, ErrorKind: api.ErrorKindUpstream, Err: errString("upstream exploded"),
	}, state)
	if len(events) != 1 || events[0].Type != api.EventError {
		t.Fatalf("unexpected events: %+v", events)
	}
	data := events[0].Data.(api.ErrorData)
	if data.Kind != api.ErrorKindUpstream || data.Message != "upstream exploded" {
		t.Errorf("unexpected error data: %+v", data)
	}
}

func TestMapDone_RecordsFinishKindAndUsage(t *testing.T) {
	state := newTurnState()
	usage := &api.UsageData{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}
	events := mapProviderEvent(provider.ProviderEvent{Type: provider.ProviderEventDone, FinishKind: provider.FinishTruncated, Usage: usage}, state)
	if events != nil {
		t.Errorf("done itself should not emit a NormalizedEvent, got %v", events)
	}
	if state.finishKind != provider.FinishTruncated {
		t.Errorf("finishKind = %v", state.finishKind)
	}
	if state.usage != usage {
		t.Errorf("usage not recorded")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
