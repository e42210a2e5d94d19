package engine

import (
	"sort"
	"strings"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/provider"
)

// turnState accumulates a single assistant turn as ProviderEvents arrive,
// so the engine can both stream NormalizedEvents live and hand a complete
// ConversationMessage / FinalResult to the orchestrator once the turn ends.
type turnState struct {
	text      strings.Builder
	thinking  strings.Builder
	reasoning strings.Builder

	citations []api.CitationAddedData

	// toolCalls tracks per-call argument assembly keyed by call_index, the
	// durable key available before a call's id is known mid-stream.
	toolCalls map[int]*toolCallAccum

	finishKind provider.FinishKind
	usage      *api.UsageData
}

// toolCallAccum tracks the running assembly of a single tool call's
// arguments, keyed by call_index, across ProviderEventToolCallDelta events.
type toolCallAccum struct {
	id   string
	name string
	args strings.Builder
}

func newTurnState() *turnState {
	return &turnState{toolCalls: make(map[int]*toolCallAccum)}
}

// toolCallCompletions renders the accumulated tool calls as
// ToolCallCompleteData, sorted by call_index ascending, for history/result
// assembly and for the live tool_call.complete stream.
func (s *turnState) toolCallCompletions() []api.ToolCallCompleteData {
	indices := make([]int, 0, len(s.toolCalls))
	for idx := range s.toolCalls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var out []api.ToolCallCompleteData
	for _, idx := range indices {
		acc := s.toolCalls[idx]
		out = append(out, api.ToolCallCompleteData{
			CallIndex:     idx,
			ID:            acc.id,
			Name:          acc.name,
			ArgumentsJSON: acc.args.String(),
		})
	}
	return out
}

// mapTextDelta converts a ProviderEventTextDelta into a message.delta event.
// An empty delta signals a role-only first chunk and is swallowed.
func mapTextDelta(ev provider.ProviderEvent, state *turnState) []api.NormalizedEvent {
	if ev.Delta == "" {
		return nil
	}
	state.text.WriteString(ev.Delta)
	return []api.NormalizedEvent{
		{Type: api.EventMessageDelta, Data: api.MessageDeltaData{Text: ev.Delta}},
	}
}

// mapThinkingDelta converts a ProviderEventThinkingDelta into a
// thinking.delta event.
func mapThinkingDelta(ev provider.ProviderEvent, state *turnState) []api.NormalizedEvent {
	if ev.Delta == "" {
		return nil
	}
	state.thinking.WriteString(ev.Delta)
	return []api.NormalizedEvent{
		{Type: api.EventThinkingDelta, Data: api.ThinkingDeltaData{Text: ev.Delta}},
	}
}

// mapReasoningDelta converts a ProviderEventReasoningDelta into a
// reasoning.delta event.
func mapReasoningDelta(ev provider.ProviderEvent, state *turnState) []api.NormalizedEvent {
	if ev.Delta == "" {
		return nil
	}
	state.reasoning.WriteString(ev.Delta)
	return []api.NormalizedEvent{
		{Type: api.EventReasoningDelta, Data: api.ReasoningDeltaData{Text: ev.Delta}},
	}
}

// mapCitation converts a ProviderEventCitation into a citation.added event.
func mapCitation(ev provider.ProviderEvent, state *turnState) []api.NormalizedEvent {
	if ev.Citation == nil {
		return nil
	}
	c := *ev.Citation
	state.citations = append(state.citations, c)
	return []api.NormalizedEvent{
		{Type: api.EventCitationAdded, Data: c},
	}
}

// mapToolCallDelta converts a ProviderEventToolCallDelta into a
// tool_call.delta event, tracking per-call_index argument assembly.
func mapToolCallDelta(ev provider.ProviderEvent, state *turnState) []api.NormalizedEvent {
	acc, exists := state.toolCalls[ev.ToolCallIndex]
	if !exists {
		acc = &toolCallAccum{id: ev.ToolCallID, name: ev.FunctionName}
		state.toolCalls[ev.ToolCallIndex] = acc
	} else {
		if ev.ToolCallID != "" {
			acc.id = ev.ToolCallID
		}
		if ev.FunctionName != "" {
			acc.name = ev.FunctionName
		}
	}

	if ev.Delta != "" {
		acc.args.WriteString(ev.Delta)
	}

	return []api.NormalizedEvent{
		{Type: api.EventToolCallDelta, Data: api.ToolCallDeltaData{
			CallIndex:      ev.ToolCallIndex,
			ID:             acc.id,
			Name:           acc.name,
			ArgumentsDelta: ev.Delta,
		}},
	}
}

// mapToolCallDone converts a ProviderEventToolCallDone into a
// tool_call.complete event. The provider adapter's Delta carries the fully
// assembled arguments string, which is the source of truth for the
// completed call even though the accumulator also tracked deltas.
func mapToolCallDone(ev provider.ProviderEvent, state *turnState) []api.NormalizedEvent {
	acc, exists := state.toolCalls[ev.ToolCallIndex]
	if !exists {
		acc = &toolCallAccum{id: ev.ToolCallID, name: ev.FunctionName}
		state.toolCalls[ev.ToolCallIndex] = acc
	}
	if ev.ToolCallID != "" {
		acc.id = ev.ToolCallID
	}
	if ev.FunctionName != "" {
		acc.name = ev.FunctionName
	}
	if ev.Delta != "" {
		acc.args.Reset()
		acc.args.WriteString(ev.Delta)
	}

	return []api.NormalizedEvent{
		{Type: api.EventToolCallComplete, Data: api.ToolCallCompleteData{
			CallIndex:     ev.ToolCallIndex,
			ID:            acc.id,
			Name:          acc.name,
			ArgumentsJSON: acc.args.String(),
		}},
	}
}

// mapError converts a ProviderEventError into an error NormalizedEvent
// carrying the adapter's classification. Per the protocol adapter design,
// a Truncated error precedes the turn's terminator and does not by itself
// end the request; Transport/Upstream/ProtocolViolation errors are
// stream-fatal and the orchestrator exits after fanning this out.
func mapError(ev provider.ProviderEvent) []api.NormalizedEvent {
	msg := ""
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	return []api.NormalizedEvent{
		{Type: api.EventError, Data: api.ErrorData{Kind: ev.ErrorKind, Message: msg}},
	}
}

// mapProviderEvent converts a single ProviderEvent into zero or more
// NormalizedEvents, updating turn accumulation state as it goes. Done
// carries no NormalizedEvent of its own; the engine's orchestration loop
// decides what final events (tool_result, usage, done) to emit once a
// turn or the whole exchange concludes.
func mapProviderEvent(ev provider.ProviderEvent, state *turnState) []api.NormalizedEvent {
	switch ev.Type {
	case provider.ProviderEventTextDelta:
		return mapTextDelta(ev, state)
	case provider.ProviderEventTextDone:
		return nil
	case provider.ProviderEventThinkingDelta:
		return mapThinkingDelta(ev, state)
	case provider.ProviderEventThinkingDone:
		return nil
	case provider.ProviderEventReasoningDelta:
		return mapReasoningDelta(ev, state)
	case provider.ProviderEventReasoningDone:
		return nil
	case provider.ProviderEventCitation:
		return mapCitation(ev, state)
	case provider.ProviderEventToolCallDelta:
		return mapToolCallDelta(ev, state)
	case provider.ProviderEventToolCallDone:
		return mapToolCallDone(ev, state)
	case provider.ProviderEventDone:
		state.finishKind = ev.FinishKind
		if ev.Usage != nil {
			state.usage = ev.Usage
		}
		return nil
	case provider.ProviderEventError:
		return mapError(ev)
	default:
		return nil
	}
}
