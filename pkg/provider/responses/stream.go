package responses

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/provider"
)

// parseSSEStream reads Responses API SSE events from the reader and maps them
// to ProviderEvent values sent to the channel. The channel is closed when the
// stream ends (response.completed/failed) or an error occurs.
func parseSSEStream(r io.Reader, ch chan<- provider.ProviderEvent) {
	defer close(ch)

	scanner := bufio.NewScanner(r)
	var currentEvent string
	var citationIndex int

	for scanner.Scan() {
		line := scanner.Text()

		// SSE format: "event: <type>" followed by "data: <json>"
		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				ch <- provider.ProviderEvent{Type: provider.ProviderEventDone}
				return
			}

			if currentEvent != "" {
				handleSSEEvent(currentEvent, []byte(data), &citationIndex, ch)
				currentEvent = ""
			}
			continue
		}

		// Empty lines are SSE delimiters, ignore them.
	}

	if err := scanner.Err(); err != nil {
		ch <- provider.ProviderEvent{
			Type:      provider.ProviderEventError,
			ErrorKind: api.ErrorKindTransport,
			Err:       fmt.Errorf("SSE stream read: %w", err),
		}
	}
}

// handleSSEEvent processes a single SSE event and emits the corresponding
// ProviderEvent. citationIndex is a running 1-based counter shared across
// the whole stream.
func handleSSEEvent(eventType string, data []byte, citationIndex *int, ch chan<- provider.ProviderEvent) {
	switch eventType {
	case eventTextDelta:
		var d textDeltaData
		if err := json.Unmarshal(data, &d); err != nil {
			slog.Debug("failed to parse text delta", "error", err)
			return
		}
		ch <- provider.ProviderEvent{
			Type:  provider.ProviderEventTextDelta,
			Delta: d.Delta,
		}
		emitAnnotations(d.Annotations, citationIndex, ch)

	case eventTextDone:
		ch <- provider.ProviderEvent{Type: provider.ProviderEventTextDone}

	case eventFuncCallArgsDelta:
		var d funcCallArgsDeltaData
		if err := json.Unmarshal(data, &d); err != nil {
			slog.Debug("failed to parse function call args delta", "error", err)
			return
		}
		ch <- provider.ProviderEvent{
			Type:          provider.ProviderEventToolCallDelta,
			Delta:         d.Delta,
			ToolCallIndex: d.OutputIndex,
			ToolCallID:    d.CallID,
			FunctionName:  d.Name,
		}

	case eventFuncCallArgsDone:
		var d funcCallArgsDoneData
		if err := json.Unmarshal(data, &d); err != nil {
			slog.Debug("failed to parse function call args done", "error", err)
			return
		}
		ch <- provider.ProviderEvent{
			Type:          provider.ProviderEventToolCallDone,
			ToolCallIndex: d.OutputIndex,
			ToolCallID:    d.CallID,
			FunctionName:  d.Name,
			Delta:         d.Arguments,
		}

	case eventReasoningDelta:
		var d textDeltaData
		if err := json.Unmarshal(data, &d); err != nil {
			slog.Debug("failed to parse reasoning delta", "error", err)
			return
		}
		ch <- provider.ProviderEvent{
			Type:  provider.ProviderEventReasoningDelta,
			Delta: d.Delta,
		}

	case eventReasoningDone:
		ch <- provider.ProviderEvent{Type: provider.ProviderEventReasoningDone}

	case eventReasoningSummaryDelta:
		var d textDeltaData
		if err := json.Unmarshal(data, &d); err != nil {
			slog.Debug("failed to parse reasoning summary delta", "error", err)
			return
		}
		ch <- provider.ProviderEvent{
			Type:  provider.ProviderEventThinkingDelta,
			Delta: d.Delta,
		}

	case eventReasoningSummaryDone:
		ch <- provider.ProviderEvent{Type: provider.ProviderEventThinkingDone}

	case eventResponseCompleted:
		var d responseCompletedData
		if err := json.Unmarshal(data, &d); err != nil {
			slog.Debug("failed to parse response completed", "error", err)
			ch <- provider.ProviderEvent{Type: provider.ProviderEventDone}
			return
		}
		ev := provider.ProviderEvent{
			Type:       provider.ProviderEventDone,
			FinishKind: mapFinishKind(d.Response.Status, d.Response.Output),
		}
		if d.Response.Usage != nil {
			ev.Usage = &api.UsageData{
				PromptTokens:     d.Response.Usage.InputTokens,
				CompletionTokens: d.Response.Usage.OutputTokens,
				TotalTokens:      d.Response.Usage.TotalTokens,
			}
		}
		ch <- ev

	case eventResponseFailed:
		msg := "backend response failed"
		var d struct {
			Response responsesResponse `json:"response"`
		}
		if err := json.Unmarshal(data, &d); err == nil && d.Response.Error != nil {
			msg = d.Response.Error.Message
		}
		ch <- provider.ProviderEvent{
			Type:      provider.ProviderEventError,
			ErrorKind: api.ErrorKindUpstream,
			Err:       fmt.Errorf("backend response failed: %s", msg),
		}

	case eventResponseError:
		var d responseErrorData
		if err := json.Unmarshal(data, &d); err != nil {
			d.Message = "backend response error"
		}
		ch <- provider.ProviderEvent{
			Type:      provider.ProviderEventError,
			ErrorKind: api.ErrorKindUpstream,
			Err:       fmt.Errorf("backend response error: %s", d.Message),
		}

	case eventResponseCreated, eventOutputItemAdded, eventOutputItemDone,
		eventContentPartAdded, eventContentPartDone:
		// Lifecycle events that don't carry data needed by the engine.
		// The engine synthesizes its own lifecycle events.

	default:
		slog.Debug("unknown SSE event type, skipping", "event", eventType)
	}
}

// emitAnnotations translates url_citation annotations carried on an
// output-text delta into ProviderEventCitation events. A citation with no
// URL (title-only) is still emitted, with URL left empty.
func emitAnnotations(annotations []annotationData, citationIndex *int, ch chan<- provider.ProviderEvent) {
	for _, a := range annotations {
		if a.Type != "url_citation" {
			continue
		}
		*citationIndex++
		ch <- provider.ProviderEvent{
			Type: provider.ProviderEventCitation,
			Citation: &api.CitationAddedData{
				Index: *citationIndex,
				URL:   a.URL,
				Title: a.Title,
			},
		}
	}
}

// mapFinishKind classifies a completed Responses API turn. A "completed"
// status whose output contains a pending function_call is reported as
// FinishToolCalls, since the Responses API's own status field doesn't
// directly encode "tool calls pending" the way Chat Completions does.
func mapFinishKind(status string, output []responsesItem) provider.FinishKind {
	if status == "incomplete" {
		return provider.FinishTruncated
	}
	for _, item := range output {
		if item.Type == "function_call" {
			return provider.FinishToolCalls
		}
	}
	return provider.FinishStop
}
