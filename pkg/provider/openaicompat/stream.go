package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/provider"
)

// ToolCallBuffer tracks incremental tool call argument assembly across
// multiple SSE chunks for a single tool call index.
type ToolCallBuffer struct {
	ID   string
	Name string
	Args strings.Builder
}

// ParseSSEStream reads Chat Completions SSE chunks from the given reader,
// translates each chunk to ProviderEvent values, and sends them on ch.
// The channel is NOT closed by this function; the caller is responsible
// for closing it.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	\n
//	data: [DONE]\n
//	\n
//
// Malformed chunks are logged and skipped. Context cancellation stops
// reading immediately.
func ParseSSEStream(ctx context.Context, body io.Reader, ch chan<- provider.ProviderEvent) {
	scanner := bufio.NewScanner(body)

	// Track tool call argument buffers across chunks (keyed by tool call index).
	toolCalls := make(map[int]*ToolCallBuffer)
	var citationIndex int

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		payload := strings.TrimPrefix(line, "data: ")

		if payload == "[DONE]" {
			return
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("skipping malformed SSE chunk",
				"error", err.Error(),
				"data", Truncate(payload, 200),
			)
			continue
		}

		TranslateChunk(&chunk, toolCalls, &citationIndex, ch)
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		ch <- provider.ProviderEvent{
			Type:      provider.ProviderEventError,
			ErrorKind: api.ErrorKindTransport,
			Err:       api.NewServerError("SSE stream read error: " + err.Error()),
		}
	}
}

// TranslateChunk converts a single ChatCompletionChunk into one or more
// ProviderEvent values sent on the channel. The toolCalls map tracks
// incremental tool call argument assembly across chunks. citationIndex is
// a running 1-based counter shared across the whole stream.
func TranslateChunk(chunk *ChatCompletionChunk, toolCalls map[int]*ToolCallBuffer, citationIndex *int, ch chan<- provider.ProviderEvent) {
	if len(chunk.Choices) == 0 {
		if chunk.Usage != nil {
			ch <- provider.ProviderEvent{
				Type: provider.ProviderEventDone,
				Usage: &api.UsageData{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				},
			}
		}
		return
	}

	choice := chunk.Choices[0]
	delta := choice.Delta

	emitCitations(delta.Annotations, citationIndex, ch)

	if choice.FinishReason != nil {
		reason := *choice.FinishReason

		// A length finish leaves any partial tool call unfinalized.
		if reason != "length" && (reason == "tool_calls" || len(toolCalls) > 0) {
			FlushToolCalls(toolCalls, ch)
		}

		if content := ExtractDeltaContent(delta.Content); content != "" {
			ch <- provider.ProviderEvent{Type: provider.ProviderEventTextDone, Delta: content}
		}

		if reason == "length" {
			ch <- provider.ProviderEvent{
				Type:      provider.ProviderEventError,
				ErrorKind: api.ErrorKindTruncated,
				Err:       api.NewServerError("upstream response truncated (finish_reason=length)"),
			}
		}

		doneEvent := provider.ProviderEvent{
			Type:       provider.ProviderEventDone,
			FinishKind: MapFinishReason(reason),
		}
		if chunk.Usage != nil {
			doneEvent.Usage = &api.UsageData{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		ch <- doneEvent
		return
	}

	if len(delta.ToolCalls) > 0 {
		for _, tc := range delta.ToolCalls {
			buf, exists := toolCalls[tc.Index]
			if !exists {
				buf = &ToolCallBuffer{
					ID:   tc.ID,
					Name: tc.Function.Name,
				}
				toolCalls[tc.Index] = buf

				ch <- provider.ProviderEvent{
					Type:          provider.ProviderEventToolCallDelta,
					ToolCallIndex: tc.Index,
					ToolCallID:    tc.ID,
					FunctionName:  tc.Function.Name,
					Delta:         tc.Function.Arguments,
				}
			} else {
				ch <- provider.ProviderEvent{
					Type:          provider.ProviderEventToolCallDelta,
					ToolCallIndex: tc.Index,
					ToolCallID:    buf.ID,
					Delta:         tc.Function.Arguments,
				}
			}

			buf.Args.WriteString(tc.Function.Arguments)
		}
		return
	}

	if delta.ReasoningContent != nil && *delta.ReasoningContent != "" {
		ch <- provider.ProviderEvent{
			Type:  provider.ProviderEventReasoningDelta,
			Delta: *delta.ReasoningContent,
		}
		// Don't return: the same chunk might also carry text content.
	}

	if delta.Content != nil && *delta.Content != "" {
		ch <- provider.ProviderEvent{
			Type:  provider.ProviderEventTextDelta,
			Delta: *delta.Content,
		}
		return
	}

	if delta.Role != "" && delta.ReasoningContent == nil {
		ch <- provider.ProviderEvent{
			Type:  provider.ProviderEventTextDelta,
			Delta: "", // Empty delta signals new message start.
		}
		return
	}

	// Empty delta with no content, no role, no tool calls, no annotations.
	// Can happen with some backends. Silently skip.
}

// emitCitations translates Chat Completions url_citation annotations into
// ProviderEventCitation events. A citation with no URL (title-only) is
// still emitted, with URL left empty.
func emitCitations(annotations []ChatAnnotation, citationIndex *int, ch chan<- provider.ProviderEvent) {
	for _, a := range annotations {
		if a.Type != "url_citation" {
			continue
		}
		*citationIndex++
		c := api.CitationAddedData{Index: *citationIndex}
		if a.URLCitation != nil {
			c.URL = a.URLCitation.URL
			c.Title = a.URLCitation.Title
		}
		ch <- provider.ProviderEvent{Type: provider.ProviderEventCitation, Citation: &c}
	}
}

// FlushToolCalls emits ProviderEventToolCallDone for each buffered tool call,
// in ascending call-index order, and clears the buffer.
func FlushToolCalls(toolCalls map[int]*ToolCallBuffer, ch chan<- provider.ProviderEvent) {
	indices := make([]int, 0, len(toolCalls))
	for idx := range toolCalls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		buf := toolCalls[idx]
		ch <- provider.ProviderEvent{
			Type:          provider.ProviderEventToolCallDone,
			ToolCallIndex: idx,
			ToolCallID:    buf.ID,
			FunctionName:  buf.Name,
			Delta:         buf.Args.String(),
		}
		delete(toolCalls, idx)
	}
}

// ExtractDeltaContent safely extracts the content string from a delta pointer.
func ExtractDeltaContent(content *string) string {
	if content == nil {
		return ""
	}
	return *content
}

// Truncate limits a string to maxLen characters for log output.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
