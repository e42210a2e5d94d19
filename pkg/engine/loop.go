package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/observability"
	"github.com/relaybridge/relaybridge/pkg/provider"
	"github.com/relaybridge/relaybridge/pkg/tools"
)

// orchestrate runs the tool-use loop for one request: ask the driver for a
// streaming turn, fan its events out to emit, fold them into a turn
// accumulator, execute any resulting tool calls through the registry, feed
// their results back into the conversation, and repeat until the driver
// stops producing tool calls, the iteration cap is hit, or a stream-fatal
// error ends the request. Returns the aggregated FinalResult for storage
// and (when the request is non-streaming) for the client response.
func (e *Engine) orchestrate(ctx context.Context, req *api.CreateResponseRequest, conversation []api.ConversationMessage, providerMessages []provider.ProviderMessage, emit func(api.NormalizedEvent) error) (*api.FinalResult, error) {
	requestID := api.NewResponseID()
	result := &api.FinalResult{
		RequestID:          requestID,
		Model:              req.Model,
		CreatedAt:          time.Now().Unix(),
		Status:             api.FinalStatusCompleted,
		PreviousResponseID: req.PreviousResponseID,
	}

	if err := emit(api.NormalizedEvent{
		Type: api.EventStreamStart,
		Data: api.StreamStartData{RequestID: requestID},
	}); err != nil {
		return nil, err
	}

	parallel := getParallelToolCalls(req)
	iterationCap := e.cfg.iterationCap()
	deadline := e.cfg.toolCallDeadline()

	var finalUsage *api.UsageData
	capExceeded := false

	for k := 0; k < iterationCap; k++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		provReq := &provider.ProviderRequest{
			Model:       req.Model,
			Messages:    providerMessages,
			Tools:       translateToolsForProvider(req),
			ToolChoice:  req.ToolChoice,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			MaxTokens:   req.MaxOutputTokens,
			Stream:      true,
		}

		turnStart := time.Now()
		eventCh, err := e.provider.Stream(ctx, provReq)
		provName := e.provider.Name()
		if err != nil {
			observability.ProviderRequestsTotal.WithLabelValues(provName, req.Model, "error").Inc()
			observability.ProviderLatency.WithLabelValues(provName, req.Model).Observe(time.Since(turnStart).Seconds())
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		state := newTurnState()
		streamFatal := false

		for ev := range eventCh {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			normEvents := mapProviderEvent(ev, state)
			for _, ne := range normEvents {
				if err := emit(ne); err != nil {
					return nil, err
				}
			}

			if ev.Type == provider.ProviderEventError {
				switch ev.ErrorKind {
				case api.ErrorKindTransport, api.ErrorKindUpstream, api.ErrorKindProtocolViolation:
					streamFatal = true
				}
			}
		}

		observability.ProviderLatency.WithLabelValues(provName, req.Model).Observe(time.Since(turnStart).Seconds())
		if state.usage != nil {
			observability.ProviderRequestsTotal.WithLabelValues(provName, req.Model, "success").Inc()
			observability.ProviderTokensTotal.WithLabelValues(provName, req.Model, "input").Add(float64(state.usage.PromptTokens))
			observability.ProviderTokensTotal.WithLabelValues(provName, req.Model, "output").Add(float64(state.usage.CompletionTokens))
			finalUsage = state.usage
		} else if !streamFatal {
			observability.ProviderRequestsTotal.WithLabelValues(provName, req.Model, "success").Inc()
		} else {
			observability.ProviderRequestsTotal.WithLabelValues(provName, req.Model, "error").Inc()
		}

		if streamFatal {
			result.Status = api.FinalStatusFailed
			if err := emit(api.NormalizedEvent{Type: api.EventDone}); err != nil {
				return nil, err
			}
			result.Messages = conversation
			return result, nil
		}

		toolCalls := dedupeToolCalls(state.toolCallCompletions(), emit)
		assistantText := state.text.String()

		result.Message = assistantText
		result.Thinking = state.thinking.String()
		result.Reasoning = state.reasoning.String()
		result.Citations = state.citations

		if len(toolCalls) == 0 {
			if assistantText != "" || len(state.toolCallCompletions()) > 0 {
				conversation = append(conversation, buildAssistantMessage(assistantText, toolCalls))
			}
			if state.finishKind == provider.FinishTruncated {
				result.Status = api.FinalStatusIncomplete
			}
			break
		}

		if k == iterationCap-1 {
			// Cap reached with pending tool calls: the last iteration's
			// assistant message (including the calls) is recorded, but
			// none of them are executed.
			conversation = append(conversation, buildAssistantMessage(assistantText, toolCalls))
			result.ToolCalls = toolCalls
			capExceeded = true
			break
		}

		assistantMsg := buildAssistantMessage(assistantText, toolCalls)
		conversation = append(conversation, assistantMsg)

		toolResults := e.executeTools(ctx, toolCalls, parallel, deadline, emit)
		result.ToolResults = append(result.ToolResults, toolResults...)

		resultByID := make(map[string]api.ToolResultData, len(toolResults))
		for _, r := range toolResults {
			resultByID[r.ID] = r
		}
		for _, tc := range toolCalls {
			r, ok := resultByID[tc.ID]
			if !ok {
				continue
			}
			conversation = append(conversation, api.ConversationMessage{
				Role:       api.RoleTool,
				Content:    r.Content,
				ToolCallID: r.ID,
				ToolName:   r.Name,
			})
		}

		providerMessages = append(providerMessages, conversationMessagesToProviderMessages(conversation[len(conversation)-1-len(toolResults):])...)
	}

	if capExceeded {
		if err := emit(api.NormalizedEvent{
			Type: api.EventError,
			Data: api.ErrorData{Kind: api.ErrorKindIterationCapExceeded, Message: "iteration cap reached with tool calls still pending"},
		}); err != nil {
			return nil, err
		}
		result.Status = api.FinalStatusIncomplete
	}

	if finalUsage != nil {
		if err := emit(api.NormalizedEvent{Type: api.EventUsage, Data: *finalUsage}); err != nil {
			return nil, err
		}
		result.Usage = finalUsage
	}

	if err := emit(api.NormalizedEvent{Type: api.EventDone}); err != nil {
		return nil, err
	}

	result.Messages = conversation
	return result, nil
}

// dedupeToolCalls drops any tool call whose id repeats one already seen in
// this turn, reporting a ProtocolViolation for each duplicate. The first
// occurrence of an id is kept; order is otherwise preserved (call_index
// order, as produced by turnState.toolCallCompletions).
func dedupeToolCalls(calls []api.ToolCallCompleteData, emit func(api.NormalizedEvent) error) []api.ToolCallCompleteData {
	seen := make(map[string]bool, len(calls))
	out := make([]api.ToolCallCompleteData, 0, len(calls))
	for _, c := range calls {
		if seen[c.ID] {
			_ = emit(api.NormalizedEvent{
				Type: api.EventError,
				Data: api.ErrorData{Kind: api.ErrorKindProtocolViolation, Message: "duplicate tool call id: " + c.ID},
			})
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// buildAssistantMessage builds the conversation record for one completed
// turn. Per the orchestrator's tie-break rule, a turn with neither text nor
// tool calls produces no message at all, to avoid noise in the history.
func buildAssistantMessage(text string, calls []api.ToolCallCompleteData) api.ConversationMessage {
	msg := api.ConversationMessage{Role: api.RoleAssistant, Content: text}
	for _, c := range calls {
		msg.ToolCalls = append(msg.ToolCalls, api.ToolCallRef{ID: c.ID, Name: c.Name, Arguments: c.ArgumentsJSON})
	}
	return msg
}

// executeTools dispatches tool calls to the registry concurrently (or
// sequentially when parallel_tool_calls is false), emitting tool_result as
// each call completes. Completion order (the order results are emitted) is
// independent of call_index order (the order the caller re-inserts results
// into history) by design: the client sees live progress, the model sees
// deterministic history.
func (e *Engine) executeTools(ctx context.Context, calls []api.ToolCallCompleteData, parallel bool, deadline time.Duration, emit func(api.NormalizedEvent) error) []api.ToolResultData {
	if len(calls) == 0 {
		return nil
	}

	invoke := func(c api.ToolCallCompleteData) api.ToolResultData {
		callCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		r := e.invokeOne(callCtx, tools.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.ArgumentsJSON})
		_ = emit(api.NormalizedEvent{Type: api.EventToolResult, Data: r})
		return r
	}

	if !parallel {
		out := make([]api.ToolResultData, 0, len(calls))
		for _, c := range calls {
			out = append(out, invoke(c))
		}
		return out
	}

	resultsCh := make(chan api.ToolResultData, len(calls))
	var wg sync.WaitGroup
	for _, c := range calls {
		wg.Add(1)
		go func(tc api.ToolCallCompleteData) {
			defer wg.Done()
			resultsCh <- invoke(tc)
		}(c)
	}
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	out := make([]api.ToolResultData, 0, len(calls))
	for r := range resultsCh {
		out = append(out, r)
	}
	return out
}

// invokeOne runs a single tool call against the registry and classifies any
// failure into the per-call error taxonomy. Per-call failures are never
// fatal to the turn: they become a tool_result with success=false.
func (e *Engine) invokeOne(ctx context.Context, call tools.ToolCall) api.ToolResultData {
	exec := e.findExecutor(call.Name)
	if exec == nil {
		observability.ToolExecutionsTotal.WithLabelValues(call.Name, "error").Inc()
		return api.ToolResultData{ID: call.ID, Name: call.Name, Content: "no executor registered for tool " + call.Name, Success: false}
	}

	res, err := exec.Execute(ctx, call)
	if err != nil {
		slog.Warn("tool execution error", "tool", call.Name, "call_id", call.ID, "error", err.Error())
		observability.ToolExecutionsTotal.WithLabelValues(call.Name, "error").Inc()
		return api.ToolResultData{ID: call.ID, Name: call.Name, Content: err.Error(), Success: false}
	}

	status := "success"
	if res.IsError {
		status = "error"
	}
	observability.ToolExecutionsTotal.WithLabelValues(call.Name, status).Inc()
	return api.ToolResultData{ID: call.ID, Name: call.Name, Content: res.Output, Success: !res.IsError}
}

// findExecutor returns the first executor that can handle the given tool
// name, or nil if none is registered for it.
func (e *Engine) findExecutor(toolName string) tools.ToolExecutor {
	for _, exec := range e.executors {
		if exec.CanExecute(toolName) {
			return exec
		}
	}
	return nil
}

// getParallelToolCalls returns the request's parallel_tool_calls setting,
// defaulting to true (concurrent dispatch) when unset.
func getParallelToolCalls(req *api.CreateResponseRequest) bool {
	if req.ParallelToolCalls == nil {
		return true
	}
	return *req.ParallelToolCalls
}

// translateToolsForProvider maps the request's tool definitions to the
// provider-facing shape.
func translateToolsForProvider(req *api.CreateResponseRequest) []provider.ProviderTool {
	var out []provider.ProviderTool
	for _, t := range req.Tools {
		out = append(out, provider.ProviderTool{
			Type: t.Type,
			Function: provider.ProviderFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
