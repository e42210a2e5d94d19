package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/provider"
	"github.com/relaybridge/relaybridge/pkg/tools"
	mcptools "github.com/relaybridge/relaybridge/pkg/tools/mcp"
	"github.com/relaybridge/relaybridge/pkg/transport"
)

// Engine orchestrates request processing between the transport layer
// and the provider backend. It implements transport.ResponseCreator.
type Engine struct {
	provider  provider.Provider
	store     transport.ResponseStore
	executors []tools.ToolExecutor
	cfg       Config
}

// Ensure Engine implements transport.ResponseCreator at compile time.
var _ transport.ResponseCreator = (*Engine)(nil)

// New creates a new Engine. The provider must not be nil. The store
// can be nil for stateless operation.
func New(p provider.Provider, store transport.ResponseStore, cfg Config) (*Engine, error) {
	if p == nil {
		return nil, fmt.Errorf("engine: provider must not be nil")
	}
	return &Engine{
		provider:  p,
		store:     store,
		executors: cfg.Executors,
		cfg:       cfg,
	}, nil
}

// CreateResponse handles a request end to end: it builds the initial
// conversation (optionally chained from previous_response_id), runs the
// tool-use orchestrator, and writes the result to w. A streaming request
// (req.Stream) gets every normalized event through WriteEvent as it is
// produced; a non-streaming request gets only the final aggregated
// WriteResult call.
func (e *Engine) CreateResponse(ctx context.Context, req *api.CreateResponseRequest, w transport.ResponseWriter) error {
	if req.Model == "" {
		if e.cfg.DefaultModel != "" {
			req.Model = e.cfg.DefaultModel
		} else {
			return api.NewInvalidRequestError("model", "model is required")
		}
	}

	if apiErr := provider.ValidateCapabilities(e.provider.Capabilities(), req); apiErr != nil {
		return apiErr
	}

	e.mergeMCPTools(ctx, req)

	provReq := translateRequest(req)
	conversation := conversationFromItems(req.Input)

	if req.PreviousResponseID != "" {
		historyMsgs, err := loadConversationHistory(ctx, e.store, req.PreviousResponseID)
		if err != nil {
			return err
		}
		conversation = append(historyMsgs, conversation...)
		provReq.Messages = append(conversationMessagesToProviderMessages(historyMsgs), provReq.Messages...)
	}

	emit := func(ev api.NormalizedEvent) error {
		if req.Stream {
			return w.WriteEvent(ctx, ev)
		}
		return nil
	}

	result, err := e.orchestrate(ctx, req, conversation, provReq.Messages, emit)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation: no event, no partial state, nothing written.
			return ctx.Err()
		}
		return err
	}

	if !req.Stream {
		if err := w.WriteResult(ctx, result); err != nil {
			return err
		}
	}

	e.saveIfStateful(ctx, req, result)

	return nil
}

// conversationFromItems seeds the durable conversation history from the
// request's input items, so a fresh (non-chained) request still has a
// ConversationMessage record of what the caller sent.
func conversationFromItems(items []api.Item) []api.ConversationMessage {
	var out []api.ConversationMessage
	for _, item := range items {
		switch item.Type {
		case api.ItemTypeMessage:
			if item.Message == nil {
				continue
			}
			out = append(out, api.ConversationMessage{
				Role:    item.Message.Role,
				Content: extractUserContentText(item.Message.Content),
			})
		case api.ItemTypeFunctionCall:
			if item.FunctionCall == nil {
				continue
			}
			out = append(out, api.ConversationMessage{
				Role: api.RoleAssistant,
				ToolCalls: []api.ToolCallRef{{
					ID:        item.FunctionCall.CallID,
					Name:      item.FunctionCall.Name,
					Arguments: item.FunctionCall.Arguments,
				}},
			})
		case api.ItemTypeFunctionCallOutput:
			if item.FunctionCallOutput == nil {
				continue
			}
			out = append(out, api.ConversationMessage{
				Role:       api.RoleTool,
				Content:    item.FunctionCallOutput.Output,
				ToolCallID: item.FunctionCallOutput.CallID,
			})
		}
	}
	return out
}

// extractUserContentText renders a message item's content parts as plain
// text for the durable conversation record. Non-text parts (images) are
// dropped here; the provider-facing translation in translate.go is what
// actually carries multimodal content to the backend.
func extractUserContentText(parts []api.ContentPart) string {
	var out string
	for _, p := range parts {
		if p.Type == "input_text" {
			out += p.Text
		}
	}
	return out
}

// mergeMCPTools merges every tool known to the engine's MCP registries
// into the request's tool list. Registries are materialized at load time
// (see mcp.Load), so this is a pure merge with no discovery side effect.
// Explicit tools in the request take precedence over registry tools with
// the same qualified name.
func (e *Engine) mergeMCPTools(_ context.Context, req *api.CreateResponseRequest) {
	for _, exec := range e.executors {
		if registry, ok := exec.(*mcptools.Registry); ok {
			existing := make(map[string]bool, len(req.Tools))
			for _, t := range req.Tools {
				existing[t.Name] = true
			}

			for _, t := range registry.List() {
				if !existing[t.Name] {
					req.Tools = append(req.Tools, t)
				}
			}
		}
	}
}

// saveIfStateful saves the result to the store if conditions are met:
// store is configured and the request has store=true (default). Save
// failures are logged but do not affect the client response, which has
// already been written by the time this runs.
func (e *Engine) saveIfStateful(ctx context.Context, req *api.CreateResponseRequest, result *api.FinalResult) {
	if e.store == nil || !isStateful(req) {
		return
	}

	if err := e.store.SaveResult(ctx, result); err != nil {
		slog.Warn("failed to save result to store",
			"request_id", result.RequestID,
			"error", err.Error(),
		)
	}
}

// isStateful returns true if the request should be stored. Defaults to
// true unless explicitly set to false.
func isStateful(req *api.CreateResponseRequest) bool {
	if req.Store == nil {
		return true
	}
	return *req.Store
}
