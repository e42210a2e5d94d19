package provider

import (
	"encoding/json"

	"github.com/relaybridge/relaybridge/pkg/api"
)

// ProviderCapabilities declares what features the backend supports.
// Used by the engine for early request validation.
type ProviderCapabilities struct {
	// Streaming indicates whether the provider supports streaming responses.
	Streaming bool

	// ToolCalling indicates whether the provider supports function/tool calls.
	ToolCalling bool

	// Vision indicates whether the provider supports image inputs.
	Vision bool

	// Audio indicates whether the provider supports audio inputs.
	Audio bool

	// Reasoning indicates whether the provider can produce reasoning items.
	Reasoning bool

	// MaxContextWindow is the maximum token count (0 = unknown/unlimited).
	MaxContextWindow int

	// SupportedModels lists models this provider can serve.
	// Empty means "ask ListModels()".
	SupportedModels []string

	// Extensions lists provider-specific extension types supported.
	Extensions []string
}

// ProviderRequest is the backend-facing request. It contains only the
// information the provider needs, stripped of transport and storage concerns.
type ProviderRequest struct {
	Model       string            `json:"model"`
	Messages    []ProviderMessage `json:"messages"`
	Tools       []ProviderTool    `json:"tools,omitempty"`
	ToolChoice  *api.ToolChoice   `json:"tool_choice,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	TopP        *float64          `json:"top_p,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Stop             []string          `json:"stop,omitempty"`
	Stream           bool              `json:"stream,omitempty"`
	FrequencyPenalty *float64          `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64          `json:"presence_penalty,omitempty"`
	TopLogprobs      *int              `json:"top_logprobs,omitempty"`
	User             string            `json:"user,omitempty"`

	// Extra holds provider-specific parameters that don't map to standard fields.
	Extra map[string]any `json:"-"`
}

// ProviderMessage represents a message in the provider's conversation format.
type ProviderMessage struct {
	Role       string             `json:"role"`
	Content    any                `json:"content"`
	ToolCalls  []ProviderToolCall `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	Name       string             `json:"name,omitempty"`
}

// ProviderToolCall represents a tool call entry in an assistant message.
type ProviderToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function ProviderFunctionCall `json:"function"`
}

// ProviderFunctionCall holds the function name and arguments for a tool call.
type ProviderFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ProviderTool represents a tool definition in provider format.
type ProviderTool struct {
	Type     string              `json:"type"`
	Function ProviderFunctionDef `json:"function"`
}

// ProviderFunctionDef holds a function definition for tool use.
type ProviderFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ProviderResponse is the backend's complete non-streaming response,
// expressed directly in normalized terms so the engine never has to
// branch on which wire protocol produced it.
type ProviderResponse struct {
	Message     string
	Thinking    string
	Reasoning   string
	Citations   []api.CitationAddedData
	ToolCalls   []api.ToolCallCompleteData
	Usage       api.UsageData
	Model       string
	FinishKind  FinishKind
}

// FinishKind classifies how a turn ended.
type FinishKind int

const (
	FinishStop         FinishKind = iota // Natural end of turn.
	FinishToolCalls                     // Ended because tool calls are pending.
	FinishTruncated                     // Hit a length limit.
)

// ProviderEventType classifies a streaming event from the backend, already
// folded into the Normalized Event Contract's vocabulary.
type ProviderEventType int

const (
	ProviderEventTextDelta      ProviderEventType = iota // Incremental assistant-visible text
	ProviderEventTextDone                                // Text content complete
	ProviderEventThinkingDelta                           // Incremental hidden chain-of-thought
	ProviderEventThinkingDone                            // Thinking content complete
	ProviderEventReasoningDelta                          // Incremental structured reasoning content
	ProviderEventReasoningDone                           // Reasoning content complete
	ProviderEventCitation                                // A citation/annotation was discovered
	ProviderEventToolCallDelta                           // Incremental tool call arguments
	ProviderEventToolCallDone                            // Tool call complete
	ProviderEventDone                                     // Stream finished
	ProviderEventError                                   // Stream error
)

// ProviderEvent is a single streaming event from the backend, already
// mapped into normalized terms by the adapter (openaicompat or responses).
type ProviderEvent struct {
	// Type indicates what kind of event this is.
	Type ProviderEventType

	// Delta contains incremental text, thinking, reasoning, or argument data.
	Delta string

	// ToolCallIndex identifies which tool call this event relates to; it is
	// the durable key for intra-turn assembly (see spec Design Notes).
	ToolCallIndex int

	// ToolCallID is the identifier for the tool call, once known.
	ToolCallID string

	// FunctionName is the function name (populated on first tool call event).
	FunctionName string

	// Citation is populated for ProviderEventCitation.
	Citation *api.CitationAddedData

	// FinishKind is populated on ProviderEventDone.
	FinishKind FinishKind

	// Usage is populated on the final event, when the backend reported it.
	Usage *api.UsageData

	// ErrorKind classifies Err, when Type is ProviderEventError.
	ErrorKind api.ErrorKind

	// Err is populated if the stream encountered an error.
	Err error
}

// ModelInfo holds information about a model served by the provider.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}
