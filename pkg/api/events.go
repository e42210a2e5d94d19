package api

import "encoding/json"

// EventType is a normalized event's dotted variant tag. It is also the raw
// SSE event name; the sink additionally emits an "agui."-prefixed mirror of
// the same tag with an identical payload (see transport/http.sseResponseWriter).
type EventType string

const (
	EventStreamStart      EventType = "stream.start"
	EventMessageDelta     EventType = "message.delta"
	EventThinkingDelta    EventType = "thinking.delta"
	EventReasoningDelta   EventType = "reasoning.delta"
	EventCitationAdded    EventType = "citation.added"
	EventToolCallDelta    EventType = "tool_call.delta"
	EventToolCallComplete EventType = "tool_call.complete"
	EventToolResult       EventType = "tool_result"
	EventUsage            EventType = "usage"
	EventError            EventType = "error"
	EventDone             EventType = "done"
)

// NormalizedEvent is one element of the internal event algebra spoken by
// every backend driver and consumed by every sink. Its wire form is
// {"type":"<tag>","data":<payload>}; Data holds one of the *Data structs
// below, chosen by Type.
type NormalizedEvent struct {
	Type EventType
	Data any
}

// normalizedEventWire is the JSON shape of a NormalizedEvent.
type normalizedEventWire struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON renders the event as {"type":...,"data":...}. A nil Data
// marshals as an empty object so "data" is always present, never null.
func (e NormalizedEvent) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if e.Data == nil {
		raw = json.RawMessage(`{}`)
	} else {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(normalizedEventWire{Type: e.Type, Data: raw})
}

// UnmarshalJSON decodes {"type":...,"data":...} into Type and a
// type-appropriate Data struct, dispatching on Type.
func (e *NormalizedEvent) UnmarshalJSON(b []byte) error {
	var w normalizedEventWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Type = w.Type

	decode := func(v any) error {
		if len(w.Data) == 0 {
			return nil
		}
		return json.Unmarshal(w.Data, v)
	}

	switch w.Type {
	case EventStreamStart:
		var d StreamStartData
		if err := decode(&d); err != nil {
			return err
		}
		e.Data = d
	case EventMessageDelta:
		var d MessageDeltaData
		if err := decode(&d); err != nil {
			return err
		}
		e.Data = d
	case EventThinkingDelta:
		var d ThinkingDeltaData
		if err := decode(&d); err != nil {
			return err
		}
		e.Data = d
	case EventReasoningDelta:
		var d ReasoningDeltaData
		if err := decode(&d); err != nil {
			return err
		}
		e.Data = d
	case EventCitationAdded:
		var d CitationAddedData
		if err := decode(&d); err != nil {
			return err
		}
		e.Data = d
	case EventToolCallDelta:
		var d ToolCallDeltaData
		if err := decode(&d); err != nil {
			return err
		}
		e.Data = d
	case EventToolCallComplete:
		var d ToolCallCompleteData
		if err := decode(&d); err != nil {
			return err
		}
		e.Data = d
	case EventToolResult:
		var d ToolResultData
		if err := decode(&d); err != nil {
			return err
		}
		e.Data = d
	case EventUsage:
		var d UsageData
		if err := decode(&d); err != nil {
			return err
		}
		e.Data = d
	case EventError:
		var d ErrorData
		if err := decode(&d); err != nil {
			return err
		}
		e.Data = d
	case EventDone:
		e.Data = DoneData{}
	default:
		var d map[string]any
		if err := decode(&d); err != nil {
			return err
		}
		e.Data = d
	}
	return nil
}

// StreamStartData is the payload of stream.start: the first event of a
// request.
type StreamStartData struct {
	RequestID string `json:"request_id"`
}

// MessageDeltaData is the payload of message.delta: additive
// assistant-visible text.
type MessageDeltaData struct {
	Text string `json:"text"`
}

// ThinkingDeltaData is the payload of thinking.delta: additive hidden
// chain-of-thought, distinct from the structured reasoning channel.
type ThinkingDeltaData struct {
	Text string `json:"text"`
}

// ReasoningDeltaData is the payload of reasoning.delta: additive
// structured reasoning content.
type ReasoningDeltaData struct {
	Text string `json:"text"`
}

// CitationAddedData is the payload of citation.added: a retrieval-style
// source reference discovered on an output-text delta. Index is 1-based,
// in discovery order. URL is empty when the upstream reported a
// title-only annotation.
type CitationAddedData struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// ToolCallDeltaData is the payload of tool_call.delta: a partial fragment
// of a pending tool call, keyed by CallIndex (the durable key for
// intra-turn assembly, since ID may not be known until mid-stream).
type ToolCallDeltaData struct {
	CallIndex      int    `json:"call_index"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// ToolCallCompleteData is the payload of tool_call.complete: the final
// materialized tool call, emitted once CallIndex's argument assembly is
// known to be finished.
type ToolCallCompleteData struct {
	CallIndex     int    `json:"call_index"`
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
}

// ToolResultData is the payload of tool_result: the outcome of executing
// one tool call, keyed by ID.
type ToolResultData struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Success bool   `json:"success"`
}

// UsageData is the payload of usage: token accounting reported at turn
// end. Never synthesized when the upstream omits it; downstream consumers
// must treat the event as optional.
type UsageData struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorData is the payload of error: a non-fatal or fatal condition,
// classified by Kind (see ErrorKind in errorkind.go).
type ErrorData struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// DoneData is the (empty) payload of done: the orchestrator has no more
// work for this request. done appears exactly once, last.
type DoneData struct{}

// ToolCallRef is a materialized reference to a tool call attached to a
// conversation message: id, qualified tool name, and arguments as raw
// JSON text (only well-formed once assembly completes).
type ToolCallRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ConversationMessage is the orchestrator's durable view of one turn in
// the conversation: a tagged, append-only record independent of wire
// protocol. Session storage persists slices of these to support
// previous_response_id chaining.
type ConversationMessage struct {
	Role       MessageRole   `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolName   string        `json:"tool_name,omitempty"`
}

// FinalResult is the payload of WriteResult: the complete, aggregated
// outcome of a non-streaming request, built by folding every
// NormalizedEvent of the turn into one record.
type FinalResult struct {
	RequestID   string                 `json:"request_id"`
	Model       string                 `json:"model"`
	CreatedAt   int64                  `json:"created_at"`
	Status      FinalStatus            `json:"status"`
	Message     string                 `json:"message"`
	Thinking    string                 `json:"thinking,omitempty"`
	Reasoning   string                 `json:"reasoning,omitempty"`
	Citations   []CitationAddedData    `json:"citations,omitempty"`
	ToolCalls   []ToolCallCompleteData `json:"tool_calls,omitempty"`
	ToolResults []ToolResultData       `json:"tool_results,omitempty"`
	Usage       *UsageData             `json:"usage,omitempty"`
	Error       *ErrorData             `json:"error,omitempty"`

	// Messages is the full per-turn message history (the caller's input
	// plus everything the orchestrator appended), persisted by
	// ResponseStore for previous_response_id chain reconstruction.
	Messages []ConversationMessage `json:"-"`

	PreviousResponseID string `json:"previous_response_id,omitempty"`
}

// FinalStatus is the terminal state of a non-streaming request.
type FinalStatus string

const (
	FinalStatusCompleted FinalStatus = "completed"
	FinalStatusIncomplete FinalStatus = "incomplete"
	FinalStatusFailed    FinalStatus = "failed"
	FinalStatusCancelled FinalStatus = "cancelled"
)
