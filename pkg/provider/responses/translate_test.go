package responses

import (
	"encoding/json"
	"testing"

	"github.com/relaybridge/relaybridge/pkg/provider"
)

func TestTranslateRequest_StoreAlwaysFalse(t *testing.T) {
	req := &provider.ProviderRequest{
		Model: "test-model",
		Messages: []provider.ProviderMessage{
			{Role: "user", Content: "hello"},
		},
	}

	rr, err := translateRequest(req)
	if err != nil {
		t.Fatalf("translateRequest: %v", err)
	}
	if rr.Store != false {
		t.Error("store should always be false")
	}
}

func TestTranslateRequest_BuiltinToolsExpanded(t *testing.T) {
	req := &provider.ProviderRequest{
		Model: "test-model",
		Messages: []provider.ProviderMessage{
			{Role: "user", Content: "run code"},
		},
		Tools: []provider.ProviderTool{
			{Type: "code_interpreter"}, // stub, no function name
		},
		BuiltinToolDefs: []provider.ProviderTool{
			{
				Type: "function",
				Function: provider.ProviderFunctionDef{
					Name:        "builtin::execute_code",
					Description: "Execute Python code",
					Parameters:  json.RawMessage(`{"type":"object"}`),
				},
			},
		},
	}

	rr, err := translateRequest(req)
	if err != nil {
		t.Fatalf("translateRequest: %v", err)
	}

	if len(rr.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(rr.Tools))
	}
	if rr.Tools[0].Name != "builtin::execute_code" {
		t.Errorf("tool name = %q, want %q", rr.Tools[0].Name, "builtin::execute_code")
	}
	if rr.Tools[0].Type != "function" {
		t.Errorf("tool type = %q, want %q", rr.Tools[0].Type, "function")
	}
}

func TestTranslateRequest_FunctionToolsPassThrough(t *testing.T) {
	req := &provider.ProviderRequest{
		Model: "test-model",
		Messages: []provider.ProviderMessage{
			{Role: "user", Content: "hello"},
		},
		Tools: []provider.ProviderTool{
			{
				Type: "function",
				Function: provider.ProviderFunctionDef{
					Name:        "get_weather",
					Description: "Get weather",
					Parameters:  json.RawMessage(`{"type":"object"}`),
				},
			},
		},
	}

	rr, err := translateRequest(req)
	if err != nil {
		t.Fatalf("translateRequest: %v", err)
	}

	if len(rr.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(rr.Tools))
	}
	if rr.Tools[0].Name != "get_weather" {
		t.Errorf("tool name = %q, want %q", rr.Tools[0].Name, "get_weather")
	}
}

func TestTranslateRequest_Messages(t *testing.T) {
	req := &provider.ProviderRequest{
		Model: "test-model",
		Messages: []provider.ProviderMessage{
			{Role: "system", Content: "You are helpful"},
			{Role: "user", Content: "What is 2+2?"},
			{
				Role:    "assistant",
				Content: nil,
				ToolCalls: []provider.ProviderToolCall{
					{
						ID: "call_123",
						Function: provider.ProviderFunctionCall{
							Name:      "calculator",
							Arguments: `{"expr":"2+2"}`,
						},
					},
				},
			},
			{Role: "tool", Content: "4", ToolCallID: "call_123"},
		},
	}

	rr, err := translateRequest(req)
	if err != nil {
		t.Fatalf("translateRequest: %v", err)
	}

	// Verify input is a valid JSON array.
	var items []json.RawMessage
	if err := json.Unmarshal(rr.Input, &items); err != nil {
		t.Fatalf("input is not a JSON array: %v", err)
	}

	// Should have: system message, user message, function_call, function_call_output
	if len(items) != 4 {
		t.Errorf("expected 4 input items, got %d", len(items))
	}
}

func TestTranslateResponse_Message(t *testing.T) {
	resp := &responsesResponse{
		Model:  "test-model",
		Status: "completed",
		Output: []responsesItem{
			{
				ID:   "item_001",
				Type: "message",
				Role: "assistant",
				Content: json.RawMessage(`[{"type":"output_text","text":"Hello world"}]`),
			},
		},
		Usage: &responsesUsage{
			InputTokens:  10,
			OutputTokens: 5,
			TotalTokens:  15,
		},
	}

	pr, err := translateResponse(resp)
	if err != nil {
		t.Fatalf("translateResponse: %v", err)
	}

	if pr.Model != "test-model" {
		t.Errorf("model = %q, want %q", pr.Model, "test-model")
	}
	if pr.FinishKind != provider.FinishStop {
		t.Errorf("finish kind = %v, want %v", pr.FinishKind, provider.FinishStop)
	}
	if len(pr.ToolCalls) != 0 {
		t.Fatalf("expected no tool calls, got %d", len(pr.ToolCalls))
	}
	if pr.Reasoning != "" {
		t.Errorf("reasoning = %q, want empty", pr.Reasoning)
	}
	if pr.Message == "" {
		t.Fatal("message is empty")
	}
	if pr.Message != "Hello world" {
		t.Errorf("message text = %q, want 'Hello world'", pr.Message)
	}
	if pr.Usage.PromptTokens != 10 || pr.Usage.CompletionTokens != 5 {
		t.Errorf("usage = %+v, want prompt=10 completion=5", pr.Usage)
	}
}

func TestTranslateResponse_ToolCall(t *testing.T) {
	resp := &responsesResponse{
		Model:  "test-model",
		Status: "completed",
		Output: []responsesItem{
			{
				ID:        "item_002",
				Type:      "function_call",
				CallID:    "call_abc",
				Name:      "get_weather",
				Arguments: `{"city":"Berlin"}`,
			},
		},
	}

	pr, err := translateResponse(resp)
	if err != nil {
		t.Fatalf("translateResponse: %v", err)
	}

	if len(pr.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(pr.ToolCalls))
	}
	tc := pr.ToolCalls[0]
	if pr.FinishKind != provider.FinishToolCalls {
		t.Errorf("finish kind = %v, want %v", pr.FinishKind, provider.FinishToolCalls)
	}
	if tc.ArgumentsJSON != `{"city":"Berlin"}` {
		t.Fatalf("arguments = %q, want %q", tc.ArgumentsJSON, `{"city":"Berlin"}`)
	}
	if tc.Name != "get_weather" {
		t.Errorf("name = %q, want %q", tc.Name, "get_weather")
	}
	if tc.ID != "call_abc" {
		t.Errorf("call_id = %q, want %q", tc.ID, "call_abc")
	}
}
