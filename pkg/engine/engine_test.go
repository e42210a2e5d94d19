package engine

import (
	"context"
	"testing"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/provider"
	"github.com/relaybridge/relaybridge/pkg/tools"
	"github.com/relaybridge/relaybridge/pkg/transport"
)

// turnAwareProvider is a mock provider that streams a different canned
// sequence of events on each successive call to Stream, so tests can drive
// a multi-turn tool-use exchange deterministically.
type turnAwareProvider struct {
	name  string
	caps  provider.ProviderCapabilities
	turns [][]provider.ProviderEvent
	calls int
}

func (p *turnAwareProvider) Name() string                                { return p.name }
func (p *turnAwareProvider) Capabilities() provider.ProviderCapabilities { return p.caps }
func (p *turnAwareProvider) Complete(_ context.Context, _ *provider.ProviderRequest) (*provider.ProviderResponse, error) {
	return nil, api.NewServerError("mock provider only streams")
}
func (p *turnAwareProvider) ListModels(_ context.Context) ([]provider.ModelInfo, error) { return nil, nil }
func (p *turnAwareProvider) Close() error                                               { return nil }

func (p *turnAwareProvider) Stream(_ context.Context, _ *provider.ProviderRequest) (<-chan provider.ProviderEvent, error) {
	idx := p.calls
	p.calls++
	ch := make(chan provider.ProviderEvent, 32)
	go func() {
		defer close(ch)
		if idx < len(p.turns) {
			for _, ev := range p.turns[idx] {
				ch <- ev
			}
		}
	}()
	return ch, nil
}

// mockResponseWriter captures WriteEvent/WriteResult calls for testing.
type mockResponseWriter struct {
	events       []api.NormalizedEvent
	result       *api.FinalResult
	writeResErr  error
}

func (w *mockResponseWriter) WriteEvent(_ context.Context, event api.NormalizedEvent) error {
	w.events = append(w.events, event)
	return nil
}

func (w *mockResponseWriter) WriteResult(_ context.Context, result *api.FinalResult) error {
	w.result = result
	return w.writeResErr
}

func (w *mockResponseWriter) Flush() error { return nil }

var _ transport.ResponseWriter = (*mockResponseWriter)(nil)

// echoExecutor is a mock tool executor that handles every tool call it's
// asked about, returning a canned string per tool name.
type echoExecutor struct {
	outputs map[string]string
}

func (e *echoExecutor) Kind() tools.ToolKind        { return tools.ToolKindMCP }
func (e *echoExecutor) CanExecute(name string) bool { return true }
func (e *echoExecutor) Execute(_ context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	out := "ok"
	if e.outputs != nil {
		if v, ok := e.outputs[call.Name]; ok {
			out = v
		}
	}
	return &tools.ToolResult{CallID: call.ID, Output: out}, nil
}

func textOnlyTurn(text string) []provider.ProviderEvent {
	return []provider.ProviderEvent{
		{Type: provider.ProviderEventTextDelta, Delta: text},
		{Type: provider.ProviderEventDone, FinishKind: provider.FinishStop, Usage: &api.UsageData{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10}},
	}
}

func baseRequest(model string) *api.CreateResponseRequest {
	return &api.CreateResponseRequest{
		Model: model,
		Input: []api.Item{{
			Type:    api.ItemTypeMessage,
			Message: &api.MessageData{Role: api.RoleUser, Content: []api.ContentPart{{Type: "input_text", Text: "hi"}}},
		}},
	}
}

func TestCreateResponse_NonStreaming_SingleTurn(t *testing.T) {
	prov := &turnAwareProvider{
		name: "mock",
		caps: provider.ProviderCapabilities{Streaming: true},
		turns: [][]provider.ProviderEvent{
			textOnlyTurn("hello there"),
		},
	}
	eng, err := New(prov, nil, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w := &mockResponseWriter{}
	req := baseRequest("m")
	if err := eng.CreateResponse(context.Background(), req, w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	if w.result == nil {
		t.Fatal("expected a WriteResult call for a non-streaming request")
	}
	if w.result.Message != "hello there" {
		t.Errorf("message = %q", w.result.Message)
	}
	if w.result.Status != api.FinalStatusCompleted {
		t.Errorf("status = %q", w.result.Status)
	}
	if w.result.Usage == nil || w.result.Usage.TotalTokens != 10 {
		t.Errorf("usage = %+v", w.result.Usage)
	}
	if len(w.events) != 0 {
		t.Errorf("non-streaming request should not receive WriteEvent calls, got %d", len(w.events))
	}
}

func TestCreateResponse_Streaming_EmitsStartAndDone(t *testing.T) {
	prov := &turnAwareProvider{
		name: "mock",
		caps: provider.ProviderCapabilities{Streaming: true},
		turns: [][]provider.ProviderEvent{
			textOnlyTurn("partial"),
		},
	}
	eng, err := New(prov, nil, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w := &mockResponseWriter{}
	req := baseRequest("m")
	req.Stream = true
	if err := eng.CreateResponse(context.Background(), req, w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	if w.result != nil {
		t.Error("streaming request should not receive a WriteResult call")
	}
	if len(w.events) == 0 {
		t.Fatal("expected streamed events")
	}
	if w.events[0].Type != api.EventStreamStart {
		t.Errorf("first event = %q, want stream.start", w.events[0].Type)
	}
	last := w.events[len(w.events)-1]
	if last.Type != api.EventDone {
		t.Errorf("last event = %q, want done", last.Type)
	}
}

func TestCreateResponse_MissingModel(t *testing.T) {
	prov := &turnAwareProvider{name: "mock", caps: provider.ProviderCapabilities{Streaming: true}}
	eng, _ := New(prov, nil, Config{})

	req := baseRequest("")
	err := eng.CreateResponse(context.Background(), req, &mockResponseWriter{})
	if err == nil {
		t.Fatal("expected an error for missing model with no default configured")
	}
}

func TestCreateResponse_DefaultModelApplied(t *testing.T) {
	prov := &turnAwareProvider{
		name: "mock",
		caps: provider.ProviderCapabilities{Streaming: true},
		turns: [][]provider.ProviderEvent{textOnlyTurn("ok")},
	}
	eng, _ := New(prov, nil, Config{DefaultModel: "fallback-model"})

	req := baseRequest("")
	w := &mockResponseWriter{}
	if err := eng.CreateResponse(context.Background(), req, w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if w.result.Model != "fallback-model" {
		t.Errorf("model = %q, want fallback-model", w.result.Model)
	}
}

func TestCreateResponse_ToolUseTwoTurns(t *testing.T) {
	toolCallTurn := []provider.ProviderEvent{
		{Type: provider.ProviderEventToolCallDelta, ToolCallIndex: 0, ToolCallID: "call_1", FunctionName: "get_weather", Delta: `{"city":"sf"}`},
		{Type: provider.ProviderEventToolCallDone, ToolCallIndex: 0, Delta: `{"city":"sf"}`},
		{Type: provider.ProviderEventDone, FinishKind: provider.FinishToolCalls},
	}

	prov := &turnAwareProvider{
		name: "mock",
		caps: provider.ProviderCapabilities{Streaming: true, ToolCalling: true},
		turns: [][]provider.ProviderEvent{
			toolCallTurn,
			textOnlyTurn("it's sunny"),
		},
	}

	exec := &echoExecutor{outputs: map[string]string{"get_weather": `{"temp":70}`}}
	eng, _ := New(prov, nil, Config{Executors: []tools.ToolExecutor{exec}})

	req := baseRequest("m")
	req.Tools = []api.ToolDefinition{{Type: "function", Name: "get_weather"}}
	w := &mockResponseWriter{}
	if err := eng.CreateResponse(context.Background(), req, w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	if w.result.Message != "it's sunny" {
		t.Errorf("final message = %q", w.result.Message)
	}
	if len(w.result.ToolResults) != 1 {
		t.Fatalf("expected 1 tool result, got %d", len(w.result.ToolResults))
	}
	if w.result.ToolResults[0].Content != `{"temp":70}` || !w.result.ToolResults[0].Success {
		t.Errorf("unexpected tool result: %+v", w.result.ToolResults[0])
	}

	// History should include: seed user message, assistant tool-call message,
	// tool-result message, final assistant message.
	if len(w.result.Messages) != 4 {
		t.Fatalf("expected 4 history messages, got %d: %+v", len(w.result.Messages), w.result.Messages)
	}
	if w.result.Messages[1].Role != api.RoleAssistant || len(w.result.Messages[1].ToolCalls) != 1 {
		t.Errorf("unexpected assistant message: %+v", w.result.Messages[1])
	}
	if w.result.Messages[2].Role != api.RoleTool || w.result.Messages[2].ToolCallID != "call_1" {
		t.Errorf("unexpected tool message: %+v", w.result.Messages[2])
	}
}

func TestCreateResponse_UnmatchedToolCallBecomesFailedResult(t *testing.T) {
	toolCallTurn := []provider.ProviderEvent{
		{Type: provider.ProviderEventToolCallDelta, ToolCallIndex: 0, ToolCallID: "call_1", FunctionName: "unknown_tool", Delta: `{}`},
		{Type: provider.ProviderEventToolCallDone, ToolCallIndex: 0, Delta: `{}`},
		{Type: provider.ProviderEventDone, FinishKind: provider.FinishToolCalls},
	}
	prov := &turnAwareProvider{
		name:  "mock",
		caps:  provider.ProviderCapabilities{Streaming: true, ToolCalling: true},
		turns: [][]provider.ProviderEvent{toolCallTurn, textOnlyTurn("done")},
	}
	// No executors registered at all.
	eng, _ := New(prov, nil, Config{})

	req := baseRequest("m")
	req.Tools = []api.ToolDefinition{{Type: "function", Name: "unknown_tool"}}
	w := &mockResponseWriter{}
	if err := eng.CreateResponse(context.Background(), req, w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if len(w.result.ToolResults) != 1 || w.result.ToolResults[0].Success {
		t.Fatalf("expected a single failed tool result, got %+v", w.result.ToolResults)
	}
}

func TestCreateResponse_PreviousResponseIDChainsHistory(t *testing.T) {
	store := &mockStore{
		results: map[string]*api.FinalResult{
			"resp_prior": {
				RequestID: "resp_prior",
				Messages: []api.ConversationMessage{
					{Role: api.RoleUser, Content: "first question"},
					{Role: api.RoleAssistant, Content: "first answer"},
				},
			},
		},
	}
	prov := &turnAwareProvider{
		name:  "mock",
		caps:  provider.ProviderCapabilities{Streaming: true},
		turns: [][]provider.ProviderEvent{textOnlyTurn("second answer")},
	}
	eng, _ := New(prov, store, Config{})

	req := baseRequest("m")
	req.PreviousResponseID = "resp_prior"
	w := &mockResponseWriter{}
	if err := eng.CreateResponse(context.Background(), req, w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if len(w.result.Messages) != 4 {
		t.Fatalf("expected chained history of 4 messages, got %d", len(w.result.Messages))
	}
	if w.result.Messages[0].Content != "first question" {
		t.Errorf("chain did not prepend prior history: %+v", w.result.Messages)
	}
}

func TestCreateResponse_PreviousResponseIDMissingErrors(t *testing.T) {
	store := &mockStore{}
	prov := &turnAwareProvider{name: "mock", caps: provider.ProviderCapabilities{Streaming: true}}
	eng, _ := New(prov, store, Config{})

	req := baseRequest("m")
	req.PreviousResponseID = "does_not_exist"
	if err := eng.CreateResponse(context.Background(), req, &mockResponseWriter{}); err == nil {
		t.Fatal("expected an error for an unknown previous_response_id")
	}
}

func TestCreateResponse_SavesStatefulResultAfterWrite(t *testing.T) {
	store := &mockStore{}
	prov := &turnAwareProvider{
		name:  "mock",
		caps:  provider.ProviderCapabilities{Streaming: true},
		turns: [][]provider.ProviderEvent{textOnlyTurn("saved")},
	}
	eng, _ := New(prov, store, Config{})

	req := baseRequest("m")
	w := &mockResponseWriter{}
	if err := eng.CreateResponse(context.Background(), req, w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if _, ok := store.results[w.result.RequestID]; !ok {
		t.Error("expected the result to be persisted to the store")
	}
}

func TestCreateResponse_StoreFalseSkipsSave(t *testing.T) {
	store := &mockStore{}
	prov := &turnAwareProvider{
		name:  "mock",
		caps:  provider.ProviderCapabilities{Streaming: true},
		turns: [][]provider.ProviderEvent{textOnlyTurn("not saved")},
	}
	eng, _ := New(prov, store, Config{})

	req := baseRequest("m")
	no := false
	req.Store = &no
	w := &mockResponseWriter{}
	if err := eng.CreateResponse(context.Background(), req, w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if len(store.results) != 0 {
		t.Error("expected no save when store=false")
	}
}
