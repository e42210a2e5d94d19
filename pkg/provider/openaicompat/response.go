package openaicompat

import (
	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/provider"
)

// TranslateResponse converts a ChatCompletionResponse into a
// provider.ProviderResponse, already expressed in normalized terms.
// It uses only choices[0] and maps content, tool calls, finish reason,
// and usage.
func TranslateResponse(resp *ChatCompletionResponse) *provider.ProviderResponse {
	pr := &provider.ProviderResponse{
		Model:      resp.Model,
		FinishKind: provider.FinishStop,
	}

	if resp.Usage != nil {
		pr.Usage = api.UsageData{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	if len(resp.Choices) == 0 {
		return pr
	}

	choice := resp.Choices[0]
	pr.FinishKind = MapFinishReason(choice.FinishReason)

	if contentStr := ExtractContentString(choice.Message.Content); contentStr != "" {
		pr.Message = contentStr
	}

	if choice.Message.ReasoningContent != nil && *choice.Message.ReasoningContent != "" {
		pr.Reasoning = *choice.Message.ReasoningContent
	}

	for i, tc := range choice.Message.ToolCalls {
		pr.ToolCalls = append(pr.ToolCalls, api.ToolCallCompleteData{
			CallIndex:     i,
			ID:            tc.ID,
			Name:          tc.Function.Name,
			ArgumentsJSON: tc.Function.Arguments,
		})
	}

	return pr
}

// MapFinishReason converts a Chat Completions finish_reason string to a
// provider.FinishKind.
func MapFinishReason(reason string) provider.FinishKind {
	switch reason {
	case "tool_calls":
		return provider.FinishToolCalls
	case "length":
		return provider.FinishTruncated
	default:
		return provider.FinishStop
	}
}

// ExtractContentString attempts to get a plain string from the message content.
// The content field in Chat Completions can be a string or nil.
func ExtractContentString(content any) string {
	if content == nil {
		return ""
	}
	switch v := content.(type) {
	case string:
		return v
	default:
		return ""
	}
}
