package vllm

import (
	"github.com/relaybridge/relaybridge/pkg/provider"
	"github.com/relaybridge/relaybridge/pkg/provider/openaicompat"
)

// translateToChat delegates to openaicompat.TranslateToChat.
func translateToChat(req *provider.ProviderRequest) chatCompletionRequest {
	return openaicompat.TranslateToChat(req)
}
