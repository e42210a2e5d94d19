package engine

import (
	"context"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/transport"
)

// loadConversationHistory returns the full conversation message history
// through a prior turn, identified by its request ID. A stored
// FinalResult's Messages field already holds the cumulative history up to
// and including that turn (the orchestrator appends to it every
// iteration), so reconstructing previous_response_id chaining is a single
// lookup rather than a walk back through every ancestor turn.
func loadConversationHistory(ctx context.Context, store transport.ResponseStore, responseID string) ([]api.ConversationMessage, error) {
	if store == nil {
		return nil, api.NewInvalidRequestError("previous_response_id", "conversation chaining requires a response store")
	}

	result, err := store.GetResultForChain(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, api.NewNotFoundError("response " + responseID + " not found")
	}

	return result.Messages, nil
}
