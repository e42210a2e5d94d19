package engine

import (
	"context"
	"testing"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/transport"
)

// mockStore implements transport.ResponseStore for testing.
type mockStore struct {
	results map[string]*api.FinalResult
	deleted map[string]bool
}

var _ transport.ResponseStore = (*mockStore)(nil)

func (s *mockStore) SaveResult(_ context.Context, result *api.FinalResult) error {
	if s.results == nil {
		s.results = make(map[string]*api.FinalResult)
	}
	s.results[result.RequestID] = result
	return nil
}

func (s *mockStore) GetResult(_ context.Context, id string) (*api.FinalResult, error) {
	if s.deleted[id] {
		return nil, api.NewNotFoundError("response " + id + " not found")
	}
	if r, ok := s.results[id]; ok {
		return r, nil
	}
	return nil, api.NewNotFoundError("response " + id + " not found")
}

func (s *mockStore) GetResultForChain(_ context.Context, id string) (*api.FinalResult, error) {
	if r, ok := s.results[id]; ok {
		return r, nil
	}
	return nil, api.NewNotFoundError("response " + id + " not found")
}

func (s *mockStore) DeleteResult(_ context.Context, id string) error {
	if s.deleted == nil {
		s.deleted = make(map[string]bool)
	}
	s.deleted[id] = true
	return nil
}

func (s *mockStore) ListResults(_ context.Context, _ transport.ListOptions) (*transport.ResultList, error) {
	return &transport.ResultList{Object: "list"}, nil
}

func (s *mockStore) HealthCheck(_ context.Context) error { return nil }
func (s *mockStore) Close() error                        { return nil }

func TestLoadConversationHistory_ReturnsCumulativeMessages(t *testing.T) {
	store := &mockStore{
		results: map[string]*api.FinalResult{
			"resp_B": {
				RequestID: "resp_B",
				Messages: []api.ConversationMessage{
					{Role: api.RoleUser, Content: "Hello"},
					{Role: api.RoleAssistant, Content: "Hi there!"},
					{Role: api.RoleUser, Content: "How are you?"},
					{Role: api.RoleAssistant, Content: "I am fine."},
				},
			},
		},
	}

	msgs, err := loadConversationHistory(context.Background(), store, "resp_B")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages (the full cumulative chain), got %d", len(msgs))
	}
	if msgs[0].Content != "Hello" || msgs[3].Content != "I am fine." {
		t.Errorf("unexpected message order: %+v", msgs)
	}
}

func TestLoadConversationHistory_MissingResponse(t *testing.T) {
	store := &mockStore{}
	if _, err := loadConversationHistory(context.Background(), store, "nope"); err == nil {
		t.Fatal("expected error for missing response")
	}
}

func TestLoadConversationHistory_NilStore(t *testing.T) {
	if _, err := loadConversationHistory(context.Background(), nil, "resp_B"); err == nil {
		t.Fatal("expected error when no store is configured")
	}
}

func TestLoadConversationHistory_DeletedIntermediateStillChains(t *testing.T) {
	store := &mockStore{
		results: map[string]*api.FinalResult{
			"resp_B": {RequestID: "resp_B", Messages: []api.ConversationMessage{{Role: api.RoleUser, Content: "still here"}}},
		},
		deleted: map[string]bool{"resp_B": true},
	}

	// GetResultForChain must see through soft-deletion, unlike GetResult.
	msgs, err := loadConversationHistory(context.Background(), store, "resp_B")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected chain lookup to bypass soft-delete, got %d messages", len(msgs))
	}
}
