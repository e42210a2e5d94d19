package transport

import (
	"context"

	"github.com/relaybridge/relaybridge/pkg/api"
)

// ResponseCreator handles the core create-response operation.
// It is the primary handler contract, available in both stateless and
// stateful deployments. The implementation receives a request and writes
// the result (streaming events or a complete response) to the ResponseWriter.
type ResponseCreator interface {
	CreateResponse(ctx context.Context, req *api.CreateResponseRequest, w ResponseWriter) error
}

// ResponseCreatorFunc is an adapter that allows using an ordinary function
// as a ResponseCreator.
type ResponseCreatorFunc func(ctx context.Context, req *api.CreateResponseRequest, w ResponseWriter) error

// CreateResponse calls f(ctx, req, w).
func (f ResponseCreatorFunc) CreateResponse(ctx context.Context, req *api.CreateResponseRequest, w ResponseWriter) error {
	return f(ctx, req, w)
}

// ListOptions controls pagination, filtering, and ordering for list operations.
type ListOptions struct {
	After  string // Cursor: return items after this ID.
	Before string // Cursor: return items before this ID.
	Limit  int    // Maximum number of items to return (default 20, max 100).
	Model  string // Filter sessions by model name.
	Order  string // Sort order: "asc" or "desc" (default "desc").
}

// ResultList holds a paginated list of stored turn results.
type ResultList struct {
	Object  string             `json:"object"`
	Data    []*api.FinalResult `json:"data"`
	HasMore bool               `json:"has_more"`
	FirstID string             `json:"first_id"`
	LastID  string             `json:"last_id"`
}

// ResponseStore handles persistence, retrieval, and deletion of completed
// turns, keyed by request ID, so a later request can continue a prior
// conversation via previous_response_id. It is only available in stateful
// deployments with persistence configured. Unlike the teacher's storage of
// the full OpenResponses resource, only the conversation-chaining surface
// (FinalResult, including its unexported Messages) is persisted; there is
// no separate input-items listing endpoint since there is no longer a
// distinct request/response resource to enumerate parts of.
type ResponseStore interface {
	// SaveResult persists a completed turn to the store.
	SaveResult(ctx context.Context, result *api.FinalResult) error

	// GetResult retrieves a stored turn by request ID. Returns an error if
	// it does not exist or has been deleted (soft delete).
	GetResult(ctx context.Context, id string) (*api.FinalResult, error)

	// GetResultForChain retrieves a stored turn by ID for chain
	// reconstruction. Unlike GetResult, this includes soft-deleted turns so
	// that conversation chains remain intact when an intermediate turn has
	// been deleted.
	GetResultForChain(ctx context.Context, id string) (*api.FinalResult, error)

	// DeleteResult soft-deletes a stored turn by ID.
	DeleteResult(ctx context.Context, id string) error

	// ListResults returns a paginated list of stored turns. Results are
	// filtered by tenant (when present in context) and optionally by model.
	// Supports cursor-based pagination and ordering.
	ListResults(ctx context.Context, opts ListOptions) (*ResultList, error)

	// HealthCheck verifies the store connection is functional.
	HealthCheck(ctx context.Context) error

	// Close releases database connections and resources.
	Close() error
}

// ResponseWriter abstracts streaming and non-streaming output for the handler.
// The transport layer creates a ResponseWriter for each request and provides
// it to the handler. The handler uses WriteEvent for streaming responses or
// WriteResult for non-streaming responses.
//
// WriteEvent and WriteResult are mutually exclusive on a single writer
// instance. Calling WriteEvent after WriteResult (or vice versa) returns
// an error. Calling WriteEvent after a terminal event (done or error) also
// returns an error.
type ResponseWriter interface {
	// WriteEvent sends a single normalized streaming event. Returns an
	// error if called after a terminal event has been sent or after
	// WriteResult was called.
	WriteEvent(ctx context.Context, event api.NormalizedEvent) error

	// WriteResult sends a complete non-streaming result. Returns an error
	// if called after WriteEvent was called on this writer.
	WriteResult(ctx context.Context, result *api.FinalResult) error

	// Flush ensures buffered data is sent to the client. Returns an error
	// if the client has disconnected.
	Flush() error
}
