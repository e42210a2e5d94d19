// Package postgres provides a PostgreSQL implementation of transport.ResponseStore.
// It uses pgx/v5 for connection pooling and JSONB for structured result storage.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/storage"
	"github.com/relaybridge/relaybridge/pkg/transport"
)

// Store is a PostgreSQL-backed ResponseStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements transport.ResponseStore at compile time.
var _ transport.ResponseStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveResult persists a completed turn result.
func (s *Store) SaveResult(ctx context.Context, result *api.FinalResult) error {
	tenantID := storage.GetTenant(ctx)

	messagesJSON, err := json.Marshal(result.Messages)
	if err != nil {
		return fmt.Errorf("marshaling messages: %w", err)
	}

	citationsJSON, err := nullMarshal(result.Citations)
	if err != nil {
		return fmt.Errorf("marshaling citations: %w", err)
	}

	toolCallsJSON, err := nullMarshal(result.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshaling tool calls: %w", err)
	}

	toolResultsJSON, err := nullMarshal(result.ToolResults)
	if err != nil {
		return fmt.Errorf("marshaling tool results: %w", err)
	}

	errorJSON, err := nullMarshal(result.Error)
	if err != nil {
		return fmt.Errorf("marshaling error: %w", err)
	}

	var usagePrompt, usageCompletion, usageTotal int
	if result.Usage != nil {
		usagePrompt = result.Usage.PromptTokens
		usageCompletion = result.Usage.CompletionTokens
		usageTotal = result.Usage.TotalTokens
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO responses (
			request_id, tenant_id, model, previous_response_id, status,
			message, thinking, reasoning,
			citations, tool_calls, tool_results, messages,
			usage_prompt_tokens, usage_completion_tokens, usage_total_tokens,
			error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		result.RequestID, tenantID, result.Model, nullString(result.PreviousResponseID), string(result.Status),
		result.Message, result.Thinking, result.Reasoning,
		citationsJSON, toolCallsJSON, toolResultsJSON, messagesJSON,
		usagePrompt, usageCompletion, usageTotal,
		errorJSON, result.CreatedAt,
	)

	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting result: %w", err)
	}

	return nil
}

// GetResult retrieves a stored turn by request ID, excluding soft-deleted turns.
func (s *Store) GetResult(ctx context.Context, id string) (*api.FinalResult, error) {
	return s.getResult(ctx, id, true)
}

// GetResultForChain retrieves a stored turn by ID for chain reconstruction,
// including soft-deleted turns.
func (s *Store) GetResultForChain(ctx context.Context, id string) (*api.FinalResult, error) {
	return s.getResult(ctx, id, false)
}

// getResult is the internal retrieval implementation.
func (s *Store) getResult(ctx context.Context, id string, excludeDeleted bool) (*api.FinalResult, error) {
	tenantID := storage.GetTenant(ctx)

	query := `
		SELECT request_id, model, previous_response_id, status,
		       message, thinking, reasoning,
		       citations, tool_calls, tool_results, messages,
		       usage_prompt_tokens, usage_completion_tokens, usage_total_tokens,
		       error, created_at
		FROM responses
		WHERE request_id = $1
	`
	args := []any{id}
	argIdx := 2

	if excludeDeleted {
		query += " AND deleted_at IS NULL"
	}

	if tenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, tenantID)
	}

	var result api.FinalResult
	var status string
	var prevID *string
	var citationsJSON, toolCallsJSON, toolResultsJSON, messagesJSON, errorJSON []byte
	var usagePrompt, usageCompletion, usageTotal int

	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&result.RequestID, &result.Model, &prevID, &status,
		&result.Message, &result.Thinking, &result.Reasoning,
		&citationsJSON, &toolCallsJSON, &toolResultsJSON, &messagesJSON,
		&usagePrompt, &usageCompletion, &usageTotal,
		&errorJSON, &result.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying result: %w", err)
	}

	result.Status = api.FinalStatus(status)
	if prevID != nil {
		result.PreviousResponseID = *prevID
	}

	if len(citationsJSON) > 0 {
		if err := json.Unmarshal(citationsJSON, &result.Citations); err != nil {
			return nil, fmt.Errorf("unmarshaling citations: %w", err)
		}
	}
	if len(toolCallsJSON) > 0 {
		if err := json.Unmarshal(toolCallsJSON, &result.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshaling tool calls: %w", err)
		}
	}
	if len(toolResultsJSON) > 0 {
		if err := json.Unmarshal(toolResultsJSON, &result.ToolResults); err != nil {
			return nil, fmt.Errorf("unmarshaling tool results: %w", err)
		}
	}
	if len(messagesJSON) > 0 {
		if err := json.Unmarshal(messagesJSON, &result.Messages); err != nil {
			return nil, fmt.Errorf("unmarshaling messages: %w", err)
		}
	}
	if len(errorJSON) > 0 {
		var apiErr api.ErrorData
		if err := json.Unmarshal(errorJSON, &apiErr); err == nil {
			result.Error = &apiErr
		}
	}

	if usagePrompt != 0 || usageCompletion != 0 || usageTotal != 0 {
		result.Usage = &api.UsageData{
			PromptTokens:     usagePrompt,
			CompletionTokens: usageCompletion,
			TotalTokens:      usageTotal,
		}
	}

	return &result, nil
}

// DeleteResult soft-deletes a stored turn by setting deleted_at.
func (s *Store) DeleteResult(ctx context.Context, id string) error {
	tenantID := storage.GetTenant(ctx)

	query := "UPDATE responses SET deleted_at = $1 WHERE request_id = $2 AND deleted_at IS NULL"
	args := []any{time.Now(), id}

	if tenantID != "" {
		query += " AND tenant_id = $3"
		args = append(args, tenantID)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting result: %w", err)
	}

	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// ListResults returns a paginated list of stored turns filtered by tenant
// and optionally by model, with cursor-based pagination.
func (s *Store) ListResults(ctx context.Context, opts transport.ListOptions) (*transport.ResultList, error) {
	tenantID := storage.GetTenant(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	// displayDir is the order results are ultimately returned in.
	// queryDir is the order this particular query walks rows in: normally
	// the same as displayDir, but flipped for a Before cursor, which walks
	// backward from the cursor and then gets reversed into display order.
	displayDesc := opts.Order != "asc"
	queryDesc := displayDesc
	cmpOp := "<"
	if opts.Before != "" {
		queryDesc = !queryDesc
	}
	if !queryDesc {
		cmpOp = ">"
	}
	queryDir := "DESC"
	if !queryDesc {
		queryDir = "ASC"
	}

	query := `
		SELECT request_id, model, previous_response_id, status,
		       message, thinking, reasoning,
		       citations, tool_calls, tool_results, messages,
		       usage_prompt_tokens, usage_completion_tokens, usage_total_tokens,
		       error, created_at
		FROM responses
		WHERE deleted_at IS NULL
	`
	args := []any{}
	argIdx := 1

	if tenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, tenantID)
		argIdx++
	}
	if opts.Model != "" {
		query += fmt.Sprintf(" AND model = $%d", argIdx)
		args = append(args, opts.Model)
		argIdx++
	}

	cursor := opts.After
	if cursor == "" {
		cursor = opts.Before
	}
	if cursor != "" {
		query += fmt.Sprintf(` AND (created_at, request_id) %s (
			SELECT created_at, request_id FROM responses WHERE request_id = $%d
		)`, cmpOp, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at %s, request_id %s LIMIT $%d", queryDir, queryDir, argIdx)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	defer rows.Close()

	var matches []*api.FinalResult
	for rows.Next() {
		var result api.FinalResult
		var status string
		var prevID *string
		var citationsJSON, toolCallsJSON, toolResultsJSON, messagesJSON, errorJSON []byte
		var usagePrompt, usageCompletion, usageTotal int

		if err := rows.Scan(
			&result.RequestID, &result.Model, &prevID, &status,
			&result.Message, &result.Thinking, &result.Reasoning,
			&citationsJSON, &toolCallsJSON, &toolResultsJSON, &messagesJSON,
			&usagePrompt, &usageCompletion, &usageTotal,
			&errorJSON, &result.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}

		result.Status = api.FinalStatus(status)
		if prevID != nil {
			result.PreviousResponseID = *prevID
		}
		if len(citationsJSON) > 0 {
			_ = json.Unmarshal(citationsJSON, &result.Citations)
		}
		if len(toolCallsJSON) > 0 {
			_ = json.Unmarshal(toolCallsJSON, &result.ToolCalls)
		}
		if len(toolResultsJSON) > 0 {
			_ = json.Unmarshal(toolResultsJSON, &result.ToolResults)
		}
		if len(messagesJSON) > 0 {
			_ = json.Unmarshal(messagesJSON, &result.Messages)
		}
		if len(errorJSON) > 0 {
			var apiErr api.ErrorData
			if err := json.Unmarshal(errorJSON, &apiErr); err == nil {
				result.Error = &apiErr
			}
		}
		if usagePrompt != 0 || usageCompletion != 0 || usageTotal != 0 {
			result.Usage = &api.UsageData{
				PromptTokens:     usagePrompt,
				CompletionTokens: usageCompletion,
				TotalTokens:      usageTotal,
			}
		}

		matches = append(matches, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}

	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	if opts.Before != "" {
		// The Before cursor walked backward in the opposite direction to
		// find the nearest page; flip the page back into display order.
		for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
			matches[i], matches[j] = matches[j], matches[i]
		}
	}

	list := &transport.ResultList{
		Object:  "list",
		Data:    matches,
		HasMore: hasMore,
	}
	if len(matches) > 0 {
		list.FirstID = matches[0].RequestID
		list.LastID = matches[len(matches)-1].RequestID
	}
	if list.Data == nil {
		list.Data = []*api.FinalResult{}
	}

	return list, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullMarshal marshals v to JSON, returning nil for nullable JSONB columns
// when v is nil or an empty slice.
func nullMarshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" || string(b) == "[]" {
		return nil, nil
	}
	return b, nil
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	return err != nil && contains(err.Error(), "23505")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchString(s, substr)
}

func searchString(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
