// Package memory provides an in-memory implementation of
// transport.ResponseStore for testing and lightweight deployments.
// Turns are stored in memory and lost when the process restarts. Optional
// LRU eviction limits memory usage.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/storage"
	"github.com/relaybridge/relaybridge/pkg/transport"
)

// entry holds a stored turn result and its metadata.
type entry struct {
	result    *api.FinalResult
	tenantID  string
	deletedAt *time.Time
	lruElem   *list.Element // position in LRU list
}

// Store is an in-memory ResponseStore with optional LRU eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
}

// Ensure Store implements transport.ResponseStore at compile time.
var _ transport.ResponseStore = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the oldest entry is evicted when the
// limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveResult persists a completed turn in memory.
func (s *Store) SaveResult(ctx context.Context, result *api.FinalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[result.RequestID]; exists {
		return storage.ErrConflict
	}

	tenantID := storage.GetTenant(ctx)

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(result.RequestID)
	s.entries[result.RequestID] = &entry{
		result:   result,
		tenantID: tenantID,
		lruElem:  elem,
	}

	return nil
}

// GetResult retrieves a stored turn by request ID. Returns ErrNotFound if
// it does not exist or has been soft-deleted. Scoped by tenant when a
// tenant is present in the context. A successful lookup marks the entry
// as most recently used.
func (s *Store) GetResult(ctx context.Context, id string) (*api.FinalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.deletedAt != nil {
		return nil, storage.ErrNotFound
	}

	tenantID := storage.GetTenant(ctx)
	if tenantID != "" && e.tenantID != tenantID {
		return nil, storage.ErrNotFound
	}

	s.lruList.MoveToFront(e.lruElem)
	return e.result, nil
}

// GetResultForChain retrieves a stored turn by ID for chain
// reconstruction. Includes soft-deleted turns so conversation chains
// remain intact when an intermediate turn has been deleted.
func (s *Store) GetResultForChain(ctx context.Context, id string) (*api.FinalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	tenantID := storage.GetTenant(ctx)
	if tenantID != "" && e.tenantID != tenantID {
		return nil, storage.ErrNotFound
	}

	return e.result, nil
}

// DeleteResult soft-deletes a stored turn. The data remains available for
// chain reconstruction via GetResultForChain.
func (s *Store) DeleteResult(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}

	tenantID := storage.GetTenant(ctx)
	if tenantID != "" && e.tenantID != tenantID {
		return storage.ErrNotFound
	}

	now := time.Now()
	e.deletedAt = &now
	return nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// ListResults returns a paginated list of stored turns filtered by tenant
// and optionally by model, with cursor-based pagination.
func (s *Store) ListResults(ctx context.Context, opts transport.ListOptions) (*transport.ResultList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenantID := storage.GetTenant(ctx)

	var matches []*api.FinalResult
	for _, e := range s.entries {
		if e.deletedAt != nil {
			continue
		}
		if tenantID != "" && e.tenantID != tenantID {
			continue
		}
		if opts.Model != "" && e.result.Model != opts.Model {
			continue
		}
		matches = append(matches, e.result)
	}

	asc := opts.Order == "asc"
	sort.Slice(matches, func(i, j int) bool {
		if asc {
			if matches[i].CreatedAt != matches[j].CreatedAt {
				return matches[i].CreatedAt < matches[j].CreatedAt
			}
			return matches[i].RequestID < matches[j].RequestID
		}
		if matches[i].CreatedAt != matches[j].CreatedAt {
			return matches[i].CreatedAt > matches[j].CreatedAt
		}
		return matches[i].RequestID > matches[j].RequestID
	})

	if opts.After != "" {
		idx := -1
		for i, r := range matches {
			if r.RequestID == opts.After {
				idx = i
				break
			}
		}
		if idx >= 0 {
			matches = matches[idx+1:]
		} else {
			matches = nil
		}
	} else if opts.Before != "" {
		idx := -1
		for i, r := range matches {
			if r.RequestID == opts.Before {
				idx = i
				break
			}
		}
		if idx > 0 {
			matches = matches[:idx]
		} else {
			matches = nil
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	result := &transport.ResultList{
		Object:  "list",
		Data:    matches,
		HasMore: hasMore,
	}
	if len(matches) > 0 {
		result.FirstID = matches[0].RequestID
		result.LastID = matches[len(matches)-1].RequestID
	}
	if result.Data == nil {
		result.Data = []*api.FinalResult{}
	}

	return result, nil
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}

	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}
