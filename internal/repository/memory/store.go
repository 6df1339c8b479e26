// Package memory provides in-memory repository implementations for development and testing.
// These repositories store data in memory and are not persistent across restarts.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/stackpanel/stackpanel/internal/domain"
)

// Ensure Store implements domain.Repository
var _ domain.Repository[*domain.Zone] = (*Store[domain.Zone, *domain.Zone])(nil)

// Store is an in-memory repository for one entity kind.
type Store[T any, PT domain.EntityPtr[T]] struct {
	mu     sync.RWMutex
	nextID int64
	data   map[int64]PT
	keys   map[string]int64
}

// NewStore creates a new in-memory store.
func NewStore[T any, PT domain.EntityPtr[T]]() *Store[T, PT] {
	return &Store[T, PT]{
		data: make(map[int64]PT),
		keys: make(map[string]int64),
	}
}

// Create stores a new entity and assigns its id. The stored version is 0.
func (s *Store[T, PT]) Create(ctx context.Context, e PT) (PT, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := e.Key()
	if key != "" {
		if _, ok := s.keys[key]; ok {
			return nil, domain.ErrAlreadyExists
		}
	}

	stored := domain.Clone(e)
	m := stored.GetMeta()
	s.nextID++
	m.ID = s.nextID
	m.Version = 0
	if m.Status == "" {
		m.Status = domain.StatusActive
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	s.data[m.ID] = stored
	if key != "" {
		s.keys[key] = m.ID
	}

	return domain.Clone(stored), nil
}

// Get retrieves an entity by id.
func (s *Store[T, PT]) Get(ctx context.Context, id int64) (PT, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return domain.Clone(e), nil
}

// GetByKey retrieves an entity by its external key.
func (s *Store[T, PT]) GetByKey(ctx context.Context, key string) (PT, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keys[key]
	if !ok || key == "" {
		return nil, domain.ErrNotFound
	}
	return domain.Clone(s.data[id]), nil
}

// List returns entities matching the filter in id order, with the total match count.
func (s *Store[T, PT]) List(ctx context.Context, filter domain.ListFilter, page domain.Page) ([]PT, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []PT
	for _, e := range s.data {
		if matchesFilter(e, filter) {
			matched = append(matched, e)
		}
	}
	slices.SortFunc(matched, func(a, b PT) int {
		return cmp.Compare(a.GetMeta().ID, b.GetMeta().ID)
	})

	total := int64(len(matched))

	if page.Offset > 0 {
		if page.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[page.Offset:]
		}
	}
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}

	result := make([]PT, 0, len(matched))
	for _, e := range matched {
		result = append(result, domain.Clone(e))
	}
	return result, total, nil
}

// Update replaces an entity if e's version matches the stored one.
// The stored copy gets version+1; created columns are kept from the stored row.
func (s *Store[T, PT]) Update(ctx context.Context, e PT) (PT, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := e.GetMeta()
	current, ok := s.data[m.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cm := current.GetMeta()
	if cm.Version != m.Version {
		return nil, domain.ErrConflict
	}

	oldKey, newKey := current.Key(), e.Key()
	if newKey != oldKey && newKey != "" {
		if _, taken := s.keys[newKey]; taken {
			return nil, domain.ErrAlreadyExists
		}
	}

	stored := domain.Clone(e)
	sm := stored.GetMeta()
	sm.Version = cm.Version + 1
	sm.CreatedAt = cm.CreatedAt
	sm.CreatedBy = cm.CreatedBy
	sm.UpdatedAt = time.Now()

	s.data[sm.ID] = stored
	if newKey != oldKey {
		delete(s.keys, oldKey)
		if newKey != "" {
			s.keys[newKey] = sm.ID
		}
	}

	return domain.Clone(stored), nil
}

// matchesFilter checks status and a case-insensitive substring over the search fields.
func matchesFilter(e domain.Entity, filter domain.ListFilter) bool {
	if !filter.IncludeInactive && !e.GetMeta().IsActive() {
		return false
	}
	if filter.Search == "" {
		return true
	}
	needle := strings.ToLower(filter.Search)
	for _, field := range e.SearchText() {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}
