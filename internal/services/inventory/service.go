// Package inventory provides the audit-stamping service layer over the entity repositories.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackpanel/stackpanel/internal/domain"
)

// Cache is the optional read-through cache for key lookups. *redis.Cache implements it.
type Cache interface {
	GetEntity(ctx context.Context, kind domain.Kind, key string, dest domain.Entity) error
	SetEntity(ctx context.Context, e domain.Entity) error
	InvalidateEntity(ctx context.Context, kind domain.Kind, key string) error
}

// Service stamps audit columns on every write and delegates storage to a repository.
// Rows are never removed; Deactivate flags them INACTIVE.
type Service[T any, PT domain.EntityPtr[T]] struct {
	kind   domain.Kind
	repo   domain.Repository[PT]
	cache  Cache
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a service for the kind stored in repo. cache may be nil.
// Kinds that hold secrets are never cached.
func NewService[T any, PT domain.EntityPtr[T]](repo domain.Repository[PT], cache Cache, logger *zap.Logger) *Service[T, PT] {
	kind := PT(new(T)).Kind()
	if _, ok := any(PT(new(T))).(domain.SecretKeeper); ok {
		cache = nil
	}
	return &Service[T, PT]{
		kind:   kind,
		repo:   repo,
		cache:  cache,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(zap.String("service", string(kind))),
	}
}

// Kind returns the entity kind served.
func (s *Service[T, PT]) Kind() domain.Kind {
	return s.kind
}

// Create stores a new entity on behalf of the actor in ctx.
// The stored row is ACTIVE unless e says otherwise, has version 0, and gets a uuid when e has none.
func (s *Service[T, PT]) Create(ctx context.Context, e PT) (PT, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: %s is required", domain.ErrInvalidArgument, s.kind)
	}

	out := domain.Clone(e)
	m := out.GetMeta()
	actor := domain.ActorFromContext(ctx)
	now := s.now()

	m.ID = 0
	m.Version = 0
	if m.Status == "" {
		m.Status = domain.StatusActive
	}
	if m.UUID == "" {
		m.UUID = uuid.NewString()
	}
	if out.Key() == "" {
		return nil, fmt.Errorf("%w: %s key is required", domain.ErrInvalidArgument, s.kind)
	}
	m.CreatedBy = actor
	m.UpdatedBy = actor
	m.CreatedAt = now
	m.UpdatedAt = now

	created, err := s.repo.Create(ctx, out)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Created entity",
		zap.Int64("id", created.GetMeta().ID),
		zap.String("key", created.Key()),
		zap.Int64("actor", actor),
	)
	return created, nil
}

// Get retrieves an entity by local id.
func (s *Service[T, PT]) Get(ctx context.Context, id int64) (PT, error) {
	return s.repo.Get(ctx, id)
}

// GetByKey retrieves an entity by external key, through the cache when one is configured.
func (s *Service[T, PT]) GetByKey(ctx context.Context, key string) (PT, error) {
	if key == "" {
		return nil, domain.ErrNotFound
	}

	if s.cache != nil {
		cached := PT(new(T))
		if err := s.cache.GetEntity(ctx, s.kind, key, cached); err == nil {
			return cached, nil
		}
	}

	e, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetEntity(ctx, e); err != nil {
			s.logger.Warn("Failed to cache entity", zap.String("key", key), zap.Error(err))
		}
	}
	return e, nil
}

// List returns entities matching filter in id order and the total match count.
func (s *Service[T, PT]) List(ctx context.Context, filter domain.ListFilter, page domain.Page) ([]PT, int64, error) {
	if page.Limit < 0 || page.Offset < 0 {
		return nil, 0, fmt.Errorf("%w: negative page bounds", domain.ErrInvalidArgument)
	}
	return s.repo.List(ctx, filter, page)
}

// Update writes e if its version is current. The repository bumps the version.
// The uuid, status and creation audit columns are taken from the stored row:
// an empty uuid keeps the stored one, a different one is rejected, and status
// only changes through Deactivate and Activate.
func (s *Service[T, PT]) Update(ctx context.Context, e PT) (PT, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: %s is required", domain.ErrInvalidArgument, s.kind)
	}

	stored, err := s.repo.Get(ctx, e.GetMeta().ID)
	if err != nil {
		return nil, err
	}
	sm := stored.GetMeta()

	out := domain.Clone(e)
	m := out.GetMeta()
	switch m.UUID {
	case "":
		m.UUID = sm.UUID
	case sm.UUID:
	default:
		return nil, fmt.Errorf("%w: %s uuid cannot change", domain.ErrInvalidArgument, s.kind)
	}
	m.Status = sm.Status
	m.CreatedBy = sm.CreatedBy
	m.CreatedAt = sm.CreatedAt
	if out.Key() == "" {
		return nil, fmt.Errorf("%w: %s key is required", domain.ErrInvalidArgument, s.kind)
	}

	return s.save(ctx, out, stored.Key())
}

// save stamps the update audit columns and writes out, dropping cached copies
// under previousKey and the new key.
func (s *Service[T, PT]) save(ctx context.Context, out PT, previousKey string) (PT, error) {
	m := out.GetMeta()
	m.UpdatedBy = domain.ActorFromContext(ctx)
	m.UpdatedAt = s.now()

	updated, err := s.repo.Update(ctx, out)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Debug("Stale update rejected", zap.Int64("id", m.ID), zap.Int64("version", m.Version))
		}
		return nil, err
	}

	s.invalidate(ctx, previousKey)
	if updated.Key() != previousKey {
		s.invalidate(ctx, updated.Key())
	}
	return updated, nil
}

// Deactivate soft-deletes the row with id, provided version is current.
// Deactivating an inactive row is a no-op that still checks the version.
func (s *Service[T, PT]) Deactivate(ctx context.Context, id int64, version int64) (PT, error) {
	return s.setStatus(ctx, id, version, domain.StatusInactive)
}

// Activate reverses Deactivate.
func (s *Service[T, PT]) Activate(ctx context.Context, id int64, version int64) (PT, error) {
	return s.setStatus(ctx, id, version, domain.StatusActive)
}

func (s *Service[T, PT]) setStatus(ctx context.Context, id, version int64, status domain.RecordStatus) (PT, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m := e.GetMeta()
	if m.Version != version {
		return nil, domain.ErrConflict
	}
	if m.Status == status {
		return e, nil
	}

	m.Status = status
	updated, err := s.save(ctx, e, e.Key())
	if err != nil {
		return nil, err
	}

	s.logger.Info("Changed entity status",
		zap.Int64("id", id),
		zap.String("key", updated.Key()),
		zap.String("status", string(status)),
	)
	return updated, nil
}

func (s *Service[T, PT]) invalidate(ctx context.Context, key string) {
	if s.cache == nil || key == "" {
		return
	}
	if err := s.cache.InvalidateEntity(ctx, s.kind, key); err != nil {
		s.logger.Warn("Failed to invalidate cached entity", zap.String("key", key), zap.Error(err))
	}
}

// Resource returns the type-erased view of the service.
func (s *Service[T, PT]) Resource() Resource {
	return resource[T, PT]{svc: s}
}
