package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/stackpanel/stackpanel/internal/domain"
)

// Resource is a Service with the entity type erased, for callers that pick the kind at runtime.
type Resource interface {
	Kind() domain.Kind
	// New returns an empty entity of the resource's kind, ready to decode into.
	New() domain.Entity
	Create(ctx context.Context, e domain.Entity) (domain.Entity, error)
	Get(ctx context.Context, id int64) (domain.Entity, error)
	GetByKey(ctx context.Context, key string) (domain.Entity, error)
	List(ctx context.Context, filter domain.ListFilter, page domain.Page) ([]domain.Entity, int64, error)
	Update(ctx context.Context, e domain.Entity) (domain.Entity, error)
	Deactivate(ctx context.Context, id int64, version int64) (domain.Entity, error)
	Activate(ctx context.Context, id int64, version int64) (domain.Entity, error)
}

type resource[T any, PT domain.EntityPtr[T]] struct {
	svc *Service[T, PT]
}

func (r resource[T, PT]) Kind() domain.Kind  { return r.svc.kind }
func (r resource[T, PT]) New() domain.Entity { return PT(new(T)) }

func (r resource[T, PT]) typed(e domain.Entity) (PT, error) {
	t, ok := e.(PT)
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: expected %s, got %T", domain.ErrInvalidArgument, r.svc.kind, e)
	}
	return t, nil
}

func (r resource[T, PT]) Create(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	t, err := r.typed(e)
	if err != nil {
		return nil, err
	}
	return erase(r.svc.Create(ctx, t))
}

func (r resource[T, PT]) Get(ctx context.Context, id int64) (domain.Entity, error) {
	return erase(r.svc.Get(ctx, id))
}

func (r resource[T, PT]) GetByKey(ctx context.Context, key string) (domain.Entity, error) {
	return erase(r.svc.GetByKey(ctx, key))
}

func (r resource[T, PT]) List(ctx context.Context, filter domain.ListFilter, page domain.Page) ([]domain.Entity, int64, error) {
	items, total, err := r.svc.List(ctx, filter, page)
	if err != nil {
		return nil, 0, err
	}
	out := make([]domain.Entity, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out, total, nil
}

func (r resource[T, PT]) Update(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	t, err := r.typed(e)
	if err != nil {
		return nil, err
	}
	return erase(r.svc.Update(ctx, t))
}

func (r resource[T, PT]) Deactivate(ctx context.Context, id int64, version int64) (domain.Entity, error) {
	return erase(r.svc.Deactivate(ctx, id, version))
}

func (r resource[T, PT]) Activate(ctx context.Context, id int64, version int64) (domain.Entity, error) {
	return erase(r.svc.Activate(ctx, id, version))
}

// erase keeps a failed call from returning a non-nil interface around a nil pointer.
func erase[E domain.Entity](e E, err error) (domain.Entity, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Registry maps kinds to their resources.
type Registry struct {
	mu        sync.RWMutex
	resources map[domain.Kind]Resource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{resources: make(map[domain.Kind]Resource)}
}

// Register adds res, replacing any resource of the same kind.
func (r *Registry) Register(res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[res.Kind()] = res
}

// Resource returns the resource for kind.
func (r *Registry) Resource(kind domain.Kind) (Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.resources[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrNotFound, kind)
	}
	return res, nil
}

// Kinds returns the registered kinds in schema order.
func (r *Registry) Kinds() []domain.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]domain.Kind, 0, len(r.resources))
	for _, kind := range domain.AllKinds {
		if _, ok := r.resources[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// ResolveID returns the local id of the kind row with external key.
// An empty key resolves to 0 without error.
func (r *Registry) ResolveID(ctx context.Context, kind domain.Kind, key string) (int64, error) {
	if key == "" {
		return 0, nil
	}
	res, err := r.Resource(kind)
	if err != nil {
		return 0, err
	}
	e, err := res.GetByKey(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("resolve %s %q: %w", kind, key, err)
	}
	return e.GetMeta().ID, nil
}
