package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/stackpanel/stackpanel/internal/cloudstack"
	"github.com/stackpanel/stackpanel/internal/config"
	"github.com/stackpanel/stackpanel/internal/domain"
	"github.com/stackpanel/stackpanel/internal/services/inventory"
)

// listPageSize bounds each read of local rows.
const listPageSize = 500

// ErrConversionAborted is returned when conversion failures stop a kind under the abort policy.
var ErrConversionAborted = errors.New("conversion failures under abort policy")

// Fetcher lists CloudStack records. *cloudstack.Client implements it.
type Fetcher interface {
	List(ctx context.Context, command string, params cloudstack.Params) ([]*simplejson.Json, error)
	ListOnce(ctx context.Context, command string, params cloudstack.Params) ([]*simplejson.Json, error)
}

// Resolver maps a parent's external key to its local id. *inventory.Registry implements it.
type Resolver interface {
	ResolveID(ctx context.Context, kind domain.Kind, key string) (int64, error)
}

// Result summarizes one kind's pass.
type Result struct {
	Kind        domain.Kind `json:"kind"`
	Fetched     int         `json:"fetched"`
	Created     int         `json:"created"`
	Updated     int         `json:"updated"`
	Reactivated int         `json:"reactivated"`
	Deactivated int         `json:"deactivated"`
	Unchanged   int         `json:"unchanged"`
	Failed      int         `json:"failed"`
	Conflicts   int         `json:"conflicts"`
	Errors      []string    `json:"errors,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
}

func (r *Result) fail(err error) {
	r.Errors = append(r.Errors, err.Error())
}

func (r *Result) changed() bool {
	return r.Created+r.Updated+r.Reactivated+r.Deactivated > 0
}

// Reconciler applies one kind's remote listing to its local rows.
type Reconciler struct {
	fetcher  Fetcher
	resolver Resolver
	policy   string
	logger   *zap.Logger
}

// NewReconciler creates a reconciler. policy is config.OnConversionErrorSkip or config.OnConversionErrorAbort.
func NewReconciler(fetcher Fetcher, resolver Resolver, policy string, logger *zap.Logger) *Reconciler {
	if policy == "" {
		policy = config.OnConversionErrorSkip
	}
	return &Reconciler{
		fetcher:  fetcher,
		resolver: resolver,
		policy:   policy,
		logger:   logger.Named("reconciler"),
	}
}

// Reconcile fetches b's listing and makes res match it:
// remote records missing locally are created, changed or inactive ones are updated,
// and active local rows missing remotely are deactivated unless b is append-only.
// Records that failed conversion are never written and never deactivated.
func (r *Reconciler) Reconcile(ctx context.Context, b Binding, res inventory.Resource) (*Result, error) {
	result := &Result{Kind: b.Kind, StartedAt: time.Now().UTC()}
	defer func() { result.FinishedAt = time.Now().UTC() }()

	logger := r.logger.With(zap.String("kind", string(b.Kind)))

	items, err := r.fetch(ctx, b)
	if err != nil {
		return result, fmt.Errorf("fetch %s: %w", b.Command, err)
	}
	result.Fetched = len(items)

	remote, failures, err := b.Convert(items)
	if err != nil {
		return result, fmt.Errorf("convert %s: %w", b.Kind, err)
	}

	failedKeys := mapset.NewThreadUnsafeSet[string]()
	for _, f := range failures {
		result.Failed++
		result.fail(f)
		if f.Key != "" {
			failedKeys.Add(f.Key)
		}
	}
	if len(failures) > 0 {
		if r.policy == config.OnConversionErrorAbort {
			errs := make([]error, len(failures))
			for i, f := range failures {
				errs[i] = f
			}
			return result, fmt.Errorf("%s: %d records: %w: %w", b.Kind, len(failures), ErrConversionAborted, errors.Join(errs...))
		}
		logger.Warn("Skipping records that failed conversion",
			zap.Int("failed", len(failures)),
			zap.Error(failures[0]),
		)
	}

	local, err := loadAll(ctx, res)
	if err != nil {
		return result, fmt.Errorf("load local %s: %w", b.Kind, err)
	}

	remoteKeys := mapset.NewThreadUnsafeSet[string]()
	for key := range remote {
		remoteKeys.Add(key)
	}
	localKeys := mapset.NewThreadUnsafeSet[string]()
	activeKeys := mapset.NewThreadUnsafeSet[string]()
	for key, e := range local {
		localKeys.Add(key)
		if lo, ok := e.(domain.LocalOnly); ok && lo.IsLocal() {
			continue
		}
		if e.GetMeta().IsActive() {
			activeKeys.Add(key)
		}
	}

	toCreate := remoteKeys.Difference(localKeys)
	toDeactivate := activeKeys.Difference(remoteKeys).Difference(failedKeys)
	if b.AppendOnly {
		toDeactivate.Clear()
	}

	refs := newRefCache(r.resolver)
	for _, key := range parentFirst(b.Kind, remote) {
		e := remote[key]
		if err := refs.resolve(ctx, e); err != nil {
			return result, err
		}

		if toCreate.Contains(key) {
			if _, err := res.Create(ctx, e); err != nil {
				result.fail(fmt.Errorf("create %s %q: %w", b.Kind, key, err))
				continue
			}
			result.Created++
			continue
		}

		if err := r.update(ctx, res, result, e, local[key]); err != nil {
			result.fail(err)
		}
	}

	deactivations := toDeactivate.ToSlice()
	slices.Sort(deactivations)
	for _, key := range deactivations {
		if err := r.deactivate(ctx, res, result, local[key]); err != nil {
			result.fail(err)
		}
	}

	logger.Info("Reconciled kind",
		zap.Int("fetched", result.Fetched),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("reactivated", result.Reactivated),
		zap.Int("deactivated", result.Deactivated),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (r *Reconciler) fetch(ctx context.Context, b Binding) ([]*simplejson.Json, error) {
	if b.Unpaged {
		return r.fetcher.ListOnce(ctx, b.Command, b.Params)
	}
	return r.fetcher.List(ctx, b.Command, b.Params)
}

// update writes remote over stored when they differ and reactivates stored when it is inactive.
// A stale version is retried once against a fresh read.
func (r *Reconciler) update(ctx context.Context, res inventory.Resource, result *Result, remote, stored domain.Entity) error {
	for attempt := 0; ; attempt++ {
		err := r.apply(ctx, res, result, remote, stored)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt > 0 {
			if errors.Is(err, domain.ErrConflict) {
				result.Conflicts++
			}
			return fmt.Errorf("update %s %q: %w", remote.Kind(), remote.Key(), err)
		}

		stored, err = res.Get(ctx, stored.GetMeta().ID)
		if err != nil {
			return fmt.Errorf("reload %s %q: %w", remote.Kind(), remote.Key(), err)
		}
	}
}

func (r *Reconciler) apply(ctx context.Context, res inventory.Resource, result *Result, remote, stored domain.Entity) error {
	wasActive := stored.GetMeta().IsActive()
	candidate, changed, err := merge(res.New(), remote, stored)
	if err != nil {
		return err
	}
	if !changed && wasActive {
		result.Unchanged++
		return nil
	}

	current := stored
	if changed {
		if current, err = res.Update(ctx, candidate); err != nil {
			return err
		}
	}
	if wasActive {
		result.Updated++
		return nil
	}

	m := current.GetMeta()
	if _, err := res.Activate(ctx, m.ID, m.Version); err != nil {
		return err
	}
	result.Reactivated++
	return nil
}

func (r *Reconciler) deactivate(ctx context.Context, res inventory.Resource, result *Result, stored domain.Entity) error {
	m := stored.GetMeta()
	_, err := res.Deactivate(ctx, m.ID, m.Version)
	if errors.Is(err, domain.ErrConflict) {
		fresh, getErr := res.Get(ctx, m.ID)
		if getErr != nil {
			return fmt.Errorf("reload %s %q: %w", stored.Kind(), stored.Key(), getErr)
		}
		_, err = res.Deactivate(ctx, m.ID, fresh.GetMeta().Version)
		if errors.Is(err, domain.ErrConflict) {
			result.Conflicts++
		}
	}
	if err != nil {
		return fmt.Errorf("deactivate %s %q: %w", stored.Kind(), stored.Key(), err)
	}
	result.Deactivated++
	return nil
}

// merge fills the empty candidate with the row to write for a freshly converted remote record.
// The candidate keeps the stored identity, version, status and locally owned fields.
// remote itself is left untouched.
func merge(candidate, remote, stored domain.Entity) (domain.Entity, bool, error) {
	raw, err := json.Marshal(remote)
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(raw, candidate); err != nil {
		return nil, false, err
	}

	*candidate.GetMeta() = *stored.GetMeta()
	if keeper, ok := candidate.(domain.LocalFieldKeeper); ok {
		keeper.KeepLocalFields(stored)
	}

	a, err := json.Marshal(candidate)
	if err != nil {
		return nil, false, err
	}
	b, err := json.Marshal(stored)
	if err != nil {
		return nil, false, err
	}
	return candidate, !bytes.Equal(a, b), nil
}

// loadAll reads every local row of res, inactive ones included, keyed by external key.
func loadAll(ctx context.Context, res inventory.Resource) (map[string]domain.Entity, error) {
	rows := make(map[string]domain.Entity)
	filter := domain.ListFilter{IncludeInactive: true}
	for offset := 0; ; offset += listPageSize {
		page, total, err := res.List(ctx, filter, domain.Page{Limit: listPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			if key := e.Key(); key != "" {
				rows[key] = e
			}
		}
		if len(page) < listPageSize || int64(offset+len(page)) >= total {
			return rows, nil
		}
	}
}

// parentFirst orders remote keys so a record referencing another record of the
// same kind comes after it. Otherwise keys are sorted.
func parentFirst(kind domain.Kind, remote map[string]domain.Entity) []string {
	keys := make([]string, 0, len(remote))
	for key := range remote {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	ordered := make([]string, 0, len(keys))
	visited := make(map[string]bool, len(keys))
	var visit func(key string)
	visit = func(key string) {
		if visited[key] {
			return
		}
		visited[key] = true
		if referrer, ok := remote[key].(domain.Referrer); ok {
			for _, ref := range referrer.References() {
				if ref.Kind == kind && ref.Key != key {
					if _, ok := remote[ref.Key]; ok {
						visit(ref.Key)
					}
				}
			}
		}
		ordered = append(ordered, key)
	}
	for _, key := range keys {
		visit(key)
	}
	return ordered
}

// refCache resolves parent references for the duration of one pass.
type refCache struct {
	resolver Resolver
	ids      map[domain.Kind]map[string]int64
}

func newRefCache(resolver Resolver) *refCache {
	return &refCache{resolver: resolver, ids: make(map[domain.Kind]map[string]int64)}
}

// resolve fills e's parent id slots. Parents that do not exist locally resolve to 0.
func (c *refCache) resolve(ctx context.Context, e domain.Entity) error {
	referrer, ok := e.(domain.Referrer)
	if !ok {
		return nil
	}
	for _, ref := range referrer.References() {
		if ref.Key == "" {
			*ref.Target = 0
			continue
		}
		if id, ok := c.ids[ref.Kind][ref.Key]; ok {
			*ref.Target = id
			continue
		}
		id, err := c.resolver.ResolveID(ctx, ref.Kind, ref.Key)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("resolve %s parent of %s %q: %w", ref.Kind, e.Kind(), e.Key(), err)
			}
			*ref.Target = 0
			continue
		}
		if c.ids[ref.Kind] == nil {
			c.ids[ref.Kind] = make(map[string]int64)
		}
		c.ids[ref.Kind][ref.Key] = id
		*ref.Target = id
	}
	return nil
}
