package cloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stackpanel/stackpanel/internal/config"
	"github.com/stackpanel/stackpanel/internal/domain"
	"github.com/stackpanel/stackpanel/internal/services/inventory"
)

// LockName is the distributed lock held for the duration of a sync pass.
const LockName = "cloud-sync"

// recordTimeout bounds the write of a manual sync outcome.
const recordTimeout = 10 * time.Second

// statusPrefix is where per-kind results are kept.
const statusPrefix = "/stackpanel/sync/status/"

// Sync event types.
const (
	EventSyncStarted       = "sync.started"
	EventSyncKindCompleted = "sync.kind.completed"
	EventSyncCompleted     = "sync.completed"
	EventSyncFailed        = "sync.failed"
)

// Locker takes a named lock without waiting. *etcd.Client implements it.
type Locker interface {
	TryLock(ctx context.Context, name string) (func(context.Context) error, error)
}

// StatusStore keeps the last result of every kind. *etcd.Client implements it.
type StatusStore interface {
	Put(ctx context.Context, key string, value interface{}) error
	List(ctx context.Context, prefix string) (map[string]json.RawMessage, error)
}

// Publisher broadcasts sync progress. *redis.Cache implements it.
type Publisher interface {
	PublishSyncEvent(ctx context.Context, eventType string, kind domain.Kind, syncID int64, data interface{}) error
}

// KindInvalidator drops cached rows of a kind. *redis.Cache implements it.
type KindInvalidator interface {
	InvalidateKind(ctx context.Context, kind domain.Kind) error
}

// LeaderChecker reports whether this instance runs periodic passes. *etcd.Leader implements it.
type LeaderChecker interface {
	IsLeader() bool
}

// ManualSyncs is the service storing manual sync requests.
type ManualSyncs = inventory.Service[domain.ManualCloudSync, *domain.ManualCloudSync]

// Report summarizes a full pass.
type Report struct {
	Results     []*Result `json:"results"`
	Created     int       `json:"created"`
	Updated     int       `json:"updated"`
	Deactivated int       `json:"deactivated"`
	Failed      int       `json:"failed"`
}

func (r *Report) add(res *Result) {
	r.Results = append(r.Results, res)
	r.Created += res.Created
	r.Updated += res.Updated + res.Reactivated
	r.Deactivated += res.Deactivated
	r.Failed += res.Failed
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLocker coordinates passes across instances.
func WithLocker(l Locker) Option { return func(s *Syncer) { s.locker = l } }

// WithStatusStore replaces the in-process status store.
func WithStatusStore(st StatusStore) Option { return func(s *Syncer) { s.status = st } }

// WithPublisher publishes progress events.
func WithPublisher(p Publisher) Option { return func(s *Syncer) { s.events = p } }

// WithInvalidator drops a kind's cached rows after a pass that changed it, so a
// lookup that raced with a sync write cannot keep serving the old row.
func WithInvalidator(c KindInvalidator) Option { return func(s *Syncer) { s.cache = c } }

// WithLeader limits periodic passes to the elected leader.
func WithLeader(l LeaderChecker) Option { return func(s *Syncer) { s.leader = l } }

// WithBindings replaces DefaultBindings.
func WithBindings(b []Binding) Option {
	return func(s *Syncer) {
		s.bindings = make(map[domain.Kind]Binding, len(b))
		for _, binding := range b {
			s.bindings[binding.Kind] = binding
		}
	}
}

// Syncer runs sync passes over all bound kinds, tier by tier.
type Syncer struct {
	registry   *inventory.Registry
	syncs      *ManualSyncs
	reconciler *Reconciler
	bindings   map[domain.Kind]Binding
	cfg        config.SyncConfig

	locker Locker
	status StatusStore
	events Publisher
	cache  KindInvalidator
	leader LeaderChecker

	local sync.Mutex
	wg    sync.WaitGroup

	// done is canceled by Shutdown and stops every background pass.
	done context.Context
	stop context.CancelFunc

	logger *zap.Logger
}

// NewSyncer creates a syncer. Without options it locks in-process and keeps status in memory.
func NewSyncer(
	fetcher Fetcher,
	registry *inventory.Registry,
	syncs *ManualSyncs,
	cfg config.SyncConfig,
	logger *zap.Logger,
	opts ...Option,
) *Syncer {
	logger = logger.Named("cloudsync")
	done, stop := context.WithCancel(context.Background())
	s := &Syncer{
		registry:   registry,
		syncs:      syncs,
		reconciler: NewReconciler(fetcher, registry, cfg.OnConversionError, logger),
		cfg:        cfg,
		status:     newMemoryStatus(),
		done:       done,
		stop:       stop,
		logger:     logger,
	}
	WithBindings(DefaultBindings())(s)
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Concurrency <= 0 {
		s.cfg.Concurrency = 1
	}
	return s
}

// Kinds returns the synced kinds in tier order.
func (s *Syncer) Kinds() []domain.Kind {
	var kinds []domain.Kind
	for _, tier := range Tiers {
		for _, kind := range tier {
			if _, ok := s.bindings[kind]; ok {
				kinds = append(kinds, kind)
			}
		}
	}
	return kinds
}

func (s *Syncer) validate(kinds []domain.Kind) error {
	for _, kind := range kinds {
		if _, ok := s.bindings[kind]; !ok {
			return fmt.Errorf("%w: %q is not synced from CloudStack", domain.ErrInvalidArgument, kind)
		}
	}
	return nil
}

// acquire takes the sync lock or fails with domain.ErrConflict.
// The in-process lock is always taken first: the distributed lock only excludes
// other instances, since one etcd session may take its own mutex again.
func (s *Syncer) acquire(ctx context.Context) (func(context.Context) error, error) {
	if !s.local.TryLock() {
		return nil, fmt.Errorf("sync already running: %w", domain.ErrConflict)
	}
	if s.locker == nil {
		return func(context.Context) error {
			s.local.Unlock()
			return nil
		}, nil
	}

	release, err := s.locker.TryLock(ctx, LockName)
	if err != nil {
		s.local.Unlock()
		return nil, err
	}
	return func(ctx context.Context) error {
		defer s.local.Unlock()
		return release(ctx)
	}, nil
}

// Run performs one pass over kinds, or every bound kind when kinds is empty.
// Kinds in one tier run concurrently up to the configured concurrency. A failing
// kind does not stop the others; all failures are returned joined.
func (s *Syncer) Run(ctx context.Context, syncID int64, kinds []domain.Kind) (*Report, error) {
	if err := s.validate(kinds); err != nil {
		return nil, err
	}

	report := &Report{}
	var (
		mu   sync.Mutex
		errs []error
	)

	for _, tier := range Tiers {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)

		for _, kind := range tier {
			b, ok := s.bindings[kind]
			if !ok || (len(kinds) > 0 && !slices.Contains(kinds, kind)) {
				continue
			}

			g.Go(func() error {
				res, err := s.runKind(gctx, syncID, b)
				mu.Lock()
				defer mu.Unlock()
				if res != nil {
					report.add(res)
				}
				if err != nil {
					errs = append(errs, err)
				}
				return gctx.Err()
			})
		}

		if err := g.Wait(); err != nil {
			return report, err
		}
	}

	return report, errors.Join(errs...)
}

func (s *Syncer) runKind(ctx context.Context, syncID int64, b Binding) (*Result, error) {
	res, err := s.registry.Resource(b.Kind)
	if err != nil {
		return nil, err
	}

	result, err := s.reconciler.Reconcile(ctx, b, res)
	if err != nil {
		s.logger.Error("Kind sync failed", zap.String("kind", string(b.Kind)), zap.Error(err))
		result.fail(err)
	}

	if s.cache != nil && result.changed() {
		if cacheErr := s.cache.InvalidateKind(ctx, b.Kind); cacheErr != nil {
			s.logger.Warn("Failed to invalidate cached kind", zap.String("kind", string(b.Kind)), zap.Error(cacheErr))
		}
	}

	if putErr := s.status.Put(ctx, statusPrefix+string(b.Kind), result); putErr != nil {
		s.logger.Warn("Failed to store sync status", zap.String("kind", string(b.Kind)), zap.Error(putErr))
	}
	s.publish(ctx, EventSyncKindCompleted, b.Kind, syncID, result)

	return result, err
}

// Trigger records a manual sync request and runs it in the background.
// It fails with domain.ErrConflict while another pass holds the lock.
func (s *Syncer) Trigger(ctx context.Context, kinds []domain.Kind) (*domain.ManualCloudSync, error) {
	if err := s.validate(kinds); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	req, err := s.syncs.Create(ctx, &domain.ManualCloudSync{
		Kinds:       kinds,
		SyncStatus:  domain.SyncPending,
		RequestedBy: domain.ActorFromContext(ctx),
	})
	if err != nil {
		s.releaseLock(release)
		return nil, fmt.Errorf("failed to record sync request: %w", err)
	}

	s.logger.Info("Manual sync requested",
		zap.Int64("sync_id", req.ID),
		zap.Int64("requested_by", req.RequestedBy),
		zap.Int("kinds", len(kinds)),
	)

	// the run outlives the request but not the syncer
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopOnShutdown := context.AfterFunc(s.done, cancel)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer stopOnShutdown()
		defer s.releaseLock(release)
		s.runManual(runCtx, req)
	}()

	return req, nil
}

func (s *Syncer) runManual(ctx context.Context, req *domain.ManualCloudSync) {
	now := time.Now().UTC()
	req.SyncStatus = domain.SyncRunning
	req.StartedAt = &now
	req, err := s.syncs.Update(ctx, req)
	if err != nil {
		s.logger.Error("Failed to mark sync running", zap.Error(err))
		return
	}
	s.publish(ctx, EventSyncStarted, "", req.ID, req)

	report, runErr := s.Run(ctx, req.ID, req.Kinds)

	finished := time.Now().UTC()
	req.FinishedAt = &finished
	if report != nil {
		req.Created = int64(report.Created)
		req.Updated = int64(report.Updated)
		req.Deactivated = int64(report.Deactivated)
		req.Failed = int64(report.Failed)
	}
	req.SyncStatus = domain.SyncSucceeded
	event := EventSyncCompleted
	if runErr != nil {
		req.SyncStatus = domain.SyncFailed
		req.Error = runErr.Error()
		event = EventSyncFailed
	}

	// recorded even when the run was canceled by shutdown
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	recorded, err := s.syncs.Update(recordCtx, req)
	if err != nil {
		s.logger.Error("Failed to record sync outcome", zap.Int64("sync_id", req.ID), zap.Error(err))
		return
	}
	req = recorded
	s.publish(recordCtx, event, "", req.ID, req)

	s.logger.Info("Manual sync finished",
		zap.Int64("sync_id", req.ID),
		zap.String("status", string(req.SyncStatus)),
		zap.Int64("created", req.Created),
		zap.Int64("updated", req.Updated),
		zap.Int64("deactivated", req.Deactivated),
		zap.Int64("failed", req.Failed),
	)
}

// Get returns a manual sync request.
func (s *Syncer) Get(ctx context.Context, id int64) (*domain.ManualCloudSync, error) {
	return s.syncs.Get(ctx, id)
}

// Status returns the last stored result of each kind.
func (s *Syncer) Status(ctx context.Context) (map[domain.Kind]*Result, error) {
	raw, err := s.status.List(ctx, statusPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Kind]*Result, len(raw))
	for key, value := range raw {
		var result Result
		if err := json.Unmarshal(value, &result); err != nil {
			s.logger.Warn("Skipping unreadable sync status", zap.String("key", key), zap.Error(err))
			continue
		}
		out[domain.Kind(strings.TrimPrefix(key, statusPrefix))] = &result
	}
	return out, nil
}

// Start launches the periodic loop in the background: a pass immediately and then
// every interval until ctx is done or Shutdown is called. Passes are skipped while
// another instance is leader or holds the lock.
func (s *Syncer) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.cfg.Interval <= 0 {
		s.logger.Info("Periodic sync disabled")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

func (s *Syncer) loop(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(s.done, cancel)()

	s.logger.Info("Starting periodic sync", zap.Duration("interval", s.cfg.Interval))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.periodic(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("Stopping periodic sync")
			return
		case <-ticker.C:
		}
	}
}

func (s *Syncer) periodic(ctx context.Context) {
	if s.leader != nil && !s.leader.IsLeader() {
		s.logger.Debug("Not leader, skipping periodic sync")
		return
	}

	release, err := s.acquire(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Debug("Sync already running, skipping periodic sync")
		} else {
			s.logger.Warn("Failed to acquire sync lock", zap.Error(err))
		}
		return
	}
	defer s.releaseLock(release)

	start := time.Now()
	report, err := s.Run(ctx, 0, nil)
	if err != nil {
		s.logger.Warn("Periodic sync finished with errors", zap.Error(err))
		s.publish(ctx, EventSyncFailed, "", 0, report)
		return
	}
	s.logger.Info("Periodic sync finished",
		zap.Duration("duration", time.Since(start)),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("deactivated", report.Deactivated),
		zap.Int("failed", report.Failed),
	)
	s.publish(ctx, EventSyncCompleted, "", 0, report)
}

// Wait blocks until background passes have finished.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

// Shutdown cancels running passes and waits for them until ctx is done.
// Manual requests interrupted this way are recorded as FAILED.
func (s *Syncer) Shutdown(ctx context.Context) error {
	s.stop()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sync did not stop: %w", ctx.Err())
	}
}

func (s *Syncer) releaseLock(release func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := release(ctx); err != nil {
		s.logger.Warn("Failed to release sync lock", zap.Error(err))
	}
}

func (s *Syncer) publish(ctx context.Context, eventType string, kind domain.Kind, syncID int64, data interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSyncEvent(ctx, eventType, kind, syncID, data); err != nil {
		s.logger.Warn("Failed to publish sync event", zap.String("type", eventType), zap.Error(err))
	}
}

// memoryStatus is the StatusStore used without etcd.
type memoryStatus struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

func newMemoryStatus() *memoryStatus {
	return &memoryStatus{data: make(map[string]json.RawMessage)}
}

func (m *memoryStatus) Put(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = raw
	return nil
}

func (m *memoryStatus) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]json.RawMessage)
	for key, value := range m.data {
		if strings.HasPrefix(key, prefix) {
			out[key] = value
		}
	}
	return out, nil
}
