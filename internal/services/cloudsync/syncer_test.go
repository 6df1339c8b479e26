package cloudsync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stackpanel/stackpanel/internal/cloudstack"
	"github.com/stackpanel/stackpanel/internal/config"
	"github.com/stackpanel/stackpanel/internal/domain"
	"github.com/stackpanel/stackpanel/internal/services/inventory"
)

type recordedEvent struct {
	Type   string
	Kind   domain.Kind
	SyncID int64
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) PublishSyncEvent(ctx context.Context, eventType string, kind domain.Kind, syncID int64, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Type: eventType, Kind: kind, SyncID: syncID})
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type heldLock struct{}

func (heldLock) TryLock(ctx context.Context, name string) (func(context.Context) error, error) {
	return nil, fmt.Errorf("lock %s: %w", name, domain.ErrConflict)
}

// reentrantLock grants the lock to every caller, like etcd mutexes sharing one session.
type reentrantLock struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (l *reentrantLock) TryLock(ctx context.Context, name string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

// blockingFetcher holds every listing until release is closed, or until the
// caller's context ends when honorCtx is set.
type blockingFetcher struct {
	started  chan struct{}
	release  chan struct{}
	honorCtx bool
	once     sync.Once
}

func newBlockingFetcher(honorCtx bool) *blockingFetcher {
	return &blockingFetcher{started: make(chan struct{}), release: make(chan struct{}), honorCtx: honorCtx}
}

func (f *blockingFetcher) List(ctx context.Context, command string, params cloudstack.Params) ([]*simplejson.Json, error) {
	f.once.Do(func() { close(f.started) })
	if f.honorCtx {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.release:
			return nil, nil
		}
	}
	<-f.release
	return nil, nil
}

func (f *blockingFetcher) ListOnce(ctx context.Context, command string, params cloudstack.Params) ([]*simplejson.Json, error) {
	return f.List(ctx, command, params)
}

type fakeInvalidator struct {
	mu    sync.Mutex
	kinds []domain.Kind
}

func (c *fakeInvalidator) InvalidateKind(ctx context.Context, kind domain.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = append(c.kinds, kind)
	return nil
}

type follower struct{}

func (follower) IsLeader() bool { return false }

type syncFixture struct {
	syncer  *Syncer
	fetcher *fakeFetcher
	zones   *inventory.Service[domain.Zone, *domain.Zone]
	pods    *inventory.Service[domain.Pod, *domain.Pod]
	events  *fakePublisher
}

func newSyncFixture(t *testing.T, opts ...Option) *syncFixture {
	t.Helper()
	reg := inventory.NewRegistry()
	f := &syncFixture{
		fetcher: newFakeFetcher(),
		zones:   register[domain.Zone](reg),
		pods:    register[domain.Pod](reg),
		events:  &fakePublisher{},
	}
	syncs := register[domain.ManualCloudSync](reg)

	cfg := config.SyncConfig{Concurrency: 2, OnConversionError: config.OnConversionErrorSkip}
	opts = append([]Option{
		WithBindings([]Binding{binding(t, domain.KindZone), binding(t, domain.KindPod)}),
		WithPublisher(f.events),
	}, opts...)
	f.syncer = NewSyncer(f.fetcher, reg, syncs, cfg, zap.NewNop(), opts...)

	f.fetcher.set(t, "listZones", `[{"id":"z1","name":"Zone A"}]`)
	f.fetcher.set(t, "listPods", `[{"id":"p1","name":"Pod 1","zoneid":"z1"}]`)
	return f
}

func TestSyncer_Run_Tiers(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	report, err := f.syncer.Run(ctx, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	require.Len(t, report.Results, 2)
	assert.Equal(t, domain.KindZone, report.Results[0].Kind)

	z1, err := f.zones.GetByKey(ctx, "z1")
	require.NoError(t, err)
	p1, err := f.pods.GetByKey(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, z1.ID, p1.ZoneID)

	assert.Equal(t, []domain.Kind{domain.KindZone, domain.KindPod}, f.syncer.Kinds())
}

func TestSyncer_Run_Subset(t *testing.T) {
	f := newSyncFixture(t)

	report, err := f.syncer.Run(context.Background(), 0, []domain.Kind{domain.KindPod})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, []string{"listPods"}, f.fetcher.calls)
}

func TestSyncer_Run_UnknownKind(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.syncer.Run(context.Background(), 0, []domain.Kind{domain.KindTax})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSyncer_Run_ContinuesPastFailedKind(t *testing.T) {
	f := newSyncFixture(t)
	f.fetcher.fail("listZones", domain.ErrUnavailable)

	report, err := f.syncer.Run(context.Background(), 0, nil)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	require.Len(t, report.Results, 2)
	assert.Equal(t, 1, report.Created)

	status, err := f.syncer.Status(context.Background())
	require.NoError(t, err)
	require.Contains(t, status, domain.KindZone)
	assert.NotEmpty(t, status[domain.KindZone].Errors)
	assert.Equal(t, 1, status[domain.KindPod].Created)
}

func TestSyncer_Trigger(t *testing.T) {
	f := newSyncFixture(t)
	ctx := domain.WithActor(context.Background(), 42)

	req, err := f.syncer.Trigger(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPending, req.SyncStatus)
	assert.Equal(t, int64(42), req.RequestedBy)

	f.syncer.Wait()

	done, err := f.syncer.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSucceeded, done.SyncStatus)
	assert.Equal(t, int64(2), done.Created)
	assert.Empty(t, done.Error)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, int64(2), done.Version)

	types := f.events.types()
	assert.Equal(t, EventSyncStarted, types[0])
	assert.Equal(t, EventSyncCompleted, types[len(types)-1])

	// the lock is released once the run finishes
	_, err = f.syncer.Trigger(ctx, []domain.Kind{domain.KindZone})
	require.NoError(t, err)
	f.syncer.Wait()
}

func TestSyncer_Trigger_Failure(t *testing.T) {
	f := newSyncFixture(t)
	f.fetcher.fail("listPods", domain.ErrUnavailable)
	ctx := context.Background()

	req, err := f.syncer.Trigger(ctx, nil)
	require.NoError(t, err)
	f.syncer.Wait()

	done, err := f.syncer.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFailed, done.SyncStatus)
	assert.Contains(t, done.Error, "listPods")
	assert.Equal(t, int64(1), done.Created)
}

func TestSyncer_Trigger_Locked(t *testing.T) {
	f := newSyncFixture(t, WithLocker(heldLock{}))

	_, err := f.syncer.Trigger(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, total, err := f.syncer.syncs.List(context.Background(), domain.ListFilter{IncludeInactive: true}, domain.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSyncer_Trigger_InProcessLock(t *testing.T) {
	f := newSyncFixture(t)

	release, err := f.syncer.acquire(context.Background())
	require.NoError(t, err)

	_, err = f.syncer.Trigger(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, release(context.Background()))
}

func TestSyncer_Start_SkipsWhenNotLeader(t *testing.T) {
	f := newSyncFixture(t, WithLeader(follower{}))
	f.syncer.cfg.Enabled = true
	f.syncer.cfg.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.syncer.Start(ctx)
	f.syncer.Wait()

	assert.Empty(t, f.fetcher.calls)
}

func TestSyncer_Start_RunsImmediately(t *testing.T) {
	f := newSyncFixture(t)
	f.syncer.cfg.Enabled = true
	f.syncer.cfg.Interval = time.Hour

	f.syncer.periodic(context.Background())

	assert.ElementsMatch(t, []string{"listZones", "listPods"}, f.fetcher.calls)
	assert.Contains(t, f.events.types(), EventSyncCompleted)
}

func TestSyncer_Start_Disabled(t *testing.T) {
	f := newSyncFixture(t)

	f.syncer.Start(context.Background())
	assert.Empty(t, f.fetcher.calls)
}

func newBlockingSyncer(t *testing.T, fetcher Fetcher, opts ...Option) (*Syncer, *ManualSyncs) {
	t.Helper()
	reg := inventory.NewRegistry()
	register[domain.Zone](reg)
	syncs := register[domain.ManualCloudSync](reg)
	opts = append([]Option{WithBindings([]Binding{binding(t, domain.KindZone)})}, opts...)
	cfg := config.SyncConfig{Concurrency: 1, Enabled: true, Interval: time.Hour}
	return NewSyncer(fetcher, reg, syncs, cfg, zap.NewNop(), opts...), syncs
}

func TestSyncer_Trigger_ExclusiveWithReentrantLocker(t *testing.T) {
	fetcher := newBlockingFetcher(false)
	locker := &reentrantLock{}
	syncer, syncs := newBlockingSyncer(t, fetcher, WithLocker(locker))
	ctx := context.Background()

	_, err := syncer.Trigger(ctx, nil)
	require.NoError(t, err)
	<-fetcher.started

	_, err = syncer.Trigger(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrConflict)

	// the periodic pass is skipped as well
	syncer.periodic(ctx)

	close(fetcher.release)
	syncer.Wait()

	_, total, err := syncs.List(ctx, domain.ListFilter{IncludeInactive: true}, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)
}

func TestSyncer_Shutdown_CancelsManualRun(t *testing.T) {
	fetcher := newBlockingFetcher(true)
	syncer, _ := newBlockingSyncer(t, fetcher)
	ctx := context.Background()

	req, err := syncer.Trigger(ctx, nil)
	require.NoError(t, err)
	<-fetcher.started

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, syncer.Shutdown(shutdownCtx))

	done, err := syncer.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFailed, done.SyncStatus)
	assert.Contains(t, done.Error, context.Canceled.Error())
}

func TestSyncer_Shutdown_StopsPeriodicLoop(t *testing.T) {
	fetcher := newBlockingFetcher(true)
	syncer, _ := newBlockingSyncer(t, fetcher)

	syncer.Start(context.Background())
	<-fetcher.started

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, syncer.Shutdown(shutdownCtx))
}

func TestSyncer_Shutdown_BoundedByContext(t *testing.T) {
	fetcher := newBlockingFetcher(false)
	syncer, _ := newBlockingSyncer(t, fetcher)

	_, err := syncer.Trigger(context.Background(), nil)
	require.NoError(t, err)
	<-fetcher.started

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = syncer.Shutdown(shutdownCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(fetcher.release)
	syncer.Wait()
}

func TestSyncer_Run_InvalidatesChangedKinds(t *testing.T) {
	cache := &fakeInvalidator{}
	f := newSyncFixture(t, WithInvalidator(cache))
	ctx := context.Background()

	_, err := f.syncer.Run(ctx, 0, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Kind{domain.KindZone, domain.KindPod}, cache.kinds)

	// nothing changed on the second pass
	_, err = f.syncer.Run(ctx, 0, nil)
	require.NoError(t, err)
	assert.Len(t, cache.kinds, 2)
}
