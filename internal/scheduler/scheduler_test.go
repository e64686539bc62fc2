package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varhub-io/varhub/internal/config"
	"github.com/varhub-io/varhub/internal/entity"
	"github.com/varhub-io/varhub/internal/normalize"
	"github.com/varhub-io/varhub/internal/sources"
	"github.com/varhub-io/varhub/internal/status"
	"github.com/varhub-io/varhub/internal/store"
	"github.com/varhub-io/varhub/pkg/version"
)

// stubAdapter scripts fetch and parse behavior per test
type stubAdapter struct {
	mu      sync.Mutex
	fetches int
	fetchFn func(attempt int) (*sources.FetchResult, error)
	records []sources.RawRecord
}

func (a *stubAdapter) Fetch(_ context.Context) (*sources.FetchResult, error) {
	a.mu.Lock()
	a.fetches++
	attempt := a.fetches
	a.mu.Unlock()
	return a.fetchFn(attempt)
}

func (a *stubAdapter) Parse(_ []byte) ([]sources.RawRecord, []sources.RecordError) {
	return a.records, nil
}

func (a *stubAdapter) fetchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches
}

// stubFactory hands out one adapter per source name
type stubFactory struct {
	adapters map[string]*stubAdapter
}

func (f *stubFactory) CreateAdapter(cfg *config.SourceConfig) (sources.Adapter, error) {
	adapter, ok := f.adapters[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("no stub adapter for %s", cfg.Name)
	}
	return adapter, nil
}

func testSettings() config.SchedulerSettings {
	return config.SchedulerSettings{
		MaxConcurrent:  2,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		FetchTimeout:   time.Second,
	}
}

func manualSource(name string, priority int) *config.SourceConfig {
	return &config.SourceConfig{
		Name:     name,
		Priority: priority,
		Format:   config.FormatJSON,
		Profile:  normalize.ProfileGeneric,
		HTTP:     &config.HTTPConfig{Endpoint: "http://example.invalid/" + name},
	}
}

type fixture struct {
	scheduler *Scheduler
	store     *store.Store
	tracker   *status.Tracker
}

func newFixture(t *testing.T, factory sources.AdapterFactory, cfgs ...*config.SourceConfig) *fixture {
	t.Helper()

	registry := sources.NewRegistry()
	for _, cfg := range cfgs {
		require.NoError(t, registry.Register(cfg))
	}

	tracker, err := status.NewTracker(context.Background(), status.NewFilePersistence(t.TempDir()))
	require.NoError(t, err)

	st := store.New()
	sched := New(registry, factory, normalize.New(), st, tracker, testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sched.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = sched.Stop()
	})

	// Wait for the source loops to come up.
	require.Eventually(t, func() bool {
		sched.mu.Lock()
		defer sched.mu.Unlock()
		return len(sched.loops) == len(cfgs)
	}, time.Second, 5*time.Millisecond)

	return &fixture{scheduler: sched, store: st, tracker: tracker}
}

func waitForPhase(t *testing.T, tracker *status.Tracker, source string, phase status.Phase) status.SourceStatus {
	t.Helper()
	var st status.SourceStatus
	require.Eventually(t, func() bool {
		var ok bool
		st, ok = tracker.Status(source)
		return ok && st.Phase == phase
	}, 5*time.Second, 5*time.Millisecond, "source %s never reached phase %s", source, phase)
	return st
}

func TestScheduler_ManualRefreshCommitsData(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{
		fetchFn: func(int) (*sources.FetchResult, error) {
			return sources.NewFetchResult([]byte(`payload-1`), version.Version{}), nil
		},
		records: []sources.RawRecord{
			{Ordinal: 1, Values: map[string]string{"variant_id": "GRCh38:7:100:A:T", "gene": "BRAF"}},
		},
	}
	factory := &stubFactory{adapters: map[string]*stubAdapter{"clinvar": adapter}}
	fx := newFixture(t, factory, manualSource("clinvar", 1))

	require.NoError(t, fx.scheduler.TriggerRefresh("clinvar"))

	st := waitForPhase(t, fx.tracker, "clinvar", status.PhaseUpdated)
	assert.Equal(t, 1, st.EntityCount)
	assert.NotEmpty(t, st.Fingerprint)

	v, err := fx.store.Get(entity.ID("GRCh38:7:100:A:T"))
	require.NoError(t, err)
	gene, _ := v.Get(entity.FieldGene)
	assert.Equal(t, "BRAF", gene)
	assert.Equal(t, "clinvar", v.Fields[entity.FieldGene].Provenance.Source)
}

func TestScheduler_UnchangedPayloadSkipsMerge(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{
		fetchFn: func(int) (*sources.FetchResult, error) {
			return sources.NewFetchResult([]byte(`same-payload`), version.Version{}), nil
		},
		records: []sources.RawRecord{
			{Ordinal: 1, Values: map[string]string{"variant_id": "GRCh38:1:1:A:C", "gene": "EGFR"}},
		},
	}
	factory := &stubFactory{adapters: map[string]*stubAdapter{"civic": adapter}}
	fx := newFixture(t, factory, manualSource("civic", 1))

	require.NoError(t, fx.scheduler.TriggerRefresh("civic"))
	first := waitForPhase(t, fx.tracker, "civic", status.PhaseUpdated)

	require.NoError(t, fx.scheduler.TriggerRefresh("civic"))
	second := waitForPhase(t, fx.tracker, "civic", status.PhaseUnchanged)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, 1, fx.store.EntityCount())
}

func TestScheduler_TransientFailuresRetryThenSucceed(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{
		fetchFn: func(attempt int) (*sources.FetchResult, error) {
			if attempt < 3 {
				return nil, sources.NewFetchError("clinvar", errors.New("connection reset"))
			}
			return sources.NewFetchResult([]byte(`ok`), version.Version{}), nil
		},
		records: []sources.RawRecord{
			{Ordinal: 1, Values: map[string]string{"variant_id": "GRCh38:2:2:G:T", "gene": "ALK"}},
		},
	}
	factory := &stubFactory{adapters: map[string]*stubAdapter{"clinvar": adapter}}
	fx := newFixture(t, factory, manualSource("clinvar", 1))

	require.NoError(t, fx.scheduler.TriggerRefresh("clinvar"))
	waitForPhase(t, fx.tracker, "clinvar", status.PhaseUpdated)
	assert.Equal(t, 3, adapter.fetchCount())
}

func TestScheduler_ExhaustedRetriesRetainLastGoodData(t *testing.T) {
	t.Parallel()

	var failing bool
	var mu sync.Mutex
	adapter := &stubAdapter{
		records: []sources.RawRecord{
			{Ordinal: 1, Values: map[string]string{"variant_id": "GRCh38:3:3:C:G", "gene": "KRAS"}},
		},
	}
	adapter.fetchFn = func(int) (*sources.FetchResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return nil, sources.NewFetchError("clinvar", errors.New("upstream 503"))
		}
		return sources.NewFetchResult([]byte(`good`), version.Version{}), nil
	}
	factory := &stubFactory{adapters: map[string]*stubAdapter{"clinvar": adapter}}
	fx := newFixture(t, factory, manualSource("clinvar", 1))

	require.NoError(t, fx.scheduler.TriggerRefresh("clinvar"))
	good := waitForPhase(t, fx.tracker, "clinvar", status.PhaseUpdated)

	mu.Lock()
	failing = true
	mu.Unlock()
	before := adapter.fetchCount()

	require.NoError(t, fx.scheduler.TriggerRefresh("clinvar"))
	failed := waitForPhase(t, fx.tracker, "clinvar", status.PhaseFailed)

	// Retried up to the configured ceiling, then gave up.
	assert.Equal(t, 3, adapter.fetchCount()-before)
	assert.Equal(t, 1, failed.ConsecutiveFailures)
	assert.Contains(t, failed.LastError, "upstream 503")

	// Last committed state still tracked and still served.
	assert.Equal(t, good.Fingerprint, failed.Fingerprint)
	_, err := fx.store.Get(entity.ID("GRCh38:3:3:C:G"))
	assert.NoError(t, err)
}

func TestScheduler_NonTransientErrorDoesNotRetry(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{
		fetchFn: func(int) (*sources.FetchResult, error) {
			return nil, errors.New("malformed endpoint")
		},
	}
	factory := &stubFactory{adapters: map[string]*stubAdapter{"clinvar": adapter}}
	fx := newFixture(t, factory, manualSource("clinvar", 1))

	require.NoError(t, fx.scheduler.TriggerRefresh("clinvar"))
	waitForPhase(t, fx.tracker, "clinvar", status.PhaseFailed)
	assert.Equal(t, 1, adapter.fetchCount())
}

func TestScheduler_TriggerUnknownSource(t *testing.T) {
	t.Parallel()

	factory := &stubFactory{adapters: map[string]*stubAdapter{}}
	fx := newFixture(t, factory)

	err := fx.scheduler.TriggerRefresh("nope")
	assert.ErrorIs(t, err, sources.ErrUnknownSource)
}

func TestScheduler_DeregisterSourceRemovesEverything(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{
		fetchFn: func(int) (*sources.FetchResult, error) {
			return sources.NewFetchResult([]byte(`payload`), version.Version{}), nil
		},
		records: []sources.RawRecord{
			{Ordinal: 1, Values: map[string]string{"variant_id": "GRCh38:4:4:T:A", "gene": "PTEN"}},
		},
	}
	factory := &stubFactory{adapters: map[string]*stubAdapter{"civic": adapter}}
	fx := newFixture(t, factory, manualSource("civic", 1))

	require.NoError(t, fx.scheduler.TriggerRefresh("civic"))
	waitForPhase(t, fx.tracker, "civic", status.PhaseUpdated)

	require.NoError(t, fx.scheduler.DeregisterSource(context.Background(), "civic"))

	assert.Equal(t, 0, fx.store.EntityCount())
	_, ok := fx.tracker.Status("civic")
	assert.False(t, ok)
	assert.ErrorIs(t, fx.scheduler.TriggerRefresh("civic"), sources.ErrUnknownSource)

	// Deregistering again stays quiet.
	require.NoError(t, fx.scheduler.DeregisterSource(context.Background(), "civic"))
}

func TestScheduler_ScheduledSourceRefreshesOnInterval(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{
		fetchFn: func(int) (*sources.FetchResult, error) {
			return sources.NewFetchResult([]byte(`payload`), version.Version{}), nil
		},
		records: []sources.RawRecord{
			{Ordinal: 1, Values: map[string]string{"variant_id": "GRCh38:5:5:G:C", "gene": "RB1"}},
		},
	}
	cfg := manualSource("clinvar", 1)
	cfg.RefreshPolicy = &config.RefreshPolicyConfig{Interval: "20ms"}
	factory := &stubFactory{adapters: map[string]*stubAdapter{"clinvar": adapter}}
	fx := newFixture(t, factory, cfg)

	// No trigger needed; the interval drives it.
	waitForPhase(t, fx.tracker, "clinvar", status.PhaseUpdated)
	assert.GreaterOrEqual(t, adapter.fetchCount(), 1)
}

func TestScheduler_ScheduledSourceRefreshesAtStartup(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{
		fetchFn: func(int) (*sources.FetchResult, error) {
			return sources.NewFetchResult([]byte(`payload`), version.Version{}), nil
		},
		records: []sources.RawRecord{
			{Ordinal: 1, Values: map[string]string{"variant_id": "GRCh38:6:6:C:G", "gene": "MET"}},
		},
	}
	cfg := manualSource("clinvar", 1)
	cfg.RefreshPolicy = &config.RefreshPolicyConfig{Interval: "1h"}
	factory := &stubFactory{adapters: map[string]*stubAdapter{"clinvar": adapter}}
	fx := newFixture(t, factory, cfg)

	// The loop refreshes once on start; nothing waits for the interval.
	waitForPhase(t, fx.tracker, "clinvar", status.PhaseUpdated)
	assert.Equal(t, 1, fx.store.EntityCount())
}

func TestScheduler_RestartRepopulatesStoreOnUnchangedPayload(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{
		fetchFn: func(int) (*sources.FetchResult, error) {
			return sources.NewFetchResult([]byte(`stable-payload`), version.Version{}), nil
		},
		records: []sources.RawRecord{
			{Ordinal: 1, Values: map[string]string{"variant_id": "GRCh38:8:8:A:G", "gene": "KRAS"}},
		},
	}
	factory := &stubFactory{adapters: map[string]*stubAdapter{"clinvar": adapter}}
	cfg := manualSource("clinvar", 1)
	stateDir := t.TempDir()

	// First process lifetime commits one entity and persists the fingerprint.
	registry := sources.NewRegistry()
	require.NoError(t, registry.Register(cfg))
	tracker, err := status.NewTracker(context.Background(), status.NewFilePersistence(stateDir))
	require.NoError(t, err)
	st := store.New()
	sched := New(registry, factory, normalize.New(), st, tracker, testSettings())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sched.Start(ctx) }()
	require.Eventually(t, func() bool {
		return sched.TriggerRefresh("clinvar") == nil
	}, time.Second, 5*time.Millisecond)
	first := waitForPhase(t, tracker, "clinvar", status.PhaseUpdated)
	require.Equal(t, 1, st.EntityCount())
	cancel()
	require.NoError(t, sched.Stop())

	// Second lifetime: same persistence, empty store, identical payload. The
	// persisted fingerprint matches but the merge must still run.
	registry = sources.NewRegistry()
	require.NoError(t, registry.Register(cfg))
	tracker, err = status.NewTracker(context.Background(), status.NewFilePersistence(stateDir))
	require.NoError(t, err)
	st = store.New()
	sched = New(registry, factory, normalize.New(), st, tracker, testSettings())
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Start(ctx) }()
	t.Cleanup(func() { _ = sched.Stop() })

	require.Eventually(t, func() bool {
		return sched.TriggerRefresh("clinvar") == nil
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return st.EntityCount() == 1
	}, 5*time.Second, 5*time.Millisecond, "store never repopulated after restart")

	second, ok := tracker.Status("clinvar")
	require.True(t, ok)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

// factoryFunc adapts a function to the AdapterFactory interface
type factoryFunc func(cfg *config.SourceConfig) (sources.Adapter, error)

func (f factoryFunc) CreateAdapter(cfg *config.SourceConfig) (sources.Adapter, error) {
	return f(cfg)
}

// holdingAdapter commits one payload, then parks every later fetch until its
// context is cancelled.
type holdingAdapter struct {
	stubAdapter
	holding chan struct{}
}

func (a *holdingAdapter) Fetch(ctx context.Context) (*sources.FetchResult, error) {
	a.mu.Lock()
	a.fetches++
	attempt := a.fetches
	a.mu.Unlock()
	if attempt == 1 {
		return sources.NewFetchResult([]byte(`payload-1`), version.Version{}), nil
	}
	a.holding <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestScheduler_DeregisterDuringRefreshLeavesConsistentState(t *testing.T) {
	t.Parallel()

	adapter := &holdingAdapter{
		stubAdapter: stubAdapter{
			records: []sources.RawRecord{
				{Ordinal: 1, Values: map[string]string{"variant_id": "GRCh38:9:9:G:A", "gene": "NRAS"}},
			},
		},
		holding: make(chan struct{}),
	}
	factory := factoryFunc(func(*config.SourceConfig) (sources.Adapter, error) {
		return adapter, nil
	})
	fx := newFixture(t, factory, manualSource("civic", 1))

	require.NoError(t, fx.scheduler.TriggerRefresh("civic"))
	waitForPhase(t, fx.tracker, "civic", status.PhaseUpdated)
	require.Equal(t, 1, fx.store.EntityCount())

	// Second refresh blocks inside the fetch; deregister mid-flight.
	require.NoError(t, fx.scheduler.TriggerRefresh("civic"))
	select {
	case <-adapter.holding:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh never reached the fetch")
	}

	require.NoError(t, fx.scheduler.DeregisterSource(context.Background(), "civic"))

	assert.Equal(t, 0, fx.store.EntityCount())
	_, ok := fx.tracker.Status("civic")
	assert.False(t, ok)
	assert.ErrorIs(t, fx.scheduler.TriggerRefresh("civic"), sources.ErrUnknownSource)
}
