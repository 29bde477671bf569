package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/store"
)

// fakeRunner counts cycles and tracks the highest per-tenant concurrency.
type fakeRunner struct {
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
	release chan struct{}
	panicOn int32
}

func (f *fakeRunner) RunCycle(_ context.Context, tenantID string) (*model.CycleReport, error) {
	n := f.calls.Add(1)
	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if cur <= prev || f.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	if f.panicOn == n {
		panic("provider exploded")
	}
	if f.release != nil {
		<-f.release
	}
	return &model.CycleReport{TenantID: tenantID, Terms: []model.TermStatus{{Term: "alpha", Status: model.TermSuccess}}}, nil
}

func testDefaults(enabled bool) model.Settings {
	return model.Settings{SearchQuery: "alpha", Location: "Istanbul", Enabled: enabled, IntervalHours: 12}
}

func newRegistry(t *testing.T) *store.Registry {
	t.Helper()
	r, err := store.NewRegistry(store.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() }) //nolint:errcheck
	return r
}

func newManager(t *testing.T, runner Runner, r *store.Registry, opts Options) *Manager {
	t.Helper()
	m := New(runner, r, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx) //nolint:errcheck
	})
	return m
}

func TestNextFireTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	catchUp := 10 * time.Second
	interval := 12 * time.Hour

	recent := now.Add(-2 * time.Hour)
	stale := now.Add(-36 * time.Hour)
	exact := now.Add(-12 * time.Hour)

	assert.Equal(t, now.Add(catchUp), NextFireTime(now, nil, interval, catchUp), "never run")
	assert.Equal(t, recent.Add(interval), NextFireTime(now, &recent, interval, catchUp))
	assert.Equal(t, now.Add(catchUp), NextFireTime(now, &stale, interval, catchUp), "one catch-up, no backlog")
	assert.Equal(t, now.Add(catchUp), NextFireTime(now, &exact, interval, catchUp))
}

func TestEstimateFires(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	first := now.Add(-25 * time.Hour)

	assert.Equal(t, int64(0), EstimateFires(now, nil, 12*time.Hour))
	assert.Equal(t, int64(3), EstimateFires(now, &first, 12*time.Hour))
	assert.Equal(t, int64(1), EstimateFires(now, &now, 12*time.Hour))
	assert.Equal(t, int64(0), EstimateFires(now, &first, 0))
}

func TestStart_DisabledTenantHasNoJob(t *testing.T) {
	r := newRegistry(t)
	m := newManager(t, &fakeRunner{}, r, Options{Defaults: testDefaults(false)})

	require.NoError(t, m.Start(context.Background(), "acme"))
	assert.Empty(t, m.Jobs())

	st, err := m.Status(context.Background(), "acme")
	require.NoError(t, err)
	assert.False(t, st.IsRunning)
	assert.False(t, st.IsEnabled)
	assert.Nil(t, st.NextFireTime)
}

func TestStart_UsesLastSnapshot(t *testing.T) {
	r := newRegistry(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	require.NoError(t, st.CreateSnapshot(context.Background(), &model.Snapshot{Query: "alpha", SearchDate: now.Add(-2 * time.Hour)}))

	m := newManager(t, &fakeRunner{}, r, Options{Defaults: testDefaults(true), Now: func() time.Time { return now }})
	require.NoError(t, m.Start(context.Background(), "acme"))

	status, err := m.Status(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, status.IsRunning)
	require.NotNil(t, status.NextFireTime)
	assert.True(t, now.Add(10*time.Hour).Equal(*status.NextFireTime))
	assert.Equal(t, int64(1), status.EstimatedTotalFires)
}

func TestReschedule_LeavesExactlyOneJob(t *testing.T) {
	r := newRegistry(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	require.NoError(t, st.CreateSnapshot(context.Background(), &model.Snapshot{Query: "alpha", SearchDate: now.Add(-time.Hour)}))

	m := newManager(t, &fakeRunner{}, r, Options{Defaults: testDefaults(true), Now: func() time.Time { return now }})
	require.NoError(t, m.Start(context.Background(), "acme"))
	require.NoError(t, m.Reschedule(context.Background(), "acme", 6))

	assert.Equal(t, []string{"acme"}, m.Jobs())
	status, err := m.Status(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, now.Add(5*time.Hour).Equal(*status.NextFireTime))

	assert.Error(t, m.Reschedule(context.Background(), "acme", 0))
}

func TestStop_Idempotent(t *testing.T) {
	r := newRegistry(t)
	m := newManager(t, &fakeRunner{}, r, Options{Defaults: testDefaults(true)})

	m.Stop("nobody")
	require.NoError(t, m.Start(context.Background(), "acme"))
	m.Stop("acme")
	m.Stop("acme")
	assert.Empty(t, m.Jobs())
}

func TestJob_FiresRepeatedly(t *testing.T) {
	r := newRegistry(t)
	runner := &fakeRunner{}
	m := newManager(t, runner, r, Options{
		Defaults:     testDefaults(true),
		CatchUpDelay: time.Millisecond,
		Unit:         20 * time.Millisecond,
	})

	require.NoError(t, m.Start(context.Background(), "acme"))
	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestRunNow_NeverOverlapsForSameTenant(t *testing.T) {
	r := newRegistry(t)
	runner := &fakeRunner{release: make(chan struct{})}
	m := newManager(t, runner, r, Options{Defaults: testDefaults(true)})

	for i := 0; i < 5; i++ {
		require.NoError(t, m.RunNow(context.Background(), "acme"))
	}
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, time.Millisecond)

	// Every other trigger was skipped while the first cycle was in flight.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Equal(t, int32(1), runner.maxSeen.Load())

	close(runner.release)
}

func TestRunNow_DifferentTenantsRunConcurrently(t *testing.T) {
	r := newRegistry(t)
	runner := &fakeRunner{release: make(chan struct{})}
	m := newManager(t, runner, r, Options{Defaults: testDefaults(true)})

	require.NoError(t, m.RunNow(context.Background(), "a"))
	require.NoError(t, m.RunNow(context.Background(), "b"))
	require.Eventually(t, func() bool { return runner.active.Load() == 2 }, time.Second, time.Millisecond)
	close(runner.release)
}

func TestRunNow_PanicDoesNotKillJob(t *testing.T) {
	r := newRegistry(t)
	runner := &fakeRunner{panicOn: 1}
	m := newManager(t, runner, r, Options{
		Defaults:     testDefaults(true),
		CatchUpDelay: time.Millisecond,
		Unit:         20 * time.Millisecond,
	})

	require.NoError(t, m.Start(context.Background(), "acme"))
	require.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"acme"}, m.Jobs())
}

func TestStatus_RecordsLastReport(t *testing.T) {
	r := newRegistry(t)
	runner := &fakeRunner{}
	m := newManager(t, runner, r, Options{Defaults: testDefaults(true)})

	require.NoError(t, m.RunNow(context.Background(), "acme"))
	require.Eventually(t, func() bool {
		st, err := m.Status(context.Background(), "acme")
		return err == nil && st.LastReport != nil && !st.InFlight
	}, time.Second, 5*time.Millisecond)

	st, err := m.Status(context.Background(), "acme")
	require.NoError(t, err)
	assert.NotNil(t, st.LastFireTime)
	assert.Equal(t, 1, st.LastReport.Succeeded())
}

func TestShutdown_DrainsInFlightCycle(t *testing.T) {
	r := newRegistry(t)
	runner := &fakeRunner{release: make(chan struct{})}
	m := New(runner, r, Options{Defaults: testDefaults(true)})

	require.NoError(t, m.Start(context.Background(), "acme"))
	require.NoError(t, m.RunNow(context.Background(), "acme"))
	require.Eventually(t, func() bool { return runner.active.Load() == 1 }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- m.Shutdown(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Shutdown returned before the in-flight cycle finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(runner.release)
	require.NoError(t, <-done)
	assert.Empty(t, m.Jobs())
	assert.ErrorIs(t, m.RunNow(context.Background(), "acme"), ErrShutdown)
	assert.Error(t, m.Start(context.Background(), "acme"))
}

type listErrStores struct {
	*store.Registry
}

func (listErrStores) Tenants(context.Context) ([]string, error) {
	return nil, errors.New("permission denied")
}

func TestStartAll(t *testing.T) {
	dir := t.TempDir()
	r, err := store.NewRegistry(store.Options{DataDir: dir, Tenants: []string{"a", "b", "c"}})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() }) //nolint:errcheck

	m := newManager(t, &fakeRunner{}, r, Options{Defaults: testDefaults(true), StartConcurrency: 2})
	require.NoError(t, m.StartAll(context.Background()))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, m.Jobs())

	m2 := newManager(t, &fakeRunner{}, r, Options{Defaults: testDefaults(true)})
	m2.stores = listErrStores{r}
	assert.Error(t, m2.StartAll(context.Background()))
}
