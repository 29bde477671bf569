package settings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/store"
)

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) Reschedule(ctx context.Context, tenantID string, intervalHours int) error {
	return m.Called(ctx, tenantID, intervalHours).Error(0)
}

func (m *mockScheduler) Stop(tenantID string) {
	m.Called(tenantID)
}

func defaults() model.Settings {
	return model.Settings{SearchQuery: "padişah bet", Location: "Fatih,Istanbul", Enabled: true, IntervalHours: 12}
}

func newService(t *testing.T, sched Scheduler) *Service {
	t.Helper()
	r, err := store.NewRegistry(store.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() }) //nolint:errcheck
	return New(r, sched, defaults())
}

func ptr[T any](v T) *T { return &v }

func TestGet_CreatesDefaults(t *testing.T) {
	svc := newService(t, nil)

	got, err := svc.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "padişah bet", got.SearchQuery)
	assert.Equal(t, 12, got.IntervalHours)
	assert.True(t, got.Enabled)
}

func TestUpdate_IntervalReschedules(t *testing.T) {
	sched := &mockScheduler{}
	sched.On("Reschedule", mock.Anything, "acme", 6).Return(nil).Once()
	svc := newService(t, sched)

	got, err := svc.Update(context.Background(), "acme", model.SettingsUpdate{IntervalHours: ptr(6)})
	require.NoError(t, err)
	assert.Equal(t, 6, got.IntervalHours)
	sched.AssertExpectations(t)

	stored, err := svc.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 6, stored.IntervalHours)
}

func TestUpdate_DisableStops(t *testing.T) {
	sched := &mockScheduler{}
	sched.On("Stop", "acme").Once()
	svc := newService(t, sched)

	got, err := svc.Update(context.Background(), "acme", model.SettingsUpdate{Enabled: ptr(false)})
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	sched.AssertExpectations(t)
}

func TestUpdate_QueryOnlyLeavesSchedule(t *testing.T) {
	sched := &mockScheduler{}
	svc := newService(t, sched)

	got, err := svc.Update(context.Background(), "acme", model.SettingsUpdate{SearchQuery: ptr(" alpha ,beta,, "), Location: ptr(" Ankara ")})
	require.NoError(t, err)
	assert.Equal(t, "alpha, beta", got.SearchQuery)
	assert.Equal(t, "Ankara", got.Location)
	sched.AssertNotCalled(t, "Reschedule", mock.Anything, mock.Anything, mock.Anything)
	sched.AssertNotCalled(t, "Stop", mock.Anything)
}

func TestUpdate_Invalid(t *testing.T) {
	svc := newService(t, &mockScheduler{})

	_, err := svc.Update(context.Background(), "acme", model.SettingsUpdate{IntervalHours: ptr(0)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSettings))

	_, err = svc.Update(context.Background(), "acme", model.SettingsUpdate{SearchQuery: ptr(" , ")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSettings))
	assert.Contains(t, err.Error(), "at least one term")

	// Nothing was saved.
	got, err := svc.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 12, got.IntervalHours)
	assert.Equal(t, "padişah bet", got.SearchQuery)
}

func TestUpdate_RescheduleErrorSurfaces(t *testing.T) {
	sched := &mockScheduler{}
	sched.On("Reschedule", mock.Anything, "acme", 3).Return(errors.New("shut down")).Once()
	svc := newService(t, sched)

	got, err := svc.Update(context.Background(), "acme", model.SettingsUpdate{IntervalHours: ptr(3)})
	require.Error(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.IntervalHours)
}

// recordingScheduler remembers the last call and whether two calls ever ran
// at the same time.
type recordingScheduler struct {
	mu      sync.Mutex
	active  int
	overlap bool
	last    string
}

func (r *recordingScheduler) record(call string) {
	r.mu.Lock()
	r.active++
	if r.active > 1 {
		r.overlap = true
	}
	r.mu.Unlock()

	time.Sleep(time.Millisecond)

	r.mu.Lock()
	r.active--
	r.last = call
	r.mu.Unlock()
}

func (r *recordingScheduler) Reschedule(_ context.Context, _ string, _ int) error {
	r.record("reschedule")
	return nil
}

func (r *recordingScheduler) Stop(string) {
	r.record("stop")
}

func TestUpdate_ConcurrentTogglesKeepJobInStep(t *testing.T) {
	sched := &recordingScheduler{}
	svc := newService(t, sched)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(enabled bool) {
			defer wg.Done()
			_, err := svc.Update(ctx, "acme", model.SettingsUpdate{Enabled: ptr(enabled)})
			assert.NoError(t, err)
		}(i%2 == 0)
	}
	wg.Wait()

	saved, err := svc.Get(ctx, "acme")
	require.NoError(t, err)

	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.False(t, sched.overlap, "scheduler calls of one tenant overlapped")
	if saved.Enabled {
		assert.Equal(t, "reschedule", sched.last)
	} else {
		assert.Equal(t, "stop", sched.last)
	}
}
