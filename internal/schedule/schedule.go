// Package schedule keeps one recurring ingestion job per tenant in process
// memory. Nothing here is persisted: Start recomputes the next fire time from
// the last stored snapshot.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/store"
)

// ErrShutdown is returned by operations attempted after Shutdown.
var ErrShutdown = eris.New("schedule: manager is shut down")

// DefaultCatchUpDelay is how soon an overdue or never-run tenant fires.
const DefaultCatchUpDelay = 10 * time.Second

// Runner executes one ingestion cycle.
type Runner interface {
	RunCycle(ctx context.Context, tenantID string) (*model.CycleReport, error)
}

// Stores resolves tenant stores and lists known tenants.
type Stores interface {
	Resolve(ctx context.Context, tenantID string) (store.Store, error)
	Tenants(ctx context.Context) ([]string, error)
}

// Status describes the schedule of one tenant.
type Status struct {
	TenantID            string             `json:"tenant_id" yaml:"tenant_id"`
	IsRunning           bool               `json:"is_running" yaml:"is_running"`
	InFlight            bool               `json:"in_flight" yaml:"in_flight"`
	IsEnabled           bool               `json:"is_enabled" yaml:"is_enabled"`
	IntervalHours       int                `json:"interval_hours" yaml:"interval_hours"`
	LastFireTime        *time.Time         `json:"last_fire_time,omitempty" yaml:"last_fire_time,omitempty"`
	NextFireTime        *time.Time         `json:"next_fire_time,omitempty" yaml:"next_fire_time,omitempty"`
	EstimatedTotalFires int64              `json:"estimated_total_fires" yaml:"estimated_total_fires"`
	LastReport          *model.CycleReport `json:"last_report,omitempty" yaml:"last_report,omitempty"`
}

// Options tune a Manager.
type Options struct {
	// Defaults seed the settings of tenants that have none yet.
	Defaults model.Settings
	// CatchUpDelay defaults to DefaultCatchUpDelay.
	CatchUpDelay time.Duration
	// StartConcurrency bounds StartAll. Default 4.
	StartConcurrency int
	// Now defaults to time.Now.
	Now func() time.Time
	// Unit is the length of one interval hour. Tests shrink it.
	Unit time.Duration
}

type job struct {
	interval time.Duration
	next     time.Time
	timer    *time.Timer
	gen      uint64
}

type tenantState struct {
	running    sync.Mutex
	inFlight   bool
	lastFire   time.Time
	lastReport *model.CycleReport
}

// Manager owns the recurring jobs of every tenant.
type Manager struct {
	runner Runner
	stores Stores
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*job
	tenants map[string]*tenantState
	gen     uint64
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Manager. Cycles run on a context that is only cancelled when
// Shutdown gives up waiting.
func New(runner Runner, stores Stores, opts Options) *Manager {
	if opts.CatchUpDelay <= 0 {
		opts.CatchUpDelay = DefaultCatchUpDelay
	}
	if opts.StartConcurrency <= 0 {
		opts.StartConcurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Unit <= 0 {
		opts.Unit = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		runner:  runner,
		stores:  stores,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*job),
		tenants: make(map[string]*tenantState),
	}
}

// NextFireTime returns when a tenant should fire next: one interval after the
// last snapshot, or now+catchUp when there is none or that time has passed.
// Missed runs are never replayed.
func NextFireTime(now time.Time, last *time.Time, interval, catchUp time.Duration) time.Time {
	if last == nil {
		return now.Add(catchUp)
	}
	next := last.Add(interval)
	if !next.After(now) {
		return now.Add(catchUp)
	}
	return next
}

// EstimateFires approximates how many times the job has fired since the
// first snapshot.
func EstimateFires(now time.Time, first *time.Time, interval time.Duration) int64 {
	if first == nil || interval <= 0 {
		return 0
	}
	elapsed := now.Sub(*first)
	if elapsed < 0 {
		return 1
	}
	return int64(elapsed/interval) + 1
}

// Start loads the tenant's settings, creating defaults when absent, and
// registers its job. A disabled tenant is stopped instead.
func (m *Manager) Start(ctx context.Context, tenantID string) error {
	tenantID = model.SanitizeTenantID(tenantID)
	st, err := m.stores.Resolve(ctx, tenantID)
	if err != nil {
		return eris.Wrapf(err, "schedule: resolve %s", tenantID)
	}
	settings, err := st.EnsureSettings(ctx, m.opts.Defaults)
	if err != nil {
		return eris.Wrapf(err, "schedule: load settings for %s", tenantID)
	}
	if settings == nil || !settings.Enabled {
		m.Stop(tenantID)
		return nil
	}
	return m.register(ctx, st, tenantID, settings.IntervalHours)
}

// Reschedule replaces the tenant's job with one at the new interval.
func (m *Manager) Reschedule(ctx context.Context, tenantID string, intervalHours int) error {
	if intervalHours <= 0 {
		return eris.Errorf("schedule: interval_hours must be > 0, got %d", intervalHours)
	}
	tenantID = model.SanitizeTenantID(tenantID)
	st, err := m.stores.Resolve(ctx, tenantID)
	if err != nil {
		return eris.Wrapf(err, "schedule: resolve %s", tenantID)
	}
	m.Stop(tenantID)
	return m.register(ctx, st, tenantID, intervalHours)
}

func (m *Manager) register(ctx context.Context, st store.Store, tenantID string, intervalHours int) error {
	latest, err := st.LatestSnapshot(ctx)
	if err != nil {
		return eris.Wrapf(err, "schedule: latest snapshot for %s", tenantID)
	}
	var last *time.Time
	if latest != nil {
		last = &latest.SearchDate
	}

	interval := time.Duration(intervalHours) * m.opts.Unit
	now := m.opts.Now()
	next := NextFireTime(now, last, interval, m.opts.CatchUpDelay)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrShutdown
	}

	m.removeLocked(tenantID)
	m.gen++
	j := &job{interval: interval, next: next, gen: m.gen}
	m.jobs[tenantID] = j
	gen := j.gen
	j.timer = time.AfterFunc(next.Sub(now), func() { m.fire(tenantID, gen) })

	zap.L().Info("schedule: job registered",
		zap.String("tenant_id", tenantID),
		zap.Int("interval_hours", intervalHours),
		zap.Time("next_fire_time", next),
	)
	return nil
}

// Stop removes the tenant's job. Stopping a tenant without a job is a no-op.
func (m *Manager) Stop(tenantID string) {
	tenantID = model.SanitizeTenantID(tenantID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeLocked(tenantID) {
		zap.L().Info("schedule: job removed", zap.String("tenant_id", tenantID))
	}
}

func (m *Manager) removeLocked(tenantID string) bool {
	j, ok := m.jobs[tenantID]
	if !ok {
		return false
	}
	j.timer.Stop()
	delete(m.jobs, tenantID)
	return true
}

// fire runs on the timer goroutine. A stale generation means the job was
// replaced or removed after the timer had already started.
func (m *Manager) fire(tenantID string, gen uint64) {
	m.mu.Lock()
	j, ok := m.jobs[tenantID]
	if !ok || j.gen != gen || m.closed {
		m.mu.Unlock()
		return
	}
	now := m.opts.Now()
	j.next = j.next.Add(j.interval)
	if !j.next.After(now) {
		j.next = now.Add(j.interval)
	}
	j.timer = time.AfterFunc(j.next.Sub(now), func() { m.fire(tenantID, gen) })
	m.mu.Unlock()

	m.execute(tenantID, "scheduled")
}

// RunNow starts an off-cycle run in the background and returns at once. The
// recurring schedule is left as is.
func (m *Manager) RunNow(_ context.Context, tenantID string) error {
	tenantID = model.SanitizeTenantID(tenantID)
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrShutdown
	}
	go m.execute(tenantID, "manual")
	return nil
}

// execute runs one cycle unless the tenant already has one in flight.
func (m *Manager) execute(tenantID, trigger string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	ts := m.stateLocked(tenantID)
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	log := zap.L().With(zap.String("tenant_id", tenantID), zap.String("trigger", trigger))
	if !ts.running.TryLock() {
		log.Warn("schedule: cycle already in flight, skipping")
		return
	}
	defer ts.running.Unlock()

	m.mu.Lock()
	ts.inFlight = true
	ts.lastFire = m.opts.Now()
	m.mu.Unlock()

	report, err := m.runSafely(tenantID)

	m.mu.Lock()
	ts.inFlight = false
	if report != nil {
		ts.lastReport = report
	}
	m.mu.Unlock()

	if err != nil {
		log.Error("schedule: cycle failed", zap.Error(err))
	}
}

func (m *Manager) runSafely(tenantID string) (report *model.CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule: cycle panicked: %v", r)
		}
	}()
	return m.runner.RunCycle(m.ctx, tenantID)
}

func (m *Manager) stateLocked(tenantID string) *tenantState {
	ts, ok := m.tenants[tenantID]
	if !ok {
		ts = &tenantState{}
		m.tenants[tenantID] = ts
	}
	return ts
}

// Status reports the tenant's schedule, settings and last cycle.
func (m *Manager) Status(ctx context.Context, tenantID string) (*Status, error) {
	tenantID = model.SanitizeTenantID(tenantID)
	st, err := m.stores.Resolve(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: resolve %s", tenantID)
	}
	settings, err := st.EnsureSettings(ctx, m.opts.Defaults)
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: load settings for %s", tenantID)
	}
	first, err := st.FirstSnapshot(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: first snapshot for %s", tenantID)
	}

	s := &Status{TenantID: tenantID}
	if settings != nil {
		s.IsEnabled = settings.Enabled
		s.IntervalHours = settings.IntervalHours
	}

	m.mu.Lock()
	if j, ok := m.jobs[tenantID]; ok {
		s.IsRunning = true
		next := j.next
		s.NextFireTime = &next
	}
	if ts, ok := m.tenants[tenantID]; ok {
		s.InFlight = ts.inFlight
		s.LastReport = ts.lastReport
		if !ts.lastFire.IsZero() {
			last := ts.lastFire
			s.LastFireTime = &last
		}
	}
	m.mu.Unlock()

	if first != nil {
		s.EstimatedTotalFires = EstimateFires(m.opts.Now(), &first.SearchDate, time.Duration(s.IntervalHours)*m.opts.Unit)
	}
	return s, nil
}

// StartAll starts every known tenant. Failures are logged per tenant and the
// first one is returned after all tenants were attempted.
func (m *Manager) StartAll(ctx context.Context) error {
	tenants, err := m.stores.Tenants(ctx)
	if err != nil {
		return eris.Wrap(err, "schedule: list tenants")
	}

	var g errgroup.Group
	g.SetLimit(m.opts.StartConcurrency)
	var mu sync.Mutex
	var firstErr error
	for _, id := range tenants {
		g.Go(func() error {
			if err := m.Start(ctx, id); err != nil {
				zap.L().Error("schedule: start tenant", zap.String("tenant_id", id), zap.Error(err))
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("schedule: tenants started", zap.Int("tenants", len(tenants)))
	return firstErr
}

// Jobs returns the ids of tenants with a registered job.
func (m *Manager) Jobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown removes every job and waits for in-flight cycles to finish. If ctx
// ends first the cycles are cancelled and ctx's error is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for id := range m.jobs {
		m.removeLocked(id)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		zap.L().Info("schedule: shut down")
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}
