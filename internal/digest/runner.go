// Package digest periodically summarizes each tenant's previous day and hands
// the summary to the notification sinks.
package digest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/serp-monitor/internal/analytics"
	"github.com/sells-group/serp-monitor/internal/config"
	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/store"
)

// Stores resolves tenants and their stores.
type Stores interface {
	Resolve(ctx context.Context, tenantID string) (store.Store, error)
	Tenants(ctx context.Context) ([]string, error)
}

// Sink accepts digests for delivery.
type Sink interface {
	EnqueueDigest(d model.Digest)
}

const (
	defaultInterval = 24 * time.Hour
	defaultTopN     = 10
	concurrency     = 4
)

// Runner runs the digest loop in the background.
type Runner struct {
	stores   Stores
	sink     Sink
	cfg      config.DigestConfig
	interval time.Duration
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithInterval overrides digest.interval_hours.
func WithInterval(d time.Duration) Option {
	return func(r *Runner) { r.interval = d }
}

// New creates a digest Runner.
func New(stores Stores, sink Sink, cfg config.DigestConfig, opts ...Option) *Runner {
	r := &Runner{
		stores:   stores,
		sink:     sink,
		cfg:      cfg,
		interval: time.Duration(cfg.IntervalHours) * time.Hour,
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.interval <= 0 {
		r.interval = defaultInterval
	}
	return r
}

// Run starts the periodic digest loop. It blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "digest.runner"))
	log.Info("starting digest loop", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("digest loop stopped")
			return
		case <-ticker.C:
			r.tick(ctx, log)
		}
	}
}

func (r *Runner) tick(ctx context.Context, log *zap.Logger) {
	day := r.now().UTC().AddDate(0, 0, -1)
	sent, err := r.RunOnce(ctx, day)
	if err != nil {
		log.Error("digest: run failed", zap.Error(err))
		return
	}
	log.Info("digest: run complete", zap.String("date", day.Format(time.DateOnly)), zap.Int("digests_sent", sent))
}

// RunOnce builds the digest of day for every tenant and enqueues the
// non-empty ones. A failing tenant is logged and skipped. It returns the
// number of digests enqueued.
func (r *Runner) RunOnce(ctx context.Context, day time.Time) (int, error) {
	tenants, err := r.stores.Tenants(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "digest: list tenants")
	}

	var sent atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range tenants {
		g.Go(func() error {
			d, err := r.Collect(gctx, id, day)
			if err != nil {
				zap.L().Warn("digest: collect failed", zap.String("tenant_id", id), zap.Error(err))
				return nil
			}
			if d.TotalSearches == 0 {
				zap.L().Debug("digest: nothing to report", zap.String("tenant_id", id))
				return nil
			}
			r.sink.EnqueueDigest(*d)
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(sent.Load()), nil
}

// Collect builds the digest of day for one tenant.
func (r *Runner) Collect(ctx context.Context, tenantID string, day time.Time) (*model.Digest, error) {
	st, err := r.stores.Resolve(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "digest: resolve %s", tenantID)
	}
	topN := r.cfg.TopN
	if topN <= 0 {
		topN = defaultTopN
	}
	return analytics.New(st, model.SanitizeTenantID(tenantID), analytics.WithClock(r.now)).DailyDigest(ctx, day, topN)
}
