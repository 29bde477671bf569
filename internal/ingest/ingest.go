// Package ingest runs one ingestion cycle for a tenant: search every query
// term, store the ranked links as a snapshot and hand position changes to the
// notifier.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/serp-monitor/internal/detect"
	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/resilience"
	"github.com/sells-group/serp-monitor/internal/store"
	"github.com/sells-group/serp-monitor/pkg/serpapi"
)

// ReasonNothingToDo is the skip reason for tenants without enabled settings.
const ReasonNothingToDo = "nothing to do"

// StoreResolver returns the store of a tenant.
type StoreResolver interface {
	Resolve(ctx context.Context, tenantID string) (store.Store, error)
}

// EventSink accepts change events without blocking.
type EventSink interface {
	Enqueue(events ...model.ChangeEvent)
}

// Ingester runs ingestion cycles.
type Ingester struct {
	stores   StoreResolver
	client   serpapi.Client
	detector *detect.Detector
	sink     EventSink
	retry    resilience.RetryConfig
	now      func() time.Time
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithRetry sets the retry policy for provider calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(i *Ingester) { i.retry = cfg }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Ingester) { i.now = now }
}

// New creates an Ingester. sink may be nil when nobody listens for changes.
func New(stores StoreResolver, client serpapi.Client, detector *detect.Detector, sink EventSink, opts ...Option) *Ingester {
	i := &Ingester{
		stores:   stores,
		client:   client,
		detector: detector,
		sink:     sink,
		retry:    resilience.DefaultRetryConfig(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// RunCycle searches every term of the tenant's settings in order. A failing
// term is recorded in the report and never stops the remaining terms. The
// returned error is reserved for failures that prevent the cycle from
// starting at all.
func (i *Ingester) RunCycle(ctx context.Context, tenantID string) (*model.CycleReport, error) {
	tenantID = model.SanitizeTenantID(tenantID)
	report := &model.CycleReport{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		StartedAt: i.now().UTC(),
	}
	log := zap.L().With(zap.String("tenant_id", tenantID), zap.String("cycle_id", report.ID))

	st, err := i.stores.Resolve(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: resolve store for %s", tenantID)
	}

	settings, err := st.GetSettings(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: load settings for %s", tenantID)
	}
	var terms []string
	if settings != nil {
		terms = settings.Terms()
	}
	if settings == nil || !settings.Enabled || len(terms) == 0 {
		report.Skipped = true
		report.Reason = ReasonNothingToDo
		report.FinishedAt = i.now().UTC()
		log.Info("ingest: nothing to do")
		return report, nil
	}

	log.Info("ingest: cycle started", zap.Strings("terms", terms), zap.String("location", settings.Location))

	for _, term := range terms {
		if ctx.Err() != nil {
			report.Terms = append(report.Terms, model.TermStatus{Term: term, Status: model.TermError, Detail: ctx.Err().Error()})
			continue
		}
		ts := i.runTerm(ctx, log, st, tenantID, term, settings.Location)
		report.Terms = append(report.Terms, ts)
	}

	report.FinishedAt = i.now().UTC()
	log.Info("ingest: cycle finished",
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Failed()),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (i *Ingester) runTerm(ctx context.Context, log *zap.Logger, st store.Store, tenantID, term, location string) model.TermStatus {
	ts := model.TermStatus{Term: term}
	log = log.With(zap.String("term", term))

	retry := i.retry
	retry.OnRetry = resilience.RetryLogger(tenantID, term)

	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*serpapi.SearchResponse, error) {
		return i.client.Search(ctx, term, location)
	})
	if err != nil {
		log.Warn("ingest: search failed", zap.Error(err))
		ts.Status = model.TermError
		ts.Detail = err.Error()
		return ts
	}

	snap := &model.Snapshot{
		TenantID:     tenantID,
		Query:        term,
		SearchDate:   i.now().UTC(),
		TotalResults: resp.SearchInformation.TotalResults,
		Links:        toLinks(serpapi.ExtractLinks(resp)),
	}
	if err := st.CreateSnapshot(ctx, snap); err != nil {
		log.Error("ingest: store snapshot failed", zap.Error(err))
		ts.Status = model.TermError
		ts.Detail = err.Error()
		return ts
	}

	ts.Status = model.TermSuccess
	ts.SnapshotID = snap.ID
	ts.Links = len(snap.Links)

	events, err := i.detector.Detect(ctx, st, snap)
	if err != nil {
		// The snapshot is stored; only this comparison is lost.
		log.Warn("ingest: change detection failed", zap.Error(err))
		return ts
	}
	ts.Events = len(events)
	if len(events) > 0 && i.sink != nil {
		i.sink.Enqueue(events...)
	}

	log.Info("ingest: term stored",
		zap.Int64("snapshot_id", snap.ID),
		zap.Int("links", ts.Links),
		zap.Int("events", ts.Events),
	)
	return ts
}

func toLinks(ranked []serpapi.RankedLink) []model.Link {
	links := make([]model.Link, len(ranked))
	for i, r := range ranked {
		links[i] = model.Link{
			URL:      r.URL,
			Title:    r.Title,
			Snippet:  r.Snippet,
			Position: r.Position,
			Domain:   r.Domain,
		}
	}
	return links
}
