// Package analytics computes read-only projections over a tenant's snapshot
// history: totals, per-link statistics, trends, movers and digests.
package analytics

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/store"
)

// RecentWindow is the lookback used for the "recent" counters of Stats.
const RecentWindow = 30 * 24 * time.Hour

// Reader is the part of a store the analyzer reads from.
type Reader interface {
	ListSnapshots(ctx context.Context, filter store.SnapshotFilter) ([]model.Snapshot, error)
}

// Analyzer computes projections for one tenant.
type Analyzer struct {
	r        Reader
	tenantID string
	now      func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// New creates an Analyzer over r.
func New(r Reader, tenantID string, opts ...Option) *Analyzer {
	a := &Analyzer{r: r, tenantID: tenantID, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Stats is the overall summary of a tenant's history.
type Stats struct {
	TotalSearches       int        `json:"total_searches" yaml:"total_searches"`
	TotalLinks          int        `json:"total_links" yaml:"total_links"`
	UniqueDomains       int        `json:"unique_domains" yaml:"unique_domains"`
	RecentLinks         int        `json:"recent_links" yaml:"recent_links"`
	RecentUniqueDomains int        `json:"recent_unique_domains" yaml:"recent_unique_domains"`
	LastSearchDate      *time.Time `json:"last_search_date" yaml:"last_search_date"`
}

// Stats returns totals over the whole history plus the last 30 days.
func (a *Analyzer) Stats(ctx context.Context) (*Stats, error) {
	snaps, err := a.load(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}

	recentCutoff := a.now().UTC().Add(-RecentWindow)
	domains := make(map[string]struct{})
	recentDomains := make(map[string]struct{})
	out := &Stats{TotalSearches: len(snaps)}

	for i := range snaps {
		recent := !snaps[i].SearchDate.Before(recentCutoff)
		for _, l := range snaps[i].Links {
			out.TotalLinks++
			domains[l.Domain] = struct{}{}
			if recent {
				out.RecentLinks++
				recentDomains[l.Domain] = struct{}{}
			}
		}
	}
	out.UniqueDomains = len(domains)
	out.RecentUniqueDomains = len(recentDomains)

	if n := len(snaps); n > 0 {
		last := snaps[n-1].SearchDate
		out.LastSearchDate = &last
	}
	return out, nil
}

// load returns every snapshot with links in [since, until]. Zero bounds are
// open.
func (a *Analyzer) load(ctx context.Context, since, until time.Time) ([]model.Snapshot, error) {
	snaps, err := a.r.ListSnapshots(ctx, store.SnapshotFilter{Since: since, Until: until, Limit: store.NoLimit})
	if err != nil {
		return nil, eris.Wrapf(err, "analytics: list snapshots for %s", a.tenantID)
	}
	return snaps, nil
}

// Since returns now minus the given number of days, in UTC.
func (a *Analyzer) Since(days int) time.Time {
	return a.now().UTC().AddDate(0, 0, -days)
}

func dayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
