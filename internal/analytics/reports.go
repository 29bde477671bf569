package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/serp-monitor/internal/model"
)

// DailyDigest summarizes the UTC day containing date: number of snapshots,
// distinct URLs and the topN links by appearances.
func (a *Analyzer) DailyDigest(ctx context.Context, date time.Time, topN int) (*model.Digest, error) {
	start := startOfDay(date)
	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	snaps, err := a.load(ctx, start, end)
	if err != nil {
		return nil, err
	}

	urls := make(map[string]struct{})
	for i := range snaps {
		for _, l := range snaps[i].Links {
			urls[l.URL] = struct{}{}
		}
	}
	return &model.Digest{
		TenantID:      a.tenantID,
		Date:          dayKey(start),
		TotalSearches: len(snaps),
		UniqueLinks:   len(urls),
		TopLinks:      aggregateLinks(snaps, topN),
	}, nil
}

// Period is the bucket width of PeriodReports.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// PeriodReport summarizes one bucket of snapshots.
type PeriodReport struct {
	Label         string            `json:"label"`
	Start         time.Time         `json:"start"`
	End           time.Time         `json:"end"`
	TotalSearches int               `json:"total_searches"`
	UniqueLinks   int               `json:"unique_links"`
	TopLinks      []model.LinkStats `json:"top_links"`
}

// reportTopLinks is the number of links listed per period report.
const reportTopLinks = 10

// PeriodReports buckets the last count periods (days, ISO weeks starting
// Monday, or calendar months) and returns the non-empty ones, newest first.
func (a *Analyzer) PeriodReports(ctx context.Context, period Period, count int) ([]PeriodReport, error) {
	if count <= 0 {
		return nil, eris.Errorf("analytics: count must be > 0, got %d", count)
	}
	now := a.now().UTC()
	var first time.Time
	switch period {
	case PeriodDaily:
		first = startOfDay(now).AddDate(0, 0, -(count - 1))
	case PeriodWeekly:
		first = startOfWeek(now).AddDate(0, 0, -7*(count-1))
	case PeriodMonthly:
		first = startOfMonth(now).AddDate(0, -(count - 1), 0)
	default:
		return nil, eris.Errorf("analytics: unknown period %q", period)
	}

	snaps, err := a.load(ctx, first, time.Time{})
	if err != nil {
		return nil, err
	}

	buckets := make(map[time.Time][]model.Snapshot)
	for _, s := range snaps {
		var key time.Time
		switch period {
		case PeriodDaily:
			key = startOfDay(s.SearchDate)
		case PeriodWeekly:
			key = startOfWeek(s.SearchDate)
		case PeriodMonthly:
			key = startOfMonth(s.SearchDate)
		}
		buckets[key] = append(buckets[key], s)
	}

	var out []PeriodReport
	for start := first; !start.After(now); start = next(period, start) {
		in, ok := buckets[start]
		if !ok {
			continue
		}
		urls := make(map[string]struct{})
		for i := range in {
			for _, l := range in[i].Links {
				urls[l.URL] = struct{}{}
			}
		}
		out = append(out, PeriodReport{
			Label:         label(period, start),
			Start:         start,
			End:           next(period, start).Add(-time.Nanosecond),
			TotalSearches: len(in),
			UniqueLinks:   len(urls),
			TopLinks:      aggregateLinks(in, reportTopLinks),
		})
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func next(p Period, t time.Time) time.Time {
	switch p {
	case PeriodWeekly:
		return t.AddDate(0, 0, 7)
	case PeriodMonthly:
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 1)
}

func label(p Period, t time.Time) string {
	switch p {
	case PeriodWeekly:
		y, w := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", y, w)
	case PeriodMonthly:
		return t.Format("2006-01")
	}
	return dayKey(t)
}

func startOfWeek(t time.Time) time.Time {
	d := startOfDay(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
