package analytics

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/serp-monitor/internal/model"
)

// LinkStats aggregates every appearance of each URL in [since, until] and
// returns the limit most frequent, ties broken by better average position.
// A limit <= 0 returns all.
func (a *Analyzer) LinkStats(ctx context.Context, since, until time.Time, limit int) ([]model.LinkStats, error) {
	snaps, err := a.load(ctx, since, until)
	if err != nil {
		return nil, err
	}
	return aggregateLinks(snaps, limit), nil
}

func aggregateLinks(snaps []model.Snapshot, limit int) []model.LinkStats {
	byURL := make(map[string]*model.LinkStats)
	var order []string
	sums := make(map[string]int)

	for i := range snaps {
		at := snaps[i].SearchDate
		for _, l := range snaps[i].Links {
			st, ok := byURL[l.URL]
			if !ok {
				st = &model.LinkStats{URL: l.URL, FirstSeen: at}
				byURL[l.URL] = st
				order = append(order, l.URL)
			}
			// Snapshots arrive oldest first, so the latest title and domain win.
			st.Domain = l.Domain
			st.Title = l.Title
			st.TotalAppearances++
			st.LastSeen = at
			st.Positions = append(st.Positions, l.Position)
			sums[l.URL] += l.Position
		}
	}

	out := make([]model.LinkStats, 0, len(order))
	for _, u := range order {
		st := byURL[u]
		st.AveragePosition = float64(sums[u]) / float64(st.TotalAppearances)
		st.DaysActive = int(st.LastSeen.Sub(st.FirstSeen).Hours()/24) + 1
		out = append(out, *st)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalAppearances != out[j].TotalAppearances {
			return out[i].TotalAppearances > out[j].TotalAppearances
		}
		if out[i].AveragePosition != out[j].AveragePosition {
			return out[i].AveragePosition < out[j].AveragePosition
		}
		return out[i].URL < out[j].URL
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// LinkFilter narrows FilterLinks. Zero values are ignored.
type LinkFilter struct {
	Domain      string
	URLContains string
	MinPosition int
	MaxPosition int
	Since       time.Time
	Until       time.Time
	Limit       int
}

// LinkHit is one stored link together with its snapshot context.
type LinkHit struct {
	ID           int64     `json:"id"`
	Query        string    `json:"query"`
	URL          string    `json:"url"`
	Domain       string    `json:"domain"`
	Title        string    `json:"title"`
	Position     int       `json:"position"`
	Snippet      string    `json:"snippet"`
	SearchDate   time.Time `json:"search_date"`
	TotalResults int64     `json:"total_results"`
}

// FilterLinks returns matching links, newest snapshot first.
func (a *Analyzer) FilterLinks(ctx context.Context, f LinkFilter) ([]LinkHit, error) {
	snaps, err := a.load(ctx, f.Since, f.Until)
	if err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []LinkHit
	for i := len(snaps) - 1; i >= 0; i-- {
		s := &snaps[i]
		for _, l := range s.Links {
			if f.Domain != "" && !strings.Contains(l.Domain, f.Domain) {
				continue
			}
			if f.URLContains != "" && !strings.Contains(l.URL, f.URLContains) {
				continue
			}
			if f.MinPosition > 0 && l.Position < f.MinPosition {
				continue
			}
			if f.MaxPosition > 0 && l.Position > f.MaxPosition {
				continue
			}
			out = append(out, LinkHit{
				ID:           l.ID,
				Query:        s.Query,
				URL:          l.URL,
				Domain:       l.Domain,
				Title:        l.Title,
				Position:     l.Position,
				Snippet:      l.Snippet,
				SearchDate:   s.SearchDate,
				TotalResults: s.TotalResults,
			})
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}
