package analytics

import (
	"context"
	"errors"
	"sort"
	"time"
)

// TrendPoint is the daily aggregate of one URL's positions.
type TrendPoint struct {
	URL         string  `json:"url"`
	Domain      string  `json:"domain"`
	AvgPosition float64 `json:"avg_position"`
	MinPosition int     `json:"min_position"`
	MaxPosition int     `json:"max_position"`
	Count       int     `json:"count"`
}

// Trend groups TrendPoints by UTC day (YYYY-MM-DD).
type Trend struct {
	DailyData map[string][]TrendPoint `json:"daily_data"`
	Summary   TrendSummary            `json:"summary"`
}

// TrendSummary counts what a Trend holds.
type TrendSummary struct {
	TotalDays    int `json:"total_days"`
	TotalRecords int `json:"total_records"`
}

// PositionTrend returns daily position aggregates since the given time,
// for one URL or for every URL when url is empty.
func (a *Analyzer) PositionTrend(ctx context.Context, url string, since time.Time) (*Trend, error) {
	snaps, err := a.load(ctx, since, time.Time{})
	if err != nil {
		return nil, err
	}

	type acc struct {
		point TrendPoint
		sum   int
	}
	days := make(map[string]map[string]*acc)
	for i := range snaps {
		key := dayKey(snaps[i].SearchDate)
		for _, l := range snaps[i].Links {
			if url != "" && l.URL != url {
				continue
			}
			if days[key] == nil {
				days[key] = make(map[string]*acc)
			}
			p, ok := days[key][l.URL]
			if !ok {
				p = &acc{point: TrendPoint{URL: l.URL, MinPosition: l.Position, MaxPosition: l.Position}}
				days[key][l.URL] = p
			}
			p.point.Domain = l.Domain
			p.point.Count++
			p.sum += l.Position
			p.point.MinPosition = min(p.point.MinPosition, l.Position)
			p.point.MaxPosition = max(p.point.MaxPosition, l.Position)
		}
	}

	out := &Trend{DailyData: make(map[string][]TrendPoint, len(days))}
	for key, urls := range days {
		points := make([]TrendPoint, 0, len(urls))
		for _, p := range urls {
			p.point.AvgPosition = float64(p.sum) / float64(p.point.Count)
			points = append(points, p.point)
		}
		sort.Slice(points, func(i, j int) bool { return points[i].URL < points[j].URL })
		out.DailyData[key] = points
		out.Summary.TotalRecords += len(points)
	}
	out.Summary.TotalDays = len(days)
	return out, nil
}

// DomainShare aggregates the links of one domain.
type DomainShare struct {
	Domain       string  `json:"domain"`
	TotalLinks   int     `json:"total_links"`
	UniqueURLs   int     `json:"unique_urls"`
	AvgPosition  float64 `json:"avg_position"`
	BestPosition int     `json:"best_position"`
}

// DomainDistribution returns the limit domains with the most links since the
// given time. Links without a domain are ignored.
func (a *Analyzer) DomainDistribution(ctx context.Context, since time.Time, limit int) ([]DomainShare, error) {
	snaps, err := a.load(ctx, since, time.Time{})
	if err != nil {
		return nil, err
	}

	shares := make(map[string]*DomainShare)
	urls := make(map[string]map[string]struct{})
	sums := make(map[string]int)
	for i := range snaps {
		for _, l := range snaps[i].Links {
			if l.Domain == "" {
				continue
			}
			d, ok := shares[l.Domain]
			if !ok {
				d = &DomainShare{Domain: l.Domain, BestPosition: l.Position}
				shares[l.Domain] = d
				urls[l.Domain] = make(map[string]struct{})
			}
			d.TotalLinks++
			d.BestPosition = min(d.BestPosition, l.Position)
			sums[l.Domain] += l.Position
			urls[l.Domain][l.URL] = struct{}{}
		}
	}

	out := make([]DomainShare, 0, len(shares))
	for name, d := range shares {
		d.UniqueURLs = len(urls[name])
		d.AvgPosition = float64(sums[name]) / float64(d.TotalLinks)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalLinks != out[j].TotalLinks {
			return out[i].TotalLinks > out[j].TotalLinks
		}
		return out[i].Domain < out[j].Domain
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Direction selects which movers TopMovers returns.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionBoth Direction = "both"
	// DirectionStable is only ever reported, never requested.
	DirectionStable Direction = "stable"
)

// ErrInvalidDirection is returned for a direction other than up, down or both.
var ErrInvalidDirection = errors.New("direction must be up, down or both")

// ParseDirection maps user input to a Direction. Empty means both.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", DirectionBoth:
		return DirectionBoth, nil
	case DirectionUp, DirectionDown:
		return Direction(s), nil
	}
	return "", ErrInvalidDirection
}

// Mover compares a URL's position at its first and last appearance in a
// window. Change is first minus last, so positive means the URL moved up.
type Mover struct {
	URL           string    `json:"url"`
	Domain        string    `json:"domain"`
	Title         string    `json:"title"`
	FirstPosition int       `json:"first_position"`
	LastPosition  int       `json:"last_position"`
	Change        int       `json:"change"`
	Direction     Direction `json:"direction"`
}

// TopMovers returns the limit URLs with the largest absolute change since
// the given time.
func (a *Analyzer) TopMovers(ctx context.Context, since time.Time, limit int, dir Direction) ([]Mover, error) {
	switch dir {
	case DirectionUp, DirectionDown, DirectionBoth:
	default:
		return nil, ErrInvalidDirection
	}
	snaps, err := a.load(ctx, since, time.Time{})
	if err != nil {
		return nil, err
	}

	movers := make(map[string]*Mover)
	var order []string
	for i := range snaps {
		for _, l := range snaps[i].Links {
			m, ok := movers[l.URL]
			if !ok {
				m = &Mover{URL: l.URL, FirstPosition: l.Position}
				movers[l.URL] = m
				order = append(order, l.URL)
			}
			m.Domain = l.Domain
			m.Title = l.Title
			m.LastPosition = l.Position
		}
	}

	var out []Mover
	for _, u := range order {
		m := movers[u]
		m.Change = m.FirstPosition - m.LastPosition
		switch {
		case m.Change > 0:
			m.Direction = DirectionUp
		case m.Change < 0:
			m.Direction = DirectionDown
		default:
			m.Direction = DirectionStable
		}
		if dir != DirectionBoth && m.Direction != dir {
			continue
		}
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return abs(out[i].Change) > abs(out[j].Change)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Competitor summarizes how one domain performs across snapshots.
type Competitor struct {
	Domain        string  `json:"domain"`
	Appearances   int     `json:"appearances"`
	AvgPosition   float64 `json:"avg_position"`
	BestPosition  int     `json:"best_position"`
	WorstPosition int     `json:"worst_position"`
	UniqueURLs    int     `json:"unique_urls"`
	MarketShare   float64 `json:"market_share"`
}

// DefaultCompetitorLimit caps CompetitorShare when no domains are named.
const DefaultCompetitorLimit = 20

// CompetitorShare ranks domains by the number of snapshots they appear in.
// MarketShare is the percentage of all links in the window held by the
// domain. When domains is non-empty only those are reported.
func (a *Analyzer) CompetitorShare(ctx context.Context, since time.Time, domains []string) ([]Competitor, error) {
	snaps, err := a.load(ctx, since, time.Time{})
	if err != nil {
		return nil, err
	}

	var want map[string]bool
	if len(domains) > 0 {
		want = make(map[string]bool, len(domains))
		for _, d := range domains {
			want[d] = true
		}
	}

	type acc struct {
		c     Competitor
		links int
		sum   int
		urls  map[string]struct{}
	}
	byDomain := make(map[string]*acc)
	totalLinks := 0
	for i := range snaps {
		seen := make(map[string]bool)
		for _, l := range snaps[i].Links {
			if l.Domain == "" {
				continue
			}
			totalLinks++
			if want != nil && !want[l.Domain] {
				continue
			}
			c, ok := byDomain[l.Domain]
			if !ok {
				c = &acc{
					c:    Competitor{Domain: l.Domain, BestPosition: l.Position, WorstPosition: l.Position},
					urls: make(map[string]struct{}),
				}
				byDomain[l.Domain] = c
			}
			if !seen[l.Domain] {
				seen[l.Domain] = true
				c.c.Appearances++
			}
			c.links++
			c.sum += l.Position
			c.c.BestPosition = min(c.c.BestPosition, l.Position)
			c.c.WorstPosition = max(c.c.WorstPosition, l.Position)
			c.urls[l.URL] = struct{}{}
		}
	}

	out := make([]Competitor, 0, len(byDomain))
	for _, c := range byDomain {
		c.c.AvgPosition = float64(c.sum) / float64(c.links)
		c.c.UniqueURLs = len(c.urls)
		if totalLinks > 0 {
			c.c.MarketShare = float64(c.links) * 100 / float64(totalLinks)
		}
		out = append(out, c.c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Appearances != out[j].Appearances {
			return out[i].Appearances > out[j].Appearances
		}
		return out[i].Domain < out[j].Domain
	})
	if want == nil && len(out) > DefaultCompetitorLimit {
		out = out[:DefaultCompetitorLimit]
	}
	return out, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
