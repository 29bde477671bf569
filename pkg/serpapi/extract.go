package serpapi

import (
	"net/url"
	"strings"
)

// RankedLink is one organic result with its dense 1-based position.
type RankedLink struct {
	URL      string
	Title    string
	Snippet  string
	Position int
	Domain   string
}

// ExtractLinks turns a response into ranked links in provider order. Results
// without a URL are skipped and do not consume a position. Duplicate URLs are
// kept.
func ExtractLinks(resp *SearchResponse) []RankedLink {
	if resp == nil {
		return nil
	}
	links := make([]RankedLink, 0, len(resp.OrganicResults))
	for _, r := range resp.OrganicResults {
		if r.Link == "" {
			continue
		}
		links = append(links, RankedLink{
			URL:      r.Link,
			Title:    r.Title,
			Snippet:  r.Snippet,
			Position: len(links) + 1,
			Domain:   Domain(r.Link),
		})
	}
	return links
}

// Domain returns the lowercased host of rawURL without a leading "www.", or
// "" when the URL cannot be parsed or has no host.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
