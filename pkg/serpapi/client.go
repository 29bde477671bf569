// Package serpapi is a client for the SerpApi Google search endpoint.
package serpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/serp-monitor/internal/resilience"
)

const (
	defaultBaseURL  = "https://serpapi.com"
	defaultEngine   = "google"
	defaultLanguage = "tr"
	defaultCountry  = "tr"
	defaultNum      = 10
	defaultTimeout  = 30 * time.Second
)

// Client performs search requests against the provider.
type Client interface {
	Search(ctx context.Context, query, location string) (*SearchResponse, error)
}

// SearchResponse is the subset of the provider response the monitor consumes.
type SearchResponse struct {
	OrganicResults    []OrganicResult   `json:"organic_results"`
	SearchInformation SearchInformation `json:"search_information"`
}

// OrganicResult is one organic search result in provider order.
type OrganicResult struct {
	Link    string `json:"link"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchInformation carries provider metadata about the query.
type SearchInformation struct {
	TotalResults int64 `json:"total_results"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL. Empty keeps the default.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the hard per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLocale sets the hl (interface language) and gl (country) parameters.
func WithLocale(language, country string) Option {
	return func(c *httpClient) {
		if language != "" {
			c.language = language
		}
		if country != "" {
			c.country = country
		}
	}
}

// WithNum sets how many results are requested per search.
func WithNum(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.num = n
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero or negative disables
// the limiter.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	apiKey   string
	baseURL  string
	language string
	country  string
	num      int
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a SerpApi client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		language: defaultLanguage,
		country:  defaultCountry,
		num:      defaultNum,
		http: &http.Client{
			Timeout: defaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query, location string) (*SearchResponse, error) {
	if query == "" {
		return nil, &ProviderError{Query: query, Err: eris.New("serpapi: empty query")}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &ProviderError{Query: query, Err: eris.Wrap(err, "serpapi: rate limit wait")}
		}
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("api_key", c.apiKey)
	params.Set("engine", defaultEngine)
	params.Set("hl", c.language)
	params.Set("gl", c.country)
	params.Set("num", strconv.Itoa(c.num))
	if loc := ResolveLocation(location); loc != "" {
		params.Set("location", loc)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, &ProviderError{Query: query, Err: eris.Wrap(err, "serpapi: create request")}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ProviderError{Query: query, Err: transportErr(err, "serpapi: send request")}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Query: query, Err: transportErr(err, "serpapi: read response")}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var cause error = eris.Errorf("serpapi: unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			cause = resilience.NewTransientError(cause, resp.StatusCode)
		}
		return nil, &ProviderError{Query: query, StatusCode: resp.StatusCode, Err: cause}
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &ProviderError{Query: query, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "serpapi: unmarshal response")}
	}

	return &result, nil
}

// transportErr wraps a failed round trip, marking timeouts and dropped
// connections as retryable.
func transportErr(err error, msg string) error {
	wrapped := eris.Wrap(err, msg)
	if errors.Is(err, context.DeadlineExceeded) || resilience.IsTransient(err) {
		return resilience.NewTransientError(wrapped, 0)
	}
	return wrapped
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
