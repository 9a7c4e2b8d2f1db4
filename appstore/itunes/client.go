// Package itunes provides a rate-limited client for the iTunes Search
// and Lookup APIs and the RSS top-apps feeds.
package itunes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360studio/storewatch/appstore"
)

const (
	defaultBaseURL = "https://itunes.apple.com"
	defaultCountry = "tr"

	// maxSearchLimit is the API's hard cap on results per request.
	maxSearchLimit = 200

	// maxResponseSize caps API response bodies.
	maxResponseSize = 20 * 1024 * 1024
)

// Client calls the iTunes REST APIs. Every outbound request passes
// through the rate limiter, so a single Client can be shared safely
// across goroutines.
type Client struct {
	httpClient *http.Client
	baseURL    string
	country    string
	userAgent  string
	limiter    *rate.Limiter
	stats      Stats
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithCountry sets the default storefront country code.
func WithCountry(country string) Option {
	return func(c *Client) { c.country = country }
}

// WithRequestsPerSecond sets the rate limit for outbound requests.
func WithRequestsPerSecond(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a Client with a default 2 req/s rate limit.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		country:    defaultCountry,
		userAgent:  "storewatch/1.0",
		limiter:    rate.NewLimiter(rate.Limit(2), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Country returns the client's default storefront country.
func (c *Client) Country() string {
	return c.country
}

// SearchOptions controls a Search request.
type SearchOptions struct {
	// Limit caps the number of results. Values above the API maximum
	// of 200 are clamped; zero uses 50.
	Limit int

	// GenreID restricts results to a store genre.
	GenreID int

	// Country overrides the client's default storefront.
	Country string
}

// Search queries the search API for software matching a term.
func (c *Client) Search(ctx context.Context, term string, opts SearchOptions) ([]appstore.Record, error) {
	if term == "" {
		return nil, fmt.Errorf("search term is required")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	country := opts.Country
	if country == "" {
		country = c.country
	}

	params := url.Values{}
	params.Set("term", term)
	params.Set("country", country)
	params.Set("entity", "software")
	params.Set("limit", strconv.Itoa(limit))
	if opts.GenreID > 0 {
		params.Set("genreId", strconv.Itoa(opts.GenreID))
	}

	var resp searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/search?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("search %q: %w", term, err)
	}

	records := make([]appstore.Record, 0, len(resp.Results))
	for _, result := range resp.Results {
		rec := result.toRecord(country)
		if rec.ID == "" {
			continue
		}
		records = append(records, rec)
	}
	c.stats.recordsFetched.Add(int64(len(records)))
	return records, nil
}

// SearchCategory searches within a category using its genre filter.
// The category name doubles as the search term, matching how the store
// groups apps for browse queries. An empty country uses the client's
// default storefront.
func (c *Client) SearchCategory(ctx context.Context, category appstore.Category, limit int, country string) ([]appstore.Record, error) {
	records, err := c.Search(ctx, category.Name, SearchOptions{
		Limit:   limit,
		GenreID: category.GenreID,
		Country: country,
	})
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Category == "" {
			records[i].Category = category.Name
		}
		if records[i].GenreID == 0 {
			records[i].GenreID = category.GenreID
		}
	}
	return records, nil
}

// Lookup fetches a single app by track ID. Returns nil when the store
// has no app with that ID. An empty country uses the client's default
// storefront.
func (c *Client) Lookup(ctx context.Context, id, country string) (*appstore.Record, error) {
	if id == "" {
		return nil, fmt.Errorf("app ID is required")
	}
	if country == "" {
		country = c.country
	}

	params := url.Values{}
	params.Set("id", id)
	params.Set("country", country)

	var resp searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/lookup?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", id, err)
	}

	if resp.ResultCount == 0 || len(resp.Results) == 0 {
		return nil, nil
	}

	rec := resp.Results[0].toRecord(country)
	c.stats.recordsFetched.Add(1)
	return &rec, nil
}

// getJSON performs a rate-limited GET and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.stats.totalRequests.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		c.stats.failedRequests.Add(1)
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.stats.failedRequests.Add(1)
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.stats.failedRequests.Add(1)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.stats.failedRequests.Add(1)
		return fmt.Errorf("read body: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.stats.failedRequests.Add(1)
		return fmt.Errorf("decode response: %w", err)
	}

	c.stats.successfulRequests.Add(1)
	return nil
}
