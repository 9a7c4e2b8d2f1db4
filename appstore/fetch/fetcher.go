package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Config configures a Fetcher.
type Config struct {
	// Timeout bounds a single request attempt.
	Timeout time.Duration

	// MaxBodySize caps the response body size in bytes.
	MaxBodySize int64

	// MaxRetries is the number of attempts per URL.
	MaxRetries int

	// RetryDelay is the base delay between retries. Attempt n waits
	// RetryDelay * n before retrying.
	RetryDelay time.Duration

	// RetryAfterBase scales the wait after a 429 response. Attempt n
	// waits RetryAfterBase * (n+1) unless the server sends Retry-After.
	RetryAfterBase time.Duration

	// UserAgents is rotated across requests. At least one is required.
	UserAgents []string

	// SkipURLCheck disables HTTPS and private-IP validation.
	// Test use only.
	SkipURLCheck bool
}

// DefaultConfig returns fetcher defaults tuned for store pages.
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		MaxBodySize:    10 * 1024 * 1024,
		MaxRetries:     3,
		RetryDelay:     1500 * time.Millisecond,
		RetryAfterBase: 5 * time.Second,
		UserAgents: []string{
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		},
	}
}

// Result contains the response of a successful fetch.
type Result struct {
	Body        []byte
	ContentType string
	ETag        string
	StatusCode  int
}

// RetryExhaustedError reports that every attempt for a URL failed.
type RetryExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s: %d attempts failed: %v", e.URL, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// Fetcher fetches store pages with security checks and retry handling.
type Fetcher struct {
	client  *http.Client
	config  Config
	uaIndex atomic.Int64
}

// New creates a Fetcher. Zero config fields fall back to defaults.
func New(config Config) *Fetcher {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = defaults.MaxBodySize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.RetryAfterBase <= 0 {
		config.RetryAfterBase = defaults.RetryAfterBase
	}
	if len(config.UserAgents) == 0 {
		config.UserAgents = defaults.UserAgents
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	// Custom DialContext that validates resolved IPs to prevent DNS
	// rebinding attacks.
	safeDialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}

		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("DNS lookup failed: %w", err)
		}

		if !config.SkipURLCheck {
			for _, ipAddr := range ips {
				if IsPrivateIP(ipAddr.IP) {
					return nil, fmt.Errorf("connection to private IP %s is not allowed", ipAddr.IP)
				}
			}
		}

		for _, ipAddr := range ips {
			connAddr := net.JoinHostPort(ipAddr.IP.String(), port)
			conn, err := dialer.DialContext(ctx, network, connAddr)
			if err == nil {
				return conn, nil
			}
		}

		return nil, fmt.Errorf("failed to connect to any resolved IP")
	}

	transport := &http.Transport{
		DialContext:           safeDialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: config.Timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}

	f := &Fetcher{config: config}
	f.client = &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			if !config.SkipURLCheck {
				if err := ValidateURL(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
			}
			return nil
		},
	}
	return f
}

// nextUserAgent rotates through the configured User-Agent list.
func (f *Fetcher) nextUserAgent() string {
	i := f.uaIndex.Add(1)
	return f.config.UserAgents[int(i)%len(f.config.UserAgents)]
}

// Get fetches a URL, retrying transient failures with backoff.
func (f *Fetcher) Get(ctx context.Context, urlStr string) (*Result, error) {
	return f.GetWithETag(ctx, urlStr, "")
}

// GetWithETag fetches a URL with conditional fetch support. When the
// etag matches, the result carries StatusCode 304 and an empty body.
func (f *Fetcher) GetWithETag(ctx context.Context, urlStr, etag string) (*Result, error) {
	if !f.config.SkipURLCheck {
		if err := ValidateURL(urlStr); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= f.config.MaxRetries; attempt++ {
		result, rateLimited, serverWait, err := f.fetchOnce(ctx, urlStr, etag)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var wait time.Duration
		switch {
		case rateLimited:
			// Back off harder on each rate-limited attempt unless the
			// server named its own wait.
			wait = f.config.RetryAfterBase * time.Duration(attempt+1)
			if serverWait > 0 {
				wait = serverWait
			}
		case isRetryable(err):
			wait = f.config.RetryDelay * time.Duration(attempt)
		default:
			return nil, err
		}

		if attempt == f.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, &RetryExhaustedError{URL: urlStr, Attempts: f.config.MaxRetries, Last: lastErr}
}

// statusError is a non-2xx response. Retryable for 5xx only; 429 is
// handled separately via the retryAfter path.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, http.StatusText(e.code))
}

// isRetryable reports whether an attempt error is worth retrying.
// Non-429 client errors fail fast; server errors and network-level
// failures are retried.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}

// fetchOnce performs a single attempt. rateLimited marks a 429
// response; serverWait carries the Retry-After header when present.
func (f *Fetcher) fetchOnce(ctx context.Context, urlStr, etag string) (result *Result, rateLimited bool, serverWait time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, false, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.nextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false, 0, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		var wait time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				wait = time.Duration(secs) * time.Second
			}
		}
		return nil, true, wait, &statusError{code: resp.StatusCode}
	}

	if resp.StatusCode == http.StatusNotModified {
		return &Result{
			ContentType: resp.Header.Get("Content-Type"),
			ETag:        resp.Header.Get("ETag"),
			StatusCode:  resp.StatusCode,
		}, false, 0, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, false, 0, &statusError{code: resp.StatusCode}
	}

	limitReader := io.LimitReader(resp.Body, f.config.MaxBodySize+1)
	body, err := io.ReadAll(limitReader)
	if err != nil {
		return nil, false, 0, fmt.Errorf("read body: %w", err)
	}

	if int64(len(body)) > f.config.MaxBodySize {
		return nil, false, 0, fmt.Errorf("content too large (exceeds %d bytes)", f.config.MaxBodySize)
	}

	return &Result{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		StatusCode:  resp.StatusCode,
	}, false, 0, nil
}
