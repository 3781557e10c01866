package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"smig-go/internal/smig"
)

// ClientConfig tunes the throttled client. Zero values take the defaults.
type ClientConfig struct {
	// MaxAttempts is the total number of tries per call, including the
	// first one.
	MaxAttempts int

	// BaseBackoff is the first retry delay; it doubles per attempt unless
	// the response carries a Retry-After header.
	BaseBackoff time.Duration

	// MaxConcurrent caps simultaneous in-flight requests regardless of how
	// many logical tasks call the client.
	MaxConcurrent int

	// RequestsPerSecond enables a proactive token bucket ahead of the
	// reactive retry handling. Zero disables it.
	RequestsPerSecond float64
	Burst             int
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Stats is a point-in-time view of the client's live counters.
type Stats struct {
	Completed int64
	Throttled int64
	Active    int64
}

// ThrottledClient wraps every remote call with throttle handling: requests
// that come back 429 or 503 are retried with exponential backoff (or the
// server's Retry-After), and total concurrency is capped by a bounded
// semaphore. All content-source traffic goes through one instance.
type ThrottledClient struct {
	hc     *http.Client
	tokens smig.TokenProvider
	logger smig.Logger
	cfg    ClientConfig

	sem    chan struct{}
	bucket *rate.Limiter

	completed atomic.Int64
	throttled atomic.Int64
	active    atomic.Int64
}

// NewThrottledClient creates a client. hc may be nil to use a default
// http.Client with a generous timeout.
func NewThrottledClient(hc *http.Client, tokens smig.TokenProvider, logger smig.Logger, cfg ClientConfig) *ThrottledClient {
	cfg = cfg.withDefaults()
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Minute}
	}

	c := &ThrottledClient{
		hc:     hc,
		tokens: tokens,
		logger: logger,
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}
	if cfg.RequestsPerSecond > 0 {
		c.bucket = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return c
}

// Stats returns the live counters for external reporting.
func (c *ThrottledClient) Stats() Stats {
	return Stats{
		Completed: c.completed.Load(),
		Throttled: c.throttled.Load(),
		Active:    c.active.Load(),
	}
}

// Do executes the request, transparently retrying throttled responses. On
// exhausting retries it returns a rate-limit error carrying the last
// response's status. The caller owns the returned body.
func (c *ThrottledClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	c.active.Add(1)
	defer c.active.Add(-1)

	var lastStatus int
	var lastRetryAfter time.Duration

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if c.bucket != nil {
			if err := c.bucket.Wait(ctx); err != nil {
				return nil, err
			}
		}

		attemptReq := req.Clone(ctx)
		if c.tokens != nil {
			token, err := c.tokens.Token(ctx)
			if err != nil {
				return nil, fmt.Errorf("acquiring token: %w", err)
			}
			attemptReq.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.hc.Do(attemptReq)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
		}

		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
			c.completed.Add(1)
			return resp, nil
		}

		c.throttled.Add(1)
		lastStatus = resp.StatusCode
		lastRetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		drain(resp)

		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.cfg.BaseBackoff << (attempt - 1)
		if lastRetryAfter > 0 {
			delay = lastRetryAfter
		}
		c.logger.Warn("request throttled, backing off",
			"url", req.URL.String(), "status", resp.StatusCode, "attempt", attempt, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%s %s: retries exhausted: %w", req.Method, req.URL,
		&smig.RateLimitError{StatusCode: lastStatus, RetryAfter: lastRetryAfter})
}

// GetJSON fetches url and decodes the response body into v. Non-2xx
// responses are errors.
func (c *ThrottledClient) GetJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return nil
}

// GetStream fetches url and returns the raw body for streaming.
func (c *ThrottledClient) GetStream(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp)
		return nil, fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
