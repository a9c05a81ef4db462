package versioncheck

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Client is an HTTP GET client that retries throttled responses (429 and
// 503) with exponential backoff, honoring Retry-After.
type Client struct {
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	jitter     bool
}

// ClientConfig configures a Client. Zero values select defaults.
type ClientConfig struct {
	Timeout    time.Duration // per request, default 10s
	MaxRetries int           // default 2
	BaseDelay  time.Duration // default 500ms
	MaxDelay   time.Duration // default 8s
	NoJitter   bool
}

// NewClient creates a retrying client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 8 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		jitter:     !cfg.NoJitter,
	}
}

// Get fetches url bypassing intermediate caches. The caller closes the
// response body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if !throttled(resp.StatusCode) || attempt >= c.maxRetries {
			return resp, nil
		}
		_ = resp.Body.Close()

		delay := c.backoff(attempt, ParseRetryAfter(resp.Header.Get("Retry-After")))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func throttled(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// backoff computes the delay before retry attempt+1.
func (c *Client) backoff(attempt int, retryAfter *time.Duration) time.Duration {
	if retryAfter != nil {
		return min(*retryAfter, c.maxDelay)
	}

	delay := c.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	if c.jitter {
		delay = time.Duration(float64(delay) * (0.8 + rand.Float64()*0.4))
	}
	return delay
}

// ParseRetryAfter parses a Retry-After header in seconds or HTTP-date form.
// Returns nil if the value is invalid or empty.
func ParseRetryAfter(value string) *time.Duration {
	if value == "" {
		return nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			return nil
		}
		d := time.Duration(seconds) * time.Second
		return &d
	}
	if t, err := http.ParseTime(value); err == nil {
		d := max(time.Until(t), 0)
		return &d
	}
	return nil
}
