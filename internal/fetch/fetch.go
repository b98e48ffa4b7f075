// Package fetch wraps outbound HTTP GETs with per-host rate limiting and
// exponential-backoff retry. 5xx responses and transport errors retry;
// 4xx responses fail immediately.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"bozbot/internal/ratelimit"
)

const requestTimeout = 30 * time.Second

// FetchError reports a request that could not be completed after all
// retries, or a non-retryable status.
type FetchError struct {
	URL        string
	StatusCode int // 0 when the transport failed
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempts", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempts", e.URL, e.Err, e.Attempts)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client performs rate-limited GETs.
type Client struct {
	limiter    *ratelimit.Registry
	userAgent  string
	maxRetries int
	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
	log   zerolog.Logger
}

// NewClient creates a fetch client. maxRetries is the number of retries
// after the first attempt; the default of 3 gives 4 total attempts.
func NewClient(limiter *ratelimit.Registry, userAgent string, maxRetries int, log zerolog.Logger) *Client {
	if maxRetries < 0 {
		maxRetries = 3
	}
	return &Client{
		limiter:    limiter,
		userAgent:  userAgent,
		maxRetries: maxRetries,
		sleep:      sleepCtx,
		log:        log.With().Str("component", "fetch").Logger(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// GetText fetches a URL and returns the raw response body.
func (c *Client) GetText(ctx context.Context, rawURL string) (string, error) {
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// GetJSON fetches a URL and unmarshals the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &FetchError{URL: rawURL, Attempts: 1, Err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Attempts: 0, Err: err}
	}

	attempts := c.maxRetries + 1
	var lastStatus int
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second / 2 // 1s, 2s, 4s...
			c.log.Debug().Str("url", rawURL).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying fetch")
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, &FetchError{URL: rawURL, Attempts: attempt, Err: err}
			}
		}

		if err := c.limiter.Wait(ctx, u.Host); err != nil {
			return nil, &FetchError{URL: rawURL, Attempts: attempt, Err: err}
		}

		// Fresh client per attempt so a wedged connection is not reused.
		rc := resty.New().
			SetTimeout(requestTimeout).
			SetHeader("User-Agent", c.userAgent)

		resp, err := rc.R().SetContext(ctx).Get(rawURL)
		if err != nil {
			lastErr = err
			lastStatus = 0
			continue
		}

		status := resp.StatusCode()
		switch {
		case status >= 200 && status < 300:
			return resp.Body(), nil
		case status >= 500:
			lastStatus = status
			lastErr = nil
			continue
		default:
			// 4xx and other non-retryable statuses fail immediately.
			return nil, &FetchError{URL: rawURL, StatusCode: status, Attempts: attempt + 1}
		}
	}

	return nil, &FetchError{URL: rawURL, StatusCode: lastStatus, Attempts: attempts, Err: lastErr}
}
