package client

import (
	"math/rand"
	"net/http"
	"time"
)

// RetryPolicy controls retries of network errors, 5xx and 429 responses.
// Other 4xx responses are never retried.
type RetryPolicy struct {
	Max     int
	WaitMin time.Duration
	WaitMax time.Duration
}

// DefaultRetryPolicy retries three times, backing off from 500ms to 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Max: 3, WaitMin: 500 * time.Millisecond, WaitMax: 5 * time.Second}
}

// backoff is exponential in attempt (from 1) with up to 25% jitter.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.WaitMin * time.Duration(1<<uint(attempt-1))
	if d > p.WaitMax || d <= 0 {
		d = p.WaitMax
	}
	if q := int64(d / 4); q > 0 {
		d += time.Duration(rand.Int63n(q))
	}
	return d
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default transport.  A nil client is ignored.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each attempt, not the whole call; use a context
// deadline for that.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.httpClient
			hc.Timeout = d
			c.httpClient = &hc
		}
	}
}

func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetryPolicy replaces the retry policy.  Negative Max and non-positive
// waits keep the current values; WaitMax below WaitMin is raised to it.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		if p.Max >= 0 {
			c.retry.Max = p.Max
		}
		if p.WaitMin > 0 {
			c.retry.WaitMin = p.WaitMin
		}
		if p.WaitMax > 0 {
			c.retry.WaitMax = p.WaitMax
		}
		if c.retry.WaitMax < c.retry.WaitMin {
			c.retry.WaitMax = c.retry.WaitMin
		}
	}
}

// WithoutRetries sends every request once.
func WithoutRetries() Option {
	return func(c *Client) { c.retry.Max = 0 }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRequestIDs sets the X-Request-ID generator, e.g. to propagate a
// caller's trace id.  Every attempt of one call shares the id.
func WithRequestIDs(next func() string) Option {
	return func(c *Client) {
		if next != nil {
			c.requestID = next
		}
	}
}
