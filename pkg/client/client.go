// Package client is the Go client for the CrimeSight HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

const Version = "0.1.0"

// Logger receives request traces.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

// Client talks to one CrimeSight API server.  It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     Logger
	retry      RetryPolicy
	requestID  func() string
}

// APIError is a non-2xx response.  It unwraps to an *errors.AppError
// carrying the server's code, so errors.IsCode works on client errors.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crimesight: %s (HTTP %d): %s [request_id=%s]", e.Code, e.StatusCode, e.Message, e.RequestID)
}

func (e *APIError) Unwrap() error {
	if e.Code == "" {
		return nil
	}
	return errors.New(errors.ErrorCode(e.Code), e.Message)
}

func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

func (e *APIError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

func (e *APIError) IsServerError() bool { return e.StatusCode >= 500 && e.StatusCode < 600 }

// NewClient returns a client for the server at baseURL, e.g.
// "http://crimesight:8080".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.NewValidationError("client: base URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "client: invalid base URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.NewValidationError("client: base URL scheme must be http or https")
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "crimesight-go-client/" + Version,
		logger:     noopLogger{},
		retry:      DefaultRetryPolicy(),
		requestID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Engine returns the client for the named engine instance.
func (c *Client) Engine(name string) *EngineClient {
	return &EngineClient{client: c, name: name}
}

// EngineSummary is one configured engine instance.
type EngineSummary struct {
	Name          string `json:"name"`
	ConfigVersion string `json:"config_version"`
	Resolution    int    `json:"resolution"`
}

// EngineList is the server's engine configuration.
type EngineList struct {
	ConfigVersion string          `json:"config_version"`
	Engines       []EngineSummary `json:"engines"`
}

// Engines lists the configured engine instances.
func (c *Client) Engines(ctx context.Context) (*EngineList, error) {
	var out EngineList
	if err := c.do(ctx, http.MethodGet, "/api/v1/engines", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready reports whether the server has loaded a snapshot and its backends
// are healthy.  It does not retry.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/readyz", nil, nil, false)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if stderrors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		return false, nil
	}
	return false, err
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}, retry bool) error {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	fullURL := c.baseURL + path

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "client: encode request")
		}
		payload = b
	}

	attempts := 1
	if retry {
		attempts += c.retry.Max
	}
	requestID := c.requestID()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := c.retry.backoff(attempt)
			c.logger.Debugf("retry %d of %s %s after %v", attempt, method, path, backoff)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeValidation, "client: build request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("X-Request-ID", requestID)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Errorf("%s %s failed: %v", method, path, err)
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		c.logger.Debugf("%s %s %d (%v)", method, path, resp.StatusCode, time.Since(start))

		if resp.StatusCode >= 400 {
			apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: requestID}
			var body struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if json.Unmarshal(respBody, &body) == nil && body.Code != "" {
				apiErr.Code, apiErr.Message = body.Code, body.Message
			} else {
				apiErr.Message = strings.TrimSpace(string(respBody))
			}
			lastErr = apiErr

			if resp.StatusCode == http.StatusTooManyRequests && attempt+1 < attempts {
				if wait, ok := retryAfter(resp); ok {
					c.logger.Infof("rate limited, retrying after %v", wait)
					if err := sleep(ctx, wait); err != nil {
						return err
					}
				}
				continue
			}
			if apiErr.IsServerError() {
				continue
			}
			return apiErr
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return errors.Wrap(err, errors.ErrCodeSerialization, "client: decode response")
			}
		}
		return nil
	}
	return lastErr
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
