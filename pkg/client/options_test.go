package client

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{ debug, info, errs int }

func (l *testLogger) Debugf(string, ...interface{}) { l.debug++ }
func (l *testLogger) Infof(string, ...interface{})  { l.info++ }
func (l *testLogger) Errorf(string, ...interface{}) { l.errs++ }

func TestOptions(t *testing.T) {
	hc := &http.Client{Timeout: time.Second}
	log := &testLogger{}
	c, err := NewClient("https://crimesight.example",
		WithHTTPClient(hc),
		WithLogger(log),
		WithRetryPolicy(RetryPolicy{Max: 1, WaitMin: time.Second, WaitMax: 10 * time.Second}),
		WithUserAgent("dispatch/2.1"),
		WithRequestIDs(func() string { return "fixed" }),
	)
	require.NoError(t, err)
	assert.Same(t, hc, c.httpClient)
	assert.Same(t, log, c.logger)
	assert.Equal(t, RetryPolicy{Max: 1, WaitMin: time.Second, WaitMax: 10 * time.Second}, c.retry)
	assert.Equal(t, "dispatch/2.1", c.userAgent)
	assert.Equal(t, "fixed", c.requestID())
}

func TestOptions_IgnoreInvalid(t *testing.T) {
	c, err := NewClient("http://localhost",
		WithHTTPClient(nil),
		WithLogger(nil),
		WithRetryPolicy(RetryPolicy{Max: -1}),
		WithUserAgent(""),
		WithRequestIDs(nil),
		WithTimeout(0),
	)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)
	assert.IsType(t, noopLogger{}, c.logger)
	assert.Equal(t, DefaultRetryPolicy(), c.retry)
	assert.Contains(t, c.userAgent, "crimesight-go-client/")
	assert.NotEmpty(t, c.requestID())
}

func TestWithRetryPolicy_RaisesMaxWait(t *testing.T) {
	c, err := NewClient("http://localhost", WithRetryPolicy(RetryPolicy{Max: 2, WaitMin: 10 * time.Second}))
	require.NoError(t, err)
	assert.Equal(t, 2, c.retry.Max)
	assert.Equal(t, 10*time.Second, c.retry.WaitMin)
	assert.Equal(t, 10*time.Second, c.retry.WaitMax)
}

func TestWithoutRetries(t *testing.T) {
	c, err := NewClient("http://localhost", WithoutRetries())
	require.NoError(t, err)
	assert.Zero(t, c.retry.Max)
}

func TestWithTimeout_CopiesClient(t *testing.T) {
	shared := &http.Client{Timeout: time.Minute}
	c, err := NewClient("http://localhost", WithHTTPClient(shared), WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.httpClient.Timeout)
	assert.Equal(t, time.Minute, shared.Timeout, "caller's client is not modified")
}
