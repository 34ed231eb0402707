package geocode

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/wolfeidau/doto-cache/telemetry"
)

// DefaultTimeout bounds a whole provider call, retries included.
const DefaultTimeout = 30 * time.Second

// LeveledSlog adapts slog to retryablehttp's leveled logger.
type LeveledSlog struct {
	inner *slog.Logger
}

// Error is logged at WARN because the client retries.
func (l LeveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

func (l LeveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

type clientConfig struct {
	retry   *retryablehttp.Client
	timeout time.Duration
}

// ClientOption configures NewHTTPClient.
type ClientOption func(*clientConfig)

// WithMaxRetries sets the maximum number of retries.
func WithMaxRetries(n int) ClientOption {
	return func(c *clientConfig) {
		c.retry.RetryMax = n
	}
}

// WithRetryWait sets the backoff bounds between retries.
func WithRetryWait(waitMin, waitMax time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retry.RetryWaitMin = waitMin
		c.retry.RetryWaitMax = waitMax
	}
}

// WithClientLogger sets the logger for retry warnings.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.retry.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: logger})
	}
}

// WithTransport replaces the underlying transport. It is still wrapped with
// upstream metrics.
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *clientConfig) {
		c.retry.HTTPClient.Transport = telemetry.NewInstrumentedTransport(transport, "nominatim")
	}
}

// WithTimeout sets the overall request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// NewHTTPClient returns a standard *http.Client with retryablehttp inside.
// It retries connection errors and 5xx responses (except 501) with backoff,
// and records upstream metrics for every attempt.
func NewHTTPClient(opts ...ClientOption) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = telemetry.NewInstrumentedTransport(cleanhttp.DefaultPooledTransport(), "nominatim")
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: slog.Default().With("component", "geocode-http")})
	retryClient.CheckRetry = RetryPolicy

	cfg := &clientConfig{retry: retryClient, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(cfg)
	}

	client := retryClient.StandardClient()
	client.Timeout = cfg.timeout
	return client
}

// RetryPolicy wraps retryablehttp.DefaultRetryPolicy. A 429 is returned to
// the caller instead of being retried.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
