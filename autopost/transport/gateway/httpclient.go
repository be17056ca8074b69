package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type LeveledSlog struct {
	inner *slog.Logger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
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

type noRetryKey struct{}

// Marks a request context so the HTTP client never re-sends it. Used for requests which are not idempotent, like posting a message.
func withNoRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

// Retries connection errors and 5xx, except for requests marked withNoRetry. Rate limits and auth failures are returned to the caller as-is.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if v, ok := ctx.Value(noRetryKey{}).(bool); ok && v {
		return false, nil
	}
	if err == nil {
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden:
			return false, nil
		}
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// HTTP client with retries and tracing for talking to the session gateway.
func NewHTTPClient(logger *slog.Logger) *http.Client {
	if logger == nil {
		logger = slog.Default()
	}
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: logger.With("subsystem", "gateway-http")})
	retryClient.CheckRetry = RetryPolicy
	// hand the final response back instead of a generic "giving up" error
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := retryClient.StandardClient()
	client.Timeout = 30 * time.Second
	return client
}
