package client

import (
	"context"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	retryMinWait     = 100 * time.Millisecond
	retryMaxWait     = 3000 * time.Millisecond
	retrySleepJitter = 500 // additional 0-500ms, multiplied by time.Millisecond in backoffFunc
)

// Options configures client construction.
type Options struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// ConnTimeout bounds connection establishment.
	ConnTimeout time.Duration

	// RequestTimeout bounds a whole request. Leave zero for streaming
	// transfers, which must not carry an overall deadline.
	RequestTimeout time.Duration

	// Transport overrides the base transport. Used by tests.
	Transport http.RoundTripper
}

// UserAgentTransport injects the User-Agent header on every request.
type UserAgentTransport struct {
	Transport http.RoundTripper
	UserAgent string
}

func (t *UserAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", t.UserAgent)
	return t.Transport.RoundTrip(req)
}

func baseTransport(opts Options) http.RoundTripper {
	if opts.Transport != nil {
		return opts.Transport
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewRetryable returns a retrying client for API calls. It retries
// connection failures, 5xx and 429 responses with jittered exponential
// backoff; a 429 carrying Retry-After is not retried before the
// server-specified delay has elapsed.
func NewRetryable(opts Options, userAgent string) *retryablehttp.Client {
	return &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport: &UserAgentTransport{Transport: baseTransport(opts), UserAgent: userAgent},
			Timeout:   opts.RequestTimeout,
		},
		Logger:       nil,
		RetryWaitMin: retryMinWait,
		RetryWaitMax: retryMaxWait,
		RetryMax:     opts.MaxRetries,
		CheckRetry:   RetryPolicy,
		Backoff:      backoffFunc,
		// Keep the final response so callers can classify terminal
		// failures by status code.
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
}

// NewStreaming returns a plain client for file transfers: per-connection
// timeout only, no overall request deadline, so large downloads are never
// cut off mid-stream.
func NewStreaming(opts Options, userAgent string) *http.Client {
	return &http.Client{
		Transport: &UserAgentTransport{Transport: baseTransport(opts), UserAgent: userAgent},
	}
}

// RetryPolicy extends retryablehttp.DefaultRetryPolicy to also retry 429
// responses. Other 4xx statuses stay terminal.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil && resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// backoffFunc wraps retryablehttp.DefaultBackoff with a random jitter to
// avoid thundering herd across concurrent downloads. DefaultBackoff honors
// a server-supplied Retry-After, so the jitter only ever extends that
// delay.
func backoffFunc(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	sleep := time.Duration(rand.Intn(retrySleepJitter)) * time.Millisecond
	sleep += retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	return sleep
}
