// Package httpclient provides the HTTP client used to talk to remote settings APIs.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultTimeout is used when no timeout is configured
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize bounds the size of a response body
	MaxResponseSize = 100 * 1024 * 1024

	// UserAgent is sent with every request
	UserAgent = "statesync/1.0"

	defaultInitialInterval = 200 * time.Millisecond
)

// Client performs JSON requests against a remote API
type Client interface {
	// Get fetches url and returns the response body
	Get(ctx context.Context, url string, headers http.Header) ([]byte, error)

	// Put sends body to url and returns the response body
	Put(ctx context.Context, url string, headers http.Header, body []byte) ([]byte, error)
}

// DefaultClient is the default Client implementation
type DefaultClient struct {
	client          *http.Client
	retries         uint
	initialInterval time.Duration
}

// Option configures a DefaultClient
type Option func(*DefaultClient)

// WithRetries sets how many times a failed GET is retried.
// PUT requests are never retried.
func WithRetries(retries uint) Option {
	return func(c *DefaultClient) {
		c.retries = retries
	}
}

// WithRetryInterval sets the initial backoff interval between GET attempts
func WithRetryInterval(d time.Duration) Option {
	return func(c *DefaultClient) {
		c.initialInterval = d
	}
}

// WithTransport sets the round tripper used for requests
func WithTransport(rt http.RoundTripper) Option {
	return func(c *DefaultClient) {
		c.client.Transport = rt
	}
}

// NewDefaultClient creates a new client with the given timeout.
// A zero timeout uses DefaultTimeout.
func NewDefaultClient(timeout time.Duration, opts ...Option) *DefaultClient {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	c := &DefaultClient{
		client:          &http.Client{Timeout: timeout},
		initialInterval: defaultInitialInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get implements Client
func (c *DefaultClient) Get(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	operation := func() ([]byte, error) {
		data, err := c.do(ctx, http.MethodGet, url, headers, nil)
		if err != nil && !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return data, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.retries+1),
	)
}

// Put implements Client
func (c *DefaultClient) Put(ctx context.Context, url string, headers http.Header, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPut, url, headers, body)
}

func (c *DefaultClient) do(
	ctx context.Context, method, url string, headers http.Header, body []byte,
) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, values := range headers {
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.ContentLength > MaxResponseSize {
		return nil, sizeError(resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, sizeError(int64(len(data)))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewHTTPError(resp.StatusCode, url, string(data))
	}

	return data, nil
}

// ErrResponseTooLarge is returned when a response body is larger than MaxResponseSize
var ErrResponseTooLarge = errors.New("exceeds maximum allowed size")

func sizeError(size int64) error {
	return fmt.Errorf("response size %.2f MB %w of %.2f MB",
		float64(size)/(1024*1024), ErrResponseTooLarge, float64(MaxResponseSize)/(1024*1024))
}

// isRetryable reports whether a failed GET is worth another attempt
func isRetryable(err error) bool {
	if errors.Is(err, ErrResponseTooLarge) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
