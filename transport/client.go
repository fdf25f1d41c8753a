// Package transport provides the process wide HTTP transport of the storage
// client. It caps the number of requests in flight across every upload that
// shares it and, optionally, the request rate.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limits holds the limits of a Client.
type Limits struct {
	// MaxConcurrentRequests is the maximum number of requests in flight.
	// A request counts as in flight until its response body is closed.
	// Default: 10
	MaxConcurrentRequests int64

	// RequestsPerSecond limits the request rate. 0 means unlimited.
	RequestsPerSecond float64

	// Burst is the number of requests allowed to exceed the rate at once.
	// Default: 1
	Burst int
}

// DefaultLimits returns the default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxConcurrentRequests: 10,
		RequestsPerSecond:     0,
		Burst:                 1,
	}
}

// Client sends HTTP requests within the configured limits. Create one per
// process and pass it to every uploader that should share the limits.
type Client struct {
	httpClient *retryablehttp.Client
	sem        *semaphore.Weighted
	limiter    *rate.Limiter
	logger     log.Logger
}

// NewClient creates a new Client. The underlying retryablehttp client never
// retries on its own; retry policy belongs to the callers.
func NewClient(limits Limits, logger log.Logger) *Client {
	if limits.MaxConcurrentRequests <= 0 {
		limits.MaxConcurrentRequests = DefaultLimits().MaxConcurrentRequests
	}
	if limits.Burst <= 0 {
		limits.Burst = 1
	}

	httpClient := retryhttp.NewClient(logger)
	httpClient.RetryMax = 0
	httpClient.CheckRetry = createNoRetryFunction(logger)
	httpClient.HTTPClient.Transport = &http.Transport{
		MaxIdleConns:        50,
		MaxConnsPerHost:     int(limits.MaxConcurrentRequests),
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		Proxy:               http.ProxyFromEnvironment,
	}

	limiter := rate.NewLimiter(rate.Inf, limits.Burst)
	if limits.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), limits.Burst)
	}

	return &Client{
		httpClient: httpClient,
		sem:        semaphore.NewWeighted(limits.MaxConcurrentRequests),
		limiter:    limiter,
		logger:     logger,
	}
}

// Do sends req once it gets a free slot. Waiting for a slot is aborted when
// the request context is done. The slot is released when the response body
// is closed, or right away when the request fails.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for request slot: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		c.sem.Release(1)
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	retryableReq, err := retryablehttp.FromRequest(req)
	if err != nil {
		c.sem.Release(1)
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(retryableReq)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		c.sem.Release(1)
		return nil, err
	}

	resp.Body = &releasingBody{ReadCloser: resp.Body, release: func() { c.sem.Release(1) }}
	return resp, nil
}

// CloseIdleConnections closes idle connections in the HTTP client.
func (c *Client) CloseIdleConnections() {
	c.httpClient.HTTPClient.CloseIdleConnections()
}

func createNoRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			logger.Debugf("Request failed: %s", err)
		}
		return false, nil
	}
}

type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
