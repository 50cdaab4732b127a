package httpclient

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/ossianwinter/replayd/internal/constants"
)

// Client wraps an http.Client with request throttling. Retry policy lives
// with the callers, which know whether a failure is retryable and what
// state must be checkpointed between attempts.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a throttled HTTP client. requestsPerSec bounds the
// sustained request rate against the upstream.
func NewClient(httpClient *http.Client, requestsPerSec float64) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: constants.DefaultHTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		}
	}
	if requestsPerSec <= 0 {
		requestsPerSec = constants.DefaultRequestsPerSec
	}
	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSec), 1),
	}
}

// Do executes an HTTP request after claiming a rate-limiter slot. It
// returns the response unexamined; status classification is the caller's.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.httpClient.Do(req.WithContext(ctx))
}

// ParseRetryAfter reads a Retry-After header and returns the duration to wait.
func ParseRetryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		return time.Until(t)
	}
	return 0
}
