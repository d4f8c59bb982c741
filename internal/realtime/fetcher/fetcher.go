// Package fetcher downloads GTFS-RT payloads over HTTP.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single fetch
const DefaultTimeout = 15 * time.Second

// APIKeyHeader carries the feed credential
const APIKeyHeader = "x-api-key"

// Kind classifies a fetch failure
type Kind string

const (
	KindNetwork Kind = "network"
	KindStatus  Kind = "status"
	KindTimeout Kind = "timeout"
)

// Error is a failed fetch. StatusCode is set for KindStatus only.
type Error struct {
	URL        string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Client fetches feeds with a shared credential. It never retries; the next
// poll is the retry.
type Client struct {
	http   *resty.Client
	apiKey string
}

// New creates a fetcher. A non-positive timeout uses DefaultTimeout.
func New(apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		http: resty.New().
			SetTimeout(timeout).
			SetRetryCount(0).
			SetLogger(logger.Sugar()),
		apiKey: apiKey,
	}
}

// Fetch performs one GET and returns the 2xx response body
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if c.apiKey != "" {
		req.SetHeader(APIKeyHeader, c.apiKey)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, &Error{URL: url, Kind: classify(err), Err: err}
	}

	if !resp.IsSuccess() {
		return nil, &Error{
			URL:        url,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("unexpected status: %s", resp.Status()),
		}
	}

	return resp.Body(), nil
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
