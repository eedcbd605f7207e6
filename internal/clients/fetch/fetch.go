// Package fetch provides a rate-limited HTTP client with hard byte caps for
// pulling stored objects into processors.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/depotlabs/depot/internal/common"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// Client downloads object payloads with size guards. Downloads past the
// byte cap fail permanently; connection-level failures fail retryably.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *common.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a fetch client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Buffer downloads url fully into memory, enforcing maxBytes.
func (c *Client) Buffer(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	stream, err := c.Stream(ctx, url, maxBytes)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Stream opens a bounded download. The returned reader fails permanently the
// moment the running byte count exceeds maxBytes. The caller must Close it.
func (c *Client) Stream(ctx context.Context, url string, maxBytes int64) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, common.NewPermanentError("invalid download url", err)
	}

	c.logger.Debug().Str("url", url).Int64("max_bytes", maxBytes).Msg("Fetching object")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		msg := fmt.Sprintf("download failed with status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, &common.PermanentError{Message: msg, Status: resp.StatusCode}
		}
		return nil, &common.RetryableError{Message: msg, Status: resp.StatusCode}
	}

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		resp.Body.Close()
		return nil, &common.PermanentError{
			Message: fmt.Sprintf("Remote file too large: %d bytes exceeds limit of %d", resp.ContentLength, maxBytes),
		}
	}

	return &boundedReader{body: resp.Body, remaining: maxBytes, unlimited: maxBytes <= 0}, nil
}

// boundedReader counts bytes as they arrive and aborts past the cap.
type boundedReader struct {
	body      io.ReadCloser
	remaining int64
	unlimited bool
	exceeded  bool
}

func (r *boundedReader) Read(p []byte) (int, error) {
	if r.exceeded {
		return 0, &common.PermanentError{Message: "Remote file too large: download exceeded byte limit"}
	}
	n, err := r.body.Read(p)
	if !r.unlimited {
		r.remaining -= int64(n)
		if r.remaining < 0 {
			r.exceeded = true
			r.body.Close()
			return 0, &common.PermanentError{Message: "Remote file too large: download exceeded byte limit"}
		}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, wrapTransportError(err)
	}
	return n, err
}

func (r *boundedReader) Close() error {
	return r.body.Close()
}

// wrapTransportError maps connection-level failures to retryable errors.
func wrapTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &common.RetryableError{Message: "download timed out", Code: "ETIMEDOUT", Err: err}
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &common.RetryableError{Message: "download timed out", Code: "ETIMEDOUT", Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"):
		return &common.RetryableError{Message: "connection reset during download", Code: "ECONNRESET", Err: err}
	case strings.Contains(msg, "connection refused"):
		return &common.RetryableError{Message: "connection refused", Code: "ECONNREFUSED", Err: err}
	case strings.Contains(msg, "broken pipe"):
		return &common.RetryableError{Message: "broken pipe during download", Code: "EPIPE", Err: err}
	case strings.Contains(msg, "no such host"):
		return &common.RetryableError{Message: "host lookup failed", Code: "ENOTFOUND", Err: err}
	}
	return &common.RetryableError{Message: "download failed", Code: "NETWORK_ERROR", Err: err}
}
