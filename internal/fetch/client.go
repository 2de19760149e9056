// Package fetch downloads remote job inputs (images and audio) to local files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Static errors for download operations.
var (
	// ErrUnsupportedURL is returned for URLs that are not http or https.
	ErrUnsupportedURL = errors.New("fetch: only http and https URLs are supported")
	// ErrTooLarge is returned when the response body exceeds the byte limit.
	ErrTooLarge = errors.New("fetch: response exceeds size limit")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("fetch: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("fetch: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("fetch: request failed")
	// ErrForbiddenAddress is returned when a URL points at a loopback,
	// private, link-local or otherwise non-public address.
	ErrForbiddenAddress = errors.New("fetch: destination address not allowed")
)

// DefaultMaxBytes bounds a single download when no limit is configured.
const DefaultMaxBytes int64 = 100 << 20

// Downloader fetches a URL into a local file.
type Downloader interface {
	Download(ctx context.Context, rawURL, destPath string) error
}

// Client is the HTTP implementation of Downloader.
type Client struct {
	httpClient   *http.Client
	maxRetries   int
	baseBackoff  time.Duration
	maxBytes     int64
	allowPrivate bool
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. The client is used as is, so
// address filtering is up to its transport.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(fc *Client) {
		fc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(fc *Client) {
		if n >= 0 {
			fc.maxRetries = n
		}
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(fc *Client) {
		fc.baseBackoff = d
	}
}

// WithMaxBytes sets the largest accepted response body. Non-positive values
// keep DefaultMaxBytes.
func WithMaxBytes(n int64) ClientOption {
	return func(fc *Client) {
		if n > 0 {
			fc.maxBytes = n
		}
	}
}

// WithPrivateNetworks allows downloads from loopback, private and
// link-local addresses.
func WithPrivateNetworks(allow bool) ClientOption {
	return func(fc *Client) {
		fc.allowPrivate = allow
	}
}

// NewClient creates a new download client. Unless WithPrivateNetworks is
// set, it only connects to public addresses.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		maxRetries:  3,
		baseBackoff: 500 * time.Millisecond,
		maxBytes:    DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newHTTPClient(c.allowPrivate)
	}
	return c
}

// newHTTPClient returns a client whose dialer rejects non-public addresses
// unless allowPrivate is set. The check runs on the resolved address, so it
// also covers DNS names and redirects.
func newHTTPClient(allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !allowPrivate {
		dialer.Control = publicOnly
		// A proxy would be dialed instead of the target.
		transport.Proxy = nil
	}
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: 2 * time.Minute, Transport: transport}
}

func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, address)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !isPublic(ip) {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, host)
	}
	return nil
}

// isPublic reports whether ip is a globally routable unicast address.
func isPublic(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsGlobalUnicast() && !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast()
}

// Download fetches rawURL into destPath, retrying network errors, 5xx and
// 429 responses with exponential backoff. destPath is removed on failure.
func (c *Client) Download(ctx context.Context, rawURL, destPath string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}
	if ip, err := netip.ParseAddr(u.Hostname()); err == nil && !c.allowPrivate && !isPublic(ip) {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, ip)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
		return fmt.Errorf("fetch: create directory: %w", err)
	}

	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("fetch: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		err := c.download(ctx, u.String(), destPath)
		if err == nil {
			return nil
		}
		_ = os.Remove(destPath)

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("fetch: max retries exceeded: %w", lastErr)
}

// download performs a single GET and streams the body into destPath.
func (c *Client) download(ctx context.Context, rawURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("fetch: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("fetch: context cancelled: %w", ctx.Err())
		}
		if errors.Is(err, ErrForbiddenAddress) {
			return fmt.Errorf("fetch: request failed: %w", err)
		}
		return &retryableError{err: fmt.Errorf("fetch: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		// 5xx errors are retryable
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(snippet))}
		}
		// 429 (rate limit) is retryable
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(snippet))}
		}
		// Other errors are not retryable
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(snippet))
	}

	if resp.ContentLength > c.maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, resp.ContentLength, c.maxBytes)
	}

	f, err := os.Create(destPath) // #nosec G304 - destPath is chosen by the service
	if err != nil {
		return fmt.Errorf("fetch: create file: %w", err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(resp.Body, c.maxBytes+1))
	closeErr := f.Close()
	if copyErr != nil {
		return &retryableError{err: fmt.Errorf("fetch: read body: %w", copyErr)}
	}
	if n > c.maxBytes {
		return fmt.Errorf("%w: limit %d bytes", ErrTooLarge, c.maxBytes)
	}
	if closeErr != nil {
		return fmt.Errorf("fetch: close file: %w", closeErr)
	}

	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Verify interface implementation at compile time.
var _ Downloader = (*Client)(nil)
