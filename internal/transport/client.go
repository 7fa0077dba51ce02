// Package transport owns the pooled HTTP clients, the retry policy and
// streaming reads for all upstream calls.
package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"
)

const (
	// EnvInsecureTLS disables certificate verification when set to a
	// non-empty value. Debugging aid only; every request path logs a
	// warning while it is active.
	EnvInsecureTLS = "LLMC_INSECURE_TLS"

	// DefaultTimeout is generous because generation can be slow.
	DefaultTimeout = 2 * time.Minute

	// DefaultIdleTimeout closes a stream when no bytes arrive for this
	// long.
	DefaultIdleTimeout = 90 * time.Second

	defaultMaxAttempts = 3
	baseBackoff        = 500 * time.Millisecond
)

// Client is a pooled, connection-reusing HTTP client pair: one with a
// request deadline for unary calls, one without for streaming.
type Client struct {
	http        *http.Client
	streaming   *http.Client
	logger      *slog.Logger
	insecure    bool
	maxAttempts int
	idleTimeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) { c.idleTimeout = d }
}

func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

func New(logger *slog.Logger, opts ...Option) *Client {
	insecure := os.Getenv(EnvInsecureTLS) != ""

	base := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if insecure {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- explicit debug switch
	}

	c := &Client{
		http:        &http.Client{Transport: base, Timeout: DefaultTimeout},
		streaming:   &http.Client{Transport: base},
		logger:      logger,
		insecure:    insecure,
		maxAttempts: defaultMaxAttempts,
		idleTimeout: DefaultIdleTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) warnInsecure() {
	if c.insecure {
		c.logger.Warn("TLS certificate verification is DISABLED; traffic can be intercepted",
			"env", EnvInsecureTLS,
		)
	}
}

// Get performs an idempotent GET, retrying transient network errors and
// 5xx responses with exponential backoff and jitter.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, int, error) {
	c.warnInsecure()

	var (
		lastErr    error
		lastStatus int
		lastBody   []byte
	)

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, 0, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, 0, err
		}

		applyHeaders(req, headers)

		resp, err := c.http.Do(req)
		if err != nil {
			if !isTransient(err) || ctx.Err() != nil {
				return nil, 0, err
			}

			lastErr = err

			c.logger.Debug("Retrying GET after transient error", "url", url, "attempt", attempt+1, "error", err)

			continue
		}

		body, readErr := readBody(resp)
		resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 500 {
			lastStatus = resp.StatusCode
			lastBody = body
			lastErr = nil

			c.logger.Debug("Retrying GET after upstream 5xx", "url", url, "status", resp.StatusCode, "attempt", attempt+1)

			continue
		}

		return body, resp.StatusCode, nil
	}

	if lastErr != nil {
		return nil, 0, lastErr
	}

	return lastBody, lastStatus, nil
}

// Post performs a non-idempotent POST. It is retried only when the
// failure is classified as "no bytes sent": dial-level errors
// (connection refused, unreachable, DNS) where the request never left
// this host. Anything after connect is treated as possibly delivered
// and surfaces immediately, so a billable call is never duplicated.
// The classifier is necessarily conservative over real TCP.
func (c *Client) Post(ctx context.Context, url string, headers map[string]string, body []byte) ([]byte, int, error) {
	c.warnInsecure()

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, 0, err
		}

		req.Header.Set("Content-Type", "application/json")
		applyHeaders(req, headers)

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt+1 < c.maxAttempts && failedBeforeSend(err) && ctx.Err() == nil {
				c.logger.Debug("Retrying POST that failed before send", "url", url, "attempt", attempt+1, "error", err)

				if err := sleepBackoff(ctx, attempt+1); err != nil {
					return nil, 0, err
				}

				continue
			}

			return nil, 0, err
		}

		respBody, readErr := readBody(resp)
		resp.Body.Close()

		if readErr != nil {
			return nil, resp.StatusCode, readErr
		}

		return respBody, resp.StatusCode, nil
	}
}

// OpenStream issues a POST expecting an SSE response and hands the body
// to the caller as a frame iterator. The stream client has no overall
// deadline; the idle timeout aborts it instead.
func (c *Client) OpenStream(ctx context.Context, url string, headers map[string]string, body []byte) (*SSEStream, error) {
	c.warnInsecure()

	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept-Encoding", "identity")
	applyHeaders(req, headers)

	resp, err := c.streaming.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	return newSSEStream(resp, cancel, c.idleTimeout), nil
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for name, value := range headers {
		req.Header.Set(name, value)
	}
}

// readBody drains the response, decompressing gzip and brotli bodies.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()

		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	return io.ReadAll(reader)
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// failedBeforeSend reports whether the request verifiably never reached
// the wire.
func failedBeforeSend(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	return false
}

func sleepBackoff(ctx context.Context, attempt int) error {
	backoff := baseBackoff << (attempt - 1)
	backoff += time.Duration(rand.Int63n(int64(backoff)))

	select {
	case <-time.After(backoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
