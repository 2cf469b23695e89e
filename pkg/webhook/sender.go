// Package webhook delivers signed event payloads to subscriber endpoints and
// verifies signatures on inbound traffic.
//
// The sender performs exactly one HTTP attempt per call: retry policy is
// owned by the delivery actor, which persists its queue between attempts.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a subscriber response is retained.
// Subscribers are untrusted; an unbounded read would let one endpoint
// exhaust memory.
const maxResponseBytes = 64 * 1024

// Result captures the outcome of a single delivery attempt.
type Result struct {
	// StatusCode is the HTTP status returned by the subscriber.
	StatusCode int
	// Body is the response body, capped at 64KB.
	Body []byte
	// ContentType is the subscriber's Content-Type response header.
	ContentType string
	// Duration is the wall-clock time of the attempt.
	Duration time.Duration
}

// Sender posts JSON payloads to webhook endpoints. Zero value is not usable;
// use NewSender.
type Sender struct {
	// client is reused across requests for connection pooling
	client  *http.Client
	timeout time.Duration
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithTimeout sets the per-attempt timeout. Subscriber endpoints are slow
// and unreliable by assumption, so the default of 15s keeps a single bad
// endpoint from stalling a fan-out for long.
func WithTimeout(timeout time.Duration) SenderOption {
	return func(s *Sender) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Useful for custom
// transports, proxies, or tests.
func WithHTTPClient(client *http.Client) SenderOption {
	return func(s *Sender) {
		if client != nil {
			s.client = client
		}
	}
}

// NewSender creates a webhook sender with pooled connections.
func NewSender(opts ...SenderOption) *Sender {
	s := &Sender{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts payload to endpoint with Content-Type: application/json plus
// the supplied headers, and returns the subscriber's response regardless of
// status code. Only transport-level problems (unreachable host, timeout,
// malformed URL) are reported as errors; a 500 from the subscriber is a
// valid Result.
func (s *Sender) Send(ctx context.Context, endpoint string, payload []byte, headers map[string]string) (Result, error) {
	if err := ValidateURL(endpoint); err != nil {
		return Result{}, err
	}
	if len(payload) == 0 {
		return Result{}, fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}

	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "hookrelay/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return Result{Duration: time.Since(start)}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return Result{Duration: time.Since(start)}, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	return Result{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Duration:    time.Since(start),
	}, nil
}

// ValidateURL rejects anything but absolute http(s) URLs, which also keeps
// subscriber-controlled URLs from reaching file:// and friends. Used both
// before sending and when a subscription is registered, so a bad URL is
// caught at creation rather than on the first delivery.
func ValidateURL(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: only http and https schemes are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return nil
}

// IsJSON reports whether the result's content type indicates a JSON body.
func (r Result) IsJSON() bool {
	return strings.Contains(r.ContentType, "json")
}

// IsText reports whether the result's content type indicates a plain text
// body.
func (r Result) IsText() bool {
	return strings.Contains(r.ContentType, "text/")
}
