// Package allowlist authorizes event ingress by caller domain. The list of
// trusted domains is published as a CSV document (first column = domain);
// the package fetches it over HTTP and caches it for a configurable TTL.
package allowlist

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrFetchFailed indicates the allowlist document could not be retrieved.
var ErrFetchFailed = errors.New("allowlist: failed to fetch domain list")

// List is a TTL-cached domain allowlist. The zero value is not usable; use
// New.
type List struct {
	url    string
	client *http.Client
	ttl    time.Duration
	extra  []string

	mu        sync.RWMutex
	domains   map[string]struct{}
	fetchedAt time.Time
}

// Option configures a List.
type Option func(*List)

// WithTTL sets how long a fetched list is served from cache.
func WithTTL(ttl time.Duration) Option {
	return func(l *List) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithHTTPClient replaces the HTTP client used for fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(l *List) {
		if client != nil {
			l.client = client
		}
	}
}

// WithExtraDomains appends domains that are always allowed, on top of
// whatever the fetched document contains.
func WithExtraDomains(domains ...string) Option {
	return func(l *List) {
		l.extra = append(l.extra, domains...)
	}
}

// New creates an allowlist fetched from url. Nothing is fetched until the
// first Allowed call.
func New(url string, opts ...Option) *List {
	l := &List{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		ttl:    5 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allowed reports whether domain may submit events. The cached list is
// refreshed when stale; when a refresh fails and a previously fetched list
// exists, the stale list keeps serving rather than blocking all ingress.
func (l *List) Allowed(ctx context.Context, domain string) (bool, error) {
	l.mu.RLock()
	fresh := l.domains != nil && time.Since(l.fetchedAt) < l.ttl
	l.mu.RUnlock()

	if !fresh {
		if err := l.refresh(ctx); err != nil {
			l.mu.RLock()
			hasStale := l.domains != nil
			l.mu.RUnlock()
			if !hasStale {
				return false, err
			}
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.domains[domain]
	return ok, nil
}

func (l *List) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrFetchFailed, resp.StatusCode)
	}

	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1 // rows may have differing column counts

	domains := make(map[string]struct{})
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		if len(record) == 0 {
			continue
		}
		if domain := strings.TrimSpace(record[0]); domain != "" {
			domains[domain] = struct{}{}
		}
	}
	for _, domain := range l.extra {
		domains[domain] = struct{}{}
	}

	l.mu.Lock()
	l.domains = domains
	l.fetchedAt = time.Now()
	l.mu.Unlock()
	return nil
}
