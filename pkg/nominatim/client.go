// Package nominatim wraps the Nominatim geocoding service: free-text address
// queries resolved to a single coordinate pair, with the strict rate-limit
// discipline the service's usage policy demands.
package nominatim

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/geografi/enrich-cli/internal/resilience"
	"github.com/geografi/enrich-cli/internal/store"
)

// DefaultBaseURL is the public Nominatim search endpoint.
const DefaultBaseURL = "https://nominatim.openstreetmap.org/search"

// DefaultMinInterval is the minimum spacing between calls. The service
// enforces a strict global request budget; this delay dominates pipeline
// runtime and is never skipped, not even between internal retries.
const DefaultMinInterval = 1500 * time.Millisecond

// DefaultUserAgent identifies the application per the service's usage policy.
const DefaultUserAgent = "enrich-cli/1.0 (address enrichment pipeline)"

var (
	// ErrQueryTooShort reports an address with fewer than 3 characters after
	// joining its parts. Checked locally; no network call is made.
	ErrQueryTooShort = eris.New("nominatim: query shorter than 3 characters")

	// ErrNotFound reports an empty result set. Terminal: not retried,
	// cached as a negative entry.
	ErrNotFound = eris.New("nominatim: no result for query")

	// ErrServiceUnavailable reports exhausted retries against the service.
	ErrServiceUnavailable = eris.New("nominatim: service unavailable")
)

// Query holds the ordered address parts joined into the free-text search.
type Query struct {
	Street       string
	Neighborhood string
	City         string
	State        string
}

// Text joins the non-empty trimmed parts with a fixed separator.
func (q Query) Text() string {
	parts := []string{q.Street, q.Neighborhood, q.City, q.State}
	var nonEmpty []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}

// CacheKey returns SHA-256 hex of the normalized query, bounding cache key
// size regardless of address length.
func CacheKey(q Query) string {
	normalized := fmt.Sprintf("%s|%s|%s|%s",
		strings.ToLower(strings.TrimSpace(q.Street)),
		strings.ToLower(strings.TrimSpace(q.Neighborhood)),
		strings.ToLower(strings.TrimSpace(q.City)),
		strings.ToLower(strings.TrimSpace(q.State)),
	)
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

// Client calls the geocoding service. All requests pass through the shared
// rate limiter, including internal retries.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	cache      store.Cache
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the service endpoint (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMinInterval sets the minimum spacing between requests.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithCache enables read-through/write-through caching of geocode results,
// including negative results.
func WithCache(cache store.Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// NewClient creates a Nominatim client with the given options. Retries are
// capped at 2 attempts given the per-call cost of the mandatory spacing.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(DefaultMinInterval), 1),
		retry: resilience.RetryConfig{
			MaxAttempts: 2,
			Backoff:     2 * time.Second,
		},
	}
	c.retry.OnRetry = resilience.RetryLogger("nominatim", "search")
	for _, opt := range opts {
		opt(c)
	}
	return c
}
