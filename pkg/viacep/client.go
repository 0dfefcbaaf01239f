// Package viacep wraps the ViaCEP postal lookup service: CEP resolution and
// reverse address search, with rate limiting, retries, and result caching.
package viacep

import (
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/geografi/enrich-cli/internal/resilience"
	"github.com/geografi/enrich-cli/internal/store"
)

// DefaultBaseURL is the public ViaCEP endpoint.
const DefaultBaseURL = "https://viacep.com.br/ws"

// DefaultMinInterval is the minimum spacing between calls to the service.
const DefaultMinInterval = 150 * time.Millisecond

var (
	// ErrInvalidFormat reports a code that does not normalize to 8 digits.
	// Checked locally; no network call is made.
	ErrInvalidFormat = eris.New("viacep: postal code must normalize to 8 digits")

	// ErrNotFound reports that the service explicitly knows no such code.
	// Terminal: never retried, cached as a negative entry.
	ErrNotFound = eris.New("viacep: postal code not found")

	// ErrServiceUnavailable reports exhausted retries against the service.
	ErrServiceUnavailable = eris.New("viacep: service unavailable")
)

// Client calls the postal lookup service. All methods enforce the shared
// rate limiter before every request, including internal retries.
type Client struct {
	baseURL    string
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

// WithCache enables read-through/write-through caching of lookups,
// including negative results.
func WithCache(cache store.Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// NewClient creates a ViaCEP client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(DefaultMinInterval), 1),
		retry:      resilience.DefaultRetryConfig(),
	}
	c.retry.OnRetry = resilience.RetryLogger("viacep", "get")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Normalize strips every non-digit character from a postal code.
func Normalize(code string) string {
	out := make([]byte, 0, len(code))
	for i := 0; i < len(code); i++ {
		if code[i] >= '0' && code[i] <= '9' {
			out = append(out, code[i])
		}
	}
	return string(out)
}

// ValidFormat reports whether the code normalizes to exactly 8 digits.
func ValidFormat(code string) bool {
	return len(Normalize(code)) == 8
}
