package viacep

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geografi/enrich-cli/internal/resilience"
	"github.com/geografi/enrich-cli/internal/store"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, Backoff: time.Millisecond}
}

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base := []Option{
		WithBaseURL(srv.URL),
		WithMinInterval(time.Millisecond),
		WithRetry(fastRetry()),
	}
	return NewClient(append(base, opts...)...), srv
}

func newTestCache(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"01310-100", "01310100"},
		{"01310100", "01310100"},
		{" 01.310-100 ", "01310100"},
		{"abc", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in))
	}
}

func TestResolve_Success(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/01310100/json/", r.URL.Path)
		w.Write([]byte(`{"cep":"01310-100","logradouro":"Avenida Paulista","bairro":"Bela Vista","localidade":"São Paulo","uf":"SP"}`)) //nolint:errcheck
	}))

	addr, err := c.Resolve(context.Background(), "01310-100")
	require.NoError(t, err)
	assert.Equal(t, "Avenida Paulista", addr.Street)
	assert.Equal(t, "São Paulo", addr.City)
	assert.Equal(t, "SP", addr.State)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolve_InvalidFormat_NoNetworkCall(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	for _, code := range []string{"", "123", "123456789", "abcdefgh"} {
		_, err := c.Resolve(context.Background(), code)
		assert.ErrorIs(t, err, ErrInvalidFormat, "code %q", code)
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestResolve_NotFound_TerminalAndNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"erro": true}`)) //nolint:errcheck
	}))

	_, err := c.Resolve(context.Background(), "99999999")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolve_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"cep":"01310-100","localidade":"São Paulo","uf":"SP"}`)) //nolint:errcheck
	}))

	addr, err := c.Resolve(context.Background(), "01310100")
	require.NoError(t, err)
	assert.Equal(t, "São Paulo", addr.City)
	assert.Equal(t, int32(3), calls.Load())
}

func TestResolve_ExhaustedRetries_ServiceUnavailable(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.Resolve(context.Background(), "01310100")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestResolve_CacheHit_NoSecondCall(t *testing.T) {
	cache := newTestCache(t)
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"cep":"01310-100","logradouro":"Avenida Paulista","localidade":"São Paulo","uf":"SP"}`)) //nolint:errcheck
	}), WithCache(cache))

	first, err := c.Resolve(context.Background(), "01310100")
	require.NoError(t, err)
	second, err := c.Resolve(context.Background(), "01310-100")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolve_NegativeCached_NoSecondCall(t *testing.T) {
	cache := newTestCache(t)
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"erro": true}`)) //nolint:errcheck
	}), WithCache(cache))

	_, err := c.Resolve(context.Background(), "99999999")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Resolve(context.Background(), "99999999")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, int32(1), calls.Load())
}

func TestSearchAddress_ReturnsCandidates(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/SP/S%C3%A3o%20Paulo/Paulista/json/", r.URL.EscapedPath())
		w.Write([]byte(`[{"cep":"01310-100","logradouro":"Avenida Paulista","localidade":"São Paulo","uf":"SP"}]`)) //nolint:errcheck
	}))

	results, err := c.SearchAddress(context.Background(), "SP", "São Paulo", "Paulista")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "01310-100", results[0].CEP)
}

func TestSearchAddress_EmptyResult(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`)) //nolint:errcheck
	}))

	results, err := c.SearchAddress(context.Background(), "SP", "São Paulo", "Rua Inexistente")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchAddress_RequiresAllParts(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	_, err := c.SearchAddress(context.Background(), "SP", "", "Paulista")
	assert.Error(t, err)
	assert.Equal(t, int32(0), calls.Load())
}

func TestResolve_RateLimitSpacing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"cep":"01310-100","localidade":"São Paulo","uf":"SP"}`)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	interval := 30 * time.Millisecond
	c := NewClient(WithBaseURL(srv.URL), WithMinInterval(interval), WithRetry(fastRetry()))

	start := time.Now()
	_, err := c.Resolve(context.Background(), "01310100")
	require.NoError(t, err)
	_, err = c.Resolve(context.Background(), "01310101")
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, interval, "second call must wait out the minimum spacing")
	assert.Equal(t, int32(2), calls.Load())
}
