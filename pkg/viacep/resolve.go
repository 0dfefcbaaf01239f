package viacep

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geografi/enrich-cli/internal/model"
	"github.com/geografi/enrich-cli/internal/resilience"
	"github.com/geografi/enrich-cli/internal/store"
)

// cepResponse is the service payload; the "erro" sentinel marks an unknown code.
type cepResponse struct {
	model.Address
	Erro bool `json:"erro"`
}

// Resolve looks up a postal code and returns its structured address.
// The code is normalized to digits first; anything but 8 digits fails fast
// with ErrInvalidFormat and no network call.
func (c *Client) Resolve(ctx context.Context, code string) (*model.Address, error) {
	cep := Normalize(code)
	if len(cep) != 8 {
		return nil, eris.Wrapf(ErrInvalidFormat, "%q", code)
	}

	if c.cache != nil {
		lk, err := c.cache.GetCEP(ctx, cep)
		if err != nil {
			zap.L().Warn("cep cache read failed", zap.String("cep", cep), zap.Error(err))
		} else {
			switch lk.State {
			case store.Hit:
				addr := lk.Value
				return &addr, nil
			case store.NegativeHit:
				return nil, ErrNotFound
			}
		}
	}

	addr, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*model.Address, error) {
		return c.fetchCEP(ctx, cep)
	})
	if err != nil {
		if eris.Is(err, ErrNotFound) {
			c.storeCEP(ctx, cep, nil)
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(ErrServiceUnavailable, "resolve %s: %v", cep, err)
	}

	c.storeCEP(ctx, cep, addr)
	return addr, nil
}

func (c *Client) fetchCEP(ctx context.Context, cep string) (*model.Address, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "viacep: rate limit")
	}

	reqURL := fmt.Sprintf("%s/%s/json/", c.baseURL, cep)
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var payload cepResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, eris.Wrap(err, "viacep: parse response")
	}
	if payload.Erro {
		return nil, ErrNotFound
	}
	addr := payload.Address
	return &addr, nil
}

// SearchAddress queries the service's reverse mode: given state, city, and a
// street fragment it returns candidate addresses, possibly none. Results are
// not cached; callers cache the follow-up Resolve of a chosen code instead.
func (c *Client) SearchAddress(ctx context.Context, state, city, street string) ([]model.Address, error) {
	state = strings.TrimSpace(state)
	city = strings.TrimSpace(city)
	street = strings.TrimSpace(street)
	if state == "" || city == "" || street == "" {
		return nil, eris.New("viacep: address search requires state, city, and street")
	}

	reqURL := fmt.Sprintf("%s/%s/%s/%s/json/",
		c.baseURL, url.PathEscape(state), url.PathEscape(city), url.PathEscape(street))

	results, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]model.Address, error) {
		return c.fetchSearch(ctx, reqURL)
	})
	if err != nil {
		return nil, eris.Wrapf(ErrServiceUnavailable, "search %s/%s/%s: %v", state, city, street, err)
	}
	return results, nil
}

func (c *Client) fetchSearch(ctx context.Context, reqURL string) ([]model.Address, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "viacep: rate limit")
	}

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var results []model.Address
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, eris.Wrap(err, "viacep: parse search response")
	}
	return results, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "viacep: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "viacep: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(eris.Errorf("viacep: status %d", resp.StatusCode), resp.StatusCode)
		}
		return nil, eris.Errorf("viacep: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "viacep: read body"), 0)
	}
	return body, nil
}

func (c *Client) storeCEP(ctx context.Context, cep string, addr *model.Address) {
	if c.cache == nil {
		return
	}
	if err := c.cache.PutCEP(ctx, cep, addr); err != nil {
		zap.L().Warn("cep cache write failed", zap.String("cep", cep), zap.Error(err))
	}
}
