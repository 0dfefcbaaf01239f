package nominatim

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geografi/enrich-cli/internal/model"
	"github.com/geografi/enrich-cli/internal/resilience"
	"github.com/geografi/enrich-cli/internal/store"
)

// searchResult is one candidate from the service; lat/lon arrive as strings.
type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode resolves a free-text address query to a coordinate pair. The first
// candidate is taken as-is; multiple candidates are not disambiguated.
func (c *Client) Geocode(ctx context.Context, q Query) (*model.Coordinates, error) {
	text := q.Text()
	if utf8.RuneCountInString(text) < 3 {
		return nil, eris.Wrapf(ErrQueryTooShort, "%q", text)
	}

	key := CacheKey(q)
	if c.cache != nil {
		lk, err := c.cache.GetGeocode(ctx, key)
		if err != nil {
			zap.L().Warn("geocode cache read failed", zap.String("query", text), zap.Error(err))
		} else {
			switch lk.State {
			case store.Hit:
				coords := lk.Value
				return &coords, nil
			case store.NegativeHit:
				return nil, ErrNotFound
			}
		}
	}

	coords, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*model.Coordinates, error) {
		return c.search(ctx, text)
	})
	if err != nil {
		if eris.Is(err, ErrNotFound) {
			c.storeGeocode(ctx, key, text, nil)
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(ErrServiceUnavailable, "geocode %q: %v", text, err)
	}

	// Out-of-range coordinates from the service are treated as no result.
	if !coords.Valid() {
		zap.L().Warn("geocode result out of range",
			zap.String("query", text),
			zap.Float64("lat", coords.Latitude),
			zap.Float64("lon", coords.Longitude),
		)
		c.storeGeocode(ctx, key, text, nil)
		return nil, ErrNotFound
	}

	c.storeGeocode(ctx, key, text, coords)
	return coords, nil
}

func (c *Client) search(ctx context.Context, text string) (*model.Coordinates, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "nominatim: rate limit")
	}

	params := url.Values{
		"q":      {text},
		"format": {"json"},
		"limit":  {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "nominatim: build request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "nominatim: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(eris.Errorf("nominatim: status %d", resp.StatusCode), resp.StatusCode)
		}
		return nil, eris.Errorf("nominatim: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "nominatim: read body"), 0)
	}

	var results []searchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, eris.Wrap(err, "nominatim: parse response")
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "nominatim: parse lat %q", results[0].Lat)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "nominatim: parse lon %q", results[0].Lon)
	}
	return &model.Coordinates{Latitude: lat, Longitude: lon}, nil
}

func (c *Client) storeGeocode(ctx context.Context, key, query string, coords *model.Coordinates) {
	if c.cache == nil {
		return
	}
	if err := c.cache.PutGeocode(ctx, key, query, coords); err != nil {
		zap.L().Warn("geocode cache write failed", zap.String("query", query), zap.Error(err))
	}
}
