// Package crawl implements the grid-sweep crawl engine: the provider
// client, per-sweep session accounting, and the worker-pool
// coordinator.
package crawl

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/openfleet/bikesweep/internal/config"
)

// ErrInvalidToken signals that the provider rejected the auth token.
// Every further query would fail identically, so the sweep aborts.
var ErrInvalidToken = eris.New("provider: token rejected")

// ErrBadStatus marks a non-200 response that is not an auth failure.
var ErrBadStatus = eris.New("provider: unexpected status")

// ErrBadPayload marks a 200 response whose body did not parse.
var ErrBadPayload = eris.New("provider: malformed response")

// invalidTokenMarker is the substring the provider puts in error
// bodies when the token is expired or unknown.
const invalidTokenMarker = "invalid token"

// Bike is one raw vehicle observation in provider coordinate space.
type Bike struct {
	ID    string  `json:"id"`
	Brand string  `json:"brand"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

// envelope is the provider's response wrapper.
type envelope struct {
	Msg []Bike `json:"msg"`
}

// Client queries the provider's nearby-vehicles endpoint.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	cityID  int
	limiter *rate.Limiter
}

// NewClient builds a provider client from configuration. A rate_limit
// of 0 disables client-side pacing.
func NewClient(cfg config.ProviderConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		cityID:  cfg.CityID,
		limiter: limiter,
	}
}

// NearbyBikes issues one query for the grid point at (lat, lng) and
// returns the parsed observations. It does not retry.
func (c *Client) NearbyBikes(ctx context.Context, lat, lng float64) ([]Bike, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "provider: rate limiter wait")
		}
	}

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lng", fmt.Sprintf("%f", lng))
	q.Set("cityid", fmt.Sprintf("%d", c.cityID))
	q.Set("token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/bikes?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "provider: create request")
	}
	setProviderHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: query (%f, %f)", lat, lng)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		if strings.Contains(strings.ToLower(string(body)), invalidTokenMarker) {
			return nil, eris.Wrapf(ErrInvalidToken, "status %d", resp.StatusCode)
		}
		return nil, eris.Wrapf(ErrBadStatus, "status %d from (%f, %f)", resp.StatusCode, lat, lng)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrapf(ErrBadPayload, "parse response for (%f, %f): %v", lat, lng, err)
	}
	return env.Msg, nil
}

// setProviderHeaders applies the fixed header set the provider
// expects, impersonating the WeChat client the API was built for.
func setProviderHeaders(req *http.Request) {
	req.Header.Set("charset", "utf-8")
	req.Header.Set("platform", "4")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "MicroMessenger/6.5.4.1000 NetType/WIFI Language/zh_CN")
	req.Header.Set("Connection", "Keep-Alive")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Cache-Control", "no-cache")
	req.Host = "mwx.mobike.com"
}

// decodeBody reads the response, un-gzipping when the transparent
// decompression was bypassed by the explicit Accept-Encoding header.
func decodeBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "provider: gzip reader")
		}
		defer gz.Close() //nolint:errcheck
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, eris.Wrap(err, "provider: read body")
	}
	return body, nil
}
