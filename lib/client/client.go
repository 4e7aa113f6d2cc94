/*
 * Quarry
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package client implements the HTTP client for the quarry backend: the
// generic REST client, the GraphQL transport with its REST fallback, and
// the taxonomy-scoped client decorator.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"

	"github.com/gravitational/quarry"
	"github.com/gravitational/quarry/lib/defaults"
	logutils "github.com/gravitational/quarry/lib/utils/log"
)

// SortOrder describes the sort applied to a paginated listing.
type SortOrder struct {
	By    string `json:"by"`
	Order string `json:"order"`
}

// Page is the pagination envelope every REST collection endpoint
// returns. It is also the canonical shape GraphQL results are normalized
// into.
type Page[T any] struct {
	// Results are the entities on this page.
	Results []T `json:"results"`
	// Total is the number of entities without search filtering.
	Total int `json:"total"`
	// Subtotal is the number of entities matching the search.
	Subtotal int `json:"subtotal"`
	// Page is the 1-based page number.
	Page int `json:"page"`
	// PerPage is the page size.
	PerPage int `json:"per_page"`
	// Search is the search query that produced this page, if any.
	Search string `json:"search,omitempty"`
	// Sort is the applied sort order, if any.
	Sort *SortOrder `json:"sort,omitempty"`
	// CanCreate reports whether the user may create entities of this
	// resource.
	CanCreate bool `json:"can_create,omitempty"`
}

// Config configures a Client.
type Config struct {
	// Addr is the base URL of the backend, e.g. "https://quarry.example.com".
	Addr string
	// Token is an optional bearer token.
	Token string
	// Username and Password optionally enable basic auth when no bearer
	// token is set.
	Username string
	Password string
	// HTTPClient optionally overrides the underlying HTTP client. This is
	// where TLS settings, timeouts and interceptors live.
	HTTPClient *http.Client
	// Logger emits request diagnostics. Defaults to a package logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Addr == "" {
		return trace.BadParameter("missing backend address")
	}
	if _, err := url.Parse(c.Addr); err != nil {
		return trace.BadParameter("%q is not a valid backend address", c.Addr)
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(quarry.ComponentKey, quarry.ComponentClient)
	}
	return nil
}

// Client is the generic HTTP client for the backend REST API. All
// domain-specific wrappers and the taxonomy-scoped decorator are built on
// top of it.
type Client struct {
	cfg Config

	mu  sync.RWMutex
	clt *roundtrip.Client
}

// New creates a client for the backend at cfg.Addr.
func New(cfg Config) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	c := &Client{cfg: cfg}
	if err := c.rebuild(); err != nil {
		return nil, trace.Wrap(err)
	}
	return c, nil
}

// rebuild replaces the inner roundtrip client so credential changes take
// effect. Callers must not hold the mutex.
func (c *Client) rebuild() error {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	var params []roundtrip.ClientParam
	if cfg.HTTPClient != nil {
		params = append(params, roundtrip.HTTPClient(cfg.HTTPClient))
	}
	switch {
	case cfg.Token != "":
		params = append(params, roundtrip.BearerAuth(cfg.Token))
	case cfg.Username != "":
		params = append(params, roundtrip.BasicAuth(cfg.Username, cfg.Password))
	}
	clt, err := roundtrip.NewClient(cfg.Addr, defaults.APIVersionPrefix, params...)
	if err != nil {
		return trace.Wrap(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clt = clt
	return nil
}

func (c *Client) inner() *roundtrip.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clt
}

// Endpoint returns the full URL of a versioned REST endpoint.
func (c *Client) Endpoint(parts ...string) string {
	return c.inner().Endpoint(parts...)
}

// GraphQLEndpoint returns the full URL of the GraphQL API, which is
// served at the server root, outside the versioned REST base.
func (c *Client) GraphQLEndpoint() string {
	return strings.TrimRight(c.cfg.Addr, "/") + "/" + defaults.GraphQLEndpoint
}

// GetToken returns the current bearer token.
func (c *Client) GetToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Token
}

// SetToken installs a bearer token for all subsequent requests.
func (c *Client) SetToken(token string) error {
	c.mu.Lock()
	c.cfg.Token = token
	c.mu.Unlock()
	return trace.Wrap(c.rebuild())
}

// ClearToken removes the bearer token.
func (c *Client) ClearToken() error {
	return trace.Wrap(c.SetToken(""))
}

// Get issues a GET request with the given query parameters.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (*roundtrip.Response, error) {
	return roundtrip.ConvertResponse(c.inner().Get(ctx, endpoint, params))
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (*roundtrip.Response, error) {
	return roundtrip.ConvertResponse(c.inner().PostJSON(ctx, endpoint, body))
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, endpoint string, body any) (*roundtrip.Response, error) {
	return roundtrip.ConvertResponse(c.inner().PutJSON(ctx, endpoint, body))
}

// Patch issues a PATCH request with a JSON body. roundtrip has no native
// PATCH, so the request is built by hand and sent through RoundTrip to
// keep tracing behavior.
func (c *Client) Patch(ctx context.Context, endpoint string, body any) (*roundtrip.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	clt := c.inner()
	return roundtrip.ConvertResponse(clt.RoundTrip(func() (*http.Response, error) {
		return clt.HTTPClient().Do(req)
	}))
}

// Delete issues a DELETE request with the given query parameters.
func (c *Client) Delete(ctx context.Context, endpoint string, params url.Values) (*roundtrip.Response, error) {
	if len(params) > 0 {
		separator := "?"
		if strings.Contains(endpoint, "?") {
			separator = "&"
		}
		endpoint += separator + params.Encode()
	}
	return roundtrip.ConvertResponse(c.inner().Delete(ctx, endpoint))
}

// GetPaginated issues a GET request against a collection endpoint and
// decodes the pagination envelope, leaving the entities raw. Use GetPage
// to decode them into a concrete type.
func (c *Client) GetPaginated(ctx context.Context, endpoint string, params url.Values) (*Page[json.RawMessage], error) {
	return GetPage[json.RawMessage](ctx, c, endpoint, params)
}

// GetPage fetches one page of a collection endpoint decoded into T.
func GetPage[T any](ctx context.Context, c *Client, endpoint string, params url.Values) (*Page[T], error) {
	if params == nil {
		params = url.Values{}
	}
	if params.Get("per_page") == "" {
		params.Set("per_page", strconv.Itoa(defaults.PerPage))
	}
	resp, err := c.Get(ctx, endpoint, params)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var page Page[T]
	if err := json.Unmarshal(resp.Bytes(), &page); err != nil {
		return nil, trace.Wrap(err, "decoding pagination envelope from %v", endpoint)
	}
	return &page, nil
}

// setAuth applies the configured credentials to a hand-built request.
func (c *Client) setAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.cfg.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	case c.cfg.Username != "":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}
