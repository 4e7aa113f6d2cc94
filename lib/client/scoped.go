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

package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/go-querystring/query"
	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"

	"github.com/gravitational/quarry/lib/taxonomy"
)

// ScopedClient decorates the generic Client so every request is scoped
// by the current taxonomy selection. Reads and deletes get the selection
// merged into their query parameters; writes get it appended to the URL
// since the request body cannot be touched reliably. Only the axes set
// in the current context are injected, and a caller-supplied parameter
// of the same name always wins over the injected value.
type ScopedClient struct {
	clt   *Client
	store *taxonomy.Store
}

// NewScopedClient wraps clt with taxonomy scoping read from store.
func NewScopedClient(clt *Client, store *taxonomy.Store) (*ScopedClient, error) {
	if clt == nil {
		return nil, trace.BadParameter("missing client")
	}
	if store == nil {
		return nil, trace.BadParameter("missing taxonomy store")
	}
	return &ScopedClient{clt: clt, store: store}, nil
}

// Unscoped returns the wrapped client directly, bypassing all injection.
// Used for global resources such as authentication and cross-tenant
// admin calls.
func (s *ScopedClient) Unscoped() *Client {
	return s.clt
}

// Endpoint returns the full URL of a versioned REST endpoint.
func (s *ScopedClient) Endpoint(parts ...string) string {
	return s.clt.Endpoint(parts...)
}

// GetToken passes through to the wrapped client.
func (s *ScopedClient) GetToken() string { return s.clt.GetToken() }

// SetToken passes through to the wrapped client.
func (s *ScopedClient) SetToken(token string) error { return trace.Wrap(s.clt.SetToken(token)) }

// ClearToken passes through to the wrapped client.
func (s *ScopedClient) ClearToken() error { return trace.Wrap(s.clt.ClearToken()) }

// Get issues a GET request with the taxonomy selection merged into the
// query parameters.
func (s *ScopedClient) Get(ctx context.Context, endpoint string, params url.Values) (*roundtrip.Response, error) {
	return s.clt.Get(ctx, endpoint, s.scopeParams(params))
}

// GetPaginated issues a scoped GET against a collection endpoint.
func (s *ScopedClient) GetPaginated(ctx context.Context, endpoint string, params url.Values) (*Page[json.RawMessage], error) {
	return s.clt.GetPaginated(ctx, endpoint, s.scopeParams(params))
}

// Delete issues a DELETE request with the taxonomy selection merged into
// the query parameters.
func (s *ScopedClient) Delete(ctx context.Context, endpoint string, params url.Values) (*roundtrip.Response, error) {
	return s.clt.Delete(ctx, endpoint, s.scopeParams(params))
}

// Post issues a POST request with the taxonomy selection appended to the
// URL.
func (s *ScopedClient) Post(ctx context.Context, endpoint string, body any) (*roundtrip.Response, error) {
	return s.clt.Post(ctx, s.scopeURL(endpoint), body)
}

// Put issues a PUT request with the taxonomy selection appended to the
// URL.
func (s *ScopedClient) Put(ctx context.Context, endpoint string, body any) (*roundtrip.Response, error) {
	return s.clt.Put(ctx, s.scopeURL(endpoint), body)
}

// Patch issues a PATCH request with the taxonomy selection appended to
// the URL.
func (s *ScopedClient) Patch(ctx context.Context, endpoint string, body any) (*roundtrip.Response, error) {
	return s.clt.Patch(ctx, s.scopeURL(endpoint), body)
}

// scopeParams merges the current selection into params. Caller-supplied
// values always win; injected keys are added only when absent. The input
// is never mutated.
func (s *ScopedClient) scopeParams(params url.Values) url.Values {
	sel := s.store.Context().Selection()
	if sel.IsEmpty() {
		return params
	}
	scoped, err := query.Values(sel)
	if err != nil {
		// Selection is a fixed struct, encoding cannot fail.
		return params
	}
	merged := url.Values{}
	for key, vals := range params {
		merged[key] = vals
	}
	for key, vals := range scoped {
		if !merged.Has(key) {
			merged[key] = vals
		}
	}
	return merged
}

// scopeURL appends the current selection to the URL's query string,
// using '?' or '&' depending on whether the URL already carries one.
// Keys already present in the URL are left alone.
func (s *ScopedClient) scopeURL(endpoint string) string {
	sel := s.store.Context().Selection()
	if sel.IsEmpty() {
		return endpoint
	}
	existing := url.Values{}
	if idx := strings.Index(endpoint, "?"); idx >= 0 {
		if parsed, err := url.ParseQuery(endpoint[idx+1:]); err == nil {
			existing = parsed
		}
	}
	var extra []string
	if sel.OrganizationID != nil && !existing.Has("organization_id") {
		extra = append(extra, "organization_id="+strconv.Itoa(*sel.OrganizationID))
	}
	if sel.LocationID != nil && !existing.Has("location_id") {
		extra = append(extra, "location_id="+strconv.Itoa(*sel.LocationID))
	}
	if len(extra) == 0 {
		return endpoint
	}
	separator := "?"
	if strings.Contains(endpoint, "?") {
		separator = "&"
	}
	return endpoint + separator + strings.Join(extra, "&")
}
