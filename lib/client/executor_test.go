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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/quarry/lib/defaults"
	"github.com/gravitational/quarry/lib/taxonomy"
)

// transportCounters tracks how many requests hit each transport.
type transportCounters struct {
	graphql atomic.Int32
	rest    atomic.Int32
}

// newExecutorFixture builds an executor against a test server whose
// GraphQL and REST behavior is supplied per test.
func newExecutorFixture(t *testing.T, graphql, rest http.HandlerFunc) (*Executor, *transportCounters) {
	t.Helper()
	counters := &transportCounters{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/graphql", func(w http.ResponseWriter, r *http.Request) {
		counters.graphql.Add(1)
		graphql(w, r)
	})
	mux.HandleFunc("/api/v2/", func(w http.ResponseWriter, r *http.Request) {
		counters.rest.Add(1)
		rest(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	clt, err := New(Config{Addr: srv.URL, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	executor, err := NewExecutor(ExecutorConfig{
		Client: clt,
		Logger: slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	return executor, counters
}

func opaqueID(id int) string {
	return base64.StdEncoding.EncodeToString(fmt.Appendf(nil, "Organization-%d", id))
}

func graphqlOrganizations(shape string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var nodes string
		switch shape {
		case "edges":
			nodes = fmt.Sprintf(`"edges": [
				{"node": {"id": %q, "name": "acme", "title": "acme"}},
				{"node": {"id": %q, "name": "emea", "title": "acme/emea", "parentId": %q}}
			]`, opaqueID(1), opaqueID(2), opaqueID(1))
		case "nodes":
			nodes = fmt.Sprintf(`"nodes": [
				{"id": %q, "name": "acme", "title": "acme"},
				{"id": %q, "name": "emea", "title": "acme/emea", "parentId": %q}
			]`, opaqueID(1), opaqueID(2), opaqueID(1))
		}
		fmt.Fprintf(w, `{"data": {"organizations": {"totalCount": 2, %s}}}`, nodes)
	}
}

func restOrganizations(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]any{
		"results": []map[string]any{
			{"id": 5, "name": "x"},
		},
		"total":    1,
		"subtotal": 1,
		"page":     1,
		"per_page": 20,
	})
}

func restFailure(w http.ResponseWriter, r *http.Request) {
	http.Error(w, `{"message":"unavailable"}`, http.StatusServiceUnavailable)
}

func TestFetchOrganizationsGraphQL(t *testing.T) {
	t.Parallel()

	for _, shape := range []string{"edges", "nodes"} {
		t.Run(shape, func(t *testing.T) {
			executor, counters := newExecutorFixture(t, graphqlOrganizations(shape), restFailure)

			page, err := executor.FetchOrganizations(context.Background())
			require.NoError(t, err)
			require.Equal(t, int32(1), counters.graphql.Load())
			require.Zero(t, counters.rest.Load(), "REST must not be called when GraphQL succeeds")

			require.Equal(t, 2, page.Total)
			require.Len(t, page.Results, 2)
			require.Equal(t, 1, page.Results[0].ID)
			require.Equal(t, "acme", page.Results[0].Name)
			require.Nil(t, page.Results[0].ParentID)
			require.Equal(t, 2, page.Results[1].ID)
			require.NotNil(t, page.Results[1].ParentID)
			require.Equal(t, 1, *page.Results[1].ParentID)

			// Counts are omitted by GraphQL for performance; the agreed
			// sentinel is 0.
			require.Zero(t, page.Results[0].HostsCount)
			require.Zero(t, page.Results[0].UsersCount)
		})
	}
}

func TestFallbackOnGraphQLErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		desc    string
		graphql http.HandlerFunc
	}{
		{
			desc: "errors array",
			graphql: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"errors": [{"message": "boom"}]}`)
			},
		},
		{
			desc: "transport failure",
			graphql: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad gateway", http.StatusBadGateway)
			},
		},
		{
			desc: "missing top-level field",
			graphql: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data": {"somethingElse": {"nodes": []}}}`)
			},
		},
		{
			desc: "unresolvable node id",
			graphql: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data": {"organizations": {"nodes": [{"id": "not-an-id", "name": "x"}]}}}`)
			},
		},
		{
			desc: "connection without edges or nodes",
			graphql: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data": {"organizations": {"totalCount": 3}}}`)
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			executor, counters := newExecutorFixture(t, tc.graphql, restOrganizations)

			page, err := executor.FetchOrganizations(context.Background())
			require.NoError(t, err, "a GraphQL failure alone must never surface")
			require.Equal(t, int32(1), counters.graphql.Load())
			require.Equal(t, int32(1), counters.rest.Load())

			// The fallback result is exactly the REST payload.
			expected := &Page[taxonomy.Organization]{
				Results: []taxonomy.Organization{
					{Entity: taxonomy.Entity{ID: 5, Name: "x"}},
				},
				Total:    1,
				Subtotal: 1,
				Page:     1,
				PerPage:  20,
			}
			require.Empty(t, cmp.Diff(expected, page))
		})
	}
}

func TestFallbackFetchesEveryPage(t *testing.T) {
	t.Parallel()

	// The GraphQL queries are unpaginated, so the REST fallback must not
	// stop at the default page size either. This server caps the page
	// size at 20 no matter what the client asks for.
	const (
		total   = 45
		perPage = 20
	)
	rest := func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, strconv.Itoa(defaults.UnpaginatedPerPage), r.URL.Query().Get("per_page"),
			"the fallback must ask for the whole collection")
		pageNum := 1
		if raw := r.URL.Query().Get("page"); raw != "" {
			var err error
			pageNum, err = strconv.Atoi(raw)
			require.NoError(t, err)
		}

		first := (pageNum - 1) * perPage
		results := make([]map[string]any, 0, perPage)
		for id := first + 1; id <= total && id <= first+perPage; id++ {
			results = append(results, map[string]any{
				"id":   id,
				"name": fmt.Sprintf("org-%d", id),
			})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results":  results,
			"total":    total,
			"subtotal": total,
			"page":     pageNum,
			"per_page": perPage,
		})
	}
	executor, counters := newExecutorFixture(t,
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
		rest,
	)

	page, err := executor.FetchOrganizations(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), counters.graphql.Load())
	require.Equal(t, int32(3), counters.rest.Load(), "45 entities at page size 20 take three pages")

	require.Len(t, page.Results, total)
	require.Equal(t, total, page.Total)
	require.Equal(t, 1, page.Results[0].ID)
	require.Equal(t, total, page.Results[total-1].ID)
	require.Equal(t, "org-45", page.Results[total-1].Name)
}

func TestTransportExhausted(t *testing.T) {
	t.Parallel()

	executor, counters := newExecutorFixture(t,
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
		restFailure,
	)

	_, err := executor.FetchOrganizations(context.Background())
	require.Error(t, err)
	require.True(t, IsTransportExhausted(err), "expected TransportExhaustedError, got %T", err)
	require.Equal(t, int32(1), counters.graphql.Load())
	require.Equal(t, int32(1), counters.rest.Load(), "exactly two round trips, never more")
}

func TestLoadTaxonomy(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/graphql", func(w http.ResponseWriter, r *http.Request) {
		var req GraphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		field := "organizations"
		if req.Query == locationsQuery {
			field = "locations"
		}
		fmt.Fprintf(w, `{"data": {%q: {"totalCount": 2, "nodes": [
			{"id": "1", "name": "first"},
			{"id": "2", "name": "second"}
		]}}}`, field)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	clt, err := New(Config{Addr: srv.URL, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	executor, err := NewExecutor(ExecutorConfig{Client: clt, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	store, err := taxonomy.NewStore(taxonomy.StoreConfig{Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)

	persisted := taxonomy.PersistedSelection{
		Context: taxonomy.PersistedContext{
			Organization: &taxonomy.PersistedEntity{ID: 2},
			// Stale location id resolves to unset, not an error.
			Location: &taxonomy.PersistedEntity{ID: 42},
		},
	}
	require.NoError(t, executor.LoadTaxonomy(context.Background(), store, &persisted))

	ctx := store.Context()
	require.Len(t, ctx.AvailableOrganizations, 2)
	require.Len(t, ctx.AvailableLocations, 2)
	require.NotNil(t, ctx.Organization)
	require.Equal(t, 2, ctx.Organization.ID)
	require.Nil(t, ctx.Location)
	require.False(t, ctx.IsLoading)
	require.NoError(t, ctx.Err)
}
