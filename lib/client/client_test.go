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
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/quarry/lib/taxonomy"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	clt, err := New(Config{
		Addr:   srv.URL,
		Logger: slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	return clt
}

func TestGetPaginated(t *testing.T) {
	t.Parallel()

	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/organizations", r.URL.Path)
		require.Equal(t, "20", r.URL.Query().Get("per_page"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"id": 1, "name": "acme", "hosts_count": 12},
			},
			"total":      1,
			"subtotal":   1,
			"page":       1,
			"per_page":   20,
			"can_create": true,
		})
	}))

	page, err := GetPage[taxonomy.Organization](context.Background(), clt, clt.Endpoint("organizations"), nil)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	require.Equal(t, 1, page.Results[0].ID)
	require.Equal(t, "acme", page.Results[0].Name)
	require.Equal(t, 12, page.Results[0].HostsCount)
	require.Equal(t, 1, page.Total)
	require.True(t, page.CanCreate)
}

func TestTokenLifecycle(t *testing.T) {
	t.Parallel()

	var seenAuth string
	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		w.Write([]byte("{}"))
	}))

	ctx := context.Background()
	_, err := clt.Get(ctx, clt.Endpoint("status"), url.Values{})
	require.NoError(t, err)
	require.Empty(t, seenAuth)

	require.NoError(t, clt.SetToken("secret"))
	require.Equal(t, "secret", clt.GetToken())
	_, err = clt.Get(ctx, clt.Endpoint("status"), url.Values{})
	require.NoError(t, err)
	require.Equal(t, "Bearer secret", seenAuth)

	require.NoError(t, clt.ClearToken())
	require.Empty(t, clt.GetToken())
	_, err = clt.Get(ctx, clt.Endpoint("status"), url.Values{})
	require.NoError(t, err)
	require.Empty(t, seenAuth)
}

func TestPatch(t *testing.T) {
	t.Parallel()

	type hostUpdate struct {
		Comment string `json:"comment"`
	}
	var seenMethod, seenBody, seenAuth string
	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenMethod = r.Method
		seenAuth = r.Header.Get("Authorization")
		var update hostUpdate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&update))
		seenBody = update.Comment
		w.Write([]byte("{}"))
	}))
	require.NoError(t, clt.SetToken("secret"))

	_, err := clt.Patch(context.Background(), clt.Endpoint("hosts", "7"), hostUpdate{Comment: "rebuilt"})
	require.NoError(t, err)
	require.Equal(t, http.MethodPatch, seenMethod)
	require.Equal(t, "rebuilt", seenBody)
	require.Equal(t, "Bearer secret", seenAuth)
}

func TestErrorConversion(t *testing.T) {
	t.Parallel()

	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}))

	_, err := clt.Get(context.Background(), clt.Endpoint("hosts", "999"), url.Values{})
	require.Error(t, err)
}
