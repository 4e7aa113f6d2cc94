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

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/quarry/lib/client"
)

func TestLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/users/current", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer valid-token" {
			http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"name": "admin"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	creds := &client.CredentialsStore{Dir: t.TempDir()}

	cf := &cliConf{server: srv.URL}
	err := onLogin(context.Background(), cf, creds)
	require.True(t, trace.IsBadParameter(err), "login without a token must fail, got %v", err)

	cf.token = "wrong"
	require.Error(t, onLogin(context.Background(), cf, creds))
	_, err = creds.Load()
	require.True(t, trace.IsNotFound(err), "rejected credentials must not be persisted")

	cf.token = "valid-token"
	require.NoError(t, onLogin(context.Background(), cf, creds))
	stored, err := creds.Load()
	require.NoError(t, err)
	require.Equal(t, client.Credentials{Server: srv.URL, Token: "valid-token"}, stored)
}

func TestLogout(t *testing.T) {
	creds := &client.CredentialsStore{Dir: t.TempDir()}
	require.NoError(t, creds.Save(client.Credentials{Server: "https://quarry.example.com", Token: "secret"}))

	require.NoError(t, onLogout(creds))
	_, err := creds.Load()
	require.True(t, trace.IsNotFound(err))

	// Logging out while logged out is fine.
	require.NoError(t, onLogout(creds))
}
