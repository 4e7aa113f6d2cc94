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

// Package defaults holds default values shared across the quarry
// client libraries.
package defaults

const (
	// APIVersionPrefix is the versioned REST API base path. All REST
	// resource endpoints are served under it.
	APIVersionPrefix = "api/v2"

	// GraphQLEndpoint is the GraphQL API path. It is served at the server
	// root, outside the versioned REST base.
	GraphQLEndpoint = "api/graphql"

	// OrganizationsEndpoint is the REST resource path for organizations,
	// relative to APIVersionPrefix.
	OrganizationsEndpoint = "organizations"

	// LocationsEndpoint is the REST resource path for locations, relative
	// to APIVersionPrefix.
	LocationsEndpoint = "locations"

	// PerPage is the page size requested from paginated REST endpoints
	// when the caller does not specify one.
	PerPage = 20

	// UnpaginatedPerPage is the page size requested when a read needs the
	// whole collection at once, such as the REST fallback of an
	// unpaginated GraphQL query. Servers may cap it.
	UnpaginatedPerPage = 10000

	// MaxHierarchyDepth caps ancestor chain walks in the taxonomy
	// hierarchy builder. Chains longer than this are treated as runaway
	// and truncated with a warning.
	MaxHierarchyDepth = 50

	// TitlePathSeparator joins hierarchy segments in legacy title-encoded
	// taxonomies ("parent/child/grandchild").
	TitlePathSeparator = "/"

	// CurrentUserEndpoint is the REST resource path returning the
	// authenticated user, relative to APIVersionPrefix. Used to validate
	// credentials at login.
	CurrentUserEndpoint = "users/current"

	// TaxonomyProfileName is the file name of the persisted taxonomy
	// selection inside the quarry config directory.
	TaxonomyProfileName = "taxonomy.yaml"

	// CredentialsProfileName is the file name of the persisted login
	// credentials inside the quarry config directory.
	CredentialsProfileName = "credentials.yaml"

	// ConfigDirName is the per-user configuration directory name.
	ConfigDirName = ".quarry"

	// ResolverCacheSize bounds the identifier resolver memoization cache.
	ResolverCacheSize = 1024
)
