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

// Package quarry defines constants shared across the quarry client
// libraries and tools.
package quarry

import "strings"

const (
	// ComponentKey is the logging attribute key holding the name of the
	// component that emitted a log record.
	ComponentKey = "component"

	// ComponentClient is the generic HTTP API client.
	ComponentClient = "client"

	// ComponentGraphQL is the GraphQL transport.
	ComponentGraphQL = "graphql"

	// ComponentTaxonomy is the organization/location context subsystem.
	ComponentTaxonomy = "taxonomy"

	// ComponentCTL is the quarryctl command line tool.
	ComponentCTL = "quarryctl"
)

// Component generates a colon-separated component name from parts,
// e.g. Component("taxonomy", "store") returns "taxonomy:store".
func Component(parts ...string) string {
	return strings.Join(parts, ":")
}

// Version is the semver version string of this build.
const Version = "0.3.0"
