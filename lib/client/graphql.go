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
	"strings"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
)

// GraphQLRequest is the body POSTed to the GraphQL endpoint.
type GraphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// GraphQLErrorLocation points at the query position an error refers to.
type GraphQLErrorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError is one entry of the response errors array.
type GraphQLError struct {
	Message    string                 `json:"message"`
	Locations  []GraphQLErrorLocation `json:"locations,omitempty"`
	Path       []any                  `json:"path,omitempty"`
	Extensions map[string]any         `json:"extensions,omitempty"`
}

// GraphQLResponse is the decoded GraphQL response body.
type GraphQLResponse struct {
	Data   map[string]json.RawMessage `json:"data,omitempty"`
	Errors []GraphQLError             `json:"errors,omitempty"`
}

// queryError aggregates the errors array into a single error value.
func (r *GraphQLResponse) queryError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	messages := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		messages = append(messages, e.Message)
	}
	return trace.Errorf("graphql query failed: %v", strings.Join(messages, "; "))
}

// GraphQL POSTs a query to the GraphQL endpoint and decodes the response
// body. A decoded response carrying a non-empty errors array is returned
// as-is with a nil error; interpreting it is up to the caller.
func (c *Client) GraphQL(ctx context.Context, req GraphQLRequest) (*GraphQLResponse, error) {
	resp, err := roundtrip.ConvertResponse(c.inner().PostJSON(ctx, c.GraphQLEndpoint(), req))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var decoded GraphQLResponse
	if err := json.Unmarshal(resp.Bytes(), &decoded); err != nil {
		return nil, trace.Wrap(err, "decoding graphql response")
	}
	return &decoded, nil
}

// Connection is the canonical internal representation of a GraphQL
// connection. Both upstream shapes, edges[].node and nodes[], normalize
// into it through decodeConnection; nothing else in the codebase handles
// the upstream shapes directly.
type Connection struct {
	// Nodes are the raw connection entries.
	Nodes []json.RawMessage
	// TotalCount is the server-reported total, 0 when not requested.
	TotalCount int
}

// rawConnection mirrors the two wire shapes a connection can arrive in.
type rawConnection struct {
	Edges []struct {
		Node json.RawMessage `json:"node"`
	} `json:"edges"`
	Nodes      []json.RawMessage `json:"nodes"`
	TotalCount int               `json:"totalCount"`
}

// decodeConnection normalizes a raw connection payload. A payload
// carrying both shapes prefers edges, matching server behavior.
func decodeConnection(raw json.RawMessage) (*Connection, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, trace.BadParameter("empty graphql connection payload")
	}
	var decoded rawConnection
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, trace.Wrap(err, "decoding graphql connection")
	}
	conn := &Connection{TotalCount: decoded.TotalCount}
	switch {
	case decoded.Edges != nil:
		conn.Nodes = make([]json.RawMessage, 0, len(decoded.Edges))
		for i, edge := range decoded.Edges {
			if len(edge.Node) == 0 || string(edge.Node) == "null" {
				return nil, trace.BadParameter("graphql connection edge %d has no node", i)
			}
			conn.Nodes = append(conn.Nodes, edge.Node)
		}
	case decoded.Nodes != nil:
		conn.Nodes = decoded.Nodes
	default:
		return nil, trace.BadParameter("graphql connection has neither edges nor nodes")
	}
	return conn, nil
}

// connectionField extracts and normalizes the named top-level field of a
// GraphQL response. A missing field is an error so the caller can treat
// it as a failed query.
func connectionField(resp *GraphQLResponse, field string) (*Connection, error) {
	raw, ok := resp.Data[field]
	if !ok {
		return nil, trace.NotFound("graphql response has no top-level field %q", field)
	}
	conn, err := decodeConnection(raw)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return conn, nil
}
