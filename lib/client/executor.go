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
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/gravitational/quarry"
	"github.com/gravitational/quarry/lib/defaults"
	"github.com/gravitational/quarry/lib/gid"
	"github.com/gravitational/quarry/lib/taxonomy"
	logutils "github.com/gravitational/quarry/lib/utils/log"
)

// TransportExhaustedError is returned when both the GraphQL attempt and
// the REST fallback of one logical read fail.
type TransportExhaustedError struct {
	// Op is the logical operation name.
	Op string
	// GraphQLErr is the failure of the GraphQL attempt.
	GraphQLErr error
	// RESTErr is the failure of the REST fallback.
	RESTErr error
}

// Error implements the error interface.
func (e *TransportExhaustedError) Error() string {
	return fmt.Sprintf("both transports failed for %s: graphql: %v, rest: %v", e.Op, e.GraphQLErr, e.RESTErr)
}

// IsTransportExhausted returns true if err means both transports failed.
func IsTransportExhausted(err error) bool {
	var tee *TransportExhaustedError
	return errors.As(err, &tee)
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Client is the generic HTTP client. Required.
	Client *Client
	// Resolver resolves opaque GraphQL node ids. Defaults to a fresh
	// resolver.
	Resolver *gid.Resolver
	// Logger emits fallback warnings. Defaults to a package logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ExecutorConfig) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("missing client")
	}
	if c.Resolver == nil {
		resolver, err := gid.NewResolver()
		if err != nil {
			return trace.Wrap(err)
		}
		c.Resolver = resolver
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(quarry.ComponentKey, quarry.ComponentGraphQL)
	}
	return nil
}

// Executor runs logical reads over two transports: it prefers GraphQL
// and falls back to the equivalent REST call on any GraphQL failure. The
// two attempts are strictly sequential and a GraphQL failure is never
// visible to the caller; only exhaustion of both transports surfaces an
// error.
type Executor struct {
	cfg ExecutorConfig
}

// NewExecutor creates a dual-transport query executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Executor{cfg: cfg}, nil
}

// taxonomyNode is the GraphQL node shape of organizations and locations.
// The API intentionally omits host/user counts here for performance;
// normalization substitutes the agreed sentinel 0.
type taxonomyNode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ParentID    string `json:"parentId,omitempty"`
}

const organizationsQuery = `query {
  organizations {
    totalCount
    edges {
      node { id name title description parentId }
    }
  }
}`

const locationsQuery = `query {
  locations {
    totalCount
    edges {
      node { id name title description parentId }
    }
  }
}`

// logicalRead describes one dual-transport read.
type logicalRead[T any] struct {
	name         string
	query        string
	field        string
	restEndpoint func(c *Client) string
	fromNode     func(r *gid.Resolver, node json.RawMessage) (T, error)
}

// FetchOrganizations reads the available organizations, preferring
// GraphQL with a transparent REST fallback.
func (e *Executor) FetchOrganizations(ctx context.Context) (*Page[taxonomy.Organization], error) {
	return execute(ctx, e, logicalRead[taxonomy.Organization]{
		name:  "organizations",
		query: organizationsQuery,
		field: "organizations",
		restEndpoint: func(c *Client) string {
			return c.Endpoint(defaults.OrganizationsEndpoint)
		},
		fromNode: organizationFromNode,
	})
}

// FetchLocations reads the available locations, preferring GraphQL with
// a transparent REST fallback.
func (e *Executor) FetchLocations(ctx context.Context) (*Page[taxonomy.Location], error) {
	return execute(ctx, e, logicalRead[taxonomy.Location]{
		name:  "locations",
		query: locationsQuery,
		field: "locations",
		restEndpoint: func(c *Client) string {
			return c.Endpoint(defaults.LocationsEndpoint)
		},
		fromNode: locationFromNode,
	})
}

// execute tries at most two transports, strictly in sequence: the
// GraphQL attempt, then the REST fallback. Any GraphQL-side problem,
// including a payload that fails normalization, downgrades to a warning.
func execute[T any](ctx context.Context, e *Executor, op logicalRead[T]) (*Page[T], error) {
	opID := uuid.NewString()

	page, gqlErr := graphQLAttempt(ctx, e, op)
	if gqlErr == nil {
		return page, nil
	}
	e.cfg.Logger.WarnContext(ctx, "GraphQL attempt failed, falling back to REST.",
		"op", op.name, "op_id", opID, "error", gqlErr)

	page, restErr := restFallback[T](ctx, e, op.restEndpoint(e.cfg.Client))
	if restErr != nil {
		return nil, trace.Wrap(&TransportExhaustedError{
			Op:         op.name,
			GraphQLErr: gqlErr,
			RESTErr:    restErr,
		})
	}
	return page, nil
}

// restFallback reads the whole REST collection. The GraphQL queries are
// unpaginated, so the fallback asks for everything in a single page;
// callers cannot tell the two transports apart by result size. Only a
// server that caps the page size forces extra round trips.
func restFallback[T any](ctx context.Context, e *Executor, endpoint string) (*Page[T], error) {
	fetch := func(pageNum int) (*Page[T], error) {
		params := url.Values{}
		params.Set("page", strconv.Itoa(pageNum))
		params.Set("per_page", strconv.Itoa(defaults.UnpaginatedPerPage))
		return GetPage[T](ctx, e.cfg.Client, endpoint, params)
	}
	page, err := fetch(1)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(page.Results) >= page.Total {
		return page, nil
	}
	results := page.Results
	for pageNum := 2; len(results) < page.Total; pageNum++ {
		next, err := fetch(pageNum)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if len(next.Results) == 0 {
			// The collection shrank underneath the walk.
			break
		}
		results = append(results, next.Results...)
	}
	page.Results = results
	page.Page = 1
	page.PerPage = len(results)
	return page, nil
}

// graphQLAttempt issues the GraphQL query and normalizes its connection
// payload into the REST pagination envelope.
func graphQLAttempt[T any](ctx context.Context, e *Executor, op logicalRead[T]) (*Page[T], error) {
	resp, err := e.cfg.Client.GraphQL(ctx, GraphQLRequest{Query: op.query})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := resp.queryError(); err != nil {
		return nil, trace.Wrap(err)
	}
	conn, err := connectionField(resp, op.field)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	results := make([]T, 0, len(conn.Nodes))
	for _, node := range conn.Nodes {
		entity, err := op.fromNode(e.cfg.Resolver, node)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		results = append(results, entity)
	}

	total := conn.TotalCount
	if total < len(results) {
		total = len(results)
	}
	return &Page[T]{
		Results:  results,
		Total:    total,
		Subtotal: total,
		Page:     1,
		PerPage:  len(results),
	}, nil
}

func entityFromNode(r *gid.Resolver, raw json.RawMessage) (taxonomy.Entity, *int, error) {
	var node taxonomyNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return taxonomy.Entity{}, nil, trace.Wrap(err, "decoding graphql node")
	}
	id, err := r.ResolveID(node.ID)
	if err != nil {
		return taxonomy.Entity{}, nil, trace.Wrap(err)
	}
	var parentID *int
	if node.ParentID != "" {
		parent, err := r.ResolveID(node.ParentID)
		if err != nil {
			return taxonomy.Entity{}, nil, trace.Wrap(err)
		}
		parentID = &parent
	}
	return taxonomy.Entity{
		ID:          id,
		Name:        node.Name,
		Title:       node.Title,
		Description: node.Description,
	}, parentID, nil
}

func organizationFromNode(r *gid.Resolver, raw json.RawMessage) (taxonomy.Organization, error) {
	entity, parentID, err := entityFromNode(r, raw)
	if err != nil {
		return taxonomy.Organization{}, trace.Wrap(err)
	}
	return taxonomy.Organization{Entity: entity, ParentID: parentID}, nil
}

func locationFromNode(r *gid.Resolver, raw json.RawMessage) (taxonomy.Location, error) {
	entity, parentID, err := entityFromNode(r, raw)
	if err != nil {
		return taxonomy.Location{}, trace.Wrap(err)
	}
	return taxonomy.Location{Entity: entity, ParentID: parentID}, nil
}

// LoadTaxonomy fetches both available entity lists, installs them in the
// store, and applies the persisted selection re-resolved against the
// fresh lists. Pass a nil persisted selection on first login.
func (e *Executor) LoadTaxonomy(ctx context.Context, store *taxonomy.Store, persisted *taxonomy.PersistedSelection) error {
	store.SetLoading(true)
	defer store.SetLoading(false)

	orgs, err := e.FetchOrganizations(ctx)
	if err != nil {
		store.SetError(err)
		return trace.Wrap(err)
	}
	locs, err := e.FetchLocations(ctx)
	if err != nil {
		store.SetError(err)
		return trace.Wrap(err)
	}

	store.SetAvailableOrganizations(orgs.Results)
	store.SetAvailableLocations(locs.Results)
	store.SetError(nil)
	if persisted != nil {
		store.SetSelection(taxonomy.RehydrateSelection(*persisted, orgs.Results, locs.Results))
	}
	return nil
}
