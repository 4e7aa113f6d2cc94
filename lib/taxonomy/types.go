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

// Package taxonomy implements the organization/location scoping model:
// the entity types, the hierarchy builder, the context store tracking the
// current selection, and persistence of that selection across restarts.
package taxonomy

import (
	"time"

	"github.com/gravitational/trace"
)

// Entity is the common shape of every taxonomy entity returned by the
// server.
type Entity struct {
	// ID is the positive integer id of the entity.
	ID int `json:"id"`
	// Name is the short name of the entity.
	Name string `json:"name"`
	// Title optionally carries a display title. In the legacy convention
	// it encodes the full hierarchy path as a separator-joined string.
	Title string `json:"title,omitempty"`
	// Description is an optional free-form description.
	Description string `json:"description,omitempty"`
}

// DisplayName returns the title when present and the name otherwise.
func (e Entity) DisplayName() string {
	if e.Title != "" {
		return e.Title
	}
	return e.Name
}

// CheckAndSetDefaults validates the entity.
func (e *Entity) CheckAndSetDefaults() error {
	if e.ID <= 0 {
		return trace.BadParameter("entity id must be a positive integer, got %v", e.ID)
	}
	if e.Name == "" {
		return trace.BadParameter("missing entity name")
	}
	return nil
}

// Organization is a taxonomy organization with hierarchy and counters.
type Organization struct {
	Entity
	// ParentID links to the parent organization, nil for roots.
	ParentID *int `json:"parent_id,omitempty"`
	// HostsCount is the number of hosts scoped to this organization. The
	// GraphQL transport omits it; 0 is the agreed sentinel.
	HostsCount int `json:"hosts_count,omitempty"`
	// UsersCount is the number of users scoped to this organization.
	UsersCount int `json:"users_count,omitempty"`
	// CreatedAt is the server-side creation timestamp.
	CreatedAt time.Time `json:"created_at,omitempty"`
	// UpdatedAt is the server-side last modification timestamp.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Location is a taxonomy location with hierarchy and counters.
type Location struct {
	Entity
	// ParentID links to the parent location, nil for roots.
	ParentID *int `json:"parent_id,omitempty"`
	// HostsCount is the number of hosts scoped to this location.
	HostsCount int `json:"hosts_count,omitempty"`
	// UsersCount is the number of users scoped to this location.
	UsersCount int `json:"users_count,omitempty"`
	// CreatedAt is the server-side creation timestamp.
	CreatedAt time.Time `json:"created_at,omitempty"`
	// UpdatedAt is the server-side last modification timestamp.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Node is implemented by every entity the hierarchy builder can arrange
// into a forest.
type Node interface {
	// GetID returns the entity id.
	GetID() int
	// GetParentID returns the parent entity id. ok is false for roots.
	GetParentID() (id int, ok bool)
	// GetTitle returns the entity title, possibly a separator-joined
	// hierarchy path in the legacy convention.
	GetTitle() string
	// DisplayName returns the human readable name of the entity.
	DisplayName() string
}

// GetID implements Node.
func (o Organization) GetID() int { return o.ID }

// GetParentID implements Node.
func (o Organization) GetParentID() (int, bool) {
	if o.ParentID == nil {
		return 0, false
	}
	return *o.ParentID, true
}

// GetTitle implements Node.
func (o Organization) GetTitle() string { return o.Title }

// GetID implements Node.
func (l Location) GetID() int { return l.ID }

// GetParentID implements Node.
func (l Location) GetParentID() (int, bool) {
	if l.ParentID == nil {
		return 0, false
	}
	return *l.ParentID, true
}

// GetTitle implements Node.
func (l Location) GetTitle() string { return l.Title }

// TreeNode is a node of the hierarchy forest produced by the builder.
type TreeNode[T Node] struct {
	// Entity is the taxonomy entity at this node.
	Entity T
	// Children are the direct children, in input order.
	Children []*TreeNode[T]
	// Level is the length of the entity's ancestor chain, 0 when the
	// chain is cyclic.
	Level int
	// Expanded marks the node as expanded in tree views.
	Expanded bool
	// Selected marks the node as selected in tree views.
	Selected bool
	// Disabled marks the node as not selectable.
	Disabled bool
}

// Selection is the externally addressable, serializable form of the
// current context. The url tags drive query-parameter encoding when a
// request is scoped by the selection.
type Selection struct {
	// OrganizationID is the id of the selected organization, nil when no
	// organization is selected.
	OrganizationID *int `json:"organization_id,omitempty" url:"organization_id,omitempty" yaml:"organization_id,omitempty"`
	// LocationID is the id of the selected location, nil when no location
	// is selected.
	LocationID *int `json:"location_id,omitempty" url:"location_id,omitempty" yaml:"location_id,omitempty"`
}

// IsEmpty returns true when neither axis is selected.
func (s Selection) IsEmpty() bool {
	return s.OrganizationID == nil && s.LocationID == nil
}

// Permissions holds the capability flags supplied by the external
// permission source. The zero value denies everything.
type Permissions struct {
	CanViewOrganizations   bool `json:"can_view_organizations"`
	CanEditOrganizations   bool `json:"can_edit_organizations"`
	CanCreateOrganizations bool `json:"can_create_organizations"`
	CanDeleteOrganizations bool `json:"can_delete_organizations"`
	CanViewLocations       bool `json:"can_view_locations"`
	CanEditLocations       bool `json:"can_edit_locations"`
	CanCreateLocations     bool `json:"can_create_locations"`
	CanDeleteLocations     bool `json:"can_delete_locations"`
	CanSwitchContext       bool `json:"can_switch_context"`
}

// IntPtr returns a pointer to v. Convenience for building selections and
// parent links in literals.
func IntPtr(v int) *int { return &v }
