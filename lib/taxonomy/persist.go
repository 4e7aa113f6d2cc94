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

package taxonomy

import (
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/gravitational/quarry/lib/defaults"
)

// PersistedEntity is the identifying slice of an entity that survives a
// restart. Everything else is refetched.
type PersistedEntity struct {
	ID    int    `yaml:"id"`
	Name  string `yaml:"name,omitempty"`
	Title string `yaml:"title,omitempty"`
}

// PersistedContext holds the persisted halves of the current selection.
type PersistedContext struct {
	Organization *PersistedEntity `yaml:"organization,omitempty"`
	Location     *PersistedEntity `yaml:"location,omitempty"`
}

// PersistedSelection is the single storage entry written to disk.
// Available entity lists and transient flags are never persisted.
type PersistedSelection struct {
	Context PersistedContext `yaml:"context"`
}

// SerializeSelection extracts the persistable slice of a context
// snapshot.
func SerializeSelection(ctx Context) PersistedSelection {
	var persisted PersistedSelection
	if ctx.Organization != nil {
		persisted.Context.Organization = &PersistedEntity{
			ID:    ctx.Organization.ID,
			Name:  ctx.Organization.Name,
			Title: ctx.Organization.Title,
		}
	}
	if ctx.Location != nil {
		persisted.Context.Location = &PersistedEntity{
			ID:    ctx.Location.ID,
			Name:  ctx.Location.Name,
			Title: ctx.Location.Title,
		}
	}
	return persisted
}

// RehydrateSelection re-resolves a persisted selection against freshly
// fetched available lists. A stale id that no longer exists resolves to
// an unset slot, never an error.
func RehydrateSelection(persisted PersistedSelection, orgs []Organization, locs []Location) Selection {
	var sel Selection
	if persisted.Context.Organization != nil && organizationIn(orgs, persisted.Context.Organization.ID) {
		sel.OrganizationID = IntPtr(persisted.Context.Organization.ID)
	}
	if persisted.Context.Location != nil && locationIn(locs, persisted.Context.Location.ID) {
		sel.LocationID = IntPtr(persisted.Context.Location.ID)
	}
	return sel
}

// Profile reads and writes the persisted selection file inside a config
// directory.
type Profile struct {
	// Dir is the config directory. Created on first save.
	Dir string
}

// DefaultProfile returns the profile rooted at the user's home config
// directory.
func DefaultProfile() (*Profile, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return &Profile{Dir: filepath.Join(home, defaults.ConfigDirName)}, nil
}

func (p *Profile) path() string {
	return filepath.Join(p.Dir, defaults.TaxonomyProfileName)
}

// Save writes the persisted selection atomically.
func (p *Profile) Save(persisted PersistedSelection) error {
	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return trace.ConvertSystemError(err)
	}
	data, err := yaml.Marshal(persisted)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := renameio.WriteFile(p.path(), data, 0o600); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// Load reads the persisted selection. Returns a NotFound error when no
// selection has been saved yet.
func (p *Profile) Load() (PersistedSelection, error) {
	var persisted PersistedSelection
	data, err := os.ReadFile(p.path())
	if err != nil {
		if os.IsNotExist(err) {
			return persisted, trace.NotFound("no persisted taxonomy selection at %v", p.path())
		}
		return persisted, trace.ConvertSystemError(err)
	}
	if err := yaml.Unmarshal(data, &persisted); err != nil {
		return persisted, trace.Wrap(err)
	}
	return persisted, nil
}

// Clear removes the persisted selection. Clearing an absent profile is
// not an error.
func (p *Profile) Clear() error {
	if err := os.Remove(p.path()); err != nil && !os.IsNotExist(err) {
		return trace.ConvertSystemError(err)
	}
	return nil
}
