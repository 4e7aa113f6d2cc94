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
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestSerializeSelection(t *testing.T) {
	t.Parallel()

	ctx := Context{
		Organization: &Organization{Entity: Entity{ID: 3, Name: "acme", Title: "acme"}},
		AvailableOrganizations: []Organization{
			org(3, "acme", nil),
		},
		IsLoading: true,
	}
	persisted := SerializeSelection(ctx)

	// Only identifying fields of the selection survive; lists and
	// transient flags are excluded.
	require.NotNil(t, persisted.Context.Organization)
	require.Equal(t, 3, persisted.Context.Organization.ID)
	require.Equal(t, "acme", persisted.Context.Organization.Name)
	require.Nil(t, persisted.Context.Location)
}

func TestRehydrateSelection(t *testing.T) {
	t.Parallel()

	orgs := testOrgs()
	locs := testLocs()

	persisted := PersistedSelection{
		Context: PersistedContext{
			Organization: &PersistedEntity{ID: 2, Name: "child-org"},
			Location:     &PersistedEntity{ID: 1, Name: "hq"},
		},
	}
	sel := RehydrateSelection(persisted, orgs, locs)
	require.NotNil(t, sel.OrganizationID)
	require.Equal(t, 2, *sel.OrganizationID)
	require.NotNil(t, sel.LocationID)
	require.Equal(t, 1, *sel.LocationID)

	// A stale id that no longer exists resolves to unset, not an error.
	persisted.Context.Organization.ID = 99
	sel = RehydrateSelection(persisted, orgs, locs)
	require.Nil(t, sel.OrganizationID)
	require.NotNil(t, sel.LocationID)
}

func TestProfileRoundTrip(t *testing.T) {
	t.Parallel()

	profile := &Profile{Dir: t.TempDir()}

	_, err := profile.Load()
	require.True(t, trace.IsNotFound(err))

	persisted := PersistedSelection{
		Context: PersistedContext{
			Organization: &PersistedEntity{ID: 5, Name: "acme"},
		},
	}
	require.NoError(t, profile.Save(persisted))

	loaded, err := profile.Load()
	require.NoError(t, err)
	require.Equal(t, persisted, loaded)

	require.NoError(t, profile.Clear())
	_, err = profile.Load()
	require.True(t, trace.IsNotFound(err))

	// Clearing twice is fine.
	require.NoError(t, profile.Clear())
}
