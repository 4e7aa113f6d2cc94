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
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/quarry"
	logutils "github.com/gravitational/quarry/lib/utils/log"
)

// InvalidSelectionError is returned when a context update names an entity
// that is not a member of the corresponding available list.
type InvalidSelectionError struct {
	// Field is the context field that failed validation, "organization"
	// or "location".
	Field string
	// ID is the offending entity id.
	ID int
}

// Error implements the error interface.
func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("invalid selection: %s %v is not in the available list", e.Field, e.ID)
}

// IsInvalidSelection returns true if err is a rejected context update.
func IsInvalidSelection(err error) bool {
	var ise *InvalidSelectionError
	return errors.As(err, &ise)
}

// Context is one immutable snapshot of the taxonomy state. Mutators on
// the store always replace the whole snapshot, so no caller observes a
// partially applied update. Callers must not mutate a returned snapshot
// in place; compose new state through store operations instead.
type Context struct {
	// Organization is the currently selected organization, nil when none
	// is selected. When set it is always a member, by id, of
	// AvailableOrganizations.
	Organization *Organization
	// Location is the currently selected location, nil when none is
	// selected. When set it is always a member, by id, of
	// AvailableLocations.
	Location *Location
	// AvailableOrganizations is the full list of organizations the user
	// may see. Replaced wholesale on every successful fetch.
	AvailableOrganizations []Organization
	// AvailableLocations is the full list of locations the user may see.
	AvailableLocations []Location
	// IsLoading reports whether an entity list fetch is in flight.
	IsLoading bool
	// Err holds the last fetch error, nil when the last fetch succeeded.
	Err error
	// UpdatedAt is when this snapshot was produced.
	UpdatedAt time.Time
}

// Selection returns the identifying fields of the current selection.
func (c Context) Selection() Selection {
	var sel Selection
	if c.Organization != nil {
		sel.OrganizationID = IntPtr(c.Organization.ID)
	}
	if c.Location != nil {
		sel.LocationID = IntPtr(c.Location.ID)
	}
	return sel
}

// ContextUpdate is a partial context update applied through
// Store.SetContext. Nil fields keep their current value.
type ContextUpdate struct {
	// Organization selects an organization. Validated for membership.
	Organization *Organization
	// Location selects a location. Validated for membership.
	Location *Location
	// AvailableOrganizations, when non-nil, replaces the available
	// organization list as part of the same update.
	AvailableOrganizations []Organization
	// AvailableLocations, when non-nil, replaces the available location
	// list as part of the same update.
	AvailableLocations []Location
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Clock supplies snapshot timestamps. Defaults to the real clock.
	Clock clockwork.Clock
	// Logger emits rejected-update warnings. Defaults to a package
	// logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults fills in defaults.
func (c *StoreConfig) CheckAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(quarry.ComponentKey, quarry.Component(quarry.ComponentTaxonomy, "store"))
	}
	return nil
}

// Store holds the current taxonomy context, the available entity lists
// and the user capability flags. It is an explicitly constructed state
// container; multiple independent stores can coexist. Every mutator is a
// synchronous atomic snapshot replacement guarded by a mutex, so the
// store is safe for concurrent use.
type Store struct {
	cfg StoreConfig

	mu          sync.Mutex
	ctx         Context
	permissions Permissions
	pending     *Selection
	subscribers map[int]func(Context)
	nextSubID   int
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Store{
		cfg:         cfg,
		subscribers: make(map[int]func(Context)),
	}, nil
}

// Subscribe registers fn to be called with the new snapshot after every
// applied update. fn runs synchronously with the store lock held and
// must not call back into the store. The returned function unsubscribes.
func (s *Store) Subscribe(fn func(Context)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Context returns the current snapshot. The returned value shares no
// mutable state with the store.
func (s *Store) Context() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneContext(s.ctx)
}

// Permissions returns the current capability flags.
func (s *Store) Permissions() Permissions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissions
}

// SetPermissions replaces the capability flags.
func (s *Store) SetPermissions(p Permissions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions = p
}

// PendingSelection returns the staged selection, nil when none is
// staged.
func (s *Store) PendingSelection() *Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	pending := *s.pending
	return &pending
}

// SetAvailableOrganizations replaces the available organization list.
// The previous list is discarded, never merged.
func (s *Store) SetAvailableOrganizations(orgs []Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneContext(s.ctx)
	next.AvailableOrganizations = slices.Clone(orgs)
	s.apply(next)
}

// SetAvailableLocations replaces the available location list.
func (s *Store) SetAvailableLocations(locs []Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneContext(s.ctx)
	next.AvailableLocations = slices.Clone(locs)
	s.apply(next)
}

// SetCurrentOrganization assigns the current organization without
// validating membership. Reserved for flows that already guarantee it,
// e.g. immediately after a fresh fetch. Pass nil to clear.
func (s *Store) SetCurrentOrganization(org *Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneContext(s.ctx)
	next.Organization = cloneOrg(org)
	s.apply(next)
}

// SetCurrentLocation assigns the current location without validating
// membership. Pass nil to clear.
func (s *Store) SetCurrentLocation(loc *Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneContext(s.ctx)
	next.Location = cloneLoc(loc)
	s.apply(next)
}

// SetContext applies a partial context update after validating that any
// supplied organization/location is a member of the available list in
// effect after the same update. On a membership failure the entire update
// is rejected, the prior state is kept, and a single warning naming the
// invalid field is logged.
func (s *Store) SetContext(update ContextUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneContext(s.ctx)
	if update.AvailableOrganizations != nil {
		next.AvailableOrganizations = slices.Clone(update.AvailableOrganizations)
	}
	if update.AvailableLocations != nil {
		next.AvailableLocations = slices.Clone(update.AvailableLocations)
	}
	if update.Organization != nil {
		if !organizationIn(next.AvailableOrganizations, update.Organization.ID) {
			err := &InvalidSelectionError{Field: "organization", ID: update.Organization.ID}
			s.cfg.Logger.Warn("Rejecting context update.", "invalid_field", err.Field, "entity_id", err.ID)
			return trace.Wrap(err)
		}
		next.Organization = cloneOrg(update.Organization)
	}
	if update.Location != nil {
		if !locationIn(next.AvailableLocations, update.Location.ID) {
			err := &InvalidSelectionError{Field: "location", ID: update.Location.ID}
			s.cfg.Logger.Warn("Rejecting context update.", "invalid_field", err.Field, "entity_id", err.ID)
			return trace.Wrap(err)
		}
		next.Location = cloneLoc(update.Location)
	}
	s.apply(next)
	return nil
}

// SetSelection resolves both ids of the selection against the current
// available lists and applies organization and location in one atomic
// transition. An id that does not resolve leaves that slot unset; callers
// needing strictness check HasValidSelection afterwards.
func (s *Store) SetSelection(sel Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applySelectionLocked(sel)
}

func (s *Store) applySelectionLocked(sel Selection) {
	next := cloneContext(s.ctx)
	next.Organization = nil
	next.Location = nil
	if sel.OrganizationID != nil {
		if org, ok := findOrganization(next.AvailableOrganizations, *sel.OrganizationID); ok {
			next.Organization = &org
		}
	}
	if sel.LocationID != nil {
		if loc, ok := findLocation(next.AvailableLocations, *sel.LocationID); ok {
			next.Location = &loc
		}
	}
	s.apply(next)
}

// SetPendingSelection stages a candidate selection without touching the
// live context. Pass nil to discard the staged candidate.
func (s *Store) SetPendingSelection(sel *Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sel == nil {
		s.pending = nil
		return
	}
	pending := *sel
	s.pending = &pending
}

// CommitPendingSelection applies the staged selection exactly as
// SetSelection would, then clears the pending slot. A no-op when nothing
// is staged.
func (s *Store) CommitPendingSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return
	}
	sel := *s.pending
	s.pending = nil
	s.applySelectionLocked(sel)
}

// ResetSelection clears both the current and the pending selection.
func (s *Store) ResetSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	next := cloneContext(s.ctx)
	next.Organization = nil
	next.Location = nil
	s.apply(next)
}

// CanSwitchToOrganization reports whether the user may switch the context
// to the given organization: the switch capability must be granted and
// the id must be in the available list.
func (s *Store) CanSwitchToOrganization(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissions.CanSwitchContext && organizationIn(s.ctx.AvailableOrganizations, id)
}

// CanSwitchToLocation reports whether the user may switch the context to
// the given location.
func (s *Store) CanSwitchToLocation(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissions.CanSwitchContext && locationIn(s.ctx.AvailableLocations, id)
}

// ValidateCurrentSelection re-checks the membership invariant of the
// current selection without mutating state.
func (s *Store) ValidateCurrentSelection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Organization != nil && !organizationIn(s.ctx.AvailableOrganizations, s.ctx.Organization.ID) {
		return trace.Wrap(&InvalidSelectionError{Field: "organization", ID: s.ctx.Organization.ID})
	}
	if s.ctx.Location != nil && !locationIn(s.ctx.AvailableLocations, s.ctx.Location.ID) {
		return trace.Wrap(&InvalidSelectionError{Field: "location", ID: s.ctx.Location.ID})
	}
	return nil
}

// HasValidSelection reports whether the current selection satisfies the
// membership invariant.
func (s *Store) HasValidSelection() bool {
	return s.ValidateCurrentSelection() == nil
}

// SetLoading flips the loading flag.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneContext(s.ctx)
	next.IsLoading = loading
	s.apply(next)
}

// SetError records the last fetch error, nil to clear.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneContext(s.ctx)
	next.Err = err
	s.apply(next)
}

// Reset returns the whole store to its initial defaults: empty context,
// all-deny permissions, no pending selection. Called on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions = Permissions{}
	s.pending = nil
	s.apply(Context{})
}

// apply installs the next snapshot and notifies subscribers. Callers must
// hold the mutex.
func (s *Store) apply(next Context) {
	next.UpdatedAt = s.cfg.Clock.Now()
	s.ctx = next
	for _, fn := range s.subscribers {
		fn(cloneContext(next))
	}
}

func cloneContext(ctx Context) Context {
	next := ctx
	next.Organization = cloneOrg(ctx.Organization)
	next.Location = cloneLoc(ctx.Location)
	next.AvailableOrganizations = slices.Clone(ctx.AvailableOrganizations)
	next.AvailableLocations = slices.Clone(ctx.AvailableLocations)
	return next
}

func cloneOrg(org *Organization) *Organization {
	if org == nil {
		return nil
	}
	clone := *org
	return &clone
}

func cloneLoc(loc *Location) *Location {
	if loc == nil {
		return nil
	}
	clone := *loc
	return &clone
}

func findOrganization(orgs []Organization, id int) (Organization, bool) {
	for _, org := range orgs {
		if org.ID == id {
			return org, true
		}
	}
	return Organization{}, false
}

func findLocation(locs []Location, id int) (Location, bool) {
	for _, loc := range locs {
		if loc.ID == id {
			return loc, true
		}
	}
	return Location{}, false
}

func organizationIn(orgs []Organization, id int) bool {
	_, ok := findOrganization(orgs, id)
	return ok
}

func locationIn(locs []Location, id int) bool {
	_, ok := findLocation(locs, id)
	return ok
}
