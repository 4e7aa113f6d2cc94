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

// Package gid resolves the opaque global identifiers returned by the
// GraphQL API into the plain positive integer ids used by the REST API.
//
// The server emits ids in three formats: a decimal string ("42"), a
// namespaced global-id path ("gid://foreman/Location/9"), and a base64
// encoding of either of those or of a "<Type>-<digits>" tag
// ("T3JnYW5pemF0aW9uLTc=" for "Organization-7").
package gid

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/gravitational/trace"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gravitational/quarry/lib/defaults"
)

// InvalidIdentifierError is returned when no decode strategy can extract
// a positive integer id from a raw identifier.
type InvalidIdentifierError struct {
	// Raw is the identifier that failed to resolve.
	Raw string
}

// Error implements the error interface.
func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q: no numeric id could be extracted", e.Raw)
}

// IsInvalidIdentifier returns true if err is an identifier resolution
// failure, so callers can branch on the error kind.
func IsInvalidIdentifier(err error) bool {
	var iie *InvalidIdentifierError
	return errors.As(err, &iie)
}

var (
	// globalIDPattern matches namespaced global-id paths of the form
	// scheme://namespace/Type/<digits> and captures the trailing digits.
	globalIDPattern = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://[^/\s]+(?:/[^/\s]+)*/([0-9]+)$`)

	// base64Pattern matches strings made of the standard base64 alphabet
	// with optional padding. Length must additionally be a multiple of 4.
	base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

	// trailingDigitsPattern extracts the final run of digits of a decoded
	// identifier such as "Organization-7".
	trailingDigitsPattern = regexp.MustCompile(`([0-9]+)$`)
)

// ResolveID resolves a raw identifier into a positive integer id. The
// decode strategies are tried in order; the first that succeeds wins:
//
//  1. raw parses directly as a positive integer;
//  2. raw is a global-id path, take the trailing path segment;
//  3. raw is base64: decode it, then retry the global-id form on the
//     decoded text, else take its trailing run of digits.
//
// When every strategy fails ResolveID returns an error matched by
// [IsInvalidIdentifier]. It never returns zero or a negative id.
func ResolveID(raw string) (int, error) {
	if id, ok := parsePositiveInt(raw); ok {
		return id, nil
	}
	if id, ok := parseGlobalID(raw); ok {
		return id, nil
	}
	if id, ok := parseBase64(raw); ok {
		return id, nil
	}
	return 0, trace.Wrap(&InvalidIdentifierError{Raw: raw})
}

func parsePositiveInt(raw string) (int, bool) {
	// strconv rejects surrounding whitespace and signs on its own, but
	// an explicit "+42" would pass Atoi, so parse strictly.
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return int(id), true
}

func parseGlobalID(raw string) (int, bool) {
	match := globalIDPattern.FindStringSubmatch(raw)
	if match == nil {
		return 0, false
	}
	return parsePositiveInt(match[1])
}

func parseBase64(raw string) (int, bool) {
	if len(raw) == 0 || len(raw)%4 != 0 || !base64Pattern.MatchString(raw) {
		return 0, false
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || !utf8.Valid(decoded) {
		return 0, false
	}
	text := string(decoded)
	if id, ok := parseGlobalID(text); ok {
		return id, true
	}
	match := trailingDigitsPattern.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	return parsePositiveInt(match[1])
}

// Resolver memoizes successful resolutions in an LRU cache keyed by the
// raw identifier. Failures are not cached. The zero value is not usable,
// construct with NewResolver.
type Resolver struct {
	cache *lru.Cache[string, int]
}

// NewResolver creates a resolver with the default cache size.
func NewResolver() (*Resolver, error) {
	cache, err := lru.New[string, int](defaults.ResolverCacheSize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Resolver{cache: cache}, nil
}

// ResolveID resolves raw like the package-level [ResolveID], consulting
// the cache first.
func (r *Resolver) ResolveID(raw string) (int, error) {
	if id, ok := r.cache.Get(raw); ok {
		return id, nil
	}
	id, err := ResolveID(raw)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	r.cache.Add(raw, id)
	return id, nil
}
