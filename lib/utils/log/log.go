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

// Package log provides helpers around log/slog used by all quarry
// packages.
package log

import (
	"log/slog"
	"os"
)

// NewPackageLogger creates a logger for a specific package. The provided
// args are added to every record emitted by the returned logger, the same
// way they would be when passed to [slog.Logger.With]. By convention the
// first pair is quarry.ComponentKey and the component name.
func NewPackageLogger(args ...any) *slog.Logger {
	return slog.Default().With(args...)
}

// DiscardLogger drops every record. Used as the fallback when a component
// is constructed without an explicit logger in tests.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Initialize configures the default process-wide logger. Tools call it
// once at startup; libraries never do.
func Initialize(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
