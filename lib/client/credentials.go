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
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/gravitational/quarry/lib/defaults"
)

// Credentials are a persisted login: which backend to talk to and the
// bearer token to present to it.
type Credentials struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token"`
}

// CredentialsStore reads and writes the credentials file inside a
// config directory.
type CredentialsStore struct {
	// Dir is the config directory. Created on first save.
	Dir string
}

// DefaultCredentialsStore returns the store rooted at the user's home
// config directory.
func DefaultCredentialsStore() (*CredentialsStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return &CredentialsStore{Dir: filepath.Join(home, defaults.ConfigDirName)}, nil
}

func (s *CredentialsStore) path() string {
	return filepath.Join(s.Dir, defaults.CredentialsProfileName)
}

// Save writes the credentials atomically, readable by the owner only.
func (s *CredentialsStore) Save(creds Credentials) error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return trace.ConvertSystemError(err)
	}
	data, err := yaml.Marshal(creds)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := renameio.WriteFile(s.path(), data, 0o600); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// Load reads the persisted credentials. Returns a NotFound error when no
// login has been saved yet.
func (s *CredentialsStore) Load() (Credentials, error) {
	var creds Credentials
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return creds, trace.NotFound("no stored credentials at %v", s.path())
		}
		return creds, trace.ConvertSystemError(err)
	}
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return creds, trace.Wrap(err)
	}
	return creds, nil
}

// Clear removes the persisted credentials. Clearing an absent login is
// not an error.
func (s *CredentialsStore) Clear() error {
	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return trace.ConvertSystemError(err)
	}
	return nil
}
