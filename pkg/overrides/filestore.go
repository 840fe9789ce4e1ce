// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package overrides

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps overrides in a small JSON key-value file, for callers
// without a cookie jar such as command line tools. Other keys in the
// file are preserved.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultFilePath is the per-user location of the override file.
func DefaultFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating user config dir: %w", err)
	}
	return filepath.Join(dir, "flagrunner", "overrides.json"), nil
}

// Load returns the stored overrides. A missing or unreadable file is
// treated as no overrides.
func (s *FileStore) Load() Map {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.readLocked()
	if err != nil {
		return Map{}
	}
	return Parse(kv[Key])
}

// Save replaces the stored overrides with m.
func (s *FileStore) Save(m Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.readLocked()
	if err != nil {
		kv = map[string]string{}
	}
	kv[Key] = m.Encode()

	data, err := json.MarshalIndent(kv, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating override dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".overrides-*")
	if err != nil {
		return fmt.Errorf("creating temp override file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing override file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) readLocked() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	kv := map[string]string{}
	if err := json.Unmarshal(data, &kv); err != nil {
		return nil, err
	}
	return kv, nil
}
