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

// Package projectdata holds the immutable per-environment snapshot of a
// project's A/B tests, feature flags and remote config values.
package projectdata

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrInvalidSnapshot marks configuration whose shape is outside what a
// snapshot may contain.
var ErrInvalidSnapshot = errors.New("invalid project data")

type Variant struct {
	Name   string
	Weight float64
}

type ABTest struct {
	Name     string
	Variants []Variant
}

// TotalWeight is the sum of all variant weights.
func (t ABTest) TotalWeight() float64 {
	var sum float64
	for _, v := range t.Variants {
		sum += v.Weight
	}
	return sum
}

type Flag struct {
	Name  string
	Value Value
}

type RemoteConfigEntry struct {
	Name  string
	Value Value
}

// generations hands out a process-unique generation to every store.
var generations atomic.Uint64

// Store is a snapshot for one (project, environment). It is never
// modified after construction; a refresh builds a new Store with a new
// generation.
type Store struct {
	projectID    string
	environment  string
	generation   uint64
	fetchedAt    time.Time
	tests        []ABTest
	testIndex    map[string]int
	flags        map[string]Flag
	remoteConfig map[string]RemoteConfigEntry
}

type options struct {
	fetchedAt    time.Time
	variantNames map[string][]string
}

type Option func(*options)

// WithFetchedAt overrides the snapshot timestamp, which defaults to now.
func WithFetchedAt(t time.Time) Option {
	return func(o *options) { o.fetchedAt = t }
}

// WithVariantNames supplies client-declared variant names per test.
// They are matched to the snapshot's weights by position.
func WithVariantNames(names map[string][]string) Option {
	return func(o *options) { o.variantNames = names }
}

// New validates and copies its inputs into a new Store.
func New(projectID, environment string, tests []ABTest, flags []Flag, remote []RemoteConfigEntry, opts ...Option) (*Store, error) {
	o := options{fetchedAt: time.Now()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{
		projectID:    projectID,
		environment:  environment,
		generation:   generations.Add(1),
		fetchedAt:    o.fetchedAt,
		tests:        make([]ABTest, 0, len(tests)),
		testIndex:    make(map[string]int, len(tests)),
		flags:        make(map[string]Flag, len(flags)),
		remoteConfig: make(map[string]RemoteConfigEntry, len(remote)),
	}

	for _, t := range tests {
		if err := validateTest(t); err != nil {
			return nil, err
		}
		if _, dup := s.testIndex[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate test %q", ErrInvalidSnapshot, t.Name)
		}
		s.testIndex[t.Name] = len(s.tests)
		s.tests = append(s.tests, ABTest{Name: t.Name, Variants: slices.Clone(t.Variants)})
	}
	for _, f := range flags {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: flag without a name", ErrInvalidSnapshot)
		}
		if _, dup := s.flags[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate flag %q", ErrInvalidSnapshot, f.Name)
		}
		s.flags[f.Name] = f
	}
	for _, rc := range remote {
		if rc.Name == "" {
			return nil, fmt.Errorf("%w: remote config entry without a name", ErrInvalidSnapshot)
		}
		if _, dup := s.remoteConfig[rc.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate remote config %q", ErrInvalidSnapshot, rc.Name)
		}
		s.remoteConfig[rc.Name] = rc
	}

	return s, nil
}

// Empty returns a store with no tests, flags or remote config.
func Empty(projectID, environment string) *Store {
	s, _ := New(projectID, environment, nil, nil, nil)
	return s
}

func validateTest(t ABTest) error {
	if t.Name == "" {
		return fmt.Errorf("%w: test without a name", ErrInvalidSnapshot)
	}
	if len(t.Variants) == 0 {
		return fmt.Errorf("%w: test %q has no variants", ErrInvalidSnapshot, t.Name)
	}
	names := mapset.NewThreadUnsafeSetWithSize[string](len(t.Variants))
	var total float64
	for _, v := range t.Variants {
		if v.Weight < 0 || math.IsNaN(v.Weight) || math.IsInf(v.Weight, 0) {
			return fmt.Errorf("%w: test %q variant %q has weight %v", ErrInvalidSnapshot, t.Name, v.Name, v.Weight)
		}
		if !names.Add(v.Name) {
			return fmt.Errorf("%w: test %q repeats variant %q", ErrInvalidSnapshot, t.Name, v.Name)
		}
		total += v.Weight
		if math.IsInf(total, 0) {
			return fmt.Errorf("%w: test %q weights overflow", ErrInvalidSnapshot, t.Name)
		}
	}
	return nil
}

func (s *Store) ProjectID() string { return s.projectID }
func (s *Store) Environment() string { return s.environment }
func (s *Store) Generation() uint64 { return s.generation }
func (s *Store) FetchedAt() time.Time { return s.fetchedAt }

// Test looks up a test by name. The returned value is a copy.
func (s *Store) Test(name string) (ABTest, bool) {
	i, ok := s.testIndex[name]
	if !ok {
		return ABTest{}, false
	}
	t := s.tests[i]
	return ABTest{Name: t.Name, Variants: slices.Clone(t.Variants)}, true
}

// Tests returns the tests in snapshot order.
func (s *Store) Tests() []ABTest {
	out := make([]ABTest, len(s.tests))
	for i, t := range s.tests {
		out[i] = ABTest{Name: t.Name, Variants: slices.Clone(t.Variants)}
	}
	return out
}

func (s *Store) Flag(name string) (Flag, bool) {
	f, ok := s.flags[name]
	return f, ok
}

// Flags returns all flags sorted by name.
func (s *Store) Flags() []Flag {
	out := make([]Flag, 0, len(s.flags))
	for _, f := range s.flags {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) RemoteConfig(name string) (RemoteConfigEntry, bool) {
	rc, ok := s.remoteConfig[name]
	return rc, ok
}

// RemoteConfigs returns all remote config entries sorted by name.
func (s *Store) RemoteConfigs() []RemoteConfigEntry {
	out := make([]RemoteConfigEntry, 0, len(s.remoteConfig))
	for _, rc := range s.remoteConfig {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
