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

package projectdata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Document is the JSON body served by the data endpoint and stored in
// configdb.
type Document struct {
	Tests        []DocumentTest  `json:"tests"`
	Flags        []DocumentEntry `json:"flags"`
	RemoteConfig []DocumentEntry `json:"remoteConfig"`
}

type DocumentTest struct {
	Name     string    `json:"name"`
	Weights  []float64 `json:"weights"`
	Variants []string  `json:"variants,omitempty"`
}

type DocumentEntry struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
	Type  string          `json:"type,omitempty"`
}

// Decode parses a snapshot document into a Store.
func Decode(data []byte, projectID, environment string, opts ...Option) (*Store, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return FromDocument(doc, projectID, environment, opts...)
}

// FromDocument converts an already parsed document into a Store.
func FromDocument(doc Document, projectID, environment string, opts ...Option) (*Store, error) {
	o := options{fetchedAt: time.Now()}
	for _, opt := range opts {
		opt(&o)
	}

	tests := make([]ABTest, 0, len(doc.Tests))
	for _, dt := range doc.Tests {
		names := dt.Variants
		if len(names) != len(dt.Weights) {
			names = o.variantNames[dt.Name]
		}
		t := ABTest{Name: dt.Name, Variants: make([]Variant, len(dt.Weights))}
		for i, w := range dt.Weights {
			name := strconv.Itoa(i)
			if i < len(names) {
				name = names[i]
			}
			t.Variants[i] = Variant{Name: name, Weight: w}
		}
		tests = append(tests, t)
	}

	flags := make([]Flag, 0, len(doc.Flags))
	for _, e := range doc.Flags {
		v, err := decodeEntry(e)
		if err != nil {
			return nil, fmt.Errorf("flag %q: %w", e.Name, err)
		}
		flags = append(flags, Flag{Name: e.Name, Value: v})
	}

	remote := make([]RemoteConfigEntry, 0, len(doc.RemoteConfig))
	for _, e := range doc.RemoteConfig {
		v, err := decodeEntry(e)
		if err != nil {
			return nil, fmt.Errorf("remote config %q: %w", e.Name, err)
		}
		remote = append(remote, RemoteConfigEntry{Name: e.Name, Value: v})
	}

	return New(projectID, environment, tests, flags, remote, opts...)
}

func decodeEntry(e DocumentEntry) (Value, error) {
	if e.Type == "" {
		return decodeValue(e.Value, nil)
	}
	k, err := ParseKind(e.Type)
	if err != nil {
		return Value{}, err
	}
	return decodeValue(e.Value, &k)
}

// Document renders the store back into its wire form, with explicit
// types. Variant names are included only when they are not the
// positional defaults.
func (s *Store) Document() Document {
	doc := Document{
		Tests:        make([]DocumentTest, 0, len(s.tests)),
		Flags:        make([]DocumentEntry, 0, len(s.flags)),
		RemoteConfig: make([]DocumentEntry, 0, len(s.remoteConfig)),
	}
	for _, t := range s.tests {
		dt := DocumentTest{
			Name:    t.Name,
			Weights: make([]float64, len(t.Variants)),
		}
		for i, v := range t.Variants {
			dt.Weights[i] = v.Weight
		}
		// Positional names are left out so clients can apply their own.
		if !positionalNames(t.Variants) {
			dt.Variants = make([]string, len(t.Variants))
			for i, v := range t.Variants {
				dt.Variants[i] = v.Name
			}
		}
		doc.Tests = append(doc.Tests, dt)
	}
	for _, f := range s.Flags() {
		doc.Flags = append(doc.Flags, encodeEntry(f.Name, f.Value))
	}
	for _, rc := range s.RemoteConfigs() {
		doc.RemoteConfig = append(doc.RemoteConfig, encodeEntry(rc.Name, rc.Value))
	}
	return doc
}

func positionalNames(variants []Variant) bool {
	for i, v := range variants {
		if v.Name != strconv.Itoa(i) {
			return false
		}
	}
	return true
}

func encodeEntry(name string, v Value) DocumentEntry {
	raw, err := v.MarshalJSON()
	if err != nil {
		raw = json.RawMessage("null")
	}
	return DocumentEntry{Name: name, Value: raw, Type: v.Kind().String()}
}

// MarshalJSON encodes the store as a Document.
func (s *Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Document())
}
