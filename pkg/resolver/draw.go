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

package resolver

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// DrawFunc returns a value in [0, 1) for one (store generation,
// identity, test). The result is memoized, so a DrawFunc is called at
// most once per key that wins the memo table.
type DrawFunc func(generation uint64, identity, test string) float64

// RandomDraw ignores its inputs.
func RandomDraw(uint64, string, string) float64 {
	return rand.Float64()
}

// HashedDraw derives the draw from identity and test name only, so the
// same identity keeps its variant across store refreshes and processes.
func HashedDraw(_ uint64, identity, test string) float64 {
	d := xxhash.New()
	_, _ = d.WriteString(identity)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(test)
	return float64(d.Sum64()>>11) / (1 << 53)
}

type drawKey struct {
	identity string
	test     string
}

type drawEntry struct {
	draw   float64
	pinged atomic.Bool
}

// drawTable memoizes draws for one store generation.
type drawTable struct {
	entries sync.Map // drawKey -> *drawEntry
}

// entry returns the memoized draw, computing it on first use. Racing
// first resolutions agree on whichever entry is stored first.
func (t *drawTable) entry(generation uint64, identity, test string, draw DrawFunc) *drawEntry {
	key := drawKey{identity: identity, test: test}
	if e, ok := t.entries.Load(key); ok {
		return e.(*drawEntry)
	}
	candidate := &drawEntry{draw: draw(generation, identity, test)}
	actual, _ := t.entries.LoadOrStore(key, candidate)
	return actual.(*drawEntry)
}

// pick returns the index of the first variant whose cumulative weight
// exceeds draw*total, or -1 when total is zero.
func pick(weights []float64, draw float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return -1
	}

	target := draw * total
	var cum float64
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cum += w
		last = i
		if cum > target {
			return i
		}
	}
	// Rounding can leave target == total.
	return last
}
