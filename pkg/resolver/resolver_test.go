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
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/flagrunner/pkg/overrides"
	"github.com/cardinalhq/flagrunner/pkg/projectdata"
	"github.com/cardinalhq/flagrunner/pkg/usageevent"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []usageevent.Event
}

func (e *recordingEmitter) Emit(_ context.Context, ev usageevent.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEmitter) count(typ usageevent.Type) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func mustStore(t *testing.T, doc string) *projectdata.Store {
	t.Helper()
	s, err := projectdata.Decode([]byte(doc), "p1", "production")
	require.NoError(t, err)
	return s
}

// weylDraw spreads "user-N" identities evenly over [0, 1).
func weylDraw(_ uint64, identity, _ string) float64 {
	n, _ := strconv.Atoi(strings.TrimPrefix(identity, "user-"))
	_, frac := math.Modf(float64(n) * 0.6180339887498949)
	return frac
}

func TestPick(t *testing.T) {
	tests := []struct {
		weights []float64
		draw    float64
		want    int
	}{
		{[]float64{1, 1, 1, 1}, 0, 0},
		{[]float64{1, 1, 1, 1}, 0.25, 1},
		{[]float64{1, 1, 1, 1}, 0.999, 3},
		{[]float64{1, 0}, 0.99, 0},
		{[]float64{0, 1}, 0, 1},
		{[]float64{1, 3}, 0.3, 1},
		{[]float64{1, 3}, 0.2, 0},
		{[]float64{0, 0}, 0.5, -1},
		{[]float64{2, 0}, 1, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v@%v", tt.weights, tt.draw), func(t *testing.T) {
			assert.Equal(t, tt.want, pick(tt.weights, tt.draw))
		})
	}
}

func TestHashedDraw(t *testing.T) {
	a := HashedDraw(1, "alice", "t")
	assert.Equal(t, a, HashedDraw(2, "alice", "t"))
	assert.NotEqual(t, a, HashedDraw(1, "alice", "u"))
	assert.GreaterOrEqual(t, a, 0.0)
	assert.Less(t, a, 1.0)
}

func TestResolver_Sticky(t *testing.T) {
	store := mustStore(t, `{"tests":[{"name":"t","weights":[1,2,3,4]}]}`)
	r := New()

	for i := range 50 {
		identity := fmt.Sprintf("id-%d", i)
		first := r.Test(context.Background(), store, nil, identity, "t")
		require.True(t, first.OK)
		for range 20 {
			again := r.Test(context.Background(), store, nil, identity, "t")
			assert.Equal(t, first, again)
		}
	}
}

func TestResolver_ConcurrentFirstResolution(t *testing.T) {
	store := mustStore(t, `{"tests":[{"name":"t","weights":[1,1,1,1,1,1,1,1]}]}`)
	em := &recordingEmitter{}
	r := New(WithEmitter(em))

	const n = 64
	results := make([]Decision, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i] = r.Test(context.Background(), store, nil, "same-caller", "t")
		}()
	}
	close(start)
	wg.Wait()

	for _, d := range results {
		assert.Equal(t, results[0], d)
	}
	assert.Equal(t, 1, em.count(usageevent.Ping))
}

func TestResolver_SingleNonzeroWeight(t *testing.T) {
	store := mustStore(t, `{"tests":[{"name":"t","weights":[0,0,5,0],"variants":["a","b","c","d"]}]}`)
	r := New()
	for i := range 2000 {
		d := r.Test(context.Background(), store, nil, fmt.Sprintf("id-%d", i), "t")
		require.True(t, d.OK)
		require.Equal(t, "c", d.Variant)
		require.Equal(t, 2, d.Index)
	}
}

func TestResolver_Override(t *testing.T) {
	store := mustStore(t, `{"tests":[{"name":"t","weights":[1,0],"variants":["a","b"]}]}`)
	r := New()

	d := r.Test(context.Background(), store, overrides.Map{"t": "b"}, "caller", "t")
	assert.Equal(t, Decision{Test: "t", Variant: "b", Index: 1, OK: true, Overridden: true}, d)

	t.Run("returned verbatim even when not a variant", func(t *testing.T) {
		d := r.Test(context.Background(), store, overrides.Map{"t": "zzz"}, "caller", "t")
		assert.True(t, d.OK)
		assert.Equal(t, "zzz", d.Variant)
		assert.Equal(t, -1, d.Index)
	})

	t.Run("applies before an identity exists", func(t *testing.T) {
		d := r.Test(context.Background(), store, overrides.Map{"t": "b"}, "", "t")
		assert.True(t, d.OK)
		assert.Equal(t, "b", d.Variant)
	})

	t.Run("ignored for names absent from the store", func(t *testing.T) {
		d := r.Test(context.Background(), store, overrides.Map{"other": "b"}, "caller", "other")
		assert.False(t, d.OK)
	})
}

func TestResolver_NoDecision(t *testing.T) {
	store := mustStore(t, `{"tests":[{"name":"zero","weights":[0,0]}]}`)
	em := &recordingEmitter{}
	r := New(WithEmitter(em))

	d := r.Test(context.Background(), store, nil, "caller", "zero")
	assert.False(t, d.OK)
	assert.Equal(t, -1, d.Index)

	d = r.Test(context.Background(), store, nil, "caller", "missing")
	assert.False(t, d.OK)

	d = r.Test(context.Background(), nil, nil, "caller", "zero")
	assert.False(t, d.OK)

	assert.Empty(t, em.events)
}

func TestResolver_ServerRender(t *testing.T) {
	store := mustStore(t, `{"tests":[{"name":"t","weights":[1,1]}],"flags":[{"name":"f","value":true}],"remoteConfig":[{"name":"rc","value":"x"}]}`)
	em := &recordingEmitter{}
	r := New(WithEmitter(em))

	d := r.Test(context.Background(), store, nil, "", "t")
	assert.True(t, d.Neutral)
	assert.False(t, d.OK)
	assert.Empty(t, d.Variant)
	assert.Empty(t, em.events)

	d = r.Act(context.Background(), store, nil, "", "t", 0)
	assert.False(t, d.OK)
	assert.Empty(t, em.events)

	// Flags and remote config do not depend on identity.
	assert.True(t, r.FlagEnabled(store, nil, "f"))
	s, _ := r.RemoteConfig(store, nil, "rc", projectdata.KindString).Str()
	assert.Equal(t, "x", s)
}

func TestResolver_Events(t *testing.T) {
	first := mustStore(t, `{"tests":[{"name":"t","weights":[1,1]}]}`)
	em := &recordingEmitter{}
	r := New(WithEmitter(em))
	ctx := context.Background()

	for range 5 {
		r.Test(ctx, first, nil, "caller", "t")
	}
	assert.Equal(t, 1, em.count(usageevent.Ping), "one ping per generation, not per render")

	r.Test(ctx, first, nil, "other", "t")
	assert.Equal(t, 2, em.count(usageevent.Ping))

	refreshed := mustStore(t, `{"tests":[{"name":"t","weights":[1,1]}]}`)
	r.Test(ctx, refreshed, nil, "caller", "t")
	assert.Equal(t, 3, em.count(usageevent.Ping), "a new generation pings again")

	r.Act(ctx, first, nil, "caller", "t", 12*time.Millisecond)
	r.Act(ctx, first, nil, "caller", "t", 0)
	assert.Equal(t, 2, em.count(usageevent.Act))

	em.mu.Lock()
	defer em.mu.Unlock()
	for _, ev := range em.events {
		assert.Equal(t, "p1", ev.ProjectID)
		assert.NoError(t, ev.Validate())
	}
}

func TestResolver_RetainedGenerations(t *testing.T) {
	r := New(WithRetainedGenerations(2))
	a := projectdata.Empty("p", "e")
	b := projectdata.Empty("p", "e")
	c := projectdata.Empty("p", "e")

	ta := r.table(a.Generation())
	r.table(b.Generation())
	r.table(c.Generation())

	r.mu.Lock()
	assert.Len(t, r.tables, 2)
	_, kept := r.tables[a.Generation()]
	r.mu.Unlock()
	assert.False(t, kept)
	assert.NotSame(t, ta, r.table(a.Generation()))
}

func TestResolver_Flags(t *testing.T) {
	store := mustStore(t, `{
		"flags":[{"name":"f","value":true},{"name":"off","value":"false","type":"BOOLEAN"},{"name":"s","value":"blue","type":"STRING"}],
		"remoteConfig":[{"name":"n","value":"7","type":"NUMBER"},{"name":"j","value":{"a":[1,2]},"type":"JSON"}]
	}`)
	r := New()

	t.Run("boolean flags", func(t *testing.T) {
		assert.True(t, r.FlagEnabled(store, nil, "f"))
		assert.False(t, r.FlagEnabled(store, nil, "missing"))
	})

	t.Run("string-stored booleans parse", func(t *testing.T) {
		assert.False(t, r.FlagEnabled(store, nil, "off"))
	})

	t.Run("typed flags", func(t *testing.T) {
		s, ok := r.Flag(store, nil, "s", projectdata.KindString).Str()
		assert.True(t, ok)
		assert.Equal(t, "blue", s)
	})

	t.Run("kind mismatch yields zero value", func(t *testing.T) {
		assert.False(t, r.FlagEnabled(store, nil, "s"))
	})

	t.Run("remote config defaults", func(t *testing.T) {
		n, ok := r.RemoteConfig(store, nil, "missing", projectdata.KindNumber).Number()
		assert.True(t, ok)
		assert.Zero(t, n)
		s, ok := r.RemoteConfig(store, nil, "missing", projectdata.KindString).Str()
		assert.True(t, ok)
		assert.Empty(t, s)
		j, ok := r.RemoteConfig(nil, nil, "missing", projectdata.KindJSON).JSON()
		assert.True(t, ok)
		assert.JSONEq(t, "null", string(j))
	})

	t.Run("remote config values", func(t *testing.T) {
		n, _ := r.RemoteConfig(store, nil, "n", projectdata.KindNumber).Number()
		assert.Equal(t, float64(7), n)
		assert.Equal(t, map[string]any{"a": []any{float64(1), float64(2)}}, r.RemoteConfig(store, nil, "j", projectdata.KindJSON).Any())
	})

	t.Run("overrides", func(t *testing.T) {
		ov := overrides.Map{"f": "false", "n": "11", "s": "not-a-bool-but-a-string"}
		assert.False(t, r.FlagEnabled(store, ov, "f"))
		n, _ := r.RemoteConfig(store, ov, "n", projectdata.KindNumber).Number()
		assert.Equal(t, float64(11), n)
		s, _ := r.Flag(store, ov, "s", projectdata.KindString).Str()
		assert.Equal(t, "not-a-bool-but-a-string", s)
	})

	t.Run("malformed override falls back to stored value", func(t *testing.T) {
		n, _ := r.RemoteConfig(store, overrides.Map{"n": "eleven"}, "n", projectdata.KindNumber).Number()
		assert.Equal(t, float64(7), n)
	})

	t.Run("override for a missing name is ignored", func(t *testing.T) {
		assert.False(t, r.FlagEnabled(store, overrides.Map{"missing": "true"}, "missing"))
	})
}

func TestResolver_EvenSplit(t *testing.T) {
	store := mustStore(t, `{"tests":[{"name":"t","weights":[1,1,1,1]}]}`)

	run := func(t *testing.T, draw DrawFunc, tolerance int) {
		r := New(WithDraw(draw))
		counts := map[string]int{}
		for i := range 4000 {
			d := r.Test(context.Background(), store, nil, fmt.Sprintf("user-%d", i), "t")
			require.True(t, d.OK)
			counts[d.Variant]++
		}
		require.Len(t, counts, 4)
		for variant, n := range counts {
			assert.InDelta(t, 1000, n, float64(tolerance), "variant %s", variant)
		}
	}

	t.Run("within 5 percent", func(t *testing.T) { run(t, weylDraw, 50) })
	t.Run("random draw", func(t *testing.T) { run(t, RandomDraw, 160) })
	t.Run("hashed draw", func(t *testing.T) { run(t, HashedDraw, 160) })
}
