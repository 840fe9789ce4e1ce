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

// Package resolver turns a project data snapshot, caller overrides and a
// caller identity into test, flag and remote config decisions.
//
// Test assignment is a weighted draw memoized per (store generation,
// identity, test), so repeated resolutions against the same snapshot are
// stable. Resolution never fails: missing data yields an inactive
// decision or a zero value.
package resolver

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cardinalhq/flagrunner/pkg/overrides"
	"github.com/cardinalhq/flagrunner/pkg/projectdata"
	"github.com/cardinalhq/flagrunner/pkg/usageevent"
)

// Decision is the outcome of resolving one test.
type Decision struct {
	Test    string
	Variant string
	// Index is the variant's position in the test, or -1.
	Index int
	// OK is false when no variant applies; callers treat the test as
	// inactive.
	OK bool
	// Neutral is set when there is no caller identity yet.
	Neutral    bool
	Overridden bool
}

// Emitter receives usage events. Emit must not block the caller for
// long and must not panic; errors are the emitter's to handle.
type Emitter interface {
	Emit(ctx context.Context, ev usageevent.Event)
}

type EmitterFunc func(ctx context.Context, ev usageevent.Event)

func (f EmitterFunc) Emit(ctx context.Context, ev usageevent.Event) { f(ctx, ev) }

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, usageevent.Event) {}

const defaultRetainedGenerations = 16

type Resolver struct {
	draw     DrawFunc
	emitter  Emitter
	logger   *slog.Logger
	retained int

	mu     sync.Mutex
	tables map[uint64]*drawTable
	order  []uint64

	warned sync.Map // string -> struct{}
}

type Option func(*Resolver)

func WithDraw(d DrawFunc) Option {
	return func(r *Resolver) { r.draw = d }
}

func WithEmitter(e Emitter) Option {
	return func(r *Resolver) { r.emitter = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithRetainedGenerations bounds how many store generations keep their
// draw tables. Older tables are dropped as new generations arrive.
func WithRetainedGenerations(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.retained = n
		}
	}
}

func New(opts ...Option) *Resolver {
	r := &Resolver{
		draw:     RandomDraw,
		emitter:  nopEmitter{},
		logger:   slog.Default(),
		retained: defaultRetainedGenerations,
		tables:   map[uint64]*drawTable{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) table(generation uint64) *drawTable {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tables[generation]; ok {
		return t
	}
	t := &drawTable{}
	r.tables[generation] = t
	r.order = append(r.order, generation)
	for len(r.order) > r.retained {
		delete(r.tables, r.order[0])
		r.order = slices.Delete(r.order, 0, 1)
	}
	return t
}

// Test resolves a test for identity and emits at most one PING per
// (identity, test, store generation).
func (r *Resolver) Test(ctx context.Context, store *projectdata.Store, ov overrides.Map, identity, name string) Decision {
	d, entry := r.resolve(store, ov, identity, name)
	if entry != nil && entry.pinged.CompareAndSwap(false, true) {
		r.emitter.Emit(ctx, usageevent.New(store.ProjectID(), usageevent.Ping, 0))
	}
	return d
}

// Act records an explicit caller action on a test. Every call emits
// exactly one ACT, provided a concrete variant applies.
func (r *Resolver) Act(ctx context.Context, store *projectdata.Store, ov overrides.Map, identity, name string, duration time.Duration) Decision {
	d, _ := r.resolve(store, ov, identity, name)
	if d.OK {
		r.emitter.Emit(ctx, usageevent.New(store.ProjectID(), usageevent.Act, duration))
	}
	return d
}

func (r *Resolver) resolve(store *projectdata.Store, ov overrides.Map, identity, name string) (Decision, *drawEntry) {
	inactive := Decision{Test: name, Index: -1}
	if store == nil {
		return inactive, nil
	}
	test, ok := store.Test(name)
	if !ok {
		r.warnOnce("test", name, store)
		return inactive, nil
	}

	if v, ok := ov.Get(name); ok {
		idx := slices.IndexFunc(test.Variants, func(vr projectdata.Variant) bool { return vr.Name == v })
		d := Decision{Test: name, Variant: v, Index: idx, OK: true, Overridden: true}
		if identity == "" {
			return d, nil
		}
		return d, r.table(store.Generation()).entry(store.Generation(), identity, name, r.draw)
	}

	if identity == "" {
		inactive.Neutral = true
		return inactive, nil
	}

	weights := make([]float64, len(test.Variants))
	for i, v := range test.Variants {
		weights[i] = v.Weight
	}
	if test.TotalWeight() <= 0 {
		return inactive, nil
	}

	entry := r.table(store.Generation()).entry(store.Generation(), identity, name, r.draw)
	idx := pick(weights, entry.draw)
	return Decision{Test: name, Variant: test.Variants[idx].Name, Index: idx, OK: true}, entry
}

// Flag resolves a flag declared as kind. A missing flag, or one stored
// with a different kind, yields the zero value of kind.
func (r *Resolver) Flag(store *projectdata.Store, ov overrides.Map, name string, kind projectdata.Kind) projectdata.Value {
	if store == nil {
		return projectdata.ZeroValue(kind)
	}
	f, ok := store.Flag(name)
	if !ok {
		r.warnOnce("flag", name, store)
		return projectdata.ZeroValue(kind)
	}
	return r.typed("flag", name, f.Value, ov, kind)
}

// FlagEnabled is Flag for boolean flags.
func (r *Resolver) FlagEnabled(store *projectdata.Store, ov overrides.Map, name string) bool {
	b, _ := r.Flag(store, ov, name, projectdata.KindBoolean).Bool()
	return b
}

// RemoteConfig resolves a remote config entry declared as kind.
func (r *Resolver) RemoteConfig(store *projectdata.Store, ov overrides.Map, name string, kind projectdata.Kind) projectdata.Value {
	if store == nil {
		return projectdata.ZeroValue(kind)
	}
	rc, ok := store.RemoteConfig(name)
	if !ok {
		r.warnOnce("remote config", name, store)
		return projectdata.ZeroValue(kind)
	}
	return r.typed("remote config", name, rc.Value, ov, kind)
}

func (r *Resolver) typed(what, name string, stored projectdata.Value, ov overrides.Map, kind projectdata.Kind) projectdata.Value {
	if raw, ok := ov.Get(name); ok {
		if v, err := projectdata.ParseValue(kind, raw); err == nil {
			return v
		}
	}
	if stored.Kind() != kind {
		r.logger.Warn("Declared kind does not match stored value",
			slog.String("kind", what),
			slog.String("name", name),
			slog.String("declared", kind.String()),
			slog.String("stored", stored.Kind().String()))
		return projectdata.ZeroValue(kind)
	}
	return stored
}

func (r *Resolver) warnOnce(what, name string, store *projectdata.Store) {
	key := what + "\x00" + store.ProjectID() + "\x00" + name
	if _, seen := r.warned.LoadOrStore(key, struct{}{}); seen {
		return
	}
	r.logger.Warn("Unknown name in project data",
		slog.String("kind", what),
		slog.String("name", name),
		slog.String("projectID", store.ProjectID()),
		slog.String("environment", store.Environment()))
}
