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

// Package usageguard limits how often one caller may use a metered
// feature within a fixed window.
package usageguard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardinalhq/flagrunner/internal/counterstore"
)

var (
	ErrLimitExceeded  = errors.New("usage limit exceeded")
	ErrUnknownFeature = errors.New("unknown metered feature")
)

type Guard struct {
	store   counterstore.Store
	limits  map[string]int
	window  time.Duration
	enforce bool
	now     func() time.Time
}

type Option func(*Guard)

// WithWindow sets the fixed window length. Windows start at multiples
// of the length since the Unix epoch.
func WithWindow(d time.Duration) Option {
	return func(g *Guard) { g.window = d }
}

// WithEnforcement turns the limits on. Without it every call is allowed
// and nothing is counted.
func WithEnforcement(enforce bool) Option {
	return func(g *Guard) { g.enforce = enforce }
}

func New(store counterstore.Store, limits map[string]int, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		limits: limits,
		window: 24 * time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Limit returns the configured limit for feature.
func (g *Guard) Limit(feature string) (int, error) {
	limit, ok := g.limits[feature]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	return limit, nil
}

// Key is the counter key for one caller of one feature. The identity is
// stored only as a hash.
func Key(feature, identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return "tools:" + feature + ":" + hex.EncodeToString(sum[:])
}

// Increment counts one use and returns the new count in the current
// window. ErrLimitExceeded is returned, along with the count, once the
// count passes the limit.
func (g *Guard) Increment(ctx context.Context, feature, identity string) (int64, error) {
	limit, err := g.Limit(feature)
	if err != nil {
		return 0, err
	}
	if !g.enforce {
		return 0, nil
	}

	start := counterstore.WindowStart(g.now(), g.window)
	count, err := g.store.Increment(ctx, Key(feature, identity), start, g.window)
	if err != nil {
		return 0, fmt.Errorf("incrementing %s counter: %w", feature, err)
	}
	if count > int64(limit) {
		recordRejected(ctx, feature)
		slog.Debug("Usage limit exceeded",
			slog.String("feature", feature),
			slog.Int64("count", count),
			slog.Int("limit", limit))
		return count, ErrLimitExceeded
	}
	recordAllowed(ctx, feature)
	return count, nil
}

// TriesLeft reports how many more uses the caller has in the current
// window.
func (g *Guard) TriesLeft(ctx context.Context, feature, identity string) (int, error) {
	limit, err := g.Limit(feature)
	if err != nil {
		return 0, err
	}
	if !g.enforce {
		return limit, nil
	}

	start := counterstore.WindowStart(g.now(), g.window)
	count, err := g.store.Get(ctx, Key(feature, identity), start)
	if err != nil {
		return 0, fmt.Errorf("reading %s counter: %w", feature, err)
	}
	return max(limit-int(count), 0), nil
}
