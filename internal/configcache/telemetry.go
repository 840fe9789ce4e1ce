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

package configcache

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	lookupCounter       otelmetric.Int64Counter
	invalidationCounter otelmetric.Int64Counter
	staleDiscardCounter otelmetric.Int64Counter
	watchFailureCounter otelmetric.Int64Counter
	fetchDuration       otelmetric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/flagrunner/internal/configcache")

	var err error
	lookupCounter, err = meter.Int64Counter(
		"flagrunner.configcache.lookups",
		otelmetric.WithDescription("Number of snapshot cache lookups"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create lookups counter: %w", err))
	}

	invalidationCounter, err = meter.Int64Counter(
		"flagrunner.configcache.invalidations",
		otelmetric.WithDescription("Number of project environments invalidated"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create invalidations counter: %w", err))
	}

	staleDiscardCounter, err = meter.Int64Counter(
		"flagrunner.configcache.stale_discards",
		otelmetric.WithDescription("Number of fetched snapshots not cached because the key was invalidated mid-fetch"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create stale_discards counter: %w", err))
	}

	watchFailureCounter, err = meter.Int64Counter(
		"flagrunner.configcache.watch.failures",
		otelmetric.WithDescription("Number of times the invalidation subscription was lost"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create watch.failures counter: %w", err))
	}

	fetchDuration, err = meter.Float64Histogram(
		"flagrunner.configcache.fetch.duration",
		otelmetric.WithDescription("Time to read a snapshot from configdb"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create fetch.duration histogram: %w", err))
	}
}

func recordLookup(ctx context.Context, hit bool) {
	lookupCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.Bool("hit", hit)))
}

func recordInvalidations(ctx context.Context, n int) {
	invalidationCounter.Add(ctx, int64(n))
}

func recordStaleDiscard(ctx context.Context) {
	staleDiscardCounter.Add(ctx, 1)
}

func recordFetch(ctx context.Context, d time.Duration, err error) {
	fetchDuration.Record(ctx, d.Seconds(), otelmetric.WithAttributes(attribute.Bool("error", err != nil)))
}

func recordWatchFailure(ctx context.Context) {
	watchFailureCounter.Add(ctx, 1)
}
