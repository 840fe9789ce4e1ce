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

package ingestion

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/flagrunner/internal/queue"
)

var (
	eventsProcessedCounter    otelmetric.Int64Counter
	eventsDeadLetteredCounter otelmetric.Int64Counter
	eventDuration             otelmetric.Float64Histogram
	eventsReplayedCounter     otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/flagrunner/internal/ingestion")

	var err error
	eventsProcessedCounter, err = meter.Int64Counter(
		"flagrunner.ingest.events.processed",
		otelmetric.WithDescription("Number of usage events handled, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create events.processed counter: %w", err))
	}

	eventsDeadLetteredCounter, err = meter.Int64Counter(
		"flagrunner.ingest.events.deadlettered",
		otelmetric.WithDescription("Number of usage events moved to the dead-letter destination"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create events.deadlettered counter: %w", err))
	}

	eventDuration, err = meter.Float64Histogram(
		"flagrunner.ingest.event.duration",
		otelmetric.WithDescription("Time to process one usage event"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create event.duration histogram: %w", err))
	}

	eventsReplayedCounter, err = meter.Int64Counter(
		"flagrunner.ingest.events.replayed",
		otelmetric.WithDescription("Number of dead-lettered events returned to the ingest topic"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create events.replayed counter: %w", err))
	}
}

func recordOutcome(ctx context.Context, o queue.Outcome, reason string) {
	eventsProcessedCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("outcome", o.String()),
		attribute.String("reason", reason)))
}

func recordDeadLettered(ctx context.Context, reason string) {
	eventsDeadLetteredCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
}

func recordDuration(ctx context.Context, d time.Duration) {
	eventDuration.Record(ctx, d.Seconds())
}

func recordReplayed(ctx context.Context, n int) {
	if n > 0 {
		eventsReplayedCounter.Add(ctx, int64(n))
	}
}
