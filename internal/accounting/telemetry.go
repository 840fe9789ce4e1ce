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

package accounting

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	eventsCountedCounter   otelmetric.Int64Counter
	duplicateEventsCounter otelmetric.Int64Counter
	alertsCounter          otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/flagrunner/internal/accounting")

	var err error
	eventsCountedCounter, err = meter.Int64Counter(
		"flagrunner.accounting.events.counted",
		otelmetric.WithDescription("Number of usage events added to a period counter"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create events.counted counter: %w", err))
	}

	duplicateEventsCounter, err = meter.Int64Counter(
		"flagrunner.accounting.events.duplicate",
		otelmetric.WithDescription("Number of redelivered usage events that were not counted again"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create events.duplicate counter: %w", err))
	}

	alertsCounter, err = meter.Int64Counter(
		"flagrunner.accounting.alerts.sent",
		otelmetric.WithDescription("Number of usage threshold alerts delivered"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create alerts.sent counter: %w", err))
	}
}

func recordCounted(ctx context.Context, eventType string) {
	eventsCountedCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("type", eventType)))
}

func recordDuplicate(ctx context.Context) {
	duplicateEventsCounter.Add(ctx, 1)
}

func recordAlert(ctx context.Context, threshold string) {
	alertsCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("threshold", threshold)))
}
