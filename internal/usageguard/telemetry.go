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

package usageguard

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var decisionCounter otelmetric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/flagrunner/internal/usageguard")

	var err error
	decisionCounter, err = meter.Int64Counter(
		"flagrunner.usageguard.decisions",
		otelmetric.WithDescription("Number of metered calls by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create decisions counter: %w", err))
	}
}

func recordAllowed(ctx context.Context, feature string) {
	decisionCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("feature", feature),
		attribute.Bool("allowed", true)))
}

func recordRejected(ctx context.Context, feature string) {
	decisionCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("feature", feature),
		attribute.Bool("allowed", false)))
}
