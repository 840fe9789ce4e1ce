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

package dataapi

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	requestCounter  otelmetric.Int64Counter
	requestDuration otelmetric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/flagrunner/dataapi")

	var err error
	requestCounter, err = meter.Int64Counter(
		"flagrunner.dataapi.requests",
		otelmetric.WithDescription("Number of HTTP requests by route and status"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create requests counter: %w", err))
	}

	requestDuration, err = meter.Float64Histogram(
		"flagrunner.dataapi.request.duration",
		otelmetric.WithDescription("HTTP request latency"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create request.duration histogram: %w", err))
	}
}

func recordRequest(ctx context.Context, route string, status int, d time.Duration) {
	attrs := otelmetric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status))
	requestCounter.Add(ctx, 1, attrs)
	requestDuration.Record(ctx, d.Seconds(), attrs)
}
