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

// Package sweeper periodically removes rate-counter windows that have
// expired.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/flagrunner/internal/counterstore"
)

var sweptCounter metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/flagrunner/cmd/sweeper")

	var err error
	sweptCounter, err = meter.Int64Counter(
		"flagrunner.sweeper.rate_counters.deleted",
		metric.WithDescription("Count of expired rate counter windows removed"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rate_counters.deleted counter: %w", err))
	}
}

type Sweeper struct {
	store    counterstore.Store
	interval time.Duration
	now      func() time.Time
}

func New(store counterstore.Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{store: store, interval: interval, now: time.Now}
}

// RunOnce removes every window expired as of now.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.store.Sweep(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweeping rate counters: %w", err)
	}
	if n > 0 {
		sweptCounter.Add(ctx, n)
		slog.Info("Removed expired rate counters", slog.Int64("count", n))
	}
	return n, nil
}

// Run sweeps immediately and then every interval until ctx is done. A
// failed sweep is logged and tried again on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			slog.Error("Sweep failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
