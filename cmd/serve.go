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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/flagrunner/config"
	"github.com/cardinalhq/flagrunner/configdb"
	"github.com/cardinalhq/flagrunner/dataapi"
	"github.com/cardinalhq/flagrunner/internal/configcache"
	"github.com/cardinalhq/flagrunner/internal/counterstore"
	"github.com/cardinalhq/flagrunner/internal/debugging"
	"github.com/cardinalhq/flagrunner/internal/fly"
	"github.com/cardinalhq/flagrunner/internal/usageguard"
	"github.com/cardinalhq/flagrunner/pkg/usageevent"
	"github.com/cardinalhq/flagrunner/usagedb"
)

// errTrackingDisabled is returned by the track endpoints when Kafka is
// not configured.
var errTrackingDisabled = errors.New("usage tracking is disabled")

type disabledPublisher struct{}

func (disabledPublisher) Publish(context.Context, usageevent.Event) error {
	return errTrackingDisabled
}

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the data API",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe()
		},
	}
	rootCmd.AddCommand(cmd)
}

func runServe() error {
	ctx, doneFx, err := setupTelemetry("flagrunner-api")
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer shutdownTelemetry(doneFx)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	debugging.RunPprof(ctx, cfg.Health.PprofAddr)

	cdb, err := configdb.ConfigDBStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to configdb: %w", err)
	}
	defer cdb.Close()

	cache := configcache.New(cdb, cfg.ConfigCache.TTL, configcache.WithBroadcaster(cdb))
	defer cache.Close()
	cache.StartWatching(ctx, cdb)

	counters, closeCounters, err := openCounterStore(ctx, cfg.Guard.Store)
	if err != nil {
		return err
	}
	defer closeCounters()

	guard := usageguard.New(counters, cfg.Guard.Limits,
		usageguard.WithWindow(cfg.Guard.Window),
		usageguard.WithEnforcement(cfg.IsProduction()))
	if !cfg.IsProduction() {
		slog.Warn("Usage limits are not enforced outside production", slog.String("environment", cfg.Environment))
	}

	var publisher dataapi.EventPublisher = disabledPublisher{}
	if cfg.Kafka.Enabled {
		producer, err := fly.NewFactory(&cfg.Kafka).CreateProducer()
		if err != nil {
			return fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		defer func() {
			if err := producer.Close(); err != nil {
				slog.Error("Failed to close Kafka producer", slog.Any("error", err))
			}
		}()
		publisher = dataapi.NewKafkaPublisher(producer, cfg.TopicRegistry.GetTopic(config.TopicUsageEvents))
	} else {
		slog.Warn("Kafka is disabled, track requests will be refused")
	}

	svc := dataapi.NewService(cfg.API, cache, publisher, guard)
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Data API stopped")
	return nil
}

// openCounterStore returns the guard's counter store. "local" keeps
// counters in process; anything else uses usagedb.
func openCounterStore(ctx context.Context, kind string) (counterstore.Store, func(), error) {
	if kind == "local" {
		slog.Warn("Using in-process rate counters; limits are per replica")
		local := counterstore.NewLocal()
		return local, local.Close, nil
	}
	udb, err := usagedb.UsageDBStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to usagedb: %w", err)
	}
	return counterstore.NewPostgres(udb), udb.Close, nil
}
