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
	"github.com/cardinalhq/flagrunner/internal/accounting"
	"github.com/cardinalhq/flagrunner/internal/awsclient"
	"github.com/cardinalhq/flagrunner/internal/counterstore"
	"github.com/cardinalhq/flagrunner/internal/debugging"
	"github.com/cardinalhq/flagrunner/internal/fly"
	"github.com/cardinalhq/flagrunner/internal/healthcheck"
	"github.com/cardinalhq/flagrunner/internal/ingestion"
	"github.com/cardinalhq/flagrunner/internal/notify"
	"github.com/cardinalhq/flagrunner/internal/queue"
	"github.com/cardinalhq/flagrunner/usagedb"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Consume usage events and account for them",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runIngest()
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest() error {
	ctx, doneFx, err := setupTelemetry("flagrunner-ingest")
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer shutdownTelemetry(doneFx)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	debugging.RunPprof(ctx, cfg.Health.PprofAddr)

	healthServer := healthcheck.NewServer(cfg.Health)
	go func() {
		if err := healthServer.Start(ctx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()

	udb, err := usagedb.UsageDBStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to usagedb: %w", err)
	}
	defer udb.Close()
	healthServer.AddCheck("usagedb", func(ctx context.Context) error { return udb.Pool().Ping(ctx) })

	cdb, err := configdb.ConfigDBStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to configdb: %w", err)
	}
	defer cdb.Close()
	healthServer.AddCheck("configdb", func(ctx context.Context) error { return cdb.Pool().Ping(ctx) })

	table := accounting.DefaultPlanTable()
	if cfg.Plans.File != "" {
		if table, err = accounting.LoadPlanTable(cfg.Plans.File); err != nil {
			return err
		}
	}
	plans := accounting.NewPlans(cdb, table, cfg.Plans.CacheTTL)
	defer plans.Close()

	notifiers := notify.Fanout{notify.NewLogNotifier(slog.Default())}

	var producer fly.Producer
	if cfg.Kafka.Enabled {
		if producer, err = fly.NewFactory(&cfg.Kafka).CreateProducer(); err != nil {
			return fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		defer func() {
			if err := producer.Close(); err != nil {
				slog.Error("Failed to close Kafka producer", slog.Any("error", err))
			}
		}()
		notifiers = append(notifiers, notify.NewKafkaNotifier(producer, cfg.TopicRegistry.GetTopic(config.TopicUsageAlerts)))
	}

	src, err := openIngestSource(ctx, cfg, producer)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			slog.Error("Failed to close ingest source", slog.Any("error", err))
		}
	}()

	recorder := accounting.NewRecorder(udb, plans, notifiers)
	worker := ingestion.NewWorker(ingestion.Config{
		Concurrency: cfg.Ingest.Concurrency,
		MaxRetries:  cfg.Ingest.MaxRetries,
		StepTimeout: cfg.Ingest.StepTimeout,
	}, recorder, udb, counterstore.NewPostgres(udb))

	healthServer.SetStatus(healthcheck.StatusHealthy)
	slog.Info("Ingest worker started",
		slog.String("source", cfg.Ingest.Source),
		slog.Int64("concurrency", cfg.Ingest.Concurrency))

	if err := worker.Run(ctx, src); err != nil && !errors.Is(err, context.Canceled) {
		healthServer.SetStatus(healthcheck.StatusUnhealthy)
		return err
	}
	slog.Info("Ingest worker stopped")
	return nil
}

func openIngestSource(ctx context.Context, cfg *config.Config, producer fly.Producer) (queue.Source, error) {
	switch cfg.Ingest.Source {
	case "kafka":
		if producer == nil {
			return nil, errors.New("ingest source is kafka but Kafka is disabled")
		}
		topic := cfg.TopicRegistry.GetTopic(config.TopicUsageEvents)
		consumer, err := fly.NewFactory(&cfg.Kafka).CreateConsumer(topic, cfg.TopicRegistry.GetConsumerGroup(config.TopicUsageEvents))
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
		}
		return queue.NewKafkaSource(consumer, producer, topic, cfg.TopicRegistry.GetTopic(config.TopicUsageEventsDLQ)), nil

	case "sqs":
		if cfg.Ingest.SQSQueueURL == "" {
			return nil, errors.New("ingest source is sqs but no queue URL is configured")
		}
		mgr, err := awsclient.NewManager(ctx)
		if err != nil {
			return nil, err
		}
		client, err := mgr.GetSQS(ctx,
			awsclient.WithSQSRegion(cfg.Ingest.SQSRegion),
			awsclient.WithSQSRole(cfg.Ingest.SQSRoleARN),
			awsclient.WithSQSEndpoint(cfg.Ingest.SQSEndpoint))
		if err != nil {
			return nil, err
		}
		return queue.NewSQSSource(client, queue.SQSConfig{
			QueueURL:           cfg.Ingest.SQSQueueURL,
			DeadLetterQueueURL: cfg.Ingest.SQSDeadLetterQueueURL,
			WaitTimeSeconds:    cfg.Ingest.SQSWaitTimeSeconds,
			VisibilityTimeout:  cfg.Ingest.SQSVisibilityTimeout,
			Pollers:            sqsPollers(cfg.Ingest.Concurrency),
		}), nil

	default:
		return nil, fmt.Errorf("unknown ingest source %q", cfg.Ingest.Source)
	}
}

// sqsPollers keeps enough receive loops in flight to fill the worker,
// at ten messages per receive.
func sqsPollers(concurrency int64) int {
	return max(int((concurrency+9)/10), 1)
}
