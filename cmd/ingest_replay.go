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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/flagrunner/config"
	"github.com/cardinalhq/flagrunner/internal/fly"
	"github.com/cardinalhq/flagrunner/internal/ingestion"
	"github.com/cardinalhq/flagrunner/internal/queue"
)

func init() {
	cmd := &cobra.Command{
		Use:   "replay-dlq",
		Short: "Move dead-lettered usage events back onto the ingest topic",
		Long:  "Consume the Kafka dead-letter topic and republish each event with its attempt count reset. Runs until interrupted.",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, doneFx, err := setupTelemetry("flagrunner-replay-dlq")
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer shutdownTelemetry(doneFx)

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			factory := fly.NewFactory(&cfg.Kafka)
			producer, err := factory.CreateProducer()
			if err != nil {
				return fmt.Errorf("failed to create Kafka producer: %w", err)
			}
			defer func() { _ = producer.Close() }()

			dlqTopic := cfg.TopicRegistry.GetTopic(config.TopicUsageEventsDLQ)
			consumer, err := factory.CreateConsumer(dlqTopic, cfg.TopicRegistry.GetConsumerGroup(config.TopicUsageEventsDLQ))
			if err != nil {
				return fmt.Errorf("failed to create Kafka consumer: %w", err)
			}

			// A failed replay write is retried onto the dead-letter topic itself.
			src := queue.NewKafkaSource(consumer, producer, dlqTopic, dlqTopic)
			defer func() { _ = src.Close() }()

			replayer := ingestion.NewReplayer(producer, cfg.TopicRegistry.GetTopic(config.TopicUsageEvents))
			slog.Info("Replaying dead letters", slog.String("from", dlqTopic))
			return src.Run(ctx, replayer.HandleBatch)
		},
	}
	ingestCmd.AddCommand(cmd)
}
