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
	"fmt"
	"log/slog"
	"time"

	"github.com/cardinalhq/kafka-sync/kafkasync"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/flagrunner/config"
	"github.com/cardinalhq/flagrunner/internal/fly"
)

var (
	skipDB          bool
	skipKafka       bool
	kafkaTopicsFile string
)

func init() {
	SetupCmd.Flags().BoolVar(&skipDB, "skip-db", false, "Skip database migrations")
	SetupCmd.Flags().BoolVar(&skipKafka, "skip-kafka", false, "Skip Kafka topic setup")
	SetupCmd.Flags().StringVar(&databases, "databases", "configdb,usagedb", "Comma-separated list of databases to migrate (configdb,usagedb)")
	SetupCmd.Flags().StringVar(&kafkaTopicsFile, "kafka-topics-file", "", "kafka-sync YAML file to use instead of the built-in topic list")

	rootCmd.AddCommand(SetupCmd)
}

var SetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run database migrations and create Kafka topics",
	RunE:  setup,
}

func setup(cmd *cobra.Command, args []string) error {
	if !skipDB {
		if err := migrate(cmd, args); err != nil {
			return fmt.Errorf("database migrations failed: %w", err)
		}
	} else {
		slog.Info("Skipping database migrations")
	}

	if !skipKafka {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := ensureKafkaTopics(ctx); err != nil {
			return fmt.Errorf("kafka topic setup failed: %w", err)
		}
	} else {
		slog.Info("Skipping Kafka topic setup")
	}

	slog.Info("Setup completed")
	return nil
}

func ensureKafkaTopics(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var topics *kafkasync.Config
	if kafkaTopicsFile != "" {
		slog.Info("Loading Kafka topics file", slog.String("file", kafkaTopicsFile))
		if topics, err = fly.LoadTopicsConfig(kafkaTopicsFile); err != nil {
			return fmt.Errorf("failed to load Kafka topics file: %w", err)
		}
	} else {
		topics = cfg.TopicRegistry.KafkaSyncConfig(cfg.KafkaTopics)
	}

	if len(topics.Topics) == 0 {
		slog.Info("No Kafka topics configured, skipping")
		return nil
	}

	slog.Info("Syncing Kafka topics", slog.Int("count", len(topics.Topics)))
	return fly.NewFactory(&cfg.Kafka).CreateTopicSyncer().SyncTopics(ctx, topics, true)
}
