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

package fly

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardinalhq/kafka-sync/kafkasync"
)

// TopicSyncer creates or reconciles Kafka topics using kafka-sync.
type TopicSyncer struct {
	factory *Factory
}

func NewTopicSyncer(factory *Factory) *TopicSyncer {
	return &TopicSyncer{
		factory: factory,
	}
}

// SyncTopics compares the cluster with topicsConfig. With fix set,
// missing topics are created and drifted settings are corrected;
// otherwise differences are only reported.
func (ts *TopicSyncer) SyncTopics(ctx context.Context, topicsConfig *kafkasync.Config, fix bool) error {
	connConfig, err := ts.createConnectionConfig()
	if err != nil {
		return fmt.Errorf("failed to create connection config: %w", err)
	}

	syncer, err := kafkasync.NewSyncer(connConfig, topicsConfig)
	if err != nil {
		return fmt.Errorf("failed to create syncer: %w", err)
	}

	mode := kafkasync.SyncModeInfo
	modeStr := "info"
	if fix {
		mode = kafkasync.SyncModeFix
		modeStr = "fix"
	}

	slog.Info("Starting Kafka topic synchronization",
		slog.String("mode", modeStr),
		slog.Int("topicCount", len(topicsConfig.Topics)))

	if err := syncer.Sync(ctx, mode); err != nil {
		return fmt.Errorf("failed to sync topics: %w", err)
	}

	slog.Info("Kafka topic synchronization completed")
	return nil
}

func (ts *TopicSyncer) createConnectionConfig() (kafkasync.ConnectionConfig, error) {
	config := ts.factory.GetConfig()
	connConfig := kafkasync.ConnectionConfig{
		BootstrapServers: config.Brokers,
		TLS:              ts.factory.tlsConfig(),
	}

	if config.SASLEnabled {
		mechanism, err := ts.factory.createSASLMechanism()
		if err != nil {
			return connConfig, fmt.Errorf("failed to create SASL mechanism: %w", err)
		}
		connConfig.SASLMechanism = mechanism
	}

	return connConfig, nil
}

// LoadTopicsConfig loads a kafkasync configuration from a file
func LoadTopicsConfig(filename string) (*kafkasync.Config, error) {
	return kafkasync.LoadConfigFromFile(filename)
}

// CreateDefaultTopicsConfig wraps topics with cluster defaults. Usage
// events are kept for a week so a stalled worker can catch up.
func CreateDefaultTopicsConfig(topics []kafkasync.Topic) *kafkasync.Config {
	return &kafkasync.Config{
		Defaults: kafkasync.Defaults{
			PartitionCount:    16,
			ReplicationFactor: 2,
			TopicConfig: map[string]string{
				"retention.ms": "604800000", // 7 days
			},
		},
		Topics:           topics,
		OperationTimeout: 5 * time.Minute,
	}
}
