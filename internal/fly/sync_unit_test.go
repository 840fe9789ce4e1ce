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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cardinalhq/kafka-sync/kafkasync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicSyncerConnectionConfig(t *testing.T) {
	tests := []struct {
		name       string
		config     *Config
		expectSASL bool
		expectTLS  bool
	}{
		{
			name:   "no auth",
			config: &Config{Brokers: []string{"broker1:9092", "broker2:9092"}},
		},
		{
			name: "with SASL",
			config: &Config{
				Brokers:       []string{"broker1:9092", "broker2:9092"},
				SASLEnabled:   true,
				SASLMechanism: "SCRAM-SHA-256",
				SASLUsername:  "user",
				SASLPassword:  "pass",
			},
			expectSASL: true,
		},
		{
			name: "with SASL and TLS",
			config: &Config{
				Brokers:       []string{"broker1:9092", "broker2:9092"},
				SASLEnabled:   true,
				SASLMechanism: "PLAIN",
				SASLUsername:  "user",
				SASLPassword:  "pass",
				TLSEnabled:    true,
				TLSSkipVerify: true,
			},
			expectSASL: true,
			expectTLS:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := NewFactory(tt.config).CreateTopicSyncer()
			connConfig, err := syncer.createConnectionConfig()
			require.NoError(t, err)

			assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, connConfig.BootstrapServers)
			if tt.expectSASL {
				assert.NotNil(t, connConfig.SASLMechanism)
			} else {
				assert.Nil(t, connConfig.SASLMechanism)
			}
			if tt.expectTLS {
				require.NotNil(t, connConfig.TLS)
				assert.True(t, connConfig.TLS.InsecureSkipVerify)
			} else {
				assert.Nil(t, connConfig.TLS)
			}
		})
	}
}

func TestLoadTopicsConfigFromFile(t *testing.T) {
	configContent := `
defaults:
  partitionCount: 8
  replicationFactor: 2
  topicConfig:
    retention.ms: "604800000"

topics:
  - name: flagrunner.usage.events
    partitionCount: 32
  - name: flagrunner.usage.events.dlq
    config:
      retention.ms: "2592000000"

operationTimeout: 45s
`
	configFile := filepath.Join(t.TempDir(), "kafka_topics.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	config, err := LoadTopicsConfig(configFile)
	require.NoError(t, err)

	assert.Equal(t, 8, config.Defaults.PartitionCount)
	assert.Equal(t, "604800000", config.Defaults.TopicConfig["retention.ms"])
	require.Len(t, config.Topics, 2)
	assert.Equal(t, "flagrunner.usage.events", config.Topics[0].Name)
	assert.Equal(t, 32, config.Topics[0].PartitionCount)
	assert.Equal(t, 0, config.Topics[1].PartitionCount)
	assert.Equal(t, "2592000000", config.Topics[1].Config["retention.ms"])
	assert.Equal(t, 45*time.Second, config.OperationTimeout)
}

func TestCreateDefaultTopicsConfig(t *testing.T) {
	topics := []kafkasync.Topic{
		{Name: "flagrunner.usage.events", PartitionCount: 32},
		{Name: "flagrunner.usage.alerts", PartitionCount: 1},
	}

	config := CreateDefaultTopicsConfig(topics)

	assert.Equal(t, 16, config.Defaults.PartitionCount)
	assert.Equal(t, 2, config.Defaults.ReplicationFactor)
	assert.Equal(t, "604800000", config.Defaults.TopicConfig["retention.ms"])
	assert.Equal(t, topics, config.Topics)
	assert.Equal(t, 5*time.Minute, config.OperationTimeout)
}

func TestLoadTopicsConfigNonexistentFile(t *testing.T) {
	_, err := LoadTopicsConfig("/nonexistent/path/kafka_topics.yaml")
	assert.Error(t, err)
}
