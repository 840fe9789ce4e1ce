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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "kafka", cfg.Ingest.Source)
	assert.Equal(t, int64(50), cfg.Ingest.Concurrency)
	assert.Equal(t, 24*time.Hour, cfg.Guard.Window)
	assert.Equal(t, 5, cfg.Guard.Limits[FeatureABTesting])
	assert.Equal(t, "flagrunner.usage.events", cfg.TopicRegistry.GetTopic(TopicUsageEvents))
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FLAGRUNNER_ENVIRONMENT", "Production")
	t.Setenv("FLAGRUNNER_KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("FLAGRUNNER_KAFKA_SASL_ENABLED", "true")
	t.Setenv("FLAGRUNNER_KAFKA_SASL_USERNAME", "alice")
	t.Setenv("FLAGRUNNER_KAFKA_CONSUMER_BATCH_SIZE", "200")
	t.Setenv("FLAGRUNNER_INGEST_SOURCE", "sqs")
	t.Setenv("FLAGRUNNER_GUARD_WINDOW", "1h")
	t.Setenv("FLAGRUNNER_KAFKA_TOPICS_PREFIX", "staging")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.SASLEnabled)
	assert.Equal(t, "alice", cfg.Kafka.SASLUsername)
	assert.Equal(t, 200, cfg.Kafka.ConsumerBatchSize)
	assert.Equal(t, "sqs", cfg.Ingest.Source)
	assert.Equal(t, time.Hour, cfg.Guard.Window)
	assert.Equal(t, "staging.usage.alerts", cfg.TopicRegistry.GetTopic(TopicUsageAlerts))
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
guard:
  limits:
    ab-testing: 3
plans:
  file: /etc/flagrunner/plans.yaml
`), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Guard.Limits[FeatureABTesting])
	assert.Equal(t, "/etc/flagrunner/plans.yaml", cfg.Plans.File)
}
